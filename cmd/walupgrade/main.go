// Command walupgrade is a one-shot tool that upgrades a colwal data
// directory still carrying an old-format header and segments to the
// current log format. It is safe to run against an already-upgraded
// directory: OpenWithUpgrade is a documented no-op in that case.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cuemby/colwal/pkg/control"
	"github.com/cuemby/colwal/pkg/wal"
)

var (
	dataDir    = flag.String("data-dir", "", "colwal data directory to upgrade (required)")
	dryRun     = flag.Bool("dry-run", false, "report whether an upgrade is needed without making changes")
	backupName = flag.String("backup", "", "snapshot name to back the directory up under before upgrading (default: pre-upgrade)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *dataDir == "" {
		log.Fatal("--data-dir is required")
	}
	if _, err := os.Stat(*dataDir); os.IsNotExist(err) {
		log.Fatalf("data directory not found: %s", *dataDir)
	}

	h, present, err := wal.ReadHeader(*dataDir)
	if err != nil {
		log.Fatalf("read header: %v", err)
	}
	if !wal.NeedsLegacyUpgrade(h, present) {
		fmt.Println("directory is already on the current format, nothing to do")
		return
	}

	log.Printf("legacy version stamp detected: %q", h.VersionStamp)

	if *dryRun {
		fmt.Println("dry run: an upgrade would run, no changes made")
		return
	}

	name := *backupName
	if name == "" {
		name = "pre-upgrade"
	}
	log.Printf("snapshotting current directory as %q before upgrading", name)
	if err := control.SnapshotCreate(*dataDir, name); err != nil {
		log.Fatalf("backup failed, aborting upgrade: %v", err)
	}

	upgraded, err := wal.OpenWithUpgrade(*dataDir)
	if err != nil {
		log.Fatalf("upgrade failed: %v", err)
	}
	if !upgraded {
		fmt.Println("no upgrade was necessary after all")
		return
	}
	fmt.Println("upgrade completed successfully")
}
