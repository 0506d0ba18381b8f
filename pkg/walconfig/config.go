// Package walconfig loads the tunables of a colwal data directory: segment
// rotation, the pre-allocation on/off flag, the catalog compaction
// threshold, and capability flags that vary by deployment platform.
package walconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileName is the config sidecar read from the WAL's data directory,
// alongside the header file and segments.
const fileName = "wal.yaml"

// Config is the on-disk shape of wal.yaml. Every field has a zero value
// that DefaultConfig overrides with the spec's defaults (§6); a config
// file only needs to set the fields it wants to change.
type Config struct {
	// SegmentSoftCapBytes is the rotation threshold: once the write
	// cursor passes this many bytes, LogStream rotates to a fresh
	// segment. Spec default: 2 MiB.
	SegmentSoftCapBytes int64 `yaml:"segment_soft_cap_bytes"`

	// PreallocationEnabled gates the pre-allocation step. Spec §6 notes
	// the original disables this on one platform "causes serious
	// issues"; when false, writes still succeed, segments just grow
	// incrementally instead of ahead of the cursor.
	PreallocationEnabled bool `yaml:"preallocation_enabled"`

	// TombstoneCompactionFraction is the fraction of tombstoned catalog
	// rows that triggers catalog compaction during sub-commit. The
	// sequence store does not read it; it uses its own fixed 0.5. Spec
	// default: 0.5.
	TombstoneCompactionFraction float64 `yaml:"tombstone_compaction_fraction"`

	// ArchiveDir, when non-empty, tells the store collaborator to
	// zstd-compress a segment's bytes here before unlinking it at
	// checkpoint time, instead of discarding it outright. Never read by
	// recovery.
	ArchiveDir string `yaml:"archive_dir,omitempty"`
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		SegmentSoftCapBytes:         2 << 20,
		PreallocationEnabled:        true,
		TombstoneCompactionFraction: 0.5,
	}
}

// Load reads <dir>/wal.yaml, applying DefaultConfig for any field the
// file omits. A missing file is not an error: it returns DefaultConfig
// unchanged, the same way a missing header means a fresh WAL.
func Load(dir string) (Config, error) {
	cfg := DefaultConfig()
	path := dir + string(os.PathSeparator) + fileName

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
