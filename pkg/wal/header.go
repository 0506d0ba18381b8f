package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/colwal/pkg/wal/werror"
)

// currentVersionStamp is written as the first line of the header file by
// every WAL created or checkpointed by this code. LegacyUpgrader triggers
// whenever the on-disk stamp differs from it.
const currentVersionStamp = "colwal-v1"

// headerFileName is the operator-readable sidecar persisted alongside the
// segments: version stamp, a blank line, then one "<id>,<name>" line per
// registered external type (§6). It is rewritten atomically via a
// wal.bak -> wal rename at every checkpoint; it is never the source of
// truth for the registry, which is always rebuilt from code.
const headerFileName = "wal"

// Header is the parsed contents of the header file.
type Header struct {
	VersionStamp string
	TypeLines    []string
}

// ReadHeader reads and parses <dir>/wal. A missing file is not an error:
// it reports a zero Header, which callers treat as "bootstrap a brand new
// WAL here".
func ReadHeader(dir string) (Header, bool, error) {
	path := filepath.Join(dir, headerFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Header{}, false, nil
	}
	if err != nil {
		return Header{}, false, fmt.Errorf("open header %s: %w", path, werror.ErrIOError)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var h Header
	if scanner.Scan() {
		h.VersionStamp = strings.TrimSpace(scanner.Text())
	} else {
		return Header{}, false, fmt.Errorf("empty header %s: %w", path, werror.ErrCorruptHeader)
	}
	sawBlank := false
	for scanner.Scan() {
		line := scanner.Text()
		if !sawBlank {
			if strings.TrimSpace(line) != "" {
				return Header{}, false, fmt.Errorf("header %s: expected blank line after version stamp: %w", path, werror.ErrCorruptHeader)
			}
			sawBlank = true
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.TypeLines = append(h.TypeLines, line)
	}
	if err := scanner.Err(); err != nil {
		return Header{}, false, fmt.Errorf("read header %s: %w", path, werror.ErrIOError)
	}
	return h, true, nil
}

// WriteHeader atomically rewrites <dir>/wal via a wal.bak staging file, so
// a crash mid-write never leaves a half-written header behind. Called at
// every checkpoint.
func WriteHeader(dir string, registry *Registry) error {
	path := filepath.Join(dir, headerFileName)
	tmp := path + ".bak"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, werror.ErrIOError)
	}
	var b strings.Builder
	b.WriteString(currentVersionStamp)
	b.WriteString("\n\n")
	for _, line := range registry.HeaderLines() {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, werror.ErrIOError)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, werror.ErrIOError)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, werror.ErrIOError)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmp, path, werror.ErrIOError)
	}
	return nil
}

// NeedsLegacyUpgrade reports whether the header file's version stamp
// predates this code's current stamp. A missing header is never a legacy
// upgrade candidate — it means a fresh WAL, handled by the normal
// bootstrap path.
func NeedsLegacyUpgrade(h Header, present bool) bool {
	return present && h.VersionStamp != "" && h.VersionStamp != currentVersionStamp
}
