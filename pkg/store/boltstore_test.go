package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/colwal/pkg/types"
	"github.com/klauspost/compress/zstd"
)

func newTestBoltStore(t *testing.T) *BoltColumnStore {
	t.Helper()
	s := NewBoltColumnStore()
	if err := s.Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateColumnWriteBulkSubCommitWatermark(t *testing.T) {
	s := newTestBoltStore(t)

	col, err := s.CreateColumn(1, 0)
	if err != nil {
		t.Fatalf("CreateColumn: %v", err)
	}
	if err := s.Retain(1); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := col.WriteBulk(0, []types.Atom{types.Int32Atom(10), types.Int32Atom(20)}); err != nil {
		t.Fatalf("WriteBulk: %v", err)
	}
	if col.RowCount() != 2 {
		t.Fatalf("expected row count 2, got %d", col.RowCount())
	}

	if err := s.SubCommit([]types.BID{1}, []int64{2}, 3, 7); err != nil {
		t.Fatalf("SubCommit: %v", err)
	}
	logID, tid, err := s.Watermark()
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if logID != 3 || tid != 7 {
		t.Fatalf("expected watermark (3,7), got (%d,%d)", logID, tid)
	}
}

func TestReleaseAtZeroRefcountRemovesColumn(t *testing.T) {
	s := newTestBoltStore(t)
	if _, err := s.CreateColumn(9, 0); err != nil {
		t.Fatalf("CreateColumn: %v", err)
	}
	if err := s.Retain(9); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := s.Release(9); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := s.OpenColumn(9); err == nil {
		t.Fatal("expected the column to be gone after its one reference was released")
	}
}

func TestArchiveSegmentIsNoopWithoutConfiguredDir(t *testing.T) {
	s := newTestBoltStore(t)
	segPath := filepath.Join(t.TempDir(), "wal.1")
	if err := os.WriteFile(segPath, []byte("segment"), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if err := s.ArchiveSegment(segPath, 1); err != nil {
		t.Fatalf("ArchiveSegment with no archive dir configured should be a no-op, got %v", err)
	}
}

func TestArchiveSegmentWritesCompressedCopy(t *testing.T) {
	s := newTestBoltStore(t)
	archiveDir := filepath.Join(t.TempDir(), "archive")
	s.SetArchiveDir(archiveDir)

	segDir := t.TempDir()
	segPath := filepath.Join(segDir, "wal.4")
	original := []byte("segment contents for archival")
	if err := os.WriteFile(segPath, original, 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	if err := s.ArchiveSegment(segPath, 4); err != nil {
		t.Fatalf("ArchiveSegment: %v", err)
	}

	archived, err := os.ReadFile(filepath.Join(archiveDir, "wal.4.zst"))
	if err != nil {
		t.Fatalf("read archived segment: %v", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()
	decoded, err := dec.DecodeAll(archived, nil)
	if err != nil {
		t.Fatalf("decompress archived segment: %v", err)
	}
	if string(decoded) != string(original) {
		t.Fatalf("expected round-tripped bytes %q, got %q", original, decoded)
	}
}
