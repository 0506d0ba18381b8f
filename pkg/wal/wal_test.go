package wal

import (
	"testing"

	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
)

func TestWalOpenFreshBootstrapsAndWrites(t *testing.T) {
	dir := t.TempDir()
	st := store.NewBoltColumnStore()
	if err := st.Open(dir); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	w, err := Open(dir, st)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Begin(10); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.LogCreate(1, 0); err != nil {
		t.Fatalf("LogCreate: %v", err)
	}
	if err := w.LogBulk(1, 0, []types.Atom{types.Int32Atom(1), types.Int32Atom(2)}); err != nil {
		t.Fatalf("LogBulk: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rows, tombstones := w.CatalogStats()
	if rows != 1 || tombstones != 0 {
		t.Fatalf("expected 1 live row, 0 tombstones, got rows=%d tombstones=%d", rows, tombstones)
	}

	h, present, err := ReadHeader(dir)
	if err != nil || !present || h.VersionStamp != currentVersionStamp {
		t.Fatalf("expected a fresh header after Open, got present=%v h=%+v err=%v", present, h, err)
	}
}

func TestWalReopenReplaysUnabsorbedSegments(t *testing.T) {
	dir := t.TempDir()
	st := store.NewBoltColumnStore()
	if err := st.Open(dir); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	w, err := Open(dir, st)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Begin(10); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.LogCreate(5, 0); err != nil {
		t.Fatalf("LogCreate: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	firstLogID, _, _ := w.SegmentStats()
	_ = firstLogID
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(dir, st)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	rows, _ := w2.CatalogStats()
	if rows != 1 {
		t.Fatalf("expected the recovered catalog to show 1 live row, got %d", rows)
	}

	onDisk, currentLogID, _ := w2.SegmentStats()
	if onDisk != 2 {
		t.Fatalf("expected the original segment plus a fresh one open for writes, got %d", onDisk)
	}
	if currentLogID != 2 {
		t.Fatalf("expected the new segment to be log_id 2, got %d", currentLogID)
	}
}

func TestWalCheckpointAbsorbsCoveredSegment(t *testing.T) {
	dir := t.TempDir()
	st := store.NewBoltColumnStore()
	if err := st.Open(dir); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	w, err := Open(dir, st)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Begin(100); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.LogCreate(1, 0); err != nil {
		t.Fatalf("LogCreate: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	w.RequestFlushNow()
	if _, err := w.Begin(200); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.LogCreate(2, 0); err != nil {
		t.Fatalf("LogCreate: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := w.Checkpoint(150); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	onDisk, _, savedLogID := w.SegmentStats()
	if savedLogID != 1 {
		t.Fatalf("expected saved_log_id 1 after a checkpoint at ts=150, got %d", savedLogID)
	}
	if onDisk != 1 {
		t.Fatalf("expected only the still-open segment left on disk, got %d", onDisk)
	}
}
