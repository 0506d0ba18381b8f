package wal

import (
	"errors"
	"testing"

	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

func newTestStore(t *testing.T) *store.BoltColumnStore {
	t.Helper()
	st := store.NewBoltColumnStore()
	if err := st.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCatalogAddFindDel(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.CreateColumn(1, 0); err != nil {
		t.Fatalf("CreateColumn: %v", err)
	}
	cat := NewCatalog(st)

	if err := cat.AddBat(1, 100); err != nil {
		t.Fatalf("AddBat: %v", err)
	}

	bid, ok := cat.FindBat(100)
	if !ok || bid != 1 {
		t.Fatalf("FindBat: got (%d, %v), want (1, true)", bid, ok)
	}

	if err := cat.DelBat(1, 5); err != nil {
		t.Fatalf("DelBat: %v", err)
	}
	if _, ok := cat.FindBat(100); ok {
		t.Fatal("FindBat should not resolve a condemned row")
	}
}

func TestCatalogAddDuplicateRejected(t *testing.T) {
	st := newTestStore(t)
	st.CreateColumn(1, 0)
	st.CreateColumn(2, 0)
	cat := NewCatalog(st)

	if err := cat.AddBat(1, 100); err != nil {
		t.Fatalf("AddBat: %v", err)
	}
	err := cat.AddBat(2, 100)
	if !errors.Is(err, werror.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCatalogUpdateRowCountNeverUndercounts(t *testing.T) {
	st := newTestStore(t)
	st.CreateColumn(1, 0)
	cat := NewCatalog(st)
	cat.AddBat(1, 100)

	if err := cat.UpdateRowCount(100, 10); err != nil {
		t.Fatalf("UpdateRowCount: %v", err)
	}
	if err := cat.UpdateRowCount(100, 3); err != nil {
		t.Fatalf("UpdateRowCount: %v", err)
	}
	entry, _ := cat.Entry(100)
	if entry.RowCount != 10 {
		t.Fatalf("row count should stay at the high-water mark 10, got %d", entry.RowCount)
	}
}

func TestCatalogCompactReleasesStoreReference(t *testing.T) {
	st := newTestStore(t)
	st.CreateColumn(1, 0)
	cat := NewCatalog(st)
	cat.AddBat(1, 100)
	cat.DelBat(1, 5)

	released, err := cat.Compact(10)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(released) != 1 || released[0] != 1 {
		t.Fatalf("expected bid 1 released, got %v", released)
	}

	live, tombstones := cat.Stats()
	if live != 0 || tombstones != 0 {
		t.Fatalf("expected 0 live, 0 tombstones after compaction, got %d/%d", live, tombstones)
	}
}

func TestCatalogCompactSkipsRowsNotYetCovered(t *testing.T) {
	st := newTestStore(t)
	st.CreateColumn(1, 0)
	cat := NewCatalog(st)
	cat.AddBat(1, 100)
	cat.DelBat(1, 50)

	released, err := cat.Compact(10) // saved_tid < last_tid: not yet safe to compact
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("expected nothing released yet, got %v", released)
	}
	_, tombstones := cat.Stats()
	if tombstones != 1 {
		t.Fatalf("expected the condemned row to remain as a tombstone, got %d", tombstones)
	}
}
