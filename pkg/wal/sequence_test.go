package wal

import "testing"

func TestSequenceStoreGetSet(t *testing.T) {
	s := NewSequenceStore()
	if _, ok := s.Get(0); ok {
		t.Fatal("expected no value for unset key")
	}
	s.Set(0, 42)
	v, ok := s.Get(0)
	if !ok || v != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", v, ok)
	}
}

func TestSequenceStoreInPlaceUpdateBeforePersist(t *testing.T) {
	s := NewSequenceStore()
	s.Set(1, 1)
	s.Set(1, 2) // still in the unpersisted tail: in-place update
	if len(s.Snapshot()) != 1 {
		t.Fatalf("expected a single row for an in-place update, got %d", len(s.Snapshot()))
	}
}

func TestSequenceStoreTombstoneAfterPersist(t *testing.T) {
	s := NewSequenceStore()
	s.Set(1, 1)
	s.MarkPersisted()
	s.Set(1, 2) // now must tombstone old row and append new
	rows := s.Snapshot()
	if len(rows) != 2 {
		t.Fatalf("expected tombstone+append to produce 2 rows, got %d", len(rows))
	}
	if !rows[0].Tombstone {
		t.Fatal("expected the first row to be tombstoned")
	}
	v, ok := s.Get(1)
	if !ok || v != 2 {
		t.Fatalf("Get should resolve to the live row: got (%d, %v)", v, ok)
	}
}

func TestSequenceStoreCompactsPastHalfTombstoned(t *testing.T) {
	s := NewSequenceStore()
	for i := int32(0); i < 4; i++ {
		s.Set(i, int64(i))
		s.MarkPersisted()
	}
	// Overwrite keys 0 and 1 repeatedly so they tombstone; each overwrite
	// after a persist adds one tombstone, and the fifth brings the store to
	// 5 tombstones out of 9 rows, past 50%, which triggers compaction.
	for i := int32(0); i < 5; i++ {
		s.Set(i%2, int64(100+i))
		s.MarkPersisted()
	}

	rows := s.Snapshot()
	for _, r := range rows {
		if r.Tombstone {
			t.Fatalf("expected no tombstones to survive compaction, found one: %+v", r)
		}
	}
	if s.Rows() != 4 {
		t.Fatalf("expected 4 live keys after compaction, got %d", s.Rows())
	}
}
