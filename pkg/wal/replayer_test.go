package wal

import (
	"bytes"
	"testing"

	"github.com/cuemby/colwal/pkg/types"
)

func newTestReplayer(t *testing.T) (*Replayer, *Catalog, *SequenceStore) {
	t.Helper()
	st := newTestStore(t)
	cat := NewCatalog(st)
	seq := NewSequenceStore()
	reg := NewRegistry()
	rp := NewReplayer(reg, cat, seq, st, newBIDSequence(1), false)
	return rp, cat, seq
}

func encodeSegment(t *testing.T, recs []Record) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := WriteBOM(buf); err != nil {
		t.Fatalf("WriteBOM: %v", err)
	}
	for _, r := range recs {
		if err := Encode(buf, r); err != nil {
			t.Fatalf("Encode %v: %v", r.Kind, err)
		}
	}
	return buf
}

func TestReplayerCommitsTransaction(t *testing.T) {
	rp, cat, _ := newTestReplayer(t)

	recs := []Record{
		{Kind: types.LogStart, ID: 1, CommitTS: 100},
		{Kind: types.LogCreate, ID: 42, ExternalType: 0},
		{Kind: types.LogUpdateBulk, ID: 42, ExternalType: 0, Count: 2, Offset: 0,
			Atoms: []types.Atom{types.Int32Atom(1), types.Int32Atom(2)}},
		{Kind: types.LogEnd, ID: 1},
	}

	buf := encodeSegment(t, recs)
	highest, err := rp.ReplaySegment(buf)
	if err != nil {
		t.Fatalf("ReplaySegment: %v", err)
	}
	if highest != 1 {
		t.Fatalf("expected highest committed tid 1, got %d", highest)
	}

	entry, ok := cat.Entry(42)
	if !ok {
		t.Fatal("expected catalog entry for object 42 after replay")
	}
	if entry.RowCount != 2 {
		t.Fatalf("expected row count 2, got %d", entry.RowCount)
	}
}

func TestReplayerAbortDiscardsActions(t *testing.T) {
	rp, cat, _ := newTestReplayer(t)

	recs := []Record{
		{Kind: types.LogStart, ID: 5, CommitTS: 1},
		{Kind: types.LogCreate, ID: 7, ExternalType: 0},
		{Kind: types.LogEnd, ID: 999}, // id != tid: abort
	}

	buf := encodeSegment(t, recs)
	highest, err := rp.ReplaySegment(buf)
	if err != nil {
		t.Fatalf("ReplaySegment: %v", err)
	}
	if highest != 0 {
		t.Fatalf("expected highest committed tid 0 (nothing committed), got %d", highest)
	}
	if _, ok := cat.Entry(7); ok {
		t.Fatal("aborted transaction's LOG_CREATE must not have been applied")
	}
}

func TestReplayerShortReadStopsSegmentCleanly(t *testing.T) {
	rp, cat, _ := newTestReplayer(t)

	recs := []Record{
		{Kind: types.LogStart, ID: 1, CommitTS: 1},
		{Kind: types.LogCreate, ID: 1, ExternalType: 0},
		{Kind: types.LogEnd, ID: 1},
		{Kind: types.LogStart, ID: 2, CommitTS: 2},
		{Kind: types.LogCreate, ID: 2, ExternalType: 0},
	}
	buf := encodeSegment(t, recs)
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	highest, err := rp.ReplaySegment(truncated)
	if err != nil {
		t.Fatalf("ReplaySegment should recover locally from a short read, got: %v", err)
	}
	if highest != 1 {
		t.Fatalf("expected the first, complete transaction to have committed (tid 1), got %d", highest)
	}
	if _, ok := cat.Entry(1); !ok {
		t.Fatal("expected object 1 from the complete transaction to be present")
	}
	if _, ok := cat.Entry(2); ok {
		t.Fatal("object 2's transaction was cut short and must not be applied")
	}
}

func TestReplayerSequenceRecord(t *testing.T) {
	rp, _, seq := newTestReplayer(t)

	recs := []Record{
		{Kind: types.LogStart, ID: 1, CommitTS: 1},
		{Kind: types.LogSeq, ID: 9, SeqValue: 777},
		{Kind: types.LogEnd, ID: 1},
	}
	buf := encodeSegment(t, recs)
	if _, err := rp.ReplaySegment(buf); err != nil {
		t.Fatalf("ReplaySegment: %v", err)
	}
	v, ok := seq.Get(9)
	if !ok || v != 777 {
		t.Fatalf("expected sequence 9 == 777, got (%d, %v)", v, ok)
	}
}

func TestReplayerFlushingModeSkipsMutation(t *testing.T) {
	st := newTestStore(t)
	cat := NewCatalog(st)
	seq := NewSequenceStore()
	reg := NewRegistry()
	rp := NewReplayer(reg, cat, seq, st, newBIDSequence(1), true)

	recs := []Record{
		{Kind: types.LogStart, ID: 1, CommitTS: 1},
		{Kind: types.LogCreate, ID: 1, ExternalType: 0},
		{Kind: types.LogEnd, ID: 1},
	}
	buf := encodeSegment(t, recs)
	highest, err := rp.ReplaySegment(buf)
	if err != nil {
		t.Fatalf("ReplaySegment: %v", err)
	}
	if highest != 1 {
		t.Fatalf("flushing mode must still report the committed tid, got %d", highest)
	}
	if _, ok := cat.Entry(1); ok {
		t.Fatal("flushing mode must not mutate the catalog")
	}
}
