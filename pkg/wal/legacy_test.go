package wal

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/colwal/pkg/types"
)

func writeLegacyInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func writeLegacyString(buf *bytes.Buffer, s string) {
	writeLegacyInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

func writeLegacyInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func TestLegacyUpgraderRewritesOldSegment(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, legacyCatalogFileName), []byte("orders,i\n"), 0o644); err != nil {
		t.Fatalf("write legacy catalog: %v", err)
	}

	var seg bytes.Buffer
	seg.WriteByte(legacyLogCreateID)
	writeLegacyString(&seg, "orders")
	seg.WriteByte('i')
	writeLegacyInt64(&seg, 77) // legacy (type_char, id) address

	seg.WriteByte(legacyLogInsertID)
	writeLegacyString(&seg, "orders")
	writeLegacyInt32(&seg, 2) // count
	seg.WriteByte('i')        // type char
	if err := encodeAtoms(&seg, 0, []types.Atom{types.Int32Atom(10), types.Int32Atom(20)}); err != nil {
		t.Fatalf("encodeAtoms: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "wal.old.1"), seg.Bytes(), 0o644); err != nil {
		t.Fatalf("write legacy segment: %v", err)
	}

	reg := NewRegistry()
	lu := NewLegacyUpgrader(dir, reg)
	if err := lu.Upgrade(); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	objectID, ok := lu.LegacyObjectID('i', 77)
	if !ok || objectID != 1 {
		t.Fatalf("expected find_bat_by_legacy_id('i', 77) to resolve to object_id 1, got %d ok=%v", objectID, ok)
	}

	h, present, err := ReadHeader(dir)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if !present || h.VersionStamp != currentVersionStamp {
		t.Fatalf("expected a fresh current-stamped header, got %+v (present=%v)", h, present)
	}

	newSegPath := filepath.Join(dir, "wal.1")
	f, err := os.Open(newSegPath)
	if err != nil {
		t.Fatalf("open rewritten segment: %v", err)
	}
	defer f.Close()

	rp, cat, _ := newTestReplayer(t)
	if _, err := rp.ReplaySegment(f); err != nil {
		t.Fatalf("replay rewritten segment: %v", err)
	}
	entry, ok := cat.Entry(1) // "orders" sorts first and only, so object_id 1
	if !ok {
		t.Fatal("expected the translated object to be present after replay")
	}
	if entry.RowCount != 2 {
		t.Fatalf("expected row count 2 from the translated insert, got %d", entry.RowCount)
	}
}

// TestLegacyUpgraderTranslatesBareTags covers the non-"_ID" create,
// destroy, and sequence tags (LOG_CREATE=6, LOG_DESTROY=7, LOG_SEQ=10),
// which carry no legacy id and, for create/destroy, address their bat by
// name alone.
func TestLegacyUpgraderTranslatesBareTags(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, legacyCatalogFileName), []byte("a,i\nb,i\n"), 0o644); err != nil {
		t.Fatalf("write legacy catalog: %v", err)
	}

	var seg bytes.Buffer
	seg.WriteByte(legacyLogCreate)
	writeLegacyString(&seg, "a")
	seg.WriteByte('i')

	seg.WriteByte(legacyLogCreate)
	writeLegacyString(&seg, "b")
	seg.WriteByte('i')

	seg.WriteByte(legacyLogDestroy)
	writeLegacyString(&seg, "a")

	seg.WriteByte(legacyLogSeq)
	writeLegacyInt32(&seg, 5)  // sequence key
	writeLegacyInt64(&seg, 99) // sequence value

	if err := os.WriteFile(filepath.Join(dir, "wal.old.1"), seg.Bytes(), 0o644); err != nil {
		t.Fatalf("write legacy segment: %v", err)
	}

	reg := NewRegistry()
	lu := NewLegacyUpgrader(dir, reg)
	if err := lu.Upgrade(); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	newSegPath := filepath.Join(dir, "wal.1")
	f, err := os.Open(newSegPath)
	if err != nil {
		t.Fatalf("open rewritten segment: %v", err)
	}
	defer f.Close()

	rp, cat, seq := newTestReplayer(t)
	if _, err := rp.ReplaySegment(f); err != nil {
		t.Fatalf("replay rewritten segment: %v", err)
	}

	// "a" sorts first (object_id 1) and was destroyed by the bare
	// LOG_DESTROY; "b" (object_id 2) was never touched after its bare
	// LOG_CREATE.
	if _, ok := cat.Entry(1); ok {
		t.Fatal("expected object 1 (\"a\") to be destroyed after replay")
	}
	if _, ok := cat.Entry(2); !ok {
		t.Fatal("expected object 2 (\"b\") to still be live after replay")
	}

	val, ok := seq.Get(5)
	if !ok || val != 99 {
		t.Fatalf("expected sequence key 5 = 99 from the translated LOG_SEQ, got %d ok=%v", val, ok)
	}
}
