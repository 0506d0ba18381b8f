package wal

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()

	if err := WriteHeader(dir, reg); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	h, present, err := ReadHeader(dir)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if !present {
		t.Fatal("expected header to be present after WriteHeader")
	}
	if h.VersionStamp != currentVersionStamp {
		t.Fatalf("expected stamp %q, got %q", currentVersionStamp, h.VersionStamp)
	}
	if len(h.TypeLines) != 6 {
		t.Fatalf("expected 6 type registry lines, got %d", len(h.TypeLines))
	}
	if NeedsLegacyUpgrade(h, present) {
		t.Fatal("a freshly written header must never require a legacy upgrade")
	}
}

func TestHeaderMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	h, present, err := ReadHeader(dir)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if present {
		t.Fatal("expected present=false for a directory with no header file")
	}
	if NeedsLegacyUpgrade(h, present) {
		t.Fatal("a missing header is a fresh WAL, not a legacy upgrade candidate")
	}
}

func TestHeaderOldStampTriggersUpgrade(t *testing.T) {
	h := Header{VersionStamp: "gdk-05.00"}
	if !NeedsLegacyUpgrade(h, true) {
		t.Fatal("an old stamp should require a legacy upgrade")
	}
}
