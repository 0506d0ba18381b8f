package wal

import (
	"bufio"
	"os"
	"testing"

	"github.com/cuemby/colwal/pkg/types"
)

func TestLogStreamWriteAndFlush(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStream(dir, 1, 0)
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}
	defer ls.Close()

	if err := ls.WriteRecord(Record{Kind: types.LogStart, ID: 1, CommitTS: 100}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := ls.WriteRecord(Record{Kind: types.LogEnd, ID: 1}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	rotate, err := ls.Flush(1, 100)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if rotate {
		t.Fatal("should not need rotation after two tiny records")
	}

	ranges := ls.PendingRanges()
	if len(ranges) != 1 {
		t.Fatalf("expected 1 pending range (the open segment), got %d", len(ranges))
	}
	if ranges[0].LastTID != 1 || ranges[0].LastCommitTS != 100 {
		t.Fatalf("unexpected range: %+v", ranges[0])
	}
}

func TestLogStreamRotateCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStream(dir, 1, 0)
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}
	defer ls.Close()

	next, err := ls.Rotate(5)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected next log_id 2, got %d", next)
	}
	if ls.CurrentLogID() != 2 {
		t.Fatalf("expected current log_id 2, got %d", ls.CurrentLogID())
	}

	ranges := ls.PendingRanges()
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges (closed segment 1 + open segment 2), got %d", len(ranges))
	}
	if ranges[0].LogID != 1 {
		t.Fatalf("expected first pending range to be segment 1, got %d", ranges[0].LogID)
	}

	if _, err := os.Stat(ls.segmentPath(1)); err != nil {
		t.Fatalf("segment 1 should still exist on disk: %v", err)
	}
}

func TestLogStreamPrunePendingThrough(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStream(dir, 1, 0)
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}
	defer ls.Close()

	if _, err := ls.Rotate(1); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := ls.Rotate(2); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	ls.PrunePendingThrough(2)
	ranges := ls.PendingRanges()
	if len(ranges) != 1 {
		t.Fatalf("expected only the open segment to remain, got %d ranges", len(ranges))
	}
	if ranges[0].LogID != 3 {
		t.Fatalf("expected open segment to be log_id 3, got %d", ranges[0].LogID)
	}
}

func TestSegmentFileHasValidBOM(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStream(dir, 1, 0)
	if err != nil {
		t.Fatalf("OpenLogStream: %v", err)
	}
	defer ls.Close()

	if err := ls.WriteRecord(Record{Kind: types.LogStart, ID: 1, CommitTS: 1}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if _, err := ls.Flush(1, 1); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	f, err := os.Open(ls.segmentPath(1))
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	defer f.Close()
	if err := ReadBOM(bufio.NewReader(f)); err != nil {
		t.Fatalf("ReadBOM: %v", err)
	}
}
