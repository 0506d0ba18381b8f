package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/metrics"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

const (
	// blockSize is the pre-allocation trigger distance: whenever the
	// write cursor is within one block of the pre-allocated end, the
	// file is extended.
	blockSize = 8 << 10 // 8 KiB

	// preallocChunk is how much the segment is extended by every time
	// pre-allocation triggers.
	preallocChunk = 512 << 10 // 512 KiB

	// defaultSoftCap is the default rotation threshold: once the write
	// cursor passes this many bytes, the segment is rotated.
	defaultSoftCap = 2 << 20 // 2 MiB
)

// LogStream owns the current output segment and the linked list of
// pending ranges the Checkpointer consults to decide which segments a
// watermark timestamp covers.
type LogStream struct {
	mu  sync.Mutex
	dir string

	file   *os.File
	writer *bufio.Writer

	currentLogID    types.LogID
	cursor          int64 // logical write position, including buffered-but-unflushed bytes
	preallocEnd     int64
	softCap         int64
	preallocEnabled bool

	current *types.PendingRange   // the open segment's range, mutated as transactions commit
	pending []types.PendingRange  // closed segments not yet covered by a checkpoint
}

// OpenLogStream opens dir for writing and starts a fresh segment at
// startLogID, with firstTID seeded from currentTID (the tid that will be
// assigned to the next transaction).
func OpenLogStream(dir string, startLogID types.LogID, currentTID types.TID) (*LogStream, error) {
	ls := &LogStream{dir: dir, softCap: defaultSoftCap, preallocEnabled: true}
	if err := ls.newSegment(startLogID, currentTID); err != nil {
		return nil, err
	}
	return ls, nil
}

// SetSoftCap overrides the rotation threshold (see walconfig.Config.
// SegmentSoftCapBytes). Only safe to call before concurrent writers start.
func (ls *LogStream) SetSoftCap(n int64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.softCap = n
}

// SetPreallocEnabled toggles the pre-allocation step. Disabling it is a
// capability flag for platforms where sparse file extension via Truncate
// is unsafe (spec §6); writes still succeed, they just grow the segment
// file incrementally instead of ahead of the cursor.
func (ls *LogStream) SetPreallocEnabled(enabled bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.preallocEnabled = enabled
}

func (ls *LogStream) segmentPath(id types.LogID) string {
	return filepath.Join(ls.dir, fmt.Sprintf("wal.%d", uint64(id)))
}

// SegmentPath exposes the on-disk path of segment id, for the
// Checkpointer's open-to-replay and unlink steps.
func (ls *LogStream) SegmentPath(id types.LogID) string {
	return ls.segmentPath(id)
}

// newSegment creates <dir>/wal.<logID>, writes the byte-order mark, and
// starts tracking a fresh pending range.
func (ls *LogStream) newSegment(logID types.LogID, currentTID types.TID) error {
	path := ls.segmentPath(logID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, werror.ErrIOError)
	}
	w := bufio.NewWriter(f)
	if err := WriteBOM(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush bom: %w", werror.ErrIOError)
	}

	ls.file = f
	ls.writer = w
	ls.currentLogID = logID
	ls.cursor = 2 // the BOM
	ls.preallocEnd = 0
	ls.current = &types.PendingRange{LogID: logID, FirstTID: currentTID, LastTID: currentTID}

	metrics.SegmentRotationsTotal.Inc()
	log.WithLogID(uint64(logID)).Info().Msg("segment opened")
	return nil
}

// WriteRecord encodes rec to the current segment and advances the write
// cursor. It does not itself guarantee durability; callers must call Flush
// after the transaction's LOG_END to cross the durability barrier.
func (ls *LogStream) WriteRecord(rec Record) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := ls.maybePreallocate(); err != nil {
		return err
	}

	before := countingWriter{w: ls.writer}
	if err := Encode(&before, rec); err != nil {
		return err
	}
	ls.cursor += before.n
	metrics.SegmentBytesWritten.Add(float64(before.n))
	return nil
}

// maybePreallocate extends the segment file in preallocChunk-sized steps
// whenever the cursor is within one block of the current pre-allocated
// end, so fsync doesn't have to extend metadata on the durability path.
func (ls *LogStream) maybePreallocate() error {
	if !ls.preallocEnabled {
		return nil
	}
	if ls.preallocEnd-ls.cursor > blockSize {
		return nil
	}
	newEnd := ls.preallocEnd + preallocChunk
	if err := ls.file.Truncate(newEnd); err != nil {
		return fmt.Errorf("preallocate segment: %w", werror.ErrIOError)
	}
	ls.preallocEnd = newEnd
	return nil
}

// Flush is the durability barrier: it updates the current pending range
// with the committing transaction's tid and timestamp, flushes the
// userspace buffer, and fsyncs. Called once per committed transaction by
// TransactionBuilder. Returns whether the caller should rotate next
// (cursor has passed the soft cap).
func (ls *LogStream) Flush(tid types.TID, commitTS int64) (shouldRotate bool, err error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := ls.writer.Flush(); err != nil {
		return false, fmt.Errorf("flush segment buffer: %w", werror.ErrIOError)
	}
	if err := ls.file.Sync(); err != nil {
		return false, fmt.Errorf("fsync segment: %w", werror.ErrIOError)
	}

	ls.current.LastTID = tid
	ls.current.LastCommitTS = commitTS

	return ls.cursor > ls.softCap, nil
}

// FlushOnly crosses the durability barrier without recording a commit
// timestamp against the current pending range. Used by an abort, which
// must still make its LOG_END durable but must not advance the range's
// last_commit_ts (only a commit does that).
func (ls *LogStream) FlushOnly() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if err := ls.writer.Flush(); err != nil {
		return fmt.Errorf("flush segment buffer: %w", werror.ErrIOError)
	}
	if err := ls.file.Sync(); err != nil {
		return fmt.Errorf("fsync segment: %w", werror.ErrIOError)
	}
	return nil
}

// Rotate closes the current segment (moving its range onto the pending
// list) and opens the next one, with firstTID seeded from currentTID.
func (ls *LogStream) Rotate(currentTID types.TID) (types.LogID, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.pending = append(ls.pending, *ls.current)
	if err := ls.writer.Flush(); err != nil {
		return 0, fmt.Errorf("flush before rotate: %w", werror.ErrIOError)
	}
	if err := ls.file.Close(); err != nil {
		return 0, fmt.Errorf("close segment before rotate: %w", werror.ErrIOError)
	}

	next := ls.currentLogID + 1
	if err := ls.newSegment(next, currentTID); err != nil {
		return 0, err
	}
	return next, nil
}

// CurrentLogID returns the log_id currently open for writes.
func (ls *LogStream) CurrentLogID() types.LogID {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.currentLogID
}

// PendingRanges returns a copy of the closed-segment ranges not yet
// covered by a checkpoint, plus the currently-open segment's range.
func (ls *LogStream) PendingRanges() []types.PendingRange {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]types.PendingRange, 0, len(ls.pending)+1)
	out = append(out, ls.pending...)
	out = append(out, *ls.current)
	return out
}

// ClosedPendingRanges returns a copy of only the closed-segment ranges,
// excluding the segment currently open for writes. The Checkpointer must
// never pick a log_id to sub-commit/unlink from the actively-written
// segment, even if its last_commit_ts happens to already be covered.
func (ls *LogStream) ClosedPendingRanges() []types.PendingRange {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]types.PendingRange, len(ls.pending))
	copy(out, ls.pending)
	return out
}

// PrunePendingThrough removes pending ranges with LogID <= lid; called by
// the Checkpointer after a successful sub-commit.
func (ls *LogStream) PrunePendingThrough(lid types.LogID) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	kept := ls.pending[:0]
	for _, r := range ls.pending {
		if r.LogID > lid {
			kept = append(kept, r)
		}
	}
	ls.pending = kept
}

// Close flushes and closes the current segment file. Used on clean
// shutdown only; a poisoned instance never reaches this path.
func (ls *LogStream) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if err := ls.writer.Flush(); err != nil {
		return fmt.Errorf("flush on close: %w", werror.ErrIOError)
	}
	if err := ls.file.Close(); err != nil {
		return fmt.Errorf("close segment: %w", werror.ErrIOError)
	}
	return nil
}

// countingWriter wraps a writer and counts the bytes successfully written
// to it, so WriteRecord can advance the logical cursor without decoding
// the record a second time.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
