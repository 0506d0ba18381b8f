package wal

import (
	"fmt"
	"os"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/metrics"
	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// catalogCompactionTombstoneFraction mirrors SequenceStore's threshold
// (compactionTombstoneFraction): once over half the catalog's rows are
// tombstoned, the next checkpoint rebuilds compacted replacement columns
// rather than carrying the tombstones forward indefinitely.
const catalogCompactionTombstoneFraction = 0.5

// Checkpointer absorbs the write-ahead log into the column store's own
// durable state, up to a watermark timestamp handed in by the storage
// engine. Grounded in shape on the teacher's WarrenFSM.Snapshot/Restore:
// collect current state, hand it to a sink (here, the store's sub-commit),
// and on restore replay-then-apply.
type Checkpointer struct {
	dir       string
	stream    *LogStream
	registry  *Registry
	catalog   *Catalog
	sequences *SequenceStore
	store     store.Store

	savedLogID        types.LogID
	savedTID          types.TID
	tombstoneFraction float64
}

// NewCheckpointer constructs a Checkpointer starting from the recovery
// watermark (savedLogID, savedTID) established by the initial Replayer
// pass.
func NewCheckpointer(dir string, stream *LogStream, registry *Registry, catalog *Catalog, sequences *SequenceStore, st store.Store, savedLogID types.LogID, savedTID types.TID) *Checkpointer {
	return &Checkpointer{
		dir: dir, stream: stream, registry: registry, catalog: catalog,
		sequences: sequences, store: st, savedLogID: savedLogID, savedTID: savedTID,
		tombstoneFraction: catalogCompactionTombstoneFraction,
	}
}

// SetTombstoneFraction overrides the catalog compaction threshold (see
// walconfig.Config.TombstoneCompactionFraction).
func (cp *Checkpointer) SetTombstoneFraction(f float64) {
	cp.tombstoneFraction = f
}

// SavedLogID reports the highest log_id fully absorbed by a sub-commit.
func (cp *Checkpointer) SavedLogID() types.LogID { return cp.savedLogID }

// SavedTID reports the tid recorded by the last successful sub-commit.
func (cp *Checkpointer) SavedTID() types.TID { return cp.savedTID }

// Run executes one checkpoint pass for watermark ts (§4.7). Failure
// semantics: if sub-commit fails, savedLogID is not advanced, so the
// still-on-disk segment is retried by the next call to Run.
func (cp *Checkpointer) Run(ts int64) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CheckpointDuration)
		outcome := "ok"
		if err != nil {
			outcome = "sub_commit_failed"
		}
		metrics.CheckpointsTotal.WithLabelValues(outcome).Inc()
	}()

	lid := cp.largestCoveredLogID(ts)

	for cp.savedLogID < lid {
		next := cp.savedLogID + 1
		if err := cp.absorbSegment(next); err != nil {
			return err
		}
	}

	cp.stream.PrunePendingThrough(lid)
	metrics.SavedLogID.Set(float64(cp.savedLogID))
	if err := WriteHeader(cp.dir, cp.registry); err != nil {
		return err
	}
	return nil
}

// largestCoveredLogID finds the largest log_id whose closed pending range
// has last_commit_ts < ts, or 0 if none qualifies.
func (cp *Checkpointer) largestCoveredLogID(ts int64) types.LogID {
	var lid types.LogID
	for _, r := range cp.stream.ClosedPendingRanges() {
		if r.Covers(ts) && r.LogID > lid {
			lid = r.LogID
		}
	}
	return lid
}

// absorbSegment replays segment logID in flushing mode, builds the
// sub-commit set (compacting the catalog first if it is over half
// tombstoned), calls the store's sub-commit, and — only once that
// succeeds — unlinks the segment and advances the watermark.
func (cp *Checkpointer) absorbSegment(logID types.LogID) error {
	path := cp.stream.SegmentPath(logID)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("checkpoint: open segment %s: %w", path, werror.ErrIOError)
	}
	defer f.Close()

	rp := NewReplayer(cp.registry, cp.catalog, cp.sequences, cp.store, newBIDSequence(0), true)
	highest, err := rp.ReplaySegment(f)
	if err != nil {
		return fmt.Errorf("checkpoint: replay segment %d: %w", logID, err)
	}
	tid := cp.savedTID
	if highest > tid {
		tid = highest
	}

	if cp.tombstoneFractionExceeded() {
		if _, err := cp.catalog.Compact(tid); err != nil {
			return err
		}
	}

	bids, sizes := cp.subCommitSet()
	if err := cp.store.SubCommit(bids, sizes, logID, tid); err != nil {
		return fmt.Errorf("checkpoint: sub_commit segment %d: %w", logID, werror.ErrStoreError)
	}

	if archiver, ok := cp.store.(store.Archiver); ok {
		if err := archiver.ArchiveSegment(path, logID); err != nil {
			return fmt.Errorf("checkpoint: archive segment %d: %w", logID, err)
		}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("checkpoint: unlink segment %s: %w", path, werror.ErrIOError)
	}

	cp.savedLogID = logID
	cp.savedTID = tid
	log.WithLogID(uint64(logID)).Info().Int32("saved_tid", int32(tid)).Msg("segment absorbed by checkpoint")
	return nil
}

func (cp *Checkpointer) tombstoneFractionExceeded() bool {
	live, tombstones := cp.catalog.Stats()
	total := live + tombstones
	if total == 0 {
		return false
	}
	return float64(tombstones)/float64(total) > cp.tombstoneFraction
}

// subCommitSet lists every live catalog row as a (bid, row_count) pair for
// the store's sub-commit call.
func (cp *Checkpointer) subCommitSet() ([]types.BID, []int64) {
	rows := cp.catalog.Snapshot()
	bids := make([]types.BID, 0, len(rows))
	sizes := make([]int64, 0, len(rows))
	for _, r := range rows {
		if r.Tombstone {
			continue
		}
		bids = append(bids, r.BID)
		sizes = append(sizes, r.RowCount)
	}
	return bids, sizes
}
