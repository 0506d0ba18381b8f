package wal

import (
	"sync"

	"github.com/cuemby/colwal/pkg/types"
)

// compactionTombstoneFraction is the tombstone-to-total ratio past which
// SequenceStore rebuilds its columns via a masked projection (§4.4).
const compactionTombstoneFraction = 0.5

// SequenceStore tracks (key, value) pairs such as the log-file sequence
// (LOG_SID) and the frontend object sequence (OBJ_SID). At most one
// un-tombstoned row exists per key at any stable point.
type SequenceStore struct {
	mu    sync.Mutex
	rows  []types.SequenceEntry
	byKey map[int32]int

	// appendedSince is the index boundary below which rows were already
	// durable as of the last MarkPersisted call. Set below this boundary are
	// tombstoned-and-appended; at or above it, updated in place.
	appendedSince int
}

// NewSequenceStore constructs an empty sequence store.
func NewSequenceStore() *SequenceStore {
	return &SequenceStore{byKey: make(map[int32]int)}
}

// Get returns the current value for key.
func (s *SequenceStore) Get(key int32) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byKey[key]
	if !ok {
		return 0, false
	}
	return s.rows[idx].Value, true
}

// Set records value for key, following the in-place-vs-tombstone rule:
// if the existing row for key is still in the unpersisted tail (appended
// since the last MarkPersisted call), it is overwritten in place; otherwise the
// old row is tombstoned and a fresh row appended.
func (s *SequenceStore) Set(key int32, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.byKey[key]; ok {
		if idx >= s.appendedSince {
			s.rows[idx].Value = value
			return
		}
		s.rows[idx].Tombstone = true
	}
	s.rows = append(s.rows, types.SequenceEntry{Key: key, Value: value})
	s.byKey[key] = len(s.rows) - 1
}

// MarkPersisted is called by TransactionBuilder.Commit once a commit is
// durable in the log; the Checkpointer's sub-commit does not call it. Every
// row currently present is now durable, so the next Set on an existing key
// must tombstone-and-append rather than mutate in place. Compaction runs
// here, at commit time, not during sub-commit.
func (s *SequenceStore) MarkPersisted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendedSince = len(s.rows)
	s.maybeCompact()
}

// maybeCompact rebuilds the row set via a masked projection (keep only
// non-tombstoned rows) once the tombstone fraction exceeds 50%. Must be
// called with s.mu held.
func (s *SequenceStore) maybeCompact() {
	if len(s.rows) == 0 {
		return
	}
	tombstoned := 0
	for _, r := range s.rows {
		if r.Tombstone {
			tombstoned++
		}
	}
	if float64(tombstoned)/float64(len(s.rows)) <= compactionTombstoneFraction {
		return
	}

	kept := make([]types.SequenceEntry, 0, len(s.rows)-tombstoned)
	for _, r := range s.rows {
		if !r.Tombstone {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	s.appendedSince = len(s.rows)
	s.byKey = make(map[int32]int, len(s.rows))
	for i, r := range s.rows {
		s.byKey[r.Key] = i
	}
}

// Rows reports the live row count, consumed by metrics.Instrumented via
// wal.Wal.
func (s *SequenceStore) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if !r.Tombstone {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of every row, live and tombstoned, for tests and
// for the Checkpointer's sub-commit decision.
func (s *SequenceStore) Snapshot() []types.SequenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SequenceEntry, len(s.rows))
	copy(out, s.rows)
	return out
}
