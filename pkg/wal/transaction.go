package wal

import (
	"fmt"
	"sync"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/metrics"
	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// TransactionBuilder is the WAL's write-side public contract (§4.5): it
// assigns tids, appends records to the current segment, and mirrors every
// mutation into the catalog, sequence store, and column store so readers
// see consistent state the instant a transaction commits.
//
// All methods assume the caller holds the WAL instance's single coarse
// lock (see wal.Wal); TransactionBuilder's own mutex exists so it can be
// exercised directly in tests without a Wal wrapper.
type TransactionBuilder struct {
	mu sync.Mutex

	stream    *LogStream
	catalog   *Catalog
	sequences *SequenceStore
	registry  *Registry
	store     store.Store

	currentTID types.TID
	currentTS  int64
	savedTID   types.TID
	bids       *bidSequence

	disabled        bool
	flushNowPending bool
	poisoned        error
}

// NewTransactionBuilder wires a builder over already-opened collaborators.
// bids must be the same sequence the Replayer used during recovery, so
// live LOG_CREATE calls never re-issue a bid replay already allocated.
func NewTransactionBuilder(stream *LogStream, catalog *Catalog, sequences *SequenceStore, registry *Registry, st store.Store, bids *bidSequence) *TransactionBuilder {
	return &TransactionBuilder{
		stream:    stream,
		catalog:   catalog,
		sequences: sequences,
		registry:  registry,
		store:     st,
		bids:      bids,
	}
}

// SetDisabled turns every log_* call into a catalog/store-only mutation
// with no disk record, for in-memory databases; Commit then collapses to
// incrementing saved_tid.
func (tb *TransactionBuilder) SetDisabled(disabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.disabled = disabled
}

// RequestFlushNow forces a rotation before the next Begin, so that
// transaction starts a fresh segment. Used at known-idle moments for
// clean rollover.
func (tb *TransactionBuilder) RequestFlushNow() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.flushNowPending = true
}

func (tb *TransactionBuilder) checkPoisoned() error {
	if tb.poisoned != nil {
		return fmt.Errorf("%w: %v", werror.ErrPoisoned, tb.poisoned)
	}
	return nil
}

func (tb *TransactionBuilder) poison(err error) error {
	tb.poisoned = err
	metrics.WALErrorsTotal.WithLabelValues(werror.Kind(err)).Inc()
	return err
}

// Begin assigns tid = ++current_tid and writes LOG_START(id=tid,
// commit_ts), unless the builder is disabled.
func (tb *TransactionBuilder) Begin(commitTS int64) (types.TID, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if err := tb.checkPoisoned(); err != nil {
		return 0, err
	}

	if tb.flushNowPending {
		if _, err := tb.stream.Rotate(tb.currentTID); err != nil {
			return 0, tb.poison(err)
		}
		tb.flushNowPending = false
	}

	tb.currentTID++
	tb.currentTS = commitTS
	if !tb.disabled {
		if err := tb.stream.WriteRecord(Record{Kind: types.LogStart, ID: int32(tb.currentTID), CommitTS: commitTS}); err != nil {
			return 0, tb.poison(err)
		}
	}
	return tb.currentTID, nil
}

// LogCreate allocates a fresh bid, creates the column in the store, and
// adds the catalog row. Writes LOG_CREATE(id=object_id, external_type_id).
func (tb *TransactionBuilder) LogCreate(objectID types.ObjectID, extType types.ExternalTypeID) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	if _, ok := tb.registry.Lookup(extType); !ok {
		return fmt.Errorf("log_create type %d: %w", extType, werror.ErrUnknownType)
	}

	bid := tb.bids.Next()

	if _, err := tb.store.CreateColumn(bid, extType); err != nil {
		return tb.poison(fmt.Errorf("create column: %w", werror.ErrStoreError))
	}
	if err := tb.catalog.AddBat(bid, objectID); err != nil {
		return err
	}

	if !tb.disabled {
		if err := tb.stream.WriteRecord(Record{Kind: types.LogCreate, ID: int32(objectID), ExternalType: extType}); err != nil {
			return tb.poison(err)
		}
	}
	return nil
}

// LogDestroy condemns the row for objectID. Writes LOG_DESTROY(id=object_id).
func (tb *TransactionBuilder) LogDestroy(objectID types.ObjectID) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	bid, ok := tb.catalog.FindBat(objectID)
	if !ok {
		return fmt.Errorf("object %d: %w", objectID, werror.ErrNotFound)
	}
	if err := tb.catalog.DelBat(bid, tb.currentTID); err != nil {
		return err
	}

	if !tb.disabled {
		if err := tb.stream.WriteRecord(Record{Kind: types.LogDestroy, ID: int32(objectID)}); err != nil {
			return tb.poison(err)
		}
	}
	return nil
}

// LogClear truncates the column referenced by objectID in place, without
// touching its catalog row. Writes LOG_CLEAR(id=object_id).
func (tb *TransactionBuilder) LogClear(objectID types.ObjectID) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	bid, ok := tb.catalog.FindBat(objectID)
	if !ok {
		return fmt.Errorf("object %d: %w", objectID, werror.ErrNotFound)
	}
	col, err := tb.store.OpenColumn(bid)
	if err != nil {
		return tb.poison(fmt.Errorf("open column %d: %w", bid, werror.ErrStoreError))
	}
	defer tb.store.CloseColumn(col)
	if err := col.Truncate(); err != nil {
		return tb.poison(fmt.Errorf("truncate column %d: %w", bid, werror.ErrStoreError))
	}

	if !tb.disabled {
		if err := tb.stream.WriteRecord(Record{Kind: types.LogClear, ID: int32(objectID)}); err != nil {
			return tb.poison(err)
		}
	}
	return nil
}

// LogConst writes count consecutive rows starting at offset to the same
// value. Writes LOG_UPDATE_CONST.
func (tb *TransactionBuilder) LogConst(objectID types.ObjectID, offset, count int64, value types.Atom) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.writeUpdate(objectID, types.LogUpdateConst, offset, count, nil, []types.Atom{value})
}

// LogBulk writes count consecutive atoms starting at offset. Writes
// LOG_UPDATE_BULK.
func (tb *TransactionBuilder) LogBulk(objectID types.ObjectID, offset int64, values []types.Atom) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.writeUpdate(objectID, types.LogUpdateBulk, offset, int64(len(values)), nil, values)
}

// LogUpdate writes one atom per oid at arbitrary positions. Writes
// LOG_UPDATE.
func (tb *TransactionBuilder) LogUpdate(objectID types.ObjectID, oids []int64, values []types.Atom) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(oids) != len(values) {
		return fmt.Errorf("log_update: %d oids but %d values", len(oids), len(values))
	}
	return tb.writeUpdate(objectID, types.LogUpdate, 0, int64(len(values)), oids, values)
}

func (tb *TransactionBuilder) writeUpdate(objectID types.ObjectID, kind types.RecordKind, offset, count int64, oids []int64, values []types.Atom) error {
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	bid, ok := tb.catalog.FindBat(objectID)
	if !ok {
		return fmt.Errorf("object %d: %w", objectID, werror.ErrNotFound)
	}
	col, err := tb.store.OpenColumn(bid)
	if err != nil {
		return tb.poison(fmt.Errorf("open column %d: %w", bid, werror.ErrStoreError))
	}
	defer tb.store.CloseColumn(col)

	var newCount int64
	switch kind {
	case types.LogUpdateConst:
		if err := col.WriteConst(offset, count, values[0]); err != nil {
			return tb.poison(fmt.Errorf("write_const: %w", werror.ErrStoreError))
		}
		newCount = offset + count
	case types.LogUpdateBulk:
		if err := col.WriteBulk(offset, values); err != nil {
			return tb.poison(fmt.Errorf("write_bulk: %w", werror.ErrStoreError))
		}
		newCount = offset + int64(len(values))
	case types.LogUpdate:
		if err := col.WriteSparse(oids, values); err != nil {
			return tb.poison(fmt.Errorf("write_sparse: %w", werror.ErrStoreError))
		}
		newCount = col.RowCount()
	}
	if err := tb.catalog.UpdateRowCount(objectID, newCount); err != nil {
		return err
	}

	if tb.disabled {
		return nil
	}
	rec := Record{Kind: kind, ID: int32(objectID), ExternalType: col.ExternalType(), Count: count, Offset: offset, OIDs: oids, Atoms: values}
	if err := tb.stream.WriteRecord(rec); err != nil {
		return tb.poison(err)
	}
	return nil
}

// LogSequence records value for key. Writes LOG_SEQ(id=key, value).
func (tb *TransactionBuilder) LogSequence(key int32, value int64) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	tb.sequences.Set(key, value)

	if !tb.disabled {
		if err := tb.stream.WriteRecord(Record{Kind: types.LogSeq, ID: key, SeqValue: value}); err != nil {
			return tb.poison(err)
		}
	}
	return nil
}

// Commit writes LOG_END(id=tid) and calls LogStream.Flush, crossing the
// durability barrier. An error here means the transaction must be treated
// as aborted by the caller; no in-memory rollback is attempted by the WAL
// itself.
func (tb *TransactionBuilder) Commit() (err error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CommitDuration)
		if err == nil {
			metrics.TransactionsCommittedTotal.Inc()
		}
	}()

	if tb.disabled {
		tb.savedTID = tb.currentTID
		tb.sequences.MarkPersisted()
		return nil
	}

	if err := tb.stream.WriteRecord(Record{Kind: types.LogEnd, ID: int32(tb.currentTID)}); err != nil {
		return tb.poison(err)
	}
	rotate, err := tb.stream.Flush(tb.currentTID, tb.currentTS)
	if err != nil {
		return tb.poison(err)
	}
	tb.savedTID = tb.currentTID
	tb.sequences.MarkPersisted()

	log.WithTID(int32(tb.currentTID)).Debug().Msg("transaction committed")

	if rotate {
		if _, err := tb.stream.Rotate(tb.currentTID); err != nil {
			return tb.poison(err)
		}
	}
	return nil
}

// Abort writes LOG_END(id != tid) and flushes. No in-memory state is
// rolled back by the WAL; the caller's own transactional memory owns
// that.
func (tb *TransactionBuilder) Abort() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.checkPoisoned(); err != nil {
		return err
	}

	metrics.TransactionsAbortedTotal.Inc()
	if tb.disabled {
		return nil
	}

	abortID := tb.currentTID + 1 // any id != tid
	if err := tb.stream.WriteRecord(Record{Kind: types.LogEnd, ID: int32(abortID)}); err != nil {
		return tb.poison(err)
	}
	if err := tb.stream.FlushOnly(); err != nil {
		return tb.poison(err)
	}
	return nil
}

// CurrentTID returns the tid of the most recently begun transaction.
func (tb *TransactionBuilder) CurrentTID() types.TID {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.currentTID
}

// SavedTID returns the tid of the last successfully committed
// transaction.
func (tb *TransactionBuilder) SavedTID() types.TID {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.savedTID
}
