package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/metrics"
	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// Replayer drives the Idle -> Open(tid) -> Commit/Abort -> Idle state
// machine (§4.6) over one segment. Record bodies for actions carry an
// object_id or sequence key in their header id, not a tid, so actions are
// attributed to the innermost currently-open transaction rather than
// matched by id — the same LIFO reading that lets a LOG_END with an id
// that doesn't match the open tid be recognized as an abort sentinel
// rather than a dangling reference. Grounded in shape on the teacher's
// WarrenFSM.Apply: committed-entry dispatch under one lock, any error
// failing the whole batch.
type Replayer struct {
	registry  *Registry
	catalog   *Catalog
	sequences *SequenceStore
	store     store.Store
	bids      *bidSequence

	// flushing mode replays a segment already known durable in the live
	// store: it resolves commits and aborts and advances the reported tid
	// without touching the catalog, sequence store, or column store a second
	// time. Used by the Checkpointer to walk segments up to a watermark.
	flushing bool
}

// NewReplayer constructs a Replayer over already-open collaborators.
func NewReplayer(registry *Registry, catalog *Catalog, sequences *SequenceStore, st store.Store, bids *bidSequence, flushing bool) *Replayer {
	return &Replayer{registry: registry, catalog: catalog, sequences: sequences, store: st, bids: bids, flushing: flushing}
}

type openTx struct {
	tid     types.TID
	actions []Record
}

// ReplaySegment reads r (one full segment, BOM included) and applies every
// committed transaction's actions in order. It returns the highest tid
// that actually committed; transactions still open at a ShortRead, or
// that ended in an abort, do not advance it.
func (rp *Replayer) ReplaySegment(r io.Reader) (highestCommitted types.TID, err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)

	br := bufio.NewReader(r)
	if err := ReadBOM(br); err != nil {
		return 0, err
	}

	var stack []*openTx

	for {
		rec, derr := Decode(br, rp.registry)
		if derr != nil {
			if errors.Is(derr, io.EOF) {
				break
			}
			if errors.Is(derr, werror.ErrShortRead) {
				// Non-fatal: every still-open transaction in this segment
				// is implicitly discarded, and replay of this segment
				// stops here. Recovery continues with the next segment.
				log.WithComponent("replayer").Warn().Int("open_transactions", len(stack)).Msg("short read, aborting open transactions")
				break
			}
			return highestCommitted, derr
		}

		switch rec.Kind {
		case types.LogStart:
			stack = append(stack, &openTx{tid: types.TID(rec.ID)})

		case types.LogEnd:
			if len(stack) == 0 {
				return highestCommitted, fmt.Errorf("log_end with no open transaction: %w", werror.ErrCorruptHeader)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if types.TID(rec.ID) == top.tid {
				if err := rp.applyActions(top.tid, top.actions); err != nil {
					return highestCommitted, err
				}
				if top.tid > highestCommitted {
					highestCommitted = top.tid
				}
				metrics.ReplayedTransactionsTotal.WithLabelValues("committed").Inc()
			} else {
				metrics.ReplayedTransactionsTotal.WithLabelValues("aborted").Inc()
			}

		default:
			if len(stack) == 0 {
				return highestCommitted, fmt.Errorf("action record outside any open transaction: %w", werror.ErrCorruptHeader)
			}
			top := stack[len(stack)-1]
			top.actions = append(top.actions, rec)
		}
	}

	return highestCommitted, nil
}

// applyActions replays one committed transaction's buffered actions
// against the catalog, sequence store, and column store, in the order
// they were logged. In flushing mode every action is skipped and no bid is
// allocated, since the live store already absorbed these mutations.
func (rp *Replayer) applyActions(tid types.TID, actions []Record) error {
	for _, rec := range actions {
		if err := rp.applyOne(tid, rec); err != nil {
			return err
		}
	}
	return nil
}

func (rp *Replayer) applyOne(tid types.TID, rec Record) error {
	switch rec.Kind {
	case types.LogCreate:
		if rp.flushing {
			return nil
		}
		objectID := types.ObjectID(rec.ID)
		bid := rp.bids.Next()
		if _, err := rp.store.CreateColumn(bid, rec.ExternalType); err != nil {
			return fmt.Errorf("replay log_create %d: %w", objectID, werror.ErrStoreError)
		}
		return rp.catalog.AddBat(bid, objectID)

	case types.LogDestroy:
		if rp.flushing {
			return nil
		}
		objectID := types.ObjectID(rec.ID)
		bid, ok := rp.catalog.FindBat(objectID)
		if !ok {
			return fmt.Errorf("replay log_destroy: object %d: %w", objectID, werror.ErrNotFound)
		}
		return rp.catalog.DelBat(bid, tid)

	case types.LogClear:
		if rp.flushing {
			return nil
		}
		objectID := types.ObjectID(rec.ID)
		bid, ok := rp.catalog.FindBat(objectID)
		if !ok {
			return fmt.Errorf("replay log_clear: object %d: %w", objectID, werror.ErrNotFound)
		}
		col, err := rp.store.OpenColumn(bid)
		if err != nil {
			return fmt.Errorf("replay log_clear: open bid %d: %w", bid, werror.ErrStoreError)
		}
		defer rp.store.CloseColumn(col)
		if err := col.Truncate(); err != nil {
			return fmt.Errorf("replay log_clear: truncate bid %d: %w", bid, werror.ErrStoreError)
		}
		return nil

	case types.LogUpdateConst, types.LogUpdateBulk, types.LogUpdate:
		if rp.flushing {
			return nil
		}
		return rp.applyUpdate(rec)

	case types.LogSeq:
		if rp.flushing {
			return nil
		}
		rp.sequences.Set(rec.ID, rec.SeqValue)
		return nil

	default:
		return fmt.Errorf("replay: unexpected record kind %s: %w", rec.Kind, werror.ErrCorruptHeader)
	}
}

func (rp *Replayer) applyUpdate(rec Record) error {
	objectID := types.ObjectID(rec.ID)
	bid, ok := rp.catalog.FindBat(objectID)
	if !ok {
		return fmt.Errorf("replay update: object %d: %w", objectID, werror.ErrNotFound)
	}
	col, err := rp.store.OpenColumn(bid)
	if err != nil {
		return fmt.Errorf("replay update: open bid %d: %w", bid, werror.ErrStoreError)
	}
	defer rp.store.CloseColumn(col)

	var newCount int64
	switch rec.Kind {
	case types.LogUpdateConst:
		if err := col.WriteConst(rec.Offset, rec.Count, rec.Atoms[0]); err != nil {
			return fmt.Errorf("replay write_const: %w", werror.ErrStoreError)
		}
		newCount = rec.Offset + rec.Count
	case types.LogUpdateBulk:
		if err := col.WriteBulk(rec.Offset, rec.Atoms); err != nil {
			return fmt.Errorf("replay write_bulk: %w", werror.ErrStoreError)
		}
		newCount = rec.Offset + int64(len(rec.Atoms))
	case types.LogUpdate:
		if err := col.WriteSparse(rec.OIDs, rec.Atoms); err != nil {
			return fmt.Errorf("replay write_sparse: %w", werror.ErrStoreError)
		}
		newCount = col.RowCount()
	}
	return rp.catalog.UpdateRowCount(objectID, newCount)
}
