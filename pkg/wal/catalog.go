package wal

import (
	"fmt"
	"sync"

	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// Catalog tracks every column known to the WAL: its physical bid, its
// caller-chosen object_id, a cached row count, and (once logically
// deleted) the tid that condemned it. See spec §3/§4.3.
type Catalog struct {
	mu sync.RWMutex

	rows    []types.CatalogEntry
	byObjID map[types.ObjectID]int // object_id -> index into rows, excludes tombstoned rows

	store store.Store
}

// NewCatalog constructs an empty catalog backed by st. The Replayer
// populates it from LOG_CREATE/LOG_DESTROY/LOG_UPDATE* actions during
// recovery; after that, TransactionBuilder mutates it directly.
func NewCatalog(st store.Store) *Catalog {
	return &Catalog{
		rows:    make([]types.CatalogEntry, 0),
		byObjID: make(map[types.ObjectID]int),
		store:   st,
	}
}

// FindBat resolves a live object_id to its current bid. Masked by
// tombstones: once a row is condemned, it is no longer findable even
// though the store reference is retained until the next checkpoint.
func (c *Catalog) FindBat(objectID types.ObjectID) (types.BID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byObjID[objectID]
	if !ok {
		return 0, false
	}
	return c.rows[idx].BID, true
}

// AddBat appends a new live row and retains one store reference on bid.
// Fails with werror.ErrDuplicate if objectID is already live.
func (c *Catalog) AddBat(bid types.BID, objectID types.ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byObjID[objectID]; ok {
		return fmt.Errorf("object %d already live: %w", objectID, werror.ErrDuplicate)
	}
	if err := c.store.Retain(bid); err != nil {
		return fmt.Errorf("retain bid %d: %w", bid, werror.ErrStoreError)
	}
	idx := len(c.rows)
	c.rows = append(c.rows, types.CatalogEntry{BID: bid, ObjectID: objectID})
	c.byObjID[objectID] = idx
	return nil
}

// DelBat condemns the row holding bid: sets last_tid and marks it
// tombstoned so FindBat no longer resolves it. The store reference is
// dropped later, at the checkpoint whose saved_tid reaches currentTID.
func (c *Catalog) DelBat(bid types.BID, currentTID types.TID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.rows {
		if c.rows[i].BID == bid && !c.rows[i].Tombstone {
			tid := currentTID
			c.rows[i].LastTID = &tid
			c.rows[i].Tombstone = true
			delete(c.byObjID, c.rows[i].ObjectID)
			return nil
		}
	}
	return fmt.Errorf("bid %d: %w", bid, werror.ErrNotFound)
}

// UpdateRowCount only ever increases the cached count for objectID, so
// replaying a prefix of a bulk-update transaction never undercounts.
func (c *Catalog) UpdateRowCount(objectID types.ObjectID, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byObjID[objectID]
	if !ok {
		return fmt.Errorf("object %d: %w", objectID, werror.ErrNotFound)
	}
	if n > c.rows[idx].RowCount {
		c.rows[idx].RowCount = n
	}
	return nil
}

// Entry returns a copy of the live row for objectID, for callers (the
// Replayer, TransactionBuilder) that need the bid and current row count
// together.
func (c *Catalog) Entry(objectID types.ObjectID) (types.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byObjID[objectID]
	if !ok {
		return types.CatalogEntry{}, false
	}
	return c.rows[idx], true
}

// Compact physically removes every row condemned at or before savedTID,
// releasing exactly one store reference per removed row. Called only by
// the Checkpointer during sub-commit. Returns the bids released so the
// caller can fold the release into its own accounting/metrics.
func (c *Catalog) Compact(savedTID types.TID) ([]types.BID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.rows[:0]
	released := make([]types.BID, 0)
	for _, row := range c.rows {
		if row.LastTID != nil && *row.LastTID <= savedTID {
			released = append(released, row.BID)
			continue
		}
		kept = append(kept, row)
	}
	c.rows = kept
	c.reindex()

	for _, bid := range released {
		if err := c.store.Release(bid); err != nil {
			return nil, fmt.Errorf("release bid %d: %w", bid, werror.ErrStoreError)
		}
	}
	return released, nil
}

func (c *Catalog) reindex() {
	c.byObjID = make(map[types.ObjectID]int, len(c.rows))
	for i, row := range c.rows {
		if !row.Tombstone {
			c.byObjID[row.ObjectID] = i
		}
	}
}

// Stats reports live-row and tombstone-row counts, consumed by
// metrics.Instrumented via wal.Wal.
func (c *Catalog) Stats() (liveRows, tombstones int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, row := range c.rows {
		if row.Tombstone {
			tombstones++
		} else {
			liveRows++
		}
	}
	return
}

// Snapshot returns a copy of every row, live and condemned, for the
// Checkpointer's sub-commit column-set decision and for tests.
func (c *Catalog) Snapshot() []types.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.CatalogEntry, len(c.rows))
	copy(out, c.rows)
	return out
}
