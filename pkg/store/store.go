package store

import "github.com/cuemby/colwal/pkg/types"

// Column is a single open column (BAT, in the original logger's
// vocabulary) in the underlying column store. The WAL core never keeps a
// Column open across a transaction boundary; it opens, mutates, and closes
// within the scope of a single log_* call or replay action.
type Column interface {
	BID() types.BID
	ExternalType() types.ExternalTypeID
	RowCount() int64

	// WriteConst sets count consecutive rows starting at offset to the
	// same atom value (LOG_UPDATE_CONST).
	WriteConst(offset int64, count int64, atom types.Atom) error

	// WriteBulk writes count consecutive atoms starting at offset
	// (LOG_UPDATE_BULK).
	WriteBulk(offset int64, atoms []types.Atom) error

	// WriteSparse writes one atom per oid, at arbitrary non-contiguous
	// positions (LOG_UPDATE).
	WriteSparse(oids []int64, atoms []types.Atom) error

	// ReadBulk returns count consecutive atoms starting at offset, for
	// callers (operator tooling, tests) that need the materialized
	// values rather than just the row count. The WAL core itself never
	// calls this; it only ever writes and counts.
	ReadBulk(offset, count int64) ([]types.Atom, error)

	// Truncate empties the column in place without affecting the
	// catalog row that references it (LOG_CLEAR).
	Truncate() error
}

// Store is the column-store collaborator the WAL core consumes. It is
// deliberately narrow: the WAL owns the catalog and sequence store; Store
// only owns column bytes, per-bid reference counts, and the durable
// recovery watermark.
//
// Every mutating method is safe to call only while the caller holds the
// WAL's single coarse lock (see pkg/wal); Store performs no locking of its
// own beyond what is required for the underlying database's internal
// consistency.
type Store interface {
	// Open opens (creating if absent) the store rooted at dataDir.
	Open(dataDir string) error
	Close() error

	// CreateColumn allocates a new column for extType and returns it open.
	// Used by LOG_CREATE and by the Replayer's Create action.
	CreateColumn(bid types.BID, extType types.ExternalTypeID) (Column, error)

	// OpenColumn opens an existing column for read or write.
	OpenColumn(bid types.BID) (Column, error)

	// CloseColumn releases the in-memory handle without affecting the
	// store-level reference count; pair every OpenColumn/CreateColumn
	// with exactly one CloseColumn.
	CloseColumn(c Column) error

	// Retain increments the catalog's logical reference on bid. Called
	// once by Catalog.AddBat.
	Retain(bid types.BID) error

	// Release decrements the logical reference on bid; at zero the
	// column is physically removed. Called once per compacted row by
	// the Checkpointer.
	Release(bid types.BID) error

	// SubCommit atomically persists exactly the named columns, sized to
	// the given row counts, and records (logID, tid) as the new recovery
	// watermark. Either every column and the watermark move together, or
	// none of them do.
	SubCommit(bids []types.BID, sizes []int64, logID types.LogID, tid types.TID) error

	// Watermark returns the (logID, tid) recorded by the last successful
	// SubCommit.
	Watermark() (logID types.LogID, tid types.TID, err error)
}

// Archiver is implemented by Store collaborators that can retain a
// checkpointed segment's bytes after the WAL unlinks it from the live log
// directory. The Checkpointer type-asserts for this before removing a
// fully-absorbed segment; a Store that doesn't implement it just loses the
// segment, which is always safe since its effects are already durable.
type Archiver interface {
	// ArchiveSegment is given the still-present segment path and its
	// log_id and should retain its bytes somewhere outside the live log
	// directory before the caller unlinks path. Never read back by
	// recovery.
	ArchiveSegment(path string, logID types.LogID) error
}
