package types

import "fmt"

// ObjectID is the logical identity of a persistent column, handed out by the
// caller. Stable across restarts and across catalog compactions.
type ObjectID int32

// BID is the physical identity of a column in the underlying store. Not
// stable across catalog compactions; callers must resolve it through the
// catalog on every access rather than caching it.
type BID int32

// TID is a transaction identifier, monotonically increasing per WAL
// instance, assigned by TransactionBuilder and persisted with every
// LOG_START/LOG_END pair.
type TID int32

// LogID is a segment number. Starts at saved_log_id+1 on boot; every
// rotation increments it by one.
type LogID uint64

// ExternalTypeID is the on-disk, ABI-stable type tag written into
// LOG_CREATE records and UPDATE bodies. It is a small signed byte: the
// non-negative half names fixed-width types, the negative half names
// variable-width types, counting down from -1 (str is -1, blob is -2). It
// never changes meaning once assigned,
// even if the internal type registry is reshuffled.
type ExternalTypeID int8

// RecordKind tags the on-disk shape of a single WAL record. Values below
// mirror the original logger's record tags; LogRow has no Go-side decoder
// and is always rejected as UnknownType (see werror.ErrUnknownType).
type RecordKind uint8

const (
	LogStart       RecordKind = 0
	LogEnd         RecordKind = 1
	LogUpdateConst RecordKind = 2
	LogUpdateBulk  RecordKind = 3
	LogUpdate      RecordKind = 4
	LogCreate      RecordKind = 5
	LogDestroy     RecordKind = 6
	LogSeq         RecordKind = 7
	LogClear       RecordKind = 8
	LogRow         RecordKind = 9 // legacy row-insert format; never decoded
)

// String renders the record kind the way it appears in error messages and
// log lines.
func (k RecordKind) String() string {
	switch k {
	case LogStart:
		return "LOG_START"
	case LogEnd:
		return "LOG_END"
	case LogUpdateConst:
		return "LOG_UPDATE_CONST"
	case LogUpdateBulk:
		return "LOG_UPDATE_BULK"
	case LogUpdate:
		return "LOG_UPDATE"
	case LogCreate:
		return "LOG_CREATE"
	case LogDestroy:
		return "LOG_DESTROY"
	case LogSeq:
		return "LOG_SEQ"
	case LogClear:
		return "LOG_CLEAR"
	case LogRow:
		return "LOG_ROW"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint8(k))
	}
}

// Atom is the sum type carried by UPDATE/SEQ record bodies. Every on-disk
// atom implements it; Codec picks the concrete decoder from the record's
// ExternalTypeID.
type Atom interface {
	// Type names which ExternalTypeID this atom implementation decodes.
	Type() ExternalTypeID
	// FixedWidth reports whether the atom's encoded length is implied by
	// its type (true) or prefixed on disk (false).
	FixedWidth() bool
}

// Int32Atom is a fixed-width 4-byte signed integer atom.
type Int32Atom int32

func (Int32Atom) FixedWidth() bool { return true }
func (a Int32Atom) Type() ExternalTypeID {
	return ExternalTypeID(0)
}

// Int64Atom is a fixed-width 8-byte signed integer atom.
type Int64Atom int64

func (Int64Atom) FixedWidth() bool { return true }
func (a Int64Atom) Type() ExternalTypeID {
	return ExternalTypeID(1)
}

// Float64Atom is a fixed-width 8-byte IEEE-754 double atom.
type Float64Atom float64

func (Float64Atom) FixedWidth() bool { return true }
func (a Float64Atom) Type() ExternalTypeID {
	return ExternalTypeID(2)
}

// BitAtom is a single boolean packed 32 to a word in BULK/UPDATE bodies; a
// CONST body carries its one value unpacked.
type BitAtom bool

func (BitAtom) FixedWidth() bool { return true }
func (a BitAtom) Type() ExternalTypeID {
	return ExternalTypeID(3)
}

// StrAtom is a variable-width UTF-8 string atom; its encoded length is
// written before the bytes.
type StrAtom string

func (StrAtom) FixedWidth() bool { return false }
func (a StrAtom) Type() ExternalTypeID {
	return ExternalTypeID(-1)
}

// BlobAtom is a variable-width opaque byte atom; its encoded length is
// written before the bytes.
type BlobAtom []byte

func (BlobAtom) FixedWidth() bool { return false }
func (a BlobAtom) Type() ExternalTypeID {
	return ExternalTypeID(-2)
}

// CatalogEntry is one row of the catalog: (bid, object_id, row_count,
// last_tid). LastTID is nil while the entry is live; once set it records
// the tid of the LOG_DESTROY that condemned it, and the row is awaiting
// compaction at the next checkpoint whose saved_tid reaches that value.
type CatalogEntry struct {
	BID       BID
	ObjectID  ObjectID
	RowCount  int64
	LastTID   *TID
	Tombstone bool // set once the row position is listed in the tombstone column
}

// Live reports whether the entry is a live, non-condemned row.
func (e *CatalogEntry) Live() bool {
	return e.LastTID == nil && !e.Tombstone
}

// Condemned reports whether the entry has been logically deleted and is
// awaiting physical removal at the next checkpoint.
func (e *CatalogEntry) Condemned() bool {
	return e.LastTID != nil
}

// SequenceEntry is one row of the sequence store: (key, value), with
// liveness tracked the same way as a catalog row's tombstone column.
type SequenceEntry struct {
	Key       int32
	Value     int64
	Tombstone bool
}

// TypeRegistryEntry is one row of the fixed-at-boot type registry: the
// mapping from an on-disk ExternalTypeID to the internal column-type number
// and name the store uses for it. Reconstructed from code at every startup;
// never itself persisted as log content.
type TypeRegistryEntry struct {
	External ExternalTypeID
	Internal int32 // internal column-type number, as used by the store
	Name     string
}

// FixedWidth reports whether this type's external id falls in the
// non-negative (fixed-width) half of the registry.
func (e TypeRegistryEntry) FixedWidth() bool {
	return e.External >= 0
}

// PendingRange describes one segment's tid span and last commit timestamp,
// as tracked by LogStream's linked list of pending ranges so the
// Checkpointer can decide which segments a watermark timestamp covers.
type PendingRange struct {
	LogID        LogID
	FirstTID     TID
	LastTID      TID
	LastCommitTS int64 // unix nanoseconds
}

// Covers reports whether every transaction committed in this range has a
// commit timestamp strictly below ts.
func (r PendingRange) Covers(ts int64) bool {
	return r.LastCommitTS < ts
}
