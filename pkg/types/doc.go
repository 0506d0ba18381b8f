/*
Package types defines the core data structures shared across the colwal
WAL/catalog core.

This package contains the domain model that every other package in the
module builds on: transaction and segment identifiers, on-disk record
kinds, the atom sum type carried by UPDATE/SEQ bodies, and the catalog and
sequence row shapes. Nothing in this package touches disk or the store; it
is pure data definitions plus the small predicates (Live, Condemned,
Covers) that read naturally as part of the type rather than the package
that owns them.

# Architecture

The types package is the foundation of the WAL's data model. It defines:

  - Identifiers: ObjectID (logical, stable), BID (physical, unstable across
    compaction), TID (per-session transaction id), LogID (segment number)
  - On-disk record kinds (RecordKind) and the Atom sum type
  - Catalog and sequence row shapes (CatalogEntry, SequenceEntry)
  - The type registry row shape (TypeRegistryEntry)
  - LogStream's pending-range bookkeeping (PendingRange)

# Core Types

Identifiers:
  - ObjectID: logical column identity, stable across restarts
  - BID: physical column identity, not stable across compaction
  - TID: transaction id, monotonic per instance
  - LogID: segment number, monotonic across all time

Records:
  - RecordKind: LOG_START, LOG_END, LOG_CREATE, LOG_DESTROY, LOG_CLEAR,
    LOG_SEQ, LOG_UPDATE_CONST, LOG_UPDATE_BULK, LOG_UPDATE, and the
    never-decoded legacy LOG_ROW
  - ExternalTypeID: the on-disk type tag, non-negative half fixed-width,
    negative half variable-width, counting down from -1
  - Atom: Int32Atom, Int64Atom, Float64Atom, BitAtom, StrAtom, BlobAtom

Catalog & sequences:
  - CatalogEntry: (bid, object_id, row_count, last_tid)
  - SequenceEntry: (key, value)
  - TypeRegistryEntry: (external id, internal type number, name)
  - PendingRange: {log_id, first_tid, last_tid, last_commit_ts}

# Usage

Building a catalog row for a freshly created column:

	entry := &types.CatalogEntry{
		BID:      types.BID(storeBID),
		ObjectID: types.ObjectID(objectID),
		RowCount: 0,
	}

Condemning a row on LOG_DESTROY:

	tid := currentTID
	entry.LastTID = &tid
	entry.Tombstone = true

Deciding whether a pending segment is covered by a checkpoint watermark:

	if rng.Covers(watermarkTS) {
		// safe to fold into the next sub-commit
	}

# Design Patterns

Identifier distinctness: ObjectID, BID, TID, and LogID are all backed by
integer kinds but are distinct Go types specifically so the compiler
rejects accidentally passing a bid where an object_id is expected — the
original C code conflates these as plain int/lng and the resulting
confusion is exactly what spec-level "bid is unstable, object_id is
stable" language is warning callers about.

Optional fields: CatalogEntry.LastTID is a *TID rather than a TID with a
sentinel zero value, since tid 0 is a valid transaction id and a sentinel
would collide with it.

Atom as an interface, not a tagged union: each Atom implementation reports
its own ExternalTypeID and FixedWidth, so Codec's encode/decode paths
switch on a type switch instead of carrying a separate kind byte through
the Go call stack.

# Integration Points

This package is imported by:

  - pkg/wal: the codec, logstream, catalog, sequence store, transaction
    builder, replayer, checkpointer, and legacy upgrader all operate on
    these types directly
  - pkg/store: the column-store collaborator's atom encode/decode paths
  - test/integration: builds atoms and records for the end-to-end scenarios

# Thread Safety

All types in this package are plain data with no internal locking.
Mutation (e.g. setting CatalogEntry.LastTID) must be synchronized by the
caller — in practice this is always pkg/wal's catalog lock.
*/
package types
