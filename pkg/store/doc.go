/*
Package store defines the column-store collaborator consumed by the WAL
core, and a bbolt-backed implementation of it.

The WAL itself owns only the catalog, the sequence store, and segment
bytes; all actual column data lives behind the narrow Store interface this
package defines. Store mirrors the "store primitive consumed" contract of
a WAL/catalog subsystem: sub_commit, retain, release, open/close, and the
per-type atom reader/writer callbacks — generalized here to a single
atom-based Column interface rather than per-type function pointers.

# Architecture

	┌──────────────────── COLUMN STORE ─────────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐          │
	│  │            BoltColumnStore                    │          │
	│  │  - File: <dataDir>/columns.db                │          │
	│  │  - meta bucket: bid -> {type, rows, refcount} │          │
	│  │  - watermark bucket: last sub_commit (logID,  │          │
	│  │    tid)                                        │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │          col-<bid> bucket                     │          │
	│  │  - one bucket per live column                 │          │
	│  │  - key: row index (8-byte big-endian)         │          │
	│  │  - value: JSON-encoded atomRow                │          │
	│  └───────────────────────────────────────────────┘         │
	└─────────────────────────────────────────────────────────────┘

# Core Components

Store interface:
  - Open/Close: lifecycle of the underlying database
  - CreateColumn/OpenColumn/CloseColumn: per-bid handles
  - Retain/Release: logical reference counting on behalf of the catalog
  - SubCommit: atomic multi-column persist plus recovery watermark
  - Watermark: read back the last successful SubCommit point

Column interface:
  - WriteConst/WriteBulk/WriteSparse: the three UPDATE record shapes
  - Truncate: LOG_CLEAR semantics, in place, catalog row untouched
  - RowCount: cached count, only ever increased by callers (see
    pkg/wal.Catalog.UpdateRowCount)

# Usage

Creating a column and writing a bulk update:

	col, err := colStore.CreateColumn(bid, types.ExternalTypeID(0))
	if err != nil { ... }
	err = col.WriteBulk(0, []types.Atom{types.Int32Atom(1), types.Int32Atom(2)})

Persisting a checkpoint:

	err := colStore.SubCommit([]types.BID{bid1, bid2}, []int64{100, 42}, savedLogID, savedTID)

# Design Patterns

Bucket-per-bid, not bucket-per-type: each live bid gets its own bbolt
bucket, deleted wholesale on Release when the refcount reaches zero —
this keeps compaction a single DeleteBucket rather than a scan-and-filter
pass, mirroring the teacher's BoltStore bucket-per-entity layout but keyed
by physical identity instead of UUID.

Row count never decreases outside Truncate/Release/SubCommit: WriteConst,
WriteBulk, and WriteSparse only raise the cached row count, and SubCommit
sets it to the size the caller passes, matching the WAL's
"recovery of a prefix of a transaction does not undercount" requirement.

# Integration Points

This package is consumed exclusively by pkg/wal:
  - Catalog.AddBat calls Retain; compaction calls Release
  - TransactionBuilder's log_bulk/log_update/log_const open a Column and
    call the matching Write method
  - Checkpointer calls SubCommit once for each segment a checkpoint pass
    absorbs

# Thread Safety

BoltColumnStore relies on bbolt's own MVCC transactions for internal
consistency, but exposes no locking of its own across multiple calls —
callers (pkg/wal) hold the WAL's single coarse lock around every sequence
of Store calls that must appear atomic from the catalog's point of view.
*/
package store
