package store

import "errors"

// errNotFound is returned when a bid has no meta row. pkg/wal wraps this
// into werror.ErrStoreError at the call site; Store itself carries no
// dependency on the WAL's error taxonomy.
var errNotFound = errors.New("column store: not found")
