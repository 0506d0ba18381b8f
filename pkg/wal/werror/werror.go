// Package werror defines the WAL's error taxonomy as sentinel values
// usable with errors.Is/errors.As, following the module's fmt.Errorf("%w")
// wrapping idiom throughout.
package werror

import "errors"

var (
	// ErrShortRead is returned when a segment ends mid-record. It is the
	// only kind recovered locally: the Replayer aborts any open
	// transactions and stops the current segment, but recovery
	// continues.
	ErrShortRead = errors.New("wal: short read")

	// ErrCorruptHeader covers a bad byte-order mark, an unparsable
	// version line, or an unparsable type-registry line. Fatal to the
	// segment.
	ErrCorruptHeader = errors.New("wal: corrupt header")

	// ErrUnknownType is returned when a record references an external
	// type id no longer present in the type registry. Fatal to the
	// segment.
	ErrUnknownType = errors.New("wal: unknown type")

	// ErrValueTooLarge is returned when a variable-width atom's encoded
	// length exceeds the codec's sanity bound.
	ErrValueTooLarge = errors.New("wal: value too large")

	// ErrDuplicate is returned by add_bat for an object_id that is
	// already live in the catalog.
	ErrDuplicate = errors.New("wal: duplicate object")

	// ErrNotFound is returned for an operation on an object_id (or
	// sequence key) with no live catalog/sequence entry.
	ErrNotFound = errors.New("wal: not found")

	// ErrIOError covers underlying filesystem failures. On a write path
	// it is fatal: the instance is marked poisoned and every further
	// call fails fast.
	ErrIOError = errors.New("wal: io error")

	// ErrStoreError covers a failed sub-commit or column open/close; it
	// is treated identically to ErrIOError by callers.
	ErrStoreError = errors.New("wal: store error")

	// ErrPoisoned is returned by every call made after a fatal IO/store
	// error has poisoned the instance.
	ErrPoisoned = errors.New("wal: instance poisoned, restart required")
)

// Kind returns the stable, lowercase taxonomy name used as the
// colwal_errors_total{kind=...} metric label and in log fields. It
// classifies via errors.Is so wrapped errors still report correctly.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrShortRead):
		return "short_read"
	case errors.Is(err, ErrCorruptHeader):
		return "corrupt_header"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrValueTooLarge):
		return "value_too_large"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIOError):
		return "io_error"
	case errors.Is(err, ErrStoreError):
		return "store_error"
	case errors.Is(err, ErrPoisoned):
		return "poisoned"
	default:
		return "unknown"
	}
}
