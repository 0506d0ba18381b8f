package wal

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// Registry is the fixed-at-boot table mapping an external logical type id
// to an internal column-type number and name. It is reconstructed from
// code at every startup; the log carries only the external id, so adding a
// new internal type never invalidates an older log. The header file
// persists it only for operator-readable debugging symmetry, not as the
// source of truth.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.ExternalTypeID]types.TypeRegistryEntry
}

// defaultRegistry covers the fixed Atom implementations in pkg/types: the
// non-negative half is fixed-width, the negative half (starting at -1,
// historically -127) is variable-width.
func defaultRegistry() *Registry {
	r := &Registry{entries: make(map[types.ExternalTypeID]types.TypeRegistryEntry)}
	r.register(0, 100, "int32")
	r.register(1, 101, "int64")
	r.register(2, 102, "float64")
	r.register(3, 103, "bit")
	r.register(-1, 200, "str")
	r.register(-2, 201, "blob")
	return r
}

// NewRegistry returns the registry pre-populated with the built-in atom
// types. Call Register to add deployment-specific types before the WAL
// starts accepting LOG_CREATE calls that reference them.
func NewRegistry() *Registry {
	return defaultRegistry()
}

func (r *Registry) register(external types.ExternalTypeID, internal int32, name string) {
	r.entries[external] = types.TypeRegistryEntry{External: external, Internal: internal, Name: name}
}

// Register adds or replaces a type registry row. Only safe to call before
// the WAL begins processing transactions; the registry is not
// reconfigured while a log is open.
func (r *Registry) Register(external types.ExternalTypeID, internal int32, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(external, internal, name)
}

// Lookup resolves an external type id written into a record. Callers that
// get ok=false must treat the record as werror.ErrUnknownType.
func (r *Registry) Lookup(external types.ExternalTypeID) (types.TypeRegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[external]
	return e, ok
}

// Name returns the internal type name registered for external, or an
// error wrapping werror.ErrUnknownType if none is registered.
func (r *Registry) Name(external types.ExternalTypeID) (string, error) {
	e, ok := r.Lookup(external)
	if !ok {
		return "", fmt.Errorf("type id %d: %w", external, werror.ErrUnknownType)
	}
	return e.Name, nil
}

// HeaderLines renders the registry as the "<external_id>,<internal_name>"
// lines persisted in the wal header file (see pkg/wal/header.go), sorted
// by external id for a stable diff across checkpoints.
func (r *Registry) HeaderLines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.entries))
	byID := make(map[int]types.TypeRegistryEntry, len(r.entries))
	for ext, e := range r.entries {
		byID[int(ext)] = e
		ids = append(ids, int(ext))
	}
	sortInts(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("%d,%s", id, byID[id].Name))
	}
	return lines
}

// ParseHeaderLine parses one "<external_id>,<internal_name>" header line.
// It is used only to cross-check the on-disk header against the
// in-process registry at boot (see wal.Open); the registry itself is
// always rebuilt from code, never from this parse.
func ParseHeaderLine(line string) (types.ExternalTypeID, string, error) {
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed type registry line %q: %w", line, werror.ErrCorruptHeader)
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, "", fmt.Errorf("malformed type registry line %q: %w", line, werror.ErrCorruptHeader)
	}
	return types.ExternalTypeID(id), strings.TrimSpace(parts[1]), nil
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
