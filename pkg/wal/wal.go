package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/store"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
	"github.com/cuemby/colwal/pkg/walconfig"
)

// Wal is the top-level handle a caller opens once per data directory. It
// wires together every collaborator (Registry, LogStream, Catalog,
// SequenceStore, TransactionBuilder, Checkpointer) behind the single
// coarse lock the scheduling model requires (§5): every write-path call
// and every Checkpoint call is serialized through mu. Grounded in shape on
// the teacher's manager.NewManager/Bootstrap flow — construct
// collaborators, recover state, then accept traffic.
type Wal struct {
	mu sync.Mutex

	dir      string
	registry *Registry
	stream   *LogStream
	catalog  *Catalog
	seq      *SequenceStore
	store    store.Store
	bids     *bidSequence

	tb *TransactionBuilder
	cp *Checkpointer

	// legacyIDIndex resolves a legacy (type_char, id) address to the
	// object_id the upgrader assigned it. Loaded on every Open from the
	// wal.legacy_ids sidecar; nil when the directory has no sidecar, in
	// which case FindBatByLegacyID always reports not-found.
	legacyIDIndex map[LegacyKey]types.ObjectID
}

// Open recovers dir (running the LegacyUpgrader first if the header's
// version stamp is old), replays every segment left on disk to rebuild
// the catalog and sequence store, then opens a fresh segment for writes.
// st must already be open.
func Open(dir string, st store.Store) (*Wal, error) {
	cfg, err := walconfig.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load wal config: %w", err)
	}

	h, present, err := ReadHeader(dir)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	if NeedsLegacyUpgrade(h, present) {
		log.WithComponent("wal").Warn().Str("stamp", h.VersionStamp).Msg("legacy version stamp detected, running upgrader")
		if err := NewLegacyUpgrader(dir, registry).Upgrade(); err != nil {
			return nil, fmt.Errorf("legacy upgrade: %w", err)
		}
		if h, present, err = ReadHeader(dir); err != nil {
			return nil, err
		}
	}

	// The upgrader's legacy (type_char, id) index, if any, is read from its
	// on-disk sidecar rather than kept from an in-memory LegacyUpgrader:
	// the upgrade may have run in an earlier, separate process (the
	// cmd/walupgrade flow), and this Open still needs to answer
	// find_bat_by_legacy_id for it.
	legacyIDIndex, err := readLegacyIDIndex(dir)
	if err != nil {
		return nil, err
	}
	if present {
		crossCheckHeaderTypes(registry, h.TypeLines)
	}

	catalog := NewCatalog(st)
	sequences := NewSequenceStore()
	bids := newBIDSequence(1)

	segments, err := discoverSegments(dir)
	if err != nil {
		return nil, err
	}

	rp := NewReplayer(registry, catalog, sequences, st, bids, false)
	var highestTID types.TID
	for _, path := range segments {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open segment %s: %w", path, werror.ErrIOError)
		}
		tid, err := rp.ReplaySegment(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("replay segment %s: %w", path, err)
		}
		if tid > highestTID {
			highestTID = tid
		}
	}

	nextLogID := types.LogID(1)
	if len(segments) > 0 {
		lid, err := parseSegmentLogID(segments[len(segments)-1])
		if err != nil {
			return nil, err
		}
		nextLogID = lid + 1
	}

	stream, err := OpenLogStream(dir, nextLogID, highestTID)
	if err != nil {
		return nil, err
	}
	stream.SetSoftCap(cfg.SegmentSoftCapBytes)
	stream.SetPreallocEnabled(cfg.PreallocationEnabled)

	wmLogID, wmTID, err := st.Watermark()
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("read store watermark: %w", err)
	}

	if cfg.ArchiveDir != "" {
		if as, ok := st.(interface{ SetArchiveDir(string) }); ok {
			as.SetArchiveDir(cfg.ArchiveDir)
		}
	}

	cp := NewCheckpointer(dir, stream, registry, catalog, sequences, st, wmLogID, wmTID)
	cp.SetTombstoneFraction(cfg.TombstoneCompactionFraction)
	tb := NewTransactionBuilder(stream, catalog, sequences, registry, st, bids)

	if err := WriteHeader(dir, registry); err != nil {
		stream.Close()
		return nil, err
	}

	w := &Wal{dir: dir, registry: registry, stream: stream, catalog: catalog, seq: sequences, store: st, bids: bids, tb: tb, cp: cp, legacyIDIndex: legacyIDIndex}
	log.WithComponent("wal").Info().Int("segments_replayed", len(segments)).Msg("wal recovered")
	return w, nil
}

// OpenWithUpgrade runs only the legacy-upgrade check against dir: if the
// header's version stamp is old it runs LegacyUpgrader and reports
// upgraded=true; otherwise it is a documented no-op. Unlike Open, it never
// touches a store collaborator or starts accepting transactions — it
// exists for cmd/walupgrade, a one-shot tool that upgrades a directory
// offline before anything else opens it.
func OpenWithUpgrade(dir string) (upgraded bool, err error) {
	h, present, err := ReadHeader(dir)
	if err != nil {
		return false, err
	}
	if !NeedsLegacyUpgrade(h, present) {
		return false, nil
	}
	if err := NewLegacyUpgrader(dir, NewRegistry()).Upgrade(); err != nil {
		return false, fmt.Errorf("legacy upgrade: %w", err)
	}
	return true, nil
}

// crossCheckHeaderTypes logs a warning (never fatal — the registry
// rebuilt from code is always authoritative) when the on-disk header's
// type lines disagree with the in-process registry.
func crossCheckHeaderTypes(registry *Registry, lines []string) {
	for _, line := range lines {
		ext, name, err := ParseHeaderLine(line)
		if err != nil {
			log.WithComponent("wal").Warn().Str("line", line).Msg("unparsable type registry header line, ignoring")
			continue
		}
		got, err := registry.Name(ext)
		if err != nil || got != name {
			log.WithComponent("wal").Warn().Int("external_id", int(ext)).Str("header_name", name).Msg("type registry header disagrees with code, code wins")
		}
	}
}

func discoverSegments(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "wal.*"))
	if err != nil {
		return nil, fmt.Errorf("glob segments: %w", werror.ErrIOError)
	}
	var segments []string
	for _, m := range matches {
		if _, err := parseSegmentLogID(m); err == nil {
			segments = append(segments, m)
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		li, _ := parseSegmentLogID(segments[i])
		lj, _ := parseSegmentLogID(segments[j])
		return li < lj
	})
	return segments, nil
}

func parseSegmentLogID(path string) (types.LogID, error) {
	base := filepath.Base(path)
	suffix := strings.TrimPrefix(base, "wal.")
	if suffix == base {
		return 0, fmt.Errorf("not a segment file: %s", base)
	}
	n, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a segment file: %s", base)
	}
	return types.LogID(n), nil
}

// Begin starts a new transaction; see TransactionBuilder.Begin.
func (w *Wal) Begin(commitTS int64) (types.TID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.Begin(commitTS)
}

func (w *Wal) LogCreate(objectID types.ObjectID, extType types.ExternalTypeID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogCreate(objectID, extType)
}

func (w *Wal) LogDestroy(objectID types.ObjectID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogDestroy(objectID)
}

func (w *Wal) LogClear(objectID types.ObjectID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogClear(objectID)
}

func (w *Wal) LogConst(objectID types.ObjectID, offset, count int64, value types.Atom) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogConst(objectID, offset, count, value)
}

func (w *Wal) LogBulk(objectID types.ObjectID, offset int64, values []types.Atom) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogBulk(objectID, offset, values)
}

func (w *Wal) LogUpdate(objectID types.ObjectID, oids []int64, values []types.Atom) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogUpdate(objectID, oids, values)
}

func (w *Wal) LogSequence(key int32, value int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.LogSequence(key, value)
}

// Commit finalizes the open transaction; see TransactionBuilder.Commit.
func (w *Wal) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.Commit()
}

// Abort discards the open transaction; see TransactionBuilder.Abort.
func (w *Wal) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tb.Abort()
}

// SetDisabled toggles no-op logging for in-memory-only databases.
func (w *Wal) SetDisabled(disabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tb.SetDisabled(disabled)
}

// RequestFlushNow forces a segment rotation before the next Begin.
func (w *Wal) RequestFlushNow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tb.RequestFlushNow()
}

// FindBat resolves objectID to its current bid, mirroring the original
// logger's find_bat. It reports false for an object never created, cleared
// by destroy, or not yet visible because its creating transaction never
// committed.
func (w *Wal) FindBat(objectID types.ObjectID) (types.BID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.catalog.FindBat(objectID)
}

// GetSequence returns the current persisted value for key, mirroring the
// original logger's log_sequence lookup.
func (w *Wal) GetSequence(key int32) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq.Get(key)
}

// FindBatByLegacyID resolves a bat addressed the old format's way, by
// (type_char, id) instead of by object_id, mirroring
// find_bat_by_legacy_id. It resolves whenever the directory holds a
// legacy-id sidecar from an earlier upgrade, whether that upgrade ran in
// this Open or in a separate process; otherwise it always reports false.
func (w *Wal) FindBatByLegacyID(typeChar byte, legacyID int64) (types.BID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	objectID, ok := w.legacyIDIndex[LegacyKey{TypeChar: typeChar, ID: legacyID}]
	if !ok {
		return 0, false
	}
	return w.catalog.FindBat(objectID)
}

// ReadColumn opens objectID's current bid for reading count atoms starting
// at offset and closes it again. It exists for operator tooling and tests
// that need materialized values rather than row counts; the core write
// path never calls it.
func (w *Wal) ReadColumn(objectID types.ObjectID, offset, count int64) ([]types.Atom, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bid, ok := w.catalog.FindBat(objectID)
	if !ok {
		return nil, fmt.Errorf("read_column: object %d has no live bat", objectID)
	}
	col, err := w.store.OpenColumn(bid)
	if err != nil {
		return nil, fmt.Errorf("read_column: open bid %d: %w", bid, err)
	}
	defer w.store.CloseColumn(col)
	return col.ReadBulk(offset, count)
}

// Checkpoint runs one Checkpointer pass for watermark ts; see
// Checkpointer.Run.
func (w *Wal) Checkpoint(ts int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cp.Run(ts)
}

// Close flushes and closes the current segment. It does not close the
// store collaborator, which the caller owns.
func (w *Wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream.Close()
}

// CatalogStats implements metrics.Instrumented.
func (w *Wal) CatalogStats() (rows, tombstones int) {
	return w.catalog.Stats()
}

// SequenceRows implements metrics.Instrumented.
func (w *Wal) SequenceRows() int {
	return w.seq.Rows()
}

// SegmentStats implements metrics.Instrumented.
func (w *Wal) SegmentStats() (onDisk int, currentLogID, savedLogID uint64) {
	segments, _ := discoverSegments(w.dir)
	return len(segments), uint64(w.stream.CurrentLogID()), uint64(w.cp.SavedLogID())
}

// CatalogSnapshot returns every catalog row, live and condemned. For
// operator tooling (cmd/walctl); not used by the core itself.
func (w *Wal) CatalogSnapshot() []types.CatalogEntry {
	return w.catalog.Snapshot()
}

// SequenceSnapshot returns every sequence store row. For operator tooling
// (cmd/walctl); not used by the core itself.
func (w *Wal) SequenceSnapshot() []types.SequenceEntry {
	return w.seq.Snapshot()
}
