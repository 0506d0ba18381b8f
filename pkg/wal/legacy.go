package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// Legacy record tags, carried over unchanged from the old encoding
// (original_source/gdk/gdk_logger_old.c). No code in this module ever
// emits these; they are recognized only for one-shot translation.
const (
	legacyLogInsert    = 3
	legacyLogUpdate    = 5
	legacyLogCreate    = 6
	legacyLogDestroy   = 7
	legacyLogUse       = 8
	legacyLogClear     = 9
	legacyLogSeq       = 10
	legacyLogInsertID  = 11
	legacyLogUpdateID  = 12
	legacyLogCreateID  = 13
	legacyLogDestroyID = 14
	legacyLogUseID     = 15
	legacyLogClearID   = 16
	legacyLogUpdatePax = 17
)

// legacyCatalogEntry is one row of the old string-keyed catalog: a BAT
// referenced by name rather than by a caller-assigned object_id.
type legacyCatalogEntry struct {
	Name     string
	TypeChar byte
}

// LegacyUpgrader is a one-shot, no-back-reference translation: it is run
// at most once per data directory (triggered by an old header version
// stamp), reads the old tag-encoded log and its string-keyed catalog, and
// rewrites them into a single fresh new-format segment with an integer
// object_id per old name. It never supports resuming a partial upgrade —
// an interrupted run must restart from the untouched legacy directory,
// which the caller is responsible for backing up first (see
// cmd/walupgrade's --backup flag). Grounded on
// original_source/gdk/gdk_logger_old.c for the tag set and on
// cmd/warren-migrate for the shape of a dry-run-capable, backed-up
// migration tool.
type LegacyUpgrader struct {
	dir      string
	registry *Registry
	idIndex  map[LegacyKey]types.ObjectID
}

// NewLegacyUpgrader constructs an upgrader over dir, which must contain
// the legacy catalog file and old-format log segments.
func NewLegacyUpgrader(dir string, registry *Registry) *LegacyUpgrader {
	return &LegacyUpgrader{dir: dir, registry: registry, idIndex: make(map[LegacyKey]types.ObjectID)}
}

// LegacyKey is the (type_char, legacy id) pair the old format's _ID record
// variants addressed a bat by, as an alternative to its name
// (original_source/gdk/gdk_logger_old.c's log_read_id/old_logger_find_bat).
type LegacyKey struct {
	TypeChar byte
	ID       int64
}

// LegacyObjectID resolves a legacy (type_char, id) address, discovered from
// a LOG_CREATE_ID record during Upgrade, to the object_id the upgrade
// assigned its bat. Populated only once Upgrade has run; answers
// find_bat_by_legacy_id.
func (lu *LegacyUpgrader) LegacyObjectID(typeChar byte, legacyID int64) (types.ObjectID, bool) {
	id, ok := lu.idIndex[LegacyKey{TypeChar: typeChar, ID: legacyID}]
	return id, ok
}

// legacyCatalogFileName is the old string-keyed catalog's on-disk name,
// one "<name>,<type_char>" line per BAT. The historical binary heap
// layout is not reproduced byte-for-byte; only its semantic content
// (name, type) is modeled, since the old format's only remaining
// consumer is this one-shot rewrite.
const legacyCatalogFileName = "wal.catalog.old"

func (lu *LegacyUpgrader) readLegacyCatalog() ([]legacyCatalogEntry, error) {
	path := filepath.Join(lu.dir, legacyCatalogFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open legacy catalog %s: %w", path, werror.ErrIOError)
	}
	defer f.Close()

	var entries []legacyCatalogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		name, typeStr, ok := strings.Cut(line, ",")
		if !ok || len(typeStr) != 1 {
			return nil, fmt.Errorf("malformed legacy catalog line %q: %w", line, werror.ErrCorruptHeader)
		}
		entries = append(entries, legacyCatalogEntry{Name: name, TypeChar: typeStr[0]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read legacy catalog %s: %w", path, werror.ErrIOError)
	}
	return entries, nil
}

// legacyTypeCharToExternal maps the old single-character type tag to the
// current registry's external type id.
func legacyTypeCharToExternal(c byte) (types.ExternalTypeID, error) {
	switch c {
	case 'i':
		return 0, nil
	case 'l':
		return 1, nil
	case 'd':
		return 2, nil
	case 'b':
		return 3, nil
	case 's':
		return -1, nil
	case 'x':
		return -2, nil
	default:
		return 0, fmt.Errorf("legacy type char %q: %w", c, werror.ErrUnknownType)
	}
}

// legacyObjectIDs assigns a stable new-format object_id to every legacy
// name, sorted so the mapping is deterministic across repeated runs
// against the same catalog (even though the upgrader itself never runs
// twice on the same directory in practice).
func legacyObjectIDs(entries []legacyCatalogEntry) map[string]types.ObjectID {
	sorted := make([]string, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e.Name)
	}
	sort.Strings(sorted)
	ids := make(map[string]types.ObjectID, len(sorted))
	for i, name := range sorted {
		ids[name] = types.ObjectID(i + 1)
	}
	return ids
}

func readLegacyUint8(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read legacy tag: %w", werror.ErrShortRead)
	}
	return b, nil
}

func readLegacyInt32(r *bufio.Reader) (int32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("read legacy i32: %w", werror.ErrShortRead)
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func readLegacyInt64(r *bufio.Reader) (int64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("read legacy i64: %w", werror.ErrShortRead)
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func readLegacyString(r *bufio.Reader) (string, error) {
	n, err := readLegacyInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxAtomLen {
		return "", fmt.Errorf("legacy string length %d: %w", n, werror.ErrValueTooLarge)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read legacy string: %w", werror.ErrShortRead)
	}
	return string(buf), nil
}

// legacyAction is one parsed record from the old log, already resolved to
// the object it targets via the name cursor (LOG_USE/LOG_USE_ID) or an
// explicit name on an _ID variant.
type legacyAction struct {
	name string
	kind types.RecordKind // translated to the new-format kind this action becomes
	ext  types.ExternalTypeID
	rec  Record // pre-filled new-format body (ID left zero; filled in by the caller once object_id is resolved)

	// hasLegacyID, legacyTypeChar and legacyID carry a LOG_CREATE_ID
	// record's legacy (type_char, id) address, present alongside its name
	// so the upgrade can answer find_bat_by_legacy_id after translation.
	hasLegacyID    bool
	legacyTypeChar byte
	legacyID       int64
}

// readLegacySegment parses one old-format segment (no BOM: the old format
// predates it) into an ordered list of translated actions.
func readLegacySegment(r io.Reader) ([]legacyAction, error) {
	br := bufio.NewReader(r)
	var actions []legacyAction
	var cursor string // the BAT named by the most recent LOG_USE(_ID)

	for {
		tag, err := readLegacyUint8(br)
		if err != nil {
			// Covers both a clean end-of-segment and a short read mid-tag;
			// either way, translation of this segment stops here and
			// whatever was already resolved is still rewritten, mirroring
			// the current codec's ShortRead tolerance.
			break
		}

		switch tag {
		case legacyLogCreate, legacyLogCreateID:
			name, err := readLegacyString(br)
			if err != nil {
				return actions, err
			}
			typeChar, err := readLegacyUint8(br)
			if err != nil {
				return actions, err
			}
			ext, err := legacyTypeCharToExternal(typeChar)
			if err != nil {
				return actions, err
			}
			act := legacyAction{name: name, kind: types.LogCreate, rec: Record{Kind: types.LogCreate, ExternalType: ext}}
			if tag == legacyLogCreateID {
				// The _ID variant carries a trailing legacy (type_char, id)
				// address on top of the name, mirroring log_read_id's
				// tpe+lng pair in the original.
				legacyID, err := readLegacyInt64(br)
				if err != nil {
					return actions, err
				}
				act.hasLegacyID = true
				act.legacyTypeChar = typeChar
				act.legacyID = legacyID
			}
			actions = append(actions, act)
			cursor = name

		case legacyLogDestroy, legacyLogDestroyID:
			name, err := readLegacyString(br)
			if err != nil {
				return actions, err
			}
			actions = append(actions, legacyAction{name: name, kind: types.LogDestroy, rec: Record{Kind: types.LogDestroy}})

		case legacyLogSeq:
			key, err := readLegacyInt32(br)
			if err != nil {
				return actions, err
			}
			val, err := readLegacyInt64(br)
			if err != nil {
				return actions, err
			}
			actions = append(actions, legacyAction{kind: types.LogSeq, rec: Record{Kind: types.LogSeq, ID: key, SeqValue: val}})

		case legacyLogClear, legacyLogClearID:
			name := cursor
			if tag == legacyLogClearID {
				n, err := readLegacyString(br)
				if err != nil {
					return actions, err
				}
				name = n
			}
			actions = append(actions, legacyAction{name: name, kind: types.LogClear, rec: Record{Kind: types.LogClear}})

		case legacyLogUse, legacyLogUseID:
			name, err := readLegacyString(br)
			if err != nil {
				return actions, err
			}
			cursor = name

		case legacyLogInsert, legacyLogInsertID:
			name := cursor
			if tag == legacyLogInsertID {
				n, err := readLegacyString(br)
				if err != nil {
					return actions, err
				}
				name = n
			}
			count, ext, atoms, err := readLegacyBulkBody(br)
			if err != nil {
				return actions, err
			}
			actions = append(actions, legacyAction{name: name, kind: types.LogUpdateBulk, ext: ext,
				rec: Record{Kind: types.LogUpdateBulk, ExternalType: ext, Count: count, Atoms: atoms}})

		case legacyLogUpdate, legacyLogUpdateID, legacyLogUpdatePax:
			name := cursor
			if tag == legacyLogUpdateID {
				n, err := readLegacyString(br)
				if err != nil {
					return actions, err
				}
				name = n
			}
			count, ext, oids, atoms, err := readLegacySparseBody(br)
			if err != nil {
				return actions, err
			}
			actions = append(actions, legacyAction{name: name, kind: types.LogUpdate, ext: ext,
				rec: Record{Kind: types.LogUpdate, ExternalType: ext, Count: count, OIDs: oids, Atoms: atoms}})

		default:
			return actions, fmt.Errorf("unrecognized legacy tag %d: %w", tag, werror.ErrCorruptHeader)
		}
	}
	return actions, nil
}

func readLegacyBulkBody(br *bufio.Reader) (count int64, ext types.ExternalTypeID, atoms []types.Atom, err error) {
	n, err := readLegacyInt32(br)
	if err != nil {
		return 0, 0, nil, err
	}
	typeChar, err := readLegacyUint8(br)
	if err != nil {
		return 0, 0, nil, err
	}
	ext, err = legacyTypeCharToExternal(typeChar)
	if err != nil {
		return 0, 0, nil, err
	}
	atoms, err = decodeAtoms(br, ext, int64(n))
	if err != nil {
		return 0, 0, nil, err
	}
	return int64(n), ext, atoms, nil
}

func readLegacySparseBody(br *bufio.Reader) (count int64, ext types.ExternalTypeID, oids []int64, atoms []types.Atom, err error) {
	n, err := readLegacyInt32(br)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	typeChar, err := readLegacyUint8(br)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	ext, err = legacyTypeCharToExternal(typeChar)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	oids = make([]int64, n)
	for i := range oids {
		v, err := readLegacyInt32(br)
		if err != nil {
			return 0, 0, nil, nil, err
		}
		oids[i] = int64(v)
	}
	atoms, err = decodeAtoms(br, ext, int64(n))
	if err != nil {
		return 0, 0, nil, nil, err
	}
	return int64(n), ext, oids, atoms, nil
}

// Upgrade reads the legacy catalog and every old-format segment in dir,
// translates them into one brand new segment (wal.1) written through the
// current codec, and writes a fresh, current-stamped header. It leaves
// the directory ready for a normal Replayer pass; the caller is
// responsible for having moved the old segments and catalog aside first
// if they want them preserved (see cmd/walupgrade --backup).
func (lu *LegacyUpgrader) Upgrade() error {
	catalog, err := lu.readLegacyCatalog()
	if err != nil {
		return err
	}
	ids := legacyObjectIDs(catalog)

	oldSegments, err := filepath.Glob(filepath.Join(lu.dir, "wal.old.*"))
	if err != nil {
		return fmt.Errorf("glob legacy segments: %w", werror.ErrIOError)
	}
	sort.Strings(oldSegments)

	var actions []legacyAction
	for _, path := range oldSegments {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open legacy segment %s: %w", path, werror.ErrIOError)
		}
		segActions, err := readLegacySegment(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("translate legacy segment %s: %w", path, err)
		}
		actions = append(actions, segActions...)
	}

	ls, err := OpenLogStream(lu.dir, 1, 0)
	if err != nil {
		return err
	}
	defer ls.Close()

	if err := ls.WriteRecord(Record{Kind: types.LogStart, ID: 1, CommitTS: 0}); err != nil {
		return err
	}
	for _, a := range actions {
		if a.kind == types.LogSeq {
			// Sequence records address a sequence key, not a bat by name;
			// rec.ID is already that key.
			if err := ls.WriteRecord(a.rec); err != nil {
				return err
			}
			continue
		}
		objectID, ok := ids[a.name]
		if !ok {
			return fmt.Errorf("legacy action references unknown name %q: %w", a.name, werror.ErrNotFound)
		}
		if a.hasLegacyID {
			lu.idIndex[LegacyKey{TypeChar: a.legacyTypeChar, ID: a.legacyID}] = objectID
		}
		rec := a.rec
		rec.ID = int32(objectID)
		if err := ls.WriteRecord(rec); err != nil {
			return err
		}
	}
	if err := ls.WriteRecord(Record{Kind: types.LogEnd, ID: 1}); err != nil {
		return err
	}
	if _, err := ls.Flush(1, 0); err != nil {
		return err
	}

	if err := WriteHeader(lu.dir, lu.registry); err != nil {
		return err
	}
	if err := writeLegacyIDIndex(lu.dir, lu.idIndex); err != nil {
		return err
	}

	log.WithComponent("legacy-upgrader").Info().Int("actions", len(actions)).Int("objects", len(ids)).Msg("legacy log upgraded")
	return nil
}

// legacyIDIndexFileName is the upgrader's sidecar recording every legacy
// (type_char, id) address it translated to an object_id. It survives the
// LegacyUpgrader itself going out of scope, so a later, independent normal
// startup (the cmd/walupgrade-then-serve flow) can still answer
// find_bat_by_legacy_id.
const legacyIDIndexFileName = "wal.legacy_ids"

func writeLegacyIDIndex(dir string, idIndex map[LegacyKey]types.ObjectID) error {
	if len(idIndex) == 0 {
		return nil
	}
	var buf strings.Builder
	for k, objectID := range idIndex {
		fmt.Fprintf(&buf, "%c,%d,%d\n", k.TypeChar, k.ID, objectID)
	}
	path := filepath.Join(dir, legacyIDIndexFileName)
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write legacy id index %s: %w", path, werror.ErrIOError)
	}
	return nil
}

// readLegacyIDIndex reads the sidecar Upgrade wrote, if present. A missing
// file means this directory never went through a legacy upgrade, not an
// error.
func readLegacyIDIndex(dir string) (map[LegacyKey]types.ObjectID, error) {
	path := filepath.Join(dir, legacyIDIndexFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open legacy id index %s: %w", path, werror.ErrIOError)
	}
	defer f.Close()

	idIndex := make(map[LegacyKey]types.ObjectID)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 || len(parts[0]) != 1 {
			return nil, fmt.Errorf("malformed legacy id index line %q: %w", line, werror.ErrCorruptHeader)
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed legacy id index line %q: %w", line, werror.ErrCorruptHeader)
		}
		objectID, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed legacy id index line %q: %w", line, werror.ErrCorruptHeader)
		}
		idIndex[LegacyKey{TypeChar: parts[0][0], ID: id}] = types.ObjectID(objectID)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read legacy id index %s: %w", path, werror.ErrIOError)
	}
	return idIndex, nil
}
