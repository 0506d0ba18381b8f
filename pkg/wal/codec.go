package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cuemby/colwal/pkg/types"
	"github.com/cuemby/colwal/pkg/wal/werror"
)

// byteOrderMark is written as the first two bytes of every segment,
// little-endian. A mismatch on read fails the segment with
// werror.ErrCorruptHeader.
const byteOrderMark uint16 = 1234

// maxAtomLen bounds a single variable-width atom's encoded length, guarding
// against a corrupt length prefix turning into an attempted multi-gigabyte
// allocation. Chosen generously above any plausible column cell.
const maxAtomLen = 64 << 20 // 64 MiB

// Record is the decoded, in-memory form of one on-disk WAL record (§4.1).
// Only the fields relevant to Kind are populated by Decode; Encode reads
// only the fields relevant to Kind.
type Record struct {
	Kind types.RecordKind
	ID   int32 // tid (START/END) or object_id (CREATE/DESTROY/CLEAR/UPDATE*/SEQ key)

	CommitTS     int64                // LOG_START
	ExternalType types.ExternalTypeID // LOG_CREATE, LOG_UPDATE*
	Count        int64                // LOG_UPDATE_CONST/BULK/UPDATE
	Offset       int64                // LOG_UPDATE_CONST/BULK
	Atoms        []types.Atom         // CONST: len 1; BULK/UPDATE: len Count
	OIDs         []int64              // LOG_UPDATE: len Count
	SeqValue     int64                // LOG_SEQ
}

// WriteBOM writes the segment's byte-order mark. Called once, by
// LogStream, at the start of every new segment file.
func WriteBOM(w io.Writer) error {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, byteOrderMark)
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("write bom: %w", werror.ErrIOError)
	}
	return nil
}

// ReadBOM reads and validates the segment's byte-order mark.
func ReadBOM(r io.Reader) error {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read bom: %w", werror.ErrCorruptHeader)
	}
	if binary.LittleEndian.Uint16(buf) != byteOrderMark {
		return fmt.Errorf("bad byte-order mark: %w", werror.ErrCorruptHeader)
	}
	return nil
}

// Encode writes one record's 5-byte header (kind, id) followed by its
// kind-dependent body.
func Encode(w io.Writer, rec Record) error {
	if err := writeUint8(w, uint8(rec.Kind)); err != nil {
		return err
	}
	if err := writeInt32(w, rec.ID); err != nil {
		return err
	}

	switch rec.Kind {
	case types.LogStart:
		return writeInt64(w, rec.CommitTS)

	case types.LogEnd, types.LogDestroy, types.LogClear:
		return nil

	case types.LogCreate:
		return writeInt8(w, int8(rec.ExternalType))

	case types.LogSeq:
		return writeInt64(w, rec.SeqValue)

	case types.LogUpdateConst:
		if err := writeInt64(w, rec.Count); err != nil {
			return err
		}
		if err := writeInt8(w, int8(rec.ExternalType)); err != nil {
			return err
		}
		if err := writeInt64(w, rec.Offset); err != nil {
			return err
		}
		if len(rec.Atoms) != 1 {
			return fmt.Errorf("LOG_UPDATE_CONST requires exactly one atom, got %d", len(rec.Atoms))
		}
		return encodeAtom(w, rec.Atoms[0])

	case types.LogUpdateBulk:
		if err := writeInt64(w, rec.Count); err != nil {
			return err
		}
		if err := writeInt8(w, int8(rec.ExternalType)); err != nil {
			return err
		}
		if err := writeInt64(w, rec.Offset); err != nil {
			return err
		}
		return encodeAtoms(w, rec.ExternalType, rec.Atoms)

	case types.LogUpdate:
		if err := writeInt64(w, rec.Count); err != nil {
			return err
		}
		if err := writeInt8(w, int8(rec.ExternalType)); err != nil {
			return err
		}
		for _, oid := range rec.OIDs {
			if err := writeInt64(w, oid); err != nil {
				return err
			}
		}
		return encodeAtoms(w, rec.ExternalType, rec.Atoms)

	default:
		return fmt.Errorf("encode record kind %s: %w", rec.Kind, werror.ErrUnknownType)
	}
}

// Decode reads one record. registry resolves external type ids for
// records that carry one; an id no longer registered yields
// werror.ErrUnknownType. An EOF that lands exactly on a record boundary is
// reported as io.EOF; any EOF mid-record is werror.ErrShortRead.
func Decode(r *bufio.Reader, registry *Registry) (Record, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record kind: %w", werror.ErrShortRead)
	}
	rec := Record{Kind: types.RecordKind(kindByte)}

	id, err := readInt32(r)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id

	switch rec.Kind {
	case types.LogStart:
		ts, err := readInt64(r)
		if err != nil {
			return Record{}, err
		}
		rec.CommitTS = ts
		return rec, nil

	case types.LogEnd, types.LogDestroy, types.LogClear:
		return rec, nil

	case types.LogCreate:
		ext, err := readInt8(r)
		if err != nil {
			return Record{}, err
		}
		rec.ExternalType = types.ExternalTypeID(ext)
		if _, ok := registry.Lookup(rec.ExternalType); !ok {
			return Record{}, fmt.Errorf("LOG_CREATE type %d: %w", rec.ExternalType, werror.ErrUnknownType)
		}
		return rec, nil

	case types.LogSeq:
		v, err := readInt64(r)
		if err != nil {
			return Record{}, err
		}
		rec.SeqValue = v
		return rec, nil

	case types.LogUpdateConst:
		count, ext, offset, err := readUpdateHeader(r)
		if err != nil {
			return Record{}, err
		}
		rec.Count, rec.Offset = count, offset
		rec.ExternalType = ext
		if _, ok := registry.Lookup(ext); !ok {
			return Record{}, fmt.Errorf("LOG_UPDATE_CONST type %d: %w", ext, werror.ErrUnknownType)
		}
		atom, err := decodeAtom(r, ext)
		if err != nil {
			return Record{}, err
		}
		rec.Atoms = []types.Atom{atom}
		return rec, nil

	case types.LogUpdateBulk:
		count, ext, offset, err := readUpdateHeader(r)
		if err != nil {
			return Record{}, err
		}
		rec.Count, rec.Offset = count, offset
		rec.ExternalType = ext
		if _, ok := registry.Lookup(ext); !ok {
			return Record{}, fmt.Errorf("LOG_UPDATE_BULK type %d: %w", ext, werror.ErrUnknownType)
		}
		atoms, err := decodeAtoms(r, ext, count)
		if err != nil {
			return Record{}, err
		}
		rec.Atoms = atoms
		return rec, nil

	case types.LogUpdate:
		count, err := readInt64(r)
		if err != nil {
			return Record{}, err
		}
		extByte, err := readInt8(r)
		if err != nil {
			return Record{}, err
		}
		ext := types.ExternalTypeID(extByte)
		rec.Count = count
		rec.ExternalType = ext
		if _, ok := registry.Lookup(ext); !ok {
			return Record{}, fmt.Errorf("LOG_UPDATE type %d: %w", ext, werror.ErrUnknownType)
		}
		oids := make([]int64, 0, count)
		for i := int64(0); i < count; i++ {
			oid, err := readInt64(r)
			if err != nil {
				return Record{}, err
			}
			oids = append(oids, oid)
		}
		atoms, err := decodeAtoms(r, ext, count)
		if err != nil {
			return Record{}, err
		}
		rec.OIDs = oids
		rec.Atoms = atoms
		return rec, nil

	case types.LogRow:
		// Legacy row-insert format (row_insert_nrcols > 0 in the
		// original logger). No Go decoder exists for it; any log that
		// still emits it must pass through LegacyUpgrader first.
		return Record{}, fmt.Errorf("LOG_ROW: %w", werror.ErrUnknownType)

	default:
		return Record{}, fmt.Errorf("record kind %d: %w", kindByte, werror.ErrUnknownType)
	}
}

func readUpdateHeader(r *bufio.Reader) (count int64, ext types.ExternalTypeID, offset int64, err error) {
	count, err = readInt64(r)
	if err != nil {
		return
	}
	extByte, err2 := readInt8(r)
	if err2 != nil {
		err = err2
		return
	}
	ext = types.ExternalTypeID(extByte)
	offset, err = readInt64(r)
	return
}

// encodeAtom writes one atom: fixed-width atoms write their raw bytes;
// variable-width atoms are preceded by an int64 length.
func encodeAtom(w io.Writer, a types.Atom) error {
	switch v := a.(type) {
	case types.Int32Atom:
		return writeInt32(w, int32(v))
	case types.Int64Atom:
		return writeInt64(w, int64(v))
	case types.Float64Atom:
		return writeFloat64(w, float64(v))
	case types.BitAtom:
		b := int8(0)
		if v {
			b = 1
		}
		return writeInt8(w, b)
	case types.StrAtom:
		data := []byte(v)
		if err := writeInt64(w, int64(len(data))); err != nil {
			return err
		}
		_, err := w.Write(data)
		if err != nil {
			return fmt.Errorf("write str atom: %w", werror.ErrIOError)
		}
		return nil
	case types.BlobAtom:
		if err := writeInt64(w, int64(len(v))); err != nil {
			return err
		}
		_, err := w.Write(v)
		if err != nil {
			return fmt.Errorf("write blob atom: %w", werror.ErrIOError)
		}
		return nil
	default:
		return fmt.Errorf("encode atom: unsupported Go type %T", a)
	}
}

// bitWordBits is the packing width for bit columns: "Bit columns are
// packed 32 bits per word" (§4.1).
const bitWordBits = 32

// encodeAtoms writes count atoms of the same external type. Bit atoms are
// packed 32 per word rather than written one at a time; every other type
// falls back to the per-atom encoder.
func encodeAtoms(w io.Writer, ext types.ExternalTypeID, atoms []types.Atom) error {
	if ext != types.ExternalTypeID(3) {
		for _, a := range atoms {
			if err := encodeAtom(w, a); err != nil {
				return err
			}
		}
		return nil
	}
	var word uint32
	var bit uint
	for _, a := range atoms {
		b, ok := a.(types.BitAtom)
		if !ok {
			return fmt.Errorf("encode bit atoms: unexpected Go type %T", a)
		}
		if b {
			word |= 1 << bit
		}
		bit++
		if bit == bitWordBits {
			if err := writeUint32(w, word); err != nil {
				return err
			}
			word, bit = 0, 0
		}
	}
	if bit > 0 {
		return writeUint32(w, word)
	}
	return nil
}

// decodeAtoms reads count atoms of the given external type, reversing
// encodeAtoms' bit-packing for bit columns.
func decodeAtoms(r *bufio.Reader, ext types.ExternalTypeID, count int64) ([]types.Atom, error) {
	atoms := make([]types.Atom, 0, count)
	if ext != types.ExternalTypeID(3) {
		for i := int64(0); i < count; i++ {
			a, err := decodeAtom(r, ext)
			if err != nil {
				return nil, err
			}
			atoms = append(atoms, a)
		}
		return atoms, nil
	}
	var word uint32
	var bit uint
	for i := int64(0); i < count; i++ {
		if bit == 0 {
			w, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			word = w
		}
		atoms = append(atoms, types.BitAtom(word&(1<<bit) != 0))
		bit++
		if bit == bitWordBits {
			bit = 0
		}
	}
	return atoms, nil
}

// decodeAtom reads one atom of the given external type.
func decodeAtom(r *bufio.Reader, ext types.ExternalTypeID) (types.Atom, error) {
	switch ext {
	case types.ExternalTypeID(0):
		v, err := readInt32(r)
		return types.Int32Atom(v), err
	case types.ExternalTypeID(1):
		v, err := readInt64(r)
		return types.Int64Atom(v), err
	case types.ExternalTypeID(2):
		v, err := readFloat64(r)
		return types.Float64Atom(v), err
	case types.ExternalTypeID(3):
		v, err := readInt8(r)
		return types.BitAtom(v != 0), err
	case types.ExternalTypeID(-1):
		data, err := readVarWidth(r)
		return types.StrAtom(data), err
	case types.ExternalTypeID(-2):
		data, err := readVarWidth(r)
		return types.BlobAtom(data), err
	default:
		return nil, fmt.Errorf("decode atom type %d: %w", ext, werror.ErrUnknownType)
	}
}

func readVarWidth(r *bufio.Reader) ([]byte, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxAtomLen {
		return nil, fmt.Errorf("atom length %d: %w", n, werror.ErrValueTooLarge)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read atom body: %w", werror.ErrShortRead)
	}
	return buf, nil
}

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	if err != nil {
		return fmt.Errorf("write u8: %w", werror.ErrIOError)
	}
	return nil
}

func writeInt8(w io.Writer, v int8) error {
	return writeUint8(w, uint8(v))
}

func writeInt32(w io.Writer, v int32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write i32: %w", werror.ErrIOError)
	}
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write u32: %w", werror.ErrIOError)
	}
	return nil
}

func readUint32(r *bufio.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("read u32: %w", werror.ErrShortRead)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func writeInt64(w io.Writer, v int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write i64: %w", werror.ErrIOError)
	}
	return nil
}

func writeFloat64(w io.Writer, v float64) error {
	return writeInt64(w, int64(math.Float64bits(v)))
}

func readInt8(r *bufio.Reader) (int8, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read i8: %w", werror.ErrShortRead)
	}
	return int8(b), nil
}

func readInt32(r *bufio.Reader) (int32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("read i32: %w", werror.ErrShortRead)
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func readInt64(r *bufio.Reader) (int64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("read i64: %w", werror.ErrShortRead)
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func readFloat64(r *bufio.Reader) (float64, error) {
	v, err := readInt64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}
