package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/cuemby/colwal/pkg/types"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta      = []byte("meta")
	bucketWatermark = []byte("watermark")
	watermarkKey    = []byte("watermark")
)

// atomRow is the JSON-on-disk shape of one column cell. It is a tagged
// union rather than an interface so encoding/json round-trips it without a
// custom (Un)MarshalJSON implementation.
type atomRow struct {
	Kind types.ExternalTypeID `json:"k"`
	I    int64                `json:"i,omitempty"`
	F    float64              `json:"f,omitempty"`
	B    bool                 `json:"b,omitempty"`
	S    string               `json:"s,omitempty"`
	Blob []byte               `json:"blob,omitempty"`
}

func encodeAtom(a types.Atom) atomRow {
	switch v := a.(type) {
	case types.Int32Atom:
		return atomRow{Kind: v.Type(), I: int64(v)}
	case types.Int64Atom:
		return atomRow{Kind: v.Type(), I: int64(v)}
	case types.Float64Atom:
		return atomRow{Kind: v.Type(), F: float64(v)}
	case types.BitAtom:
		return atomRow{Kind: v.Type(), B: bool(v)}
	case types.StrAtom:
		return atomRow{Kind: v.Type(), S: string(v)}
	case types.BlobAtom:
		return atomRow{Kind: v.Type(), Blob: []byte(v)}
	default:
		return atomRow{}
	}
}

func decodeAtom(r atomRow) types.Atom {
	switch {
	case r.Kind == types.ExternalTypeID(0):
		return types.Int32Atom(r.I)
	case r.Kind == types.ExternalTypeID(1):
		return types.Int64Atom(r.I)
	case r.Kind == types.ExternalTypeID(2):
		return types.Float64Atom(r.F)
	case r.Kind == types.ExternalTypeID(3):
		return types.BitAtom(r.B)
	case r.Kind == types.ExternalTypeID(-1):
		return types.StrAtom(r.S)
	case r.Kind == types.ExternalTypeID(-2):
		return types.BlobAtom(r.Blob)
	default:
		return nil
	}
}

// columnMeta is the persisted per-bid bookkeeping row.
type columnMeta struct {
	ExternalType types.ExternalTypeID `json:"external_type"`
	RowCount     int64                `json:"row_count"`
	RefCount     int32                `json:"ref_count"`
}

type watermarkRow struct {
	LogID uint64 `json:"log_id"`
	TID   int32  `json:"tid"`
}

// BoltColumnStore implements Store on top of bbolt: one bucket per bid
// holding JSON-encoded atomRow cells keyed by 8-byte big-endian row index,
// plus a meta bucket tracking per-bid type/size/refcount and a fixed-key
// watermark bucket recording the last successful SubCommit.
type BoltColumnStore struct {
	db *bolt.DB

	// archiveDir, when set, enables ArchiveSegment: checkpointed segments
	// are zstd-compressed here instead of being discarded at unlink time.
	archiveDir string
}

// NewBoltColumnStore constructs an unopened store; call Open before use.
func NewBoltColumnStore() *BoltColumnStore {
	return &BoltColumnStore{}
}

// SetArchiveDir enables ArchiveSegment, writing compressed segment copies
// under dir. Passing "" disables archiving again.
func (s *BoltColumnStore) SetArchiveDir(dir string) {
	s.archiveDir = dir
}

// ArchiveSegment implements store.Archiver. It is a no-op when no archive
// directory has been configured, so a Checkpointer can call it
// unconditionally.
func (s *BoltColumnStore) ArchiveSegment(path string, logID types.LogID) error {
	if s.archiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir %s: %w", s.archiveDir, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segment %s for archival: %w", path, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)

	dst := filepath.Join(s.archiveDir, fmt.Sprintf("wal.%d.zst", uint64(logID)))
	if err := os.WriteFile(dst, compressed, 0o644); err != nil {
		return fmt.Errorf("write archive %s: %w", dst, err)
	}
	log.WithComponent("store").Info().Str("path", dst).Msg("segment archived")
	return nil
}

func (s *BoltColumnStore) Open(dataDir string) error {
	dbPath := filepath.Join(dataDir, "columns.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("open column store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketWatermark); err != nil {
			return fmt.Errorf("create watermark bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	s.db = db
	log.WithComponent("store").Info().Str("path", dbPath).Msg("column store opened")
	return nil
}

func (s *BoltColumnStore) Close() error {
	return s.db.Close()
}

func columnBucketName(bid types.BID) []byte {
	return []byte(fmt.Sprintf("col-%d", int32(bid)))
}

func bidKey(bid types.BID) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(bid)))
	return buf
}

func rowKey(idx int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(idx))
	return buf
}

func (s *BoltColumnStore) CreateColumn(bid types.BID, extType types.ExternalTypeID) (Column, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(columnBucketName(bid)); err != nil {
			return fmt.Errorf("create column bucket: %w", err)
		}
		meta := columnMeta{ExternalType: extType, RowCount: 0, RefCount: 0}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(bidKey(bid), data)
	})
	if err != nil {
		return nil, err
	}
	return &boltColumn{store: s, bid: bid, extType: extType}, nil
}

func (s *BoltColumnStore) OpenColumn(bid types.BID) (Column, error) {
	var meta columnMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(bidKey(bid))
		if data == nil {
			return fmt.Errorf("%w: bid %d", errNotFound, bid)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &boltColumn{store: s, bid: bid, extType: meta.ExternalType}, nil
}

func (s *BoltColumnStore) CloseColumn(c Column) error {
	return nil
}

func (s *BoltColumnStore) Retain(bid types.BID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		meta, err := readMeta(b, bid)
		if err != nil {
			return err
		}
		meta.RefCount++
		return putMeta(b, bid, meta)
	})
}

func (s *BoltColumnStore) Release(bid types.BID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		meta, err := readMeta(b, bid)
		if err != nil {
			return err
		}
		meta.RefCount--
		if meta.RefCount <= 0 {
			if err := tx.DeleteBucket(columnBucketName(bid)); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("release column %d: %w", bid, err)
			}
			return b.Delete(bidKey(bid))
		}
		return putMeta(b, bid, meta)
	})
}

func (s *BoltColumnStore) SubCommit(bids []types.BID, sizes []int64, logID types.LogID, tid types.TID) error {
	if len(bids) != len(sizes) {
		return fmt.Errorf("sub_commit: %d bids but %d sizes", len(bids), len(sizes))
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		metaBucket := tx.Bucket(bucketMeta)
		for i, bid := range bids {
			meta, err := readMeta(metaBucket, bid)
			if err != nil {
				return fmt.Errorf("sub_commit: %w", err)
			}
			meta.RowCount = sizes[i]
			if err := putMeta(metaBucket, bid, meta); err != nil {
				return err
			}
		}
		wm := watermarkRow{LogID: uint64(logID), TID: int32(tid)}
		data, err := json.Marshal(wm)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWatermark).Put(watermarkKey, data)
	})
}

func (s *BoltColumnStore) Watermark() (types.LogID, types.TID, error) {
	var wm watermarkRow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWatermark).Get(watermarkKey)
		if data == nil {
			return nil // zero value: fresh database
		}
		return json.Unmarshal(data, &wm)
	})
	return types.LogID(wm.LogID), types.TID(wm.TID), err
}

func readMeta(b *bolt.Bucket, bid types.BID) (columnMeta, error) {
	var meta columnMeta
	data := b.Get(bidKey(bid))
	if data == nil {
		return meta, fmt.Errorf("%w: bid %d", errNotFound, bid)
	}
	return meta, json.Unmarshal(data, &meta)
}

func putMeta(b *bolt.Bucket, bid types.BID, meta columnMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return b.Put(bidKey(bid), data)
}

// boltColumn is the Column handle returned by BoltColumnStore.
type boltColumn struct {
	store   *BoltColumnStore
	bid     types.BID
	extType types.ExternalTypeID
}

func (c *boltColumn) BID() types.BID                    { return c.bid }
func (c *boltColumn) ExternalType() types.ExternalTypeID { return c.extType }

func (c *boltColumn) RowCount() int64 {
	var n int64
	_ = c.store.db.View(func(tx *bolt.Tx) error {
		meta, err := readMeta(tx.Bucket(bucketMeta), c.bid)
		if err != nil {
			return err
		}
		n = meta.RowCount
		return nil
	})
	return n
}

func (c *boltColumn) WriteConst(offset int64, count int64, atom types.Atom) error {
	return c.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(columnBucketName(c.bid))
		row := encodeAtom(atom)
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		for i := int64(0); i < count; i++ {
			if err := b.Put(rowKey(offset+i), data); err != nil {
				return err
			}
		}
		return c.bumpRowCount(tx, offset+count)
	})
}

func (c *boltColumn) WriteBulk(offset int64, atoms []types.Atom) error {
	return c.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(columnBucketName(c.bid))
		for i, atom := range atoms {
			data, err := json.Marshal(encodeAtom(atom))
			if err != nil {
				return err
			}
			if err := b.Put(rowKey(offset+int64(i)), data); err != nil {
				return err
			}
		}
		return c.bumpRowCount(tx, offset+int64(len(atoms)))
	})
}

func (c *boltColumn) WriteSparse(oids []int64, atoms []types.Atom) error {
	if len(oids) != len(atoms) {
		return fmt.Errorf("write_sparse: %d oids but %d atoms", len(oids), len(atoms))
	}
	return c.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(columnBucketName(c.bid))
		maxOid := int64(-1)
		for i, oid := range oids {
			data, err := json.Marshal(encodeAtom(atoms[i]))
			if err != nil {
				return err
			}
			if err := b.Put(rowKey(oid), data); err != nil {
				return err
			}
			if oid > maxOid {
				maxOid = oid
			}
		}
		return c.bumpRowCount(tx, maxOid+1)
	})
}

func (c *boltColumn) ReadBulk(offset, count int64) ([]types.Atom, error) {
	atoms := make([]types.Atom, count)
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(columnBucketName(c.bid))
		for i := int64(0); i < count; i++ {
			data := b.Get(rowKey(offset + i))
			if data == nil {
				return fmt.Errorf("read_bulk: no value at row %d", offset+i)
			}
			var row atomRow
			if err := json.Unmarshal(data, &row); err != nil {
				return err
			}
			atoms[i] = decodeAtom(row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return atoms, nil
}

func (c *boltColumn) Truncate() error {
	return c.store.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(columnBucketName(c.bid)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(columnBucketName(c.bid)); err != nil {
			return err
		}
		meta, err := readMeta(tx.Bucket(bucketMeta), c.bid)
		if err != nil {
			return err
		}
		meta.RowCount = 0
		return putMeta(tx.Bucket(bucketMeta), c.bid, meta)
	})
}

// bumpRowCount only ever increases the cached row count, mirroring
// Catalog.UpdateRowCount's "never undercount a replayed prefix" rule.
func (c *boltColumn) bumpRowCount(tx *bolt.Tx, newCount int64) error {
	b := tx.Bucket(bucketMeta)
	meta, err := readMeta(b, c.bid)
	if err != nil {
		return err
	}
	if newCount > meta.RowCount {
		meta.RowCount = newCount
	}
	return putMeta(b, c.bid, meta)
}
