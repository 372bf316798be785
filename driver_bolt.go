package objdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	boltTypesBucket   = []byte("objdb.types")
	boltMetaBucket    = []byte("objdb.meta")
	boltManifestKey   = []byte("manifest")
	boltStorePrefix   = []byte("s:")
	boltRecordsBucket = []byte("records")
	boltKeysBucket    = []byte("keys")
	boltIndexesBucket = []byte("indexes")
	boltKeyTypeKey    = []byte("keytype")
	boltNextSlotKey   = []byte("nextslot")
)

type BoltOptions struct {
	// Timeout bounds waiting for the file lock held by another process.
	Timeout time.Duration

	NoSync bool
}

type boltDriver struct {
	bdb   *bbolt.DB
	types *TypeTable
}

// NewBoltDriver opens (creating if needed) a bbolt file at path.
func NewBoltDriver(path string, opt BoltOptions) (Driver, error) {
	if opt.Timeout == 0 {
		opt.Timeout = 5 * time.Second
	}
	bdb, err := bbolt.Open(path, 0o644, &bbolt.Options{
		Timeout: opt.Timeout,
		NoSync:  opt.NoSync,
	})
	if err != nil {
		return nil, err
	}
	d := &boltDriver{bdb: bdb}

	var names []string
	err = bdb.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltTypesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			code := int(binary.BigEndian.Uint32(k))
			if code != len(names) {
				return fmt.Errorf("type table has a gap at code %d", len(names))
			}
			names = append(names, string(v))
			return nil
		})
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("reading type table: %w", err)
	}
	d.types = NewTypeTable(names, d.writeTypes)
	return d, nil
}

func (d *boltDriver) writeTypes(names []string) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(boltTypesBucket) != nil {
			err := tx.DeleteBucket(boltTypesBucket)
			if err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(boltTypesBucket)
		if err != nil {
			return err
		}
		var k [4]byte
		for code, name := range names {
			binary.BigEndian.PutUint32(k[:], uint32(code))
			err = b.Put(k[:], []byte(name))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func boltStoreName(store StoreID) []byte {
	return append(bytes.Clone(boltStorePrefix), store...)
}

func boltSlotKey(slot int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(slot))
}

func boltStoreBucket(tx *bbolt.Tx, store StoreID, create bool) (*bbolt.Bucket, error) {
	name := boltStoreName(store)
	if !create {
		return tx.Bucket(name), nil
	}
	return tx.CreateBucketIfNotExists(name)
}

func boltSubBucket(tx *bbolt.Tx, store StoreID, sub []byte, create bool) (*bbolt.Bucket, error) {
	root, err := boltStoreBucket(tx, store, create)
	if err != nil || root == nil {
		return nil, err
	}
	if !create {
		return root.Bucket(sub), nil
	}
	return root.CreateBucketIfNotExists(sub)
}

func (d *boltDriver) SaveRaw(ctx context.Context, store StoreID, slot int64, data []byte) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		b, err := boltSubBucket(tx, store, boltRecordsBucket, true)
		if err != nil {
			return err
		}
		return b.Put(boltSlotKey(slot), data)
	})
}

func (d *boltDriver) LoadRaw(ctx context.Context, store StoreID, slot int64) ([]byte, error) {
	var data []byte
	err := d.bdb.View(func(tx *bbolt.Tx) error {
		b, _ := boltSubBucket(tx, store, boltRecordsBucket, false)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(boltSlotKey(slot))
		if v == nil {
			return ErrNotFound
		}
		data = bytes.Clone(v)
		return nil
	})
	return data, err
}

func (d *boltDriver) DeleteRaw(ctx context.Context, store StoreID, slot int64) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		b, _ := boltSubBucket(tx, store, boltRecordsBucket, false)
		if b == nil {
			return ErrNotFound
		}
		k := boltSlotKey(slot)
		if b.Get(k) == nil {
			return ErrNotFound
		}
		return b.Delete(k)
	})
}

func (d *boltDriver) Truncate(ctx context.Context, store StoreID) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(boltStoreName(store))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (d *boltDriver) Purge(ctx context.Context) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		var names [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if bytes.HasPrefix(name, boltStorePrefix) {
				names = append(names, bytes.Clone(name))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range names {
			err = tx.DeleteBucket(name)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *boltDriver) SerializeKeys(ctx context.Context, store StoreID, keyType string, keys KeySet) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		root, err := boltStoreBucket(tx, store, true)
		if err != nil {
			return err
		}
		if root.Bucket(boltKeysBucket) != nil {
			err = root.DeleteBucket(boltKeysBucket)
			if err != nil {
				return err
			}
		}
		b, err := root.CreateBucket(boltKeysBucket)
		if err != nil {
			return err
		}
		for _, ke := range keys.Entries {
			err = b.Put(ke.Key, boltSlotKey(ke.Slot))
			if err != nil {
				return err
			}
		}
		err = root.Put(boltNextSlotKey, boltSlotKey(keys.Next))
		if err != nil {
			return err
		}
		return root.Put(boltKeyTypeKey, []byte(keyType))
	})
}

func (d *boltDriver) DeserializeKeys(ctx context.Context, store StoreID, keyType string) (KeySet, error) {
	var keys KeySet
	err := d.bdb.View(func(tx *bbolt.Tx) error {
		root, _ := boltStoreBucket(tx, store, false)
		if root == nil {
			return nil
		}
		if kt := root.Get(boltKeyTypeKey); kt != nil && string(kt) != keyType {
			return storeErrf(store, "", nil, ErrTypeResolution, "keys persisted as %q, wanted %q", kt, keyType)
		}
		if v := root.Get(boltNextSlotKey); v != nil {
			if len(v) != 8 {
				return dataErrf(v, 0, nil, "invalid next slot")
			}
			keys.Next = int64(binary.BigEndian.Uint64(v))
		}
		b := root.Bucket(boltKeysBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return dataErrf(v, 0, nil, "invalid slot for key %x", k)
			}
			keys.Entries = append(keys.Entries, KeyEntry{
				Key:  bytes.Clone(k),
				Slot: int64(binary.BigEndian.Uint64(v)),
			})
			return nil
		})
	})
	return keys, err
}

func (d *boltDriver) SerializeIndex(ctx context.Context, store StoreID, index string, entries []IndexEntry) error {
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		b, err := boltSubBucket(tx, store, boltIndexesBucket, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(index), data)
	})
}

func (d *boltDriver) DeserializeIndex(ctx context.Context, store StoreID, index string) ([]IndexEntry, error) {
	var entries []IndexEntry
	err := d.bdb.View(func(tx *bbolt.Tx) error {
		b, _ := boltSubBucket(tx, store, boltIndexesBucket, false)
		if b == nil {
			return nil
		}
		data := b.Get(unsafeBytesFromString(index))
		if data == nil {
			return nil
		}
		return msgpack.Unmarshal(data, &entries)
	})
	return entries, err
}

func (d *boltDriver) PublishStores(ctx context.Context, live []StoreInfo, resolves func(string) bool) error {
	return d.bdb.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		if err != nil {
			return err
		}
		var persisted []StoreInfo
		if data := b.Get(boltManifestKey); data != nil {
			err = msgpack.Unmarshal(data, &persisted)
			if err != nil {
				return fmt.Errorf("manifest: %w", err)
			}
		}
		m, err := reconcileManifest(persisted, live, resolves)
		if err != nil {
			return err
		}
		data, err := msgpack.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(boltManifestKey, data)
	})
}

func (d *boltDriver) Manifest(ctx context.Context) ([]StoreInfo, error) {
	var m []StoreInfo
	err := d.bdb.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltMetaBucket)
		if b == nil {
			return nil
		}
		data := b.Get(boltManifestKey)
		if data == nil {
			return nil
		}
		return msgpack.Unmarshal(data, &m)
	})
	return m, err
}

func (d *boltDriver) SerializeTypes(ctx context.Context) error {
	return d.types.Save()
}

func (d *boltDriver) TypeIndexOf(ctx context.Context, typeName string) (int, error) {
	return d.types.CodeOf(typeName)
}

func (d *boltDriver) TypeAtIndex(ctx context.Context, code int) (string, error) {
	return d.types.NameAt(code)
}

func (d *boltDriver) Types(ctx context.Context) []string {
	return d.types.Names()
}

func (d *boltDriver) RestoreTypes(ctx context.Context, names []string) error {
	return d.types.Restore(names)
}

func (d *boltDriver) Close() error {
	return d.bdb.Close()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
