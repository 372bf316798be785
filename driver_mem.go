package objdb

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type memStore struct {
	records map[int64][]byte
	keyType string
	keys    []KeyEntry
	next    int64
	indexes map[string][]IndexEntry
}

type memDriver struct {
	mu       sync.Mutex
	stores   map[StoreID]*memStore
	manifest []StoreInfo
	types    *TypeTable
	closed   bool
}

// NewMemDriver returns a transient in-memory Driver, intended for tests and
// caches that do not need to outlive the process.
func NewMemDriver() Driver {
	return &memDriver{
		stores: make(map[StoreID]*memStore),
		types:  NewTypeTable(nil, nil),
	}
}

func (d *memDriver) store_locked(id StoreID, create bool) (*memStore, error) {
	if d.closed {
		return nil, fmt.Errorf("mem driver closed")
	}
	s := d.stores[id]
	if s == nil && create {
		s = &memStore{
			records: make(map[int64][]byte),
			indexes: make(map[string][]IndexEntry),
		}
		d.stores[id] = s
	}
	return s, nil
}

func (d *memDriver) SaveRaw(ctx context.Context, store StoreID, slot int64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, true)
	if err != nil {
		return err
	}
	s.records[slot] = slices.Clone(data)
	return nil
}

func (d *memDriver) LoadRaw(ctx context.Context, store StoreID, slot int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	data, ok := s.records[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (d *memDriver) DeleteRaw(ctx context.Context, store StoreID, slot int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, false)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrNotFound
	}
	if _, ok := s.records[slot]; !ok {
		return ErrNotFound
	}
	delete(s.records, slot)
	return nil
}

func (d *memDriver) Truncate(ctx context.Context, store StoreID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("mem driver closed")
	}
	delete(d.stores, store)
	return nil
}

func (d *memDriver) Purge(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("mem driver closed")
	}
	clear(d.stores)
	return nil
}

func (d *memDriver) SerializeKeys(ctx context.Context, store StoreID, keyType string, keys KeySet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, true)
	if err != nil {
		return err
	}
	s.keyType = keyType
	s.keys = cloneKeyEntries(keys.Entries)
	s.next = keys.Next
	return nil
}

func (d *memDriver) DeserializeKeys(ctx context.Context, store StoreID, keyType string) (KeySet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, false)
	if err != nil || s == nil {
		return KeySet{}, err
	}
	if s.keyType != "" && s.keyType != keyType {
		return KeySet{}, storeErrf(store, "", nil, ErrTypeResolution, "keys persisted as %q, wanted %q", s.keyType, keyType)
	}
	return KeySet{Entries: cloneKeyEntries(s.keys), Next: s.next}, nil
}

func (d *memDriver) SerializeIndex(ctx context.Context, store StoreID, index string, entries []IndexEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, true)
	if err != nil {
		return err
	}
	s.indexes[index] = cloneIndexEntries(entries)
	return nil
}

func (d *memDriver) DeserializeIndex(ctx context.Context, store StoreID, index string) ([]IndexEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.store_locked(store, false)
	if err != nil || s == nil {
		return nil, err
	}
	return cloneIndexEntries(s.indexes[index]), nil
}

func (d *memDriver) PublishStores(ctx context.Context, live []StoreInfo, resolves func(string) bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := reconcileManifest(d.manifest, live, resolves)
	if err != nil {
		return err
	}
	d.manifest = m
	return nil
}

func (d *memDriver) Manifest(ctx context.Context) ([]StoreInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.manifest), nil
}

func (d *memDriver) SerializeTypes(ctx context.Context) error {
	return nil
}

func (d *memDriver) TypeIndexOf(ctx context.Context, typeName string) (int, error) {
	return d.types.CodeOf(typeName)
}

func (d *memDriver) TypeAtIndex(ctx context.Context, code int) (string, error) {
	return d.types.NameAt(code)
}

func (d *memDriver) Types(ctx context.Context) []string {
	return d.types.Names()
}

func (d *memDriver) RestoreTypes(ctx context.Context, names []string) error {
	return d.types.Restore(names)
}

func (d *memDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stores = nil
	return nil
}

func cloneKeyEntries(keys []KeyEntry) []KeyEntry {
	if keys == nil {
		return nil
	}
	out := make([]KeyEntry, len(keys))
	for i, ke := range keys {
		out[i] = KeyEntry{Key: slices.Clone(ke.Key), Slot: ke.Slot}
	}
	return out
}

func cloneIndexEntries(entries []IndexEntry) []IndexEntry {
	if entries == nil {
		return nil
	}
	out := make([]IndexEntry, len(entries))
	for i, e := range entries {
		out[i] = IndexEntry{
			Value:  slices.Clone(e.Value),
			Value2: slices.Clone(e.Value2),
			Key:    slices.Clone(e.Key),
		}
	}
	return out
}
