package objdb

import (
	"context"
	"slices"
	"strings"
)

// StoreID names a store. By default it is the qualified name of the entity
// type stored in it.
type StoreID string

// KeyEntry is a persisted KeyList element: the serialized application key and
// the slot holding its record.
type KeyEntry struct {
	Key  []byte `msgpack:"k"`
	Slot int64  `msgpack:"s"`
}

// KeySet is a persisted KeyList. Next is the slot the next new key receives;
// it only grows, so slots of deleted keys stay retired across reloads.
type KeySet struct {
	Entries []KeyEntry `msgpack:"keys"`
	Next    int64      `msgpack:"next"`
}

// IndexEntry is a persisted index element. Value2 is nil for single-value
// indexes.
type IndexEntry struct {
	Value  []byte `msgpack:"v"`
	Value2 []byte `msgpack:"v2,omitempty"`
	Key    []byte `msgpack:"k"`
}

// StoreInfo describes a registered store in the persisted manifest.
type StoreInfo struct {
	ID       StoreID `msgpack:"id" yaml:"id"`
	TypeName string  `msgpack:"type" yaml:"type"`
	KeyType  string  `msgpack:"key" yaml:"key_type"`
}

// Driver is the storage backend of a DB. Records are opaque byte strings
// addressed by (store, slot). Implementations must be safe for concurrent
// use and must not retain byte slices passed to them after returning.
type Driver interface {
	SaveRaw(ctx context.Context, store StoreID, slot int64, data []byte) error

	// LoadRaw returns ErrNotFound if there is no record at slot.
	LoadRaw(ctx context.Context, store StoreID, slot int64) ([]byte, error)

	// DeleteRaw returns ErrNotFound if there is no record at slot.
	DeleteRaw(ctx context.Context, store StoreID, slot int64) error

	// Truncate removes all records, keys and indexes of one store.
	Truncate(ctx context.Context, store StoreID) error

	// Purge removes all records, keys and indexes of every store. The type
	// table and the store manifest survive.
	Purge(ctx context.Context) error

	SerializeKeys(ctx context.Context, store StoreID, keyType string, keys KeySet) error
	DeserializeKeys(ctx context.Context, store StoreID, keyType string) (KeySet, error)

	SerializeIndex(ctx context.Context, store StoreID, index string, entries []IndexEntry) error
	DeserializeIndex(ctx context.Context, store StoreID, index string) ([]IndexEntry, error)

	// PublishStores merges live into the persisted manifest. resolves
	// reports whether a persisted type name still maps to a known type; a
	// store whose persisted type no longer resolves fails with
	// ErrStoreNotFound.
	PublishStores(ctx context.Context, live []StoreInfo, resolves func(typeName string) bool) error
	Manifest(ctx context.Context) ([]StoreInfo, error)

	SerializeTypes(ctx context.Context) error
	TypeIndexOf(ctx context.Context, typeName string) (int, error)
	TypeAtIndex(ctx context.Context, code int) (string, error)
	Types(ctx context.Context) []string
	RestoreTypes(ctx context.Context, names []string) error

	Close() error
}

// reconcileManifest checks live stores against persisted ones and returns
// the merged manifest, sorted by store id.
func reconcileManifest(persisted, live []StoreInfo, resolves func(string) bool) ([]StoreInfo, error) {
	byID := make(map[StoreID]StoreInfo, len(persisted)+len(live))
	for _, si := range persisted {
		byID[si.ID] = si
	}
	for _, si := range live {
		if old, ok := byID[si.ID]; ok && old.TypeName != si.TypeName {
			if resolves == nil || !resolves(old.TypeName) {
				return nil, storeErrf(si.ID, "", nil, ErrStoreNotFound, "persisted type %q no longer resolves", old.TypeName)
			}
		}
		byID[si.ID] = si
	}
	result := make([]StoreInfo, 0, len(byID))
	for _, si := range byID {
		result = append(result, si)
	}
	slices.SortFunc(result, func(a, b StoreInfo) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return result, nil
}
