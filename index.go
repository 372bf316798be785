package objdb

import (
	"context"
	"iter"
)

type indexDef struct {
	store      *storeDef
	name       string
	arity      int
	valueType  string
	value2Type string
	extract    func(obj any) (any, any)
	coll       *indexCollection
}

func (idx *indexDef) String() string {
	return string(idx.store.id) + "." + idx.name
}

func (idx *indexDef) encode() ([]IndexEntry, error) {
	ser := idx.store.db.ser
	entries := make([]IndexEntry, 0, idx.coll.Len())
	for _, item := range idx.coll.items {
		var e IndexEntry
		var err error
		e.Key, err = idx.store.encodeKey(item.key)
		if err != nil {
			return nil, storeErrf(idx.store.id, idx.name, item.key, err, "encoding key")
		}
		e.Value, err = ser.Encode(nil, item.value)
		if err != nil {
			return nil, storeErrf(idx.store.id, idx.name, item.key, err, "encoding value")
		}
		if idx.arity == 2 {
			e.Value2, err = ser.Encode(nil, item.value2)
			if err != nil {
				return nil, storeErrf(idx.store.id, idx.name, item.key, err, "encoding second value")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// load must be called with the store lock held.
func (idx *indexDef) load(ctx context.Context) error {
	entries, err := idx.store.db.drv.DeserializeIndex(ctx, idx.store.id, idx.name)
	if err != nil {
		return storeErrf(idx.store.id, idx.name, nil, err, "loading index")
	}
	ser := idx.store.db.ser
	idx.coll.reset()
	for _, e := range entries {
		key, err := idx.store.decodeKey(e.Key)
		if err != nil {
			return storeErrf(idx.store.id, idx.name, nil, err, "decoding key")
		}
		v1, err := ser.Decode(idx.valueType, e.Value)
		if err != nil {
			return storeErrf(idx.store.id, idx.name, key, err, "decoding value")
		}
		var v2 any
		if idx.arity == 2 {
			v2, err = ser.Decode(idx.value2Type, e.Value2)
			if err != nil {
				return storeErrf(idx.store.id, idx.name, key, err, "decoding second value")
			}
		}
		idx.coll.add(key, v1, v2)
	}
	idx.coll.dirty = false
	return nil
}

// indexObject adds or updates obj's entry in every index of the store.
func (def *storeDef) indexObject(key, obj any) {
	def.mu.Lock()
	defer def.mu.Unlock()
	for _, idx := range def.indexes {
		v1, v2 := idx.extract(obj)
		idx.coll.add(key, v1, v2)
	}
}

func (def *storeDef) addIndex(ctx context.Context, idx *indexDef) error {
	def.mu.Lock()
	defer def.mu.Unlock()
	if def.dropped {
		return storeErrf(def.id, "", nil, ErrStoreNotFound, "dropped")
	}
	if def.indexesBy[idx.name] != nil {
		return storeErrf(def.id, idx.name, nil, nil, "duplicate index")
	}
	err := idx.load(ctx)
	if err != nil {
		return err
	}
	def.indexes = append(def.indexes, idx)
	def.indexesBy[idx.name] = idx
	return nil
}

func (def *storeDef) index(name string) (*indexDef, error) {
	def.mu.RLock()
	defer def.mu.RUnlock()
	idx := def.indexesBy[name]
	if idx == nil {
		return nil, storeErrf(def.id, name, nil, ErrIndexNotFound, "")
	}
	return idx, nil
}

func (idx *indexDef) snapshot() []indexItem {
	idx.store.mu.RLock()
	defer idx.store.mu.RUnlock()
	return idx.coll.snapshot()
}

// Index is a single-value secondary index over a store.
type Index[T any, K comparable, V any] struct {
	def   *indexDef
	store *Store[T, K]
}

// Index2 is a secondary index over a pair of values.
type Index2[T any, K comparable, V1, V2 any] struct {
	def   *indexDef
	store *Store[T, K]
}

// AddIndex registers an index computing one value per entity. Entries
// persisted under the same name are loaded back; entities saved before the
// index existed are not indexed until they are saved again.
func AddIndex[T any, K comparable, V any](ctx context.Context, s *Store[T, K], name string, value func(*T) V) (*Index[T, K, V], error) {
	if err := s.db.checkActive(); err != nil {
		return nil, err
	}
	var zero V
	vt, ok := s.db.ser.TypeName(zero)
	if !ok {
		return nil, storeErrf(s.def.id, name, nil, ErrSerializerIncapable, "index value type %T", zero)
	}
	idx := &indexDef{
		store:     s.def,
		name:      name,
		arity:     1,
		valueType: vt,
		coll:      newIndexCollection(),
		extract: func(obj any) (any, any) {
			return value(obj.(*T)), nil
		},
	}
	err := s.def.addIndex(ctx, idx)
	if err != nil {
		return nil, err
	}
	return &Index[T, K, V]{idx, s}, nil
}

func AddIndex2[T any, K comparable, V1, V2 any](ctx context.Context, s *Store[T, K], name string, value func(*T) (V1, V2)) (*Index2[T, K, V1, V2], error) {
	if err := s.db.checkActive(); err != nil {
		return nil, err
	}
	var zero1 V1
	var zero2 V2
	vt1, ok := s.db.ser.TypeName(zero1)
	if !ok {
		return nil, storeErrf(s.def.id, name, nil, ErrSerializerIncapable, "index value type %T", zero1)
	}
	vt2, ok := s.db.ser.TypeName(zero2)
	if !ok {
		return nil, storeErrf(s.def.id, name, nil, ErrSerializerIncapable, "index value type %T", zero2)
	}
	idx := &indexDef{
		store:      s.def,
		name:       name,
		arity:      2,
		valueType:  vt1,
		value2Type: vt2,
		coll:       newIndexCollection(),
		extract: func(obj any) (any, any) {
			return value(obj.(*T))
		},
	}
	err := s.def.addIndex(ctx, idx)
	if err != nil {
		return nil, err
	}
	return &Index2[T, K, V1, V2]{idx, s}, nil
}

func (idx *Index[T, K, V]) Name() string {
	return idx.def.name
}

func (idx *Index2[T, K, V1, V2]) Name() string {
	return idx.def.name
}

// IndexHit is one index tuple. The row itself is loaded on first call to Row.
type IndexHit[T any, K comparable, V any] struct {
	Key   K
	Value V

	// Value2 holds the second value of two-value indexes when queried by
	// name.
	Value2 any

	store *Store[T, K]
	row   *T
}

// Row loads the entity the hit points to. Once loaded, the same instance is
// returned on every call.
func (h *IndexHit[T, K, V]) Row(ctx context.Context) (*T, error) {
	if h.row == nil {
		row, err := loadHit(ctx, h.store, h.Key)
		if err != nil {
			return nil, err
		}
		h.row = row
	}
	return h.row, nil
}

type IndexHit2[T any, K comparable, V1, V2 any] struct {
	Key    K
	Value  V1
	Value2 V2

	store *Store[T, K]
	row   *T
}

func (h *IndexHit2[T, K, V1, V2]) Row(ctx context.Context) (*T, error) {
	if h.row == nil {
		row, err := loadHit(ctx, h.store, h.Key)
		if err != nil {
			return nil, err
		}
		h.row = row
	}
	return h.row, nil
}

func loadHit[T any, K comparable](ctx context.Context, s *Store[T, K], key K) (*T, error) {
	obj, found, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storeErrf(s.def.id, "", key, ErrNotFound, "indexed entity is gone")
	}
	return obj, nil
}

// Query iterates over a snapshot of the index taken when iteration starts.
// The order is unspecified.
func (idx *Index[T, K, V]) Query() iter.Seq[*IndexHit[T, K, V]] {
	return func(yield func(*IndexHit[T, K, V]) bool) {
		for _, item := range idx.def.snapshot() {
			k, _ := item.key.(K)
			v, _ := item.value.(V)
			if !yield(&IndexHit[T, K, V]{Key: k, Value: v, store: idx.store}) {
				return
			}
		}
	}
}

func (idx *Index2[T, K, V1, V2]) Query() iter.Seq[*IndexHit2[T, K, V1, V2]] {
	return func(yield func(*IndexHit2[T, K, V1, V2]) bool) {
		for _, item := range idx.def.snapshot() {
			k, _ := item.key.(K)
			v1, _ := item.value.(V1)
			v2, _ := item.value2.(V2)
			if !yield(&IndexHit2[T, K, V1, V2]{Key: k, Value: v1, Value2: v2, store: idx.store}) {
				return
			}
		}
	}
}

// QueryIndex looks an index up by name and iterates over a snapshot of it.
func (s *Store[T, K]) QueryIndex(name string) (iter.Seq[*IndexHit[T, K, any]], error) {
	idx, err := s.def.index(name)
	if err != nil {
		return nil, err
	}
	return func(yield func(*IndexHit[T, K, any]) bool) {
		for _, item := range idx.snapshot() {
			k, _ := item.key.(K)
			if !yield(&IndexHit[T, K, any]{Key: k, Value: item.value, Value2: item.value2, store: s}) {
				return
			}
		}
	}, nil
}

// IndexNames lists the indexes of the store in registration order.
func (s *Store[T, K]) IndexNames() []string {
	s.def.mu.RLock()
	defer s.def.mu.RUnlock()
	names := make([]string, len(s.def.indexes))
	for i, idx := range s.def.indexes {
		names[i] = idx.name
	}
	return names
}
