package objdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type storeDef struct {
	db      *DB
	id      StoreID
	cls     *classDesc
	keyOf   func(obj any) any
	keyType string

	// mu guards the key list, the indexes, the record hashes and the
	// triggers, and is held exclusively while flushing them.
	mu        sync.RWMutex
	keys      *keyList
	hashes    map[int64]uint64
	indexes   []*indexDef
	indexesBy map[string]*indexDef
	triggers  []*storeTrigger
	dropped   bool
}

func (def *storeDef) String() string {
	return string(def.id)
}

func (def *storeDef) info() StoreInfo {
	return StoreInfo{ID: def.id, TypeName: def.cls.name, KeyType: def.keyType}
}

// Store is a typed handle to the records of entity type T keyed by K.
type Store[T any, K comparable] struct {
	db  *DB
	def *storeDef
}

// DefineStore registers a store of T entities. If id is empty, the qualified
// name of T is used. The key function must return a value the DB's
// ValueSerializer can encode, and the key must also be declared as a
// property so it survives a load.
func DefineStore[T any, K comparable](ctx context.Context, db *DB, id StoreID, key func(*T) K, build func(b *Builder[T])) (*Store[T, K], error) {
	if err := db.checkActive(); err != nil {
		return nil, err
	}
	cls := newClassDesc[T]("")
	if build != nil {
		build(&Builder[T]{cls})
	}
	if id == "" {
		id = StoreID(cls.name)
	}

	var zero K
	keyType, ok := db.ser.TypeName(zero)
	if !ok {
		return nil, storeErrf(id, "", nil, ErrSerializerIncapable, "key type %T", zero)
	}

	def := &storeDef{
		db:        db,
		id:        id,
		cls:       cls,
		keyType:   keyType,
		keys:      newKeyList(),
		hashes:    make(map[int64]uint64),
		indexesBy: make(map[string]*indexDef),
		keyOf: func(obj any) any {
			return key(obj.(*T))
		},
	}
	cls.store = def

	db.mu.Lock()
	defer db.mu.Unlock()

	db.regMu.Lock()
	if db.storesByID[id] != nil {
		db.regMu.Unlock()
		return nil, storeErrf(id, "", nil, ErrDuplicateStore, "")
	}
	err := db.registerClass_locked(cls)
	if err != nil {
		db.regMu.Unlock()
		return nil, storeErrf(id, "", nil, err, "")
	}
	db.stores = append(db.stores, def)
	db.storesByID[id] = def
	db.typesChecked.Store(false)
	db.regMu.Unlock()

	err = db.publishStores_locked(ctx)
	if err == nil {
		err = def.loadPersisted(ctx)
	}
	if err != nil {
		db.unregister_locked(def)
		return nil, err
	}

	if db.verbose {
		db.logger.LogAttrs(ctx, slog.LevelDebug, "objdb: store defined", slog.String("store", string(id)), slog.Int("keys", def.keys.Len()))
	}
	return &Store[T, K]{db, def}, nil
}

func (db *DB) publishStores_locked(ctx context.Context) error {
	stores := db.storeList()
	infos := make([]StoreInfo, len(stores))
	for i, def := range stores {
		infos[i] = def.info()
	}
	return db.drv.PublishStores(ctx, infos, db.resolvesType)
}

func (db *DB) unregister_locked(def *storeDef) {
	db.regMu.Lock()
	defer db.regMu.Unlock()
	delete(db.storesByID, def.id)
	for i, d := range db.stores {
		if d == def {
			db.stores = append(db.stores[:i], db.stores[i+1:]...)
			break
		}
	}
	if db.classesByName[def.cls.name] == def.cls {
		delete(db.classesByName, def.cls.name)
		delete(db.classesByType, def.cls.valType)
		delete(db.classesByType, def.cls.ptrType)
	}
}

func (s *Store[T, K]) ID() StoreID {
	return s.def.id
}

func (s *Store[T, K]) DB() *DB {
	return s.db
}

func (def *storeDef) checkLive() error {
	def.mu.RLock()
	defer def.mu.RUnlock()
	if def.dropped {
		return storeErrf(def.id, "", nil, ErrStoreNotFound, "dropped")
	}
	return nil
}

func (def *storeDef) encodeKey(key any) ([]byte, error) {
	return def.db.ser.Encode(nil, key)
}

func (def *storeDef) decodeKey(data []byte) (any, error) {
	return def.db.ser.Decode(def.keyType, data)
}

func (def *storeDef) slotOf(key any) (int64, bool) {
	def.mu.RLock()
	defer def.mu.RUnlock()
	return def.keys.slotOf(key)
}

func (def *storeDef) allocSlot(key any) (int64, bool) {
	def.mu.Lock()
	defer def.mu.Unlock()
	return def.keys.add(key)
}

// unchanged reports whether data hashes the same as what was last written to
// or read from slot.
func (def *storeDef) unchanged(slot int64, h uint64) bool {
	def.mu.RLock()
	defer def.mu.RUnlock()
	old, ok := def.hashes[slot]
	return ok && old == h
}

func (def *storeDef) rememberHash(slot int64, h uint64) {
	def.mu.Lock()
	defer def.mu.Unlock()
	def.hashes[slot] = h
}

// forget removes key from the key list and every index.
func (def *storeDef) forget(key any) (int64, bool) {
	def.mu.Lock()
	defer def.mu.Unlock()
	slot, ok := def.keys.remove(key)
	if !ok {
		return 0, false
	}
	delete(def.hashes, slot)
	for _, idx := range def.indexes {
		idx.coll.remove(key)
	}
	return slot, true
}

func (def *storeDef) Keys() []any {
	def.mu.RLock()
	defer def.mu.RUnlock()
	result := make([]any, 0, def.keys.Len())
	for _, ks := range def.keys.sorted() {
		result = append(result, ks.key)
	}
	return result
}

func (def *storeDef) flush(ctx context.Context) error {
	def.mu.Lock()
	defer def.mu.Unlock()
	return def.flush_locked(ctx)
}

func (def *storeDef) flush_locked(ctx context.Context) error {
	if def.dropped {
		return nil
	}
	if def.keys.dirty {
		ks := KeySet{
			Entries: make([]KeyEntry, 0, def.keys.Len()),
			Next:    def.keys.next,
		}
		for _, e := range def.keys.sorted() {
			kb, err := def.encodeKey(e.key)
			if err != nil {
				return storeErrf(def.id, "", e.key, err, "encoding key")
			}
			ks.Entries = append(ks.Entries, KeyEntry{Key: kb, Slot: e.slot})
		}
		err := def.db.drv.SerializeKeys(ctx, def.id, def.keyType, ks)
		if err != nil {
			return storeErrf(def.id, "", nil, err, "saving keys")
		}
		def.keys.dirty = false
	}
	for _, idx := range def.indexes {
		if !idx.coll.dirty {
			continue
		}
		entries, err := idx.encode()
		if err != nil {
			return err
		}
		err = def.db.drv.SerializeIndex(ctx, def.id, idx.name, entries)
		if err != nil {
			return storeErrf(def.id, idx.name, nil, err, "saving index")
		}
		idx.coll.dirty = false
	}
	return nil
}

// loadPersisted replaces the in-memory key list and indexes with what the
// driver has.
func (def *storeDef) loadPersisted(ctx context.Context) error {
	def.mu.Lock()
	defer def.mu.Unlock()
	return def.loadPersisted_locked(ctx)
}

func (def *storeDef) loadPersisted_locked(ctx context.Context) error {
	ks, err := def.db.drv.DeserializeKeys(ctx, def.id, def.keyType)
	if err != nil {
		return storeErrf(def.id, "", nil, err, "loading keys")
	}
	def.keys.reset()
	clear(def.hashes)
	def.keys.raiseNext(ks.Next)
	for _, ke := range ks.Entries {
		key, err := def.decodeKey(ke.Key)
		if err != nil {
			return storeErrf(def.id, "", nil, err, "decoding key %x", ke.Key)
		}
		def.keys.set(key, ke.Slot)
	}
	for _, idx := range def.indexes {
		err := idx.load(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// resetMemory drops all in-memory state after the driver data is gone.
func (def *storeDef) resetMemory_locked() {
	def.keys.reset()
	clear(def.hashes)
	for _, idx := range def.indexes {
		idx.coll.reset()
	}
}

func (def *storeDef) truncate(ctx context.Context) error {
	def.mu.Lock()
	defer def.mu.Unlock()
	if def.dropped {
		return storeErrf(def.id, "", nil, ErrStoreNotFound, "dropped")
	}
	err := def.db.drv.Truncate(ctx, def.id)
	if err != nil {
		return storeErrf(def.id, "", nil, err, "truncating")
	}
	def.resetMemory_locked()
	return nil
}

type StoreStats struct {
	Keys    int
	Indexes map[string]int

	// Dirty reports whether the key list or any index has changes that
	// have not been flushed yet.
	Dirty bool
}

func (def *storeDef) stats() StoreStats {
	def.mu.RLock()
	defer def.mu.RUnlock()
	s := StoreStats{
		Keys:    def.keys.Len(),
		Indexes: make(map[string]int, len(def.indexes)),
		Dirty:   def.keys.dirty,
	}
	for _, idx := range def.indexes {
		s.Indexes[idx.name] = idx.coll.Len()
		s.Dirty = s.Dirty || idx.coll.dirty
	}
	return s
}

func (s *Store[T, K]) Stats() StoreStats {
	return s.def.stats()
}

// Keys returns all keys of the store in slot (insertion) order.
func (s *Store[T, K]) Keys() []K {
	keys := s.def.Keys()
	result := make([]K, len(keys))
	for i, k := range keys {
		result[i], _ = k.(K)
	}
	return result
}

func (s *Store[T, K]) Len() int {
	return s.def.stats().Keys
}

func (s *Store[T, K]) Exists(key K) bool {
	_, ok := s.def.slotOf(key)
	return ok
}

// Flush persists this store's key list and indexes if they changed.
func (s *Store[T, K]) Flush(ctx context.Context) error {
	if err := s.db.checkActive(); err != nil {
		return err
	}
	return s.def.flush(ctx)
}

// Refresh flushes pending changes and reloads the key list and indexes from
// the driver.
func (s *Store[T, K]) Refresh(ctx context.Context) error {
	if err := s.db.checkActive(); err != nil {
		return err
	}
	s.def.mu.Lock()
	defer s.def.mu.Unlock()
	err := s.def.flush_locked(ctx)
	if err != nil {
		return err
	}
	return s.def.loadPersisted_locked(ctx)
}

// Truncate removes every record, key and index entry of the store.
func (s *Store[T, K]) Truncate(ctx context.Context) error {
	if err := s.db.checkActive(); err != nil {
		return err
	}
	err := s.def.truncate(ctx)
	if err != nil {
		return err
	}
	s.db.logOp(ctx, "TRUNCATE", s.def, nil, nil)
	s.db.events.emit(ctx, Event{Op: OpTruncate, Store: s.def.id, OpID: uuid.New()})
	return nil
}

// Drop truncates the store and unregisters it. The handle is unusable
// afterwards.
func (s *Store[T, K]) Drop(ctx context.Context) error {
	if err := s.db.checkActive(); err != nil {
		return err
	}
	err := s.def.truncate(ctx)
	if err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.def.mu.Lock()
	s.def.dropped = true
	s.def.mu.Unlock()
	s.db.unregister_locked(s.def)
	s.db.regMu.Lock()
	s.db.retired[s.def.cls.name] = true
	s.db.typesChecked.Store(false)
	s.db.regMu.Unlock()
	s.db.logOp(ctx, "DROP", s.def, nil, nil)
	return nil
}

func (s *Store[T, K]) String() string {
	return fmt.Sprintf("Store(%s)", s.def.id)
}
