package objdb

import (
	"context"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Load returns the entity stored under key along with every entity it
// references. found is false if the key is unknown.
func (s *Store[T, K]) Load(ctx context.Context, key K) (obj *T, found bool, err error) {
	v, found, err := s.db.load(ctx, s.def, key)
	if v == nil {
		return nil, found, err
	}
	return v.(*T), found, err
}

func (db *DB) load(ctx context.Context, def *storeDef, key any) (any, bool, error) {
	if err := db.checkActive(); err != nil {
		return nil, false, err
	}
	if err := def.checkLive(); err != nil {
		return nil, false, err
	}
	if err := db.checkTypes(ctx, def); err != nil {
		return nil, false, err
	}
	defer db.begin()()
	start := time.Now()
	defer db.mtr.loadDuration.UpdateDuration(start)

	op := db.newOp(ctx)
	obj, found, err := db.loadEntity(op.ctx, op, def, key)
	werr := op.wait()
	if err == nil {
		err = werr
	}
	if err != nil {
		return nil, false, err
	}
	return obj, found, nil
}

func (db *DB) loadEntity(ctx context.Context, op *opCache, def *storeDef, key any) (any, bool, error) {
	slot, ok := def.slotOf(key)
	if !ok {
		db.mtr.loadMisses.Inc()
		db.logOp(ctx, "LOAD.NOTFOUND", def, key, op)
		return nil, false, nil
	}
	if inst, ok := op.lookup(def.id, key); ok {
		return inst, true, nil
	}
	obj, _ := op.claim(def.id, key, def.cls.newObj())
	found, err := db.fillEntity(ctx, op, def, key, slot, obj)
	if err != nil || !found {
		return nil, false, err
	}
	return obj, true, nil
}

// fillEntity reads the record at slot into obj, which is already registered
// in the operation cache.
func (db *DB) fillEntity(ctx context.Context, op *opCache, def *storeDef, key any, slot int64, obj any) (bool, error) {
	raw, err := db.drv.LoadRaw(ctx, def.id, slot)
	if errors.Is(err, ErrNotFound) {
		db.mtr.loadMisses.Inc()
		db.logOp(ctx, "LOAD.NOTFOUND", def, key, op)
		return false, nil
	} else if err != nil {
		return false, storeErrf(def.id, "", key, err, "reading slot %d", slot)
	}
	data, err := db.interceptLoad(raw)
	if err != nil {
		return false, storeErrf(def.id, "", key, err, "")
	}

	dc := decoder{db, op, ctx}
	err = dc.recordInto(data, def, obj)
	if err != nil {
		return false, storeErrf(def.id, "", key, err, "decoding")
	}
	def.rememberHash(slot, xxhash.Sum64(data))

	db.mtr.loads.Inc()
	db.logOp(ctx, "LOAD", def, key, op)
	db.events.emit(ctx, Event{Op: OpLoad, Store: def.id, Key: key, OpID: op.id})
	return true, nil
}
