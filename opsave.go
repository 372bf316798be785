package objdb

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Save writes obj and every entity reachable from it through references,
// and returns obj's key. Each entity is written at most once per call, and
// only if its encoded bytes differ from what was last written or read.
func (s *Store[T, K]) Save(ctx context.Context, obj *T) (K, error) {
	var zero K
	if obj == nil {
		return zero, storeErrf(s.def.id, "", nil, nil, "cannot save nil")
	}
	key, err := s.db.save(ctx, s.def, obj)
	k, _ := key.(K)
	return k, err
}

func (db *DB) save(ctx context.Context, def *storeDef, obj any) (any, error) {
	if err := db.checkActive(); err != nil {
		return nil, err
	}
	if err := def.checkLive(); err != nil {
		return nil, err
	}
	if err := db.checkTypes(ctx, def); err != nil {
		return nil, err
	}
	defer db.begin()()
	start := time.Now()
	defer db.mtr.saveDuration.UpdateDuration(start)

	op := db.newOp(ctx)
	key, err := db.saveEntity(op.ctx, op, def, obj, false)
	werr := op.wait()
	if err != nil {
		return key, err
	}
	return key, werr
}

// saveEntity runs the save pipeline for one entity. claimed is true when the
// caller already registered obj in the operation cache.
func (db *DB) saveEntity(ctx context.Context, op *opCache, def *storeDef, obj any, claimed bool) (any, error) {
	key := def.keyOf(obj)
	if !def.runBeforeSave(ctx, obj) {
		db.mtr.triggerAborts.Inc()
		db.logOp(ctx, "SAVE.ABORT", def, key, op)
		return key, storeErrf(def.id, "", key, ErrTriggerAbort, "")
	}
	if !claimed {
		if _, ok := op.claim(def.id, key, obj); !ok {
			return key, nil
		}
	}
	slot, _ := def.allocSlot(key)

	buf := recordBufPool.Get().([]byte)
	defer func() {
		recordBufPool.Put(buf[:0])
	}()
	enc := encoder{db, op, ctx}
	var err error
	buf, err = enc.record(buf[:0], def, obj)
	if err != nil {
		return key, storeErrf(def.id, "", key, err, "encoding")
	}

	h := xxhash.Sum64(buf)
	if def.unchanged(slot, h) {
		// indexes added since the last write still need the entry
		def.indexObject(key, obj)
		db.mtr.saveNoops.Inc()
		db.logOp(ctx, "SAVE.NOOP", def, key, op)
		return key, nil
	}

	data, err := db.interceptSave(buf)
	if err != nil {
		return key, storeErrf(def.id, "", key, err, "")
	}
	err = db.drv.SaveRaw(ctx, def.id, slot, data)
	if err != nil {
		return key, storeErrf(def.id, "", key, err, "writing slot %d", slot)
	}
	def.rememberHash(slot, h)
	def.indexObject(key, obj)
	def.runAfterSave(ctx, obj)

	db.mtr.saves.Inc()
	db.logOp(ctx, "SAVE", def, key, op)
	db.events.emit(ctx, Event{Op: OpSave, Store: def.id, Key: key, OpID: op.id})
	return key, nil
}
