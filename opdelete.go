package objdb

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Delete removes the entity stored under key. It reports false if there was
// nothing to delete. Referenced entities are not deleted.
func (s *Store[T, K]) Delete(ctx context.Context, key K) (bool, error) {
	return s.db.delete(ctx, s.def, key)
}

func (db *DB) delete(ctx context.Context, def *storeDef, key any) (bool, error) {
	if err := db.checkActive(); err != nil {
		return false, err
	}
	if err := def.checkLive(); err != nil {
		return false, err
	}
	if err := db.checkTypes(ctx, def); err != nil {
		return false, err
	}
	defer db.begin()()

	if !def.runBeforeDelete(ctx, key) {
		db.mtr.triggerAborts.Inc()
		db.logOp(ctx, "DELETE.ABORT", def, key, nil)
		return false, storeErrf(def.id, "", key, ErrTriggerAbort, "")
	}

	slot, ok := def.slotOf(key)
	if !ok {
		db.logOp(ctx, "DELETE.NOOP", def, key, nil)
		return false, nil
	}
	err := db.drv.DeleteRaw(ctx, def.id, slot)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, storeErrf(def.id, "", key, err, "deleting slot %d", slot)
	}
	def.forget(key)

	db.mtr.deletes.Inc()
	db.logOp(ctx, "DELETE", def, key, nil)
	db.events.emit(ctx, Event{Op: OpDelete, Store: def.id, Key: key, OpID: uuid.New()})
	return true, nil
}
