package objdb

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Flush persists the key lists and indexes of every store, and the type
// table.
func (db *DB) Flush(ctx context.Context) error {
	if err := db.checkActive(); err != nil {
		return err
	}
	defer db.begin()()
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.flush_locked(ctx)
	if err != nil {
		return err
	}
	db.mtr.flushes.Inc()
	if db.verbose {
		db.logger.LogAttrs(ctx, slog.LevelDebug, "db: FLUSH")
	}
	db.events.emit(ctx, Event{Op: OpFlush, OpID: uuid.New()})
	return nil
}

func (db *DB) flush_locked(ctx context.Context) error {
	var errs []error
	for _, def := range db.storeList() {
		err := def.flush(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := db.drv.SerializeTypes(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Purge wipes all data of every store. It fails with ErrPurgeConflict if any
// other operation is in flight.
func (db *DB) Purge(ctx context.Context) error {
	if err := db.checkActive(); err != nil {
		return err
	}
	end, err := db.beginExclusive()
	if err != nil {
		return err
	}
	defer end()
	db.mu.Lock()
	defer db.mu.Unlock()

	err = db.drv.Purge(ctx)
	if err != nil {
		return err
	}
	for _, def := range db.storeList() {
		def.mu.Lock()
		def.resetMemory_locked()
		def.mu.Unlock()
	}

	db.mtr.purges.Inc()
	db.logger.LogAttrs(ctx, slog.LevelInfo, "db: PURGE")
	db.events.emit(ctx, Event{Op: OpPurge, OpID: uuid.New()})
	return nil
}

// TruncateAll truncates every store. Like Purge, it refuses to run
// concurrently with other operations.
func (db *DB) TruncateAll(ctx context.Context) error {
	if err := db.checkActive(); err != nil {
		return err
	}
	end, err := db.beginExclusive()
	if err != nil {
		return err
	}
	defer end()
	db.mu.Lock()
	defer db.mu.Unlock()

	opID := uuid.New()
	for _, def := range db.storeList() {
		err := def.truncate(ctx)
		if err != nil {
			return err
		}
		db.logOp(ctx, "TRUNCATE", def, nil, nil)
		db.events.emit(ctx, Event{Op: OpTruncate, Store: def.id, OpID: opID})
	}
	return nil
}
