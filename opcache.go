package objdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type opKey struct {
	store StoreID
	key   any
}

// opCache is the identity map of one top-level save or load. Every entity
// touched by the operation gets exactly one instance (on load) or one
// physical write (on save), which is also what makes reference cycles
// terminate.
//
// Referenced entities are processed by sub-operations running on their own
// goroutines; wait collects them.
type opCache struct {
	db     *DB
	id     uuid.UUID
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[opKey]any
	errs    []error

	wg sync.WaitGroup
}

func (db *DB) newOp(ctx context.Context) *opCache {
	sub, cancel := context.WithTimeout(ctx, db.opt.OperationTimeout)
	return &opCache{
		db:      db,
		id:      uuid.New(),
		parent:  ctx,
		ctx:     sub,
		cancel:  cancel,
		entries: make(map[opKey]any),
	}
}

// claim registers inst under (store, key) unless something is registered
// already, in which case it returns the existing instance and false.
func (op *opCache) claim(store StoreID, key any, inst any) (any, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	k := opKey{store, key}
	if existing, ok := op.entries[k]; ok {
		return existing, false
	}
	op.entries[k] = inst
	return inst, true
}

func (op *opCache) lookup(store StoreID, key any) (any, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	inst, ok := op.entries[opKey{store, key}]
	return inst, ok
}

func (op *opCache) Len() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return len(op.entries)
}

func (op *opCache) fail(err error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.errs = append(op.errs, err)
}

// spawn runs a sub-operation concurrently with the rest of the operation.
func (op *opCache) spawn(fn func(ctx context.Context) error) {
	op.wg.Add(1)
	go func() {
		defer op.wg.Done()
		err := fn(op.ctx)
		if err != nil {
			op.fail(err)
		}
	}()
}

// wait blocks until every spawned sub-operation finishes or the operation
// times out, and returns their combined errors.
func (op *opCache) wait() error {
	defer op.cancel()
	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-op.ctx.Done():
		select {
		case <-done:
		default:
			if err := op.parent.Err(); err != nil {
				return err
			}
			op.db.mtr.timeouts.Inc()
			return fmt.Errorf("%w after %v", ErrOperationTimeout, op.db.opt.OperationTimeout)
		}
	}

	op.mu.Lock()
	defer op.mu.Unlock()
	return errors.Join(op.errs...)
}
