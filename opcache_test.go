package objdb

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpCache_Claim(t *testing.T) {
	db := setup(t, nil, Options{})
	op := db.newOp(context.Background())

	a, b := new(int), new(int)
	inst, claimed := op.claim("s", 1, a)
	if !claimed || inst != any(a) {
		t.Fatalf("first claim = (%v, %v), wanted (a, true)", inst, claimed)
	}
	inst, claimed = op.claim("s", 1, b)
	if claimed || inst != any(a) {
		t.Fatalf("second claim = (%v, %v), wanted (a, false)", inst, claimed)
	}
	_, claimed = op.claim("t", 1, b)
	deepEqual(t, claimed, true)
	_, ok := op.lookup("s", 2)
	deepEqual(t, ok, false)
	deepEqual(t, op.Len(), 2)
	ensure(op.wait())
}

func TestOpCache_SpawnErrors(t *testing.T) {
	db := setup(t, nil, Options{})
	op := db.newOp(context.Background())

	var ran atomic.Int32
	e1 := errors.New("one")
	e2 := errors.New("two")
	op.spawn(func(ctx context.Context) error { ran.Add(1); return e1 })
	op.spawn(func(ctx context.Context) error { ran.Add(1); return nil })
	op.spawn(func(ctx context.Context) error {
		ran.Add(1)
		op.spawn(func(ctx context.Context) error { ran.Add(1); return e2 })
		return nil
	})
	err := op.wait()
	deepEqual(t, ran.Load(), int32(4))
	isErr(t, err, e1)
	isErr(t, err, e2)
}

func TestOpCache_Timeout(t *testing.T) {
	db := setup(t, nil, Options{OperationTimeout: 20 * time.Millisecond})
	op := db.newOp(context.Background())

	release := make(chan struct{})
	defer close(release)
	op.spawn(func(ctx context.Context) error {
		<-release
		return nil
	})
	isErr(t, op.wait(), ErrOperationTimeout)
}

func TestOpCache_ParentCanceled(t *testing.T) {
	db := setup(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	op := db.newOp(ctx)

	release := make(chan struct{})
	defer close(release)
	op.spawn(func(ctx context.Context) error {
		<-release
		return nil
	})
	cancel()
	isErr(t, op.wait(), context.Canceled)
}
