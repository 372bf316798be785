package objdb

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestOp_String(t *testing.T) {
	deepEqual(t, OpSave.String(), "save")
	deepEqual(t, OpRestore.String(), "restore")
	deepEqual(t, Op(99).String(), "invalid op 99")
}

func TestEventHub(t *testing.T) {
	var h eventHub
	h.logger = testLogger(t)
	ch, unsub := h.subscribe(2)
	id := uuid.New()
	h.emit(context.Background(), Event{Op: OpSave, Store: "s", Key: 1, OpID: id})
	h.emit(context.Background(), Event{Op: OpDelete, Store: "s", Key: 1, OpID: id})
	h.emit(context.Background(), Event{Op: OpFlush})

	deepEqual(t, (<-ch).Op, OpSave)
	deepEqual(t, (<-ch).Op, OpDelete)
	select {
	case ev := <-ch:
		t.Fatalf("got %v, wanted the third event to be dropped", ev)
	default:
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}

	ch2, _ := h.subscribe(1)
	h.closeAll()
	if _, ok := <-ch2; ok {
		t.Fatalf("channel still open after closeAll")
	}
	ch3, _ := h.subscribe(1)
	if _, ok := <-ch3; ok {
		t.Fatalf("subscribe after closeAll returned an open channel")
	}
}
