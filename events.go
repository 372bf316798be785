package objdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

type Op int

const (
	OpNone Op = iota
	OpSave
	OpLoad
	OpDelete
	OpFlush
	OpPurge
	OpTruncate
	OpRestore
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpSave:
		return "save"
	case OpLoad:
		return "load"
	case OpDelete:
		return "delete"
	case OpFlush:
		return "flush"
	case OpPurge:
		return "purge"
	case OpTruncate:
		return "truncate"
	case OpRestore:
		return "restore"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// Event reports a completed change or load. Events caused by one call share
// the OpID, including those of referenced entities saved or loaded along the
// way.
type Event struct {
	Op    Op
	Store StoreID
	Key   any
	OpID  uuid.UUID
}

type eventHub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	closed  bool
	logger  *slog.Logger
	dropped *metrics.Counter
}

// Subscribe returns a channel receiving events from now on. Events are
// dropped (and counted) rather than block when the channel is full. Call the
// returned function to unsubscribe; it closes the channel.
func (db *DB) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = db.opt.EventBuffer
	}
	return db.events.subscribe(buffer)
}

func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[int]chan Event)
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *eventHub) emit(ctx context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			if h.dropped != nil {
				h.dropped.Inc()
			}
			h.logger.LogAttrs(ctx, slog.LevelWarn, "objdb: event dropped, subscriber is not keeping up",
				slog.Int("subscriber", id), slog.String("op", ev.Op.String()), slog.String("store", string(ev.Store)))
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
