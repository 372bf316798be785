package objdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

const defaultOperationTimeout = 10 * time.Second

const (
	stateInactive int32 = iota
	stateActive
	stateDeactivated
)

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// OperationTimeout bounds how long a save or load waits for the
	// sub-operations spawned for referenced entities. Defaults to 10s.
	OperationTimeout time.Duration

	// ValueSerializer defaults to NewMsgpackSerializer().
	ValueSerializer ValueSerializer

	// ResolveType maps a persisted type name that is no longer registered
	// to its current name, so renamed types keep loading.
	ResolveType func(persisted string) (current string, ok bool)

	// Metrics receives the database counters. Defaults to a private set,
	// exposed through DB.WriteMetrics.
	Metrics *metrics.Set

	// EventBuffer is the channel capacity used by Subscribe(0).
	EventBuffer int
}

type DB struct {
	drv     Driver
	opt     Options
	logger  *slog.Logger
	verbose bool
	ser     ValueSerializer
	state   atomic.Int32

	// mu serializes registration and the whole-database operations (flush,
	// purge, backup, restore).
	mu sync.Mutex

	regMu         sync.RWMutex
	stores        []*storeDef
	storesByID    map[StoreID]*storeDef
	classesByName map[string]*classDesc
	classesByType map[reflect.Type]*classDesc
	interceptors  []ByteInterceptor
	retired       map[string]bool // type names of dropped stores

	// typesChecked is set once every persisted type name resolves against
	// the current registry; registration clears it.
	typesChecked atomic.Bool

	outstanding atomic.Int64
	events      eventHub
	mtr         *dbMetrics
}

func New(drv Driver, opt Options) *DB {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.OperationTimeout == 0 {
		opt.OperationTimeout = defaultOperationTimeout
	}
	if opt.EventBuffer == 0 {
		opt.EventBuffer = 64
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.NewSet()
	}
	db := &DB{
		drv:     drv,
		opt:     opt,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	db.mtr = newDBMetrics(opt.Metrics, &db.outstanding)
	db.events.logger = db.logger
	db.events.dropped = db.mtr.eventsDropped
	return db
}

// Activate prepares the database for use. It can only be called once.
func (db *DB) Activate(ctx context.Context) error {
	if !db.state.CompareAndSwap(stateInactive, stateActive) {
		return ErrAlreadyActivated
	}
	db.regMu.Lock()
	defer db.regMu.Unlock()
	db.ser = db.opt.ValueSerializer
	if db.ser == nil {
		db.ser = NewMsgpackSerializer()
	}
	db.storesByID = make(map[StoreID]*storeDef)
	db.classesByName = make(map[string]*classDesc)
	db.classesByType = make(map[reflect.Type]*classDesc)
	db.retired = make(map[string]bool)
	db.logger.LogAttrs(ctx, slog.LevelDebug, "objdb: activated")
	return nil
}

// Deactivate flushes pending key lists and indexes and tears down the
// registries. Activation cannot be repeated afterwards.
func (db *DB) Deactivate(ctx context.Context) error {
	if db.state.Load() != stateActive {
		return ErrNotActive
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.flush_locked(ctx)
	db.state.Store(stateDeactivated)

	db.regMu.Lock()
	db.stores = nil
	db.storesByID = nil
	db.classesByName = nil
	db.classesByType = nil
	db.retired = nil
	db.interceptors = nil
	db.regMu.Unlock()

	db.logger.LogAttrs(ctx, slog.LevelDebug, "objdb: deactivated")
	return err
}

// Close deactivates the database if needed, closes all event subscriptions
// and closes the driver.
func (db *DB) Close() error {
	var err error
	if db.state.Load() == stateActive {
		err = db.Deactivate(context.Background())
	}
	db.events.closeAll()
	return errors.Join(err, db.drv.Close())
}

func (db *DB) Driver() Driver {
	return db.drv
}

func (db *DB) Serializer() ValueSerializer {
	return db.ser
}

func (db *DB) checkActive() error {
	if db.state.Load() != stateActive {
		return ErrNotActive
	}
	return nil
}

// begin counts an operation in flight; purge and truncate-all refuse to run
// while other operations are counted.
func (db *DB) begin() func() {
	db.outstanding.Add(1)
	return func() {
		db.outstanding.Add(-1)
	}
}

// beginExclusive counts an operation that must run alone.
func (db *DB) beginExclusive() (func(), error) {
	end := db.begin()
	if n := db.outstanding.Load(); n > 1 {
		end()
		return nil, fmt.Errorf("%w (%d)", ErrPurgeConflict, n-1)
	}
	return end, nil
}

func (db *DB) storeByID(id StoreID) (*storeDef, error) {
	db.regMu.RLock()
	defer db.regMu.RUnlock()
	if def := db.storesByID[id]; def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, id)
}

func (db *DB) storeList() []*storeDef {
	db.regMu.RLock()
	defer db.regMu.RUnlock()
	return append([]*storeDef(nil), db.stores...)
}

func (db *DB) classByType(t reflect.Type) *classDesc {
	db.regMu.RLock()
	defer db.regMu.RUnlock()
	return db.classesByType[t]
}

// resolveTypeName maps a persisted type name to a registered class or
// serializer type name.
func (db *DB) resolveTypeName(name string) (string, bool) {
	if db.knowsTypeName(name) {
		return name, true
	}
	if db.opt.ResolveType != nil {
		if cur, ok := db.opt.ResolveType(name); ok && db.knowsTypeName(cur) {
			return cur, true
		}
	}
	return "", false
}

func (db *DB) knowsTypeName(name string) bool {
	db.regMu.RLock()
	_, ok := db.classesByName[name]
	db.regMu.RUnlock()
	return ok || db.ser.Supports(name)
}

func (db *DB) resolvesType(name string) bool {
	_, ok := db.resolveTypeName(name)
	return ok
}

// checkTypes fails with ErrStoreNotFound if the persisted type table holds
// a name that no registered type or ResolveType mapping accounts for. The
// walk runs on the first operation after registration changes, so classes
// may be defined in any order.
func (db *DB) checkTypes(ctx context.Context, def *storeDef) error {
	if db.typesChecked.Load() {
		return nil
	}
	for _, name := range db.drv.Types(ctx) {
		if db.resolvesType(name) || db.isRetired(name) {
			continue
		}
		return storeErrf(def.id, "", nil, ErrStoreNotFound, "persisted type %q no longer resolves", name)
	}
	db.typesChecked.Store(true)
	return nil
}

func (db *DB) isRetired(name string) bool {
	db.regMu.RLock()
	defer db.regMu.RUnlock()
	return db.retired[name]
}

func (db *DB) classByName(name string) (*classDesc, error) {
	cur, ok := db.resolveTypeName(name)
	if ok {
		db.regMu.RLock()
		cls := db.classesByName[cur]
		db.regMu.RUnlock()
		if cls != nil {
			return cls, nil
		}
	}
	return nil, fmt.Errorf("%w: class %q", ErrTypeResolution, name)
}

func (db *DB) registerClass_locked(cls *classDesc) error {
	if old := db.classesByName[cls.name]; old != nil {
		return fmt.Errorf("type name %q already registered for %v", cls.name, old.valType)
	}
	if old := db.classesByType[cls.valType]; old != nil {
		return fmt.Errorf("type %v already registered as %q", cls.valType, old.name)
	}
	db.classesByName[cls.name] = cls
	db.classesByType[cls.valType] = cls
	db.classesByType[cls.ptrType] = cls
	return nil
}

// DefineClass registers a composite type that is embedded into records of
// other types rather than stored on its own.
func DefineClass[T any](ctx context.Context, db *DB, build func(b *Builder[T])) error {
	if err := db.checkActive(); err != nil {
		return err
	}
	cls := newClassDesc[T]("")
	if build != nil {
		build(&Builder[T]{cls})
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.regMu.Lock()
	defer db.regMu.Unlock()
	db.typesChecked.Store(false)
	return db.registerClass_locked(cls)
}

func (db *DB) WriteMetrics(w io.Writer) {
	db.opt.Metrics.WritePrometheus(w)
}
