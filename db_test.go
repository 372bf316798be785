package objdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDB_AgeIndex(t *testing.T) {
	ctx := context.Background()
	w := setupWorld(t, nil, Options{})

	for _, p := range []*person{
		{ID: 10, Name: "sehi", Age: 47},
		{ID: 11, Name: "Gah-Rahm", Age: 8},
		{ID: 12, Name: "Gah-Ohn", Age: 8},
	} {
		must(w.people.Save(ctx, p))
	}

	var young []int
	for hit := range w.byAge.Query() {
		if hit.Value < 10 {
			young = append(young, hit.Key)
		}
	}
	slices.Sort(young)
	deepEqual(t, young, []int{11, 12})

	var names []string
	for hit := range w.byAge.Query() {
		if hit.Value == 8 {
			row := must(hit.Row(ctx))
			if again := must(hit.Row(ctx)); again != row {
				t.Errorf("Row returned a different instance on the second call")
			}
			names = append(names, row.Name)
		}
	}
	slices.Sort(names)
	deepEqual(t, names, []string{"Gah-Ohn", "Gah-Rahm"})

	// updates replace the entry of the key
	must(w.people.Save(ctx, &person{ID: 11, Name: "Gah-Rahm", Age: 9}))
	must(w.people.Delete(ctx, 12))
	seq := must(w.people.QueryIndex("by_age"))
	got := map[int]any{}
	for hit := range seq {
		got[hit.Key] = hit.Value
	}
	deepEqual(t, got, map[int]any{10: 47, 11: 9})

	_, err := w.people.QueryIndex("nope")
	isErr(t, err, ErrIndexNotFound)
	deepEqual(t, w.people.IndexNames(), []string{"by_age"})
}

func TestDB_RoundTrip(t *testing.T) {
	ctx := context.Background()
	w := setupWorld(t, nil, Options{})

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := &person{
		ID:   1,
		Name: "Ann",
		Age:  30,
		Home: address{City: "Oslo", Zip: "0150"},
		Tags: map[string]int{"a": 1, "b": 2},
		Extra: []any{
			7,
			"seven",
			&address{City: "Bergen"},
			[]any{1.5, true},
			map[string]any{"nested": []any{"x"}},
			nil,
			90 * time.Second,
		},
	}
	key := must(w.people.Save(ctx, orig))
	deepEqual(t, key, 1)

	p, found := must2(w.people.Load(ctx, 1))
	deepEqual(t, found, true)
	isnonnil(t, p)
	deepEqual(t, p, orig)

	// loads create fresh instances
	if p == orig {
		t.Fatalf("Load returned the saved instance")
	}

	_, err := w.people.Save(ctx, &person{ID: 2, Extra: []any{when, struct{ X int }{1}}})
	isErr(t, err, ErrSerializerIncapable)

	q, found := must2(w.people.Load(ctx, 404))
	deepEqual(t, found, false)
	isnil(t, q)
}

func TestDB_CyclesPreserveIdentity(t *testing.T) {
	ctx := context.Background()
	drv := newHookDriver()
	w := setupWorld(t, drv, Options{})

	a := &person{ID: 1, Name: "a"}
	b := &person{ID: 2, Name: "b"}
	a.Friend, b.Friend = b, a
	dog := &pet{Name: "rex", Kind: "dog", Owner: a}
	a.Pets = []*pet{dog, dog}
	b.Pets = []*pet{dog}

	must(w.people.Save(ctx, a))
	deepEqual(t, drv.saves.Load(), int64(3))
	deepEqual(t, w.people.Len(), 2)
	deepEqual(t, w.pets.Keys(), []string{"rex"})

	drv.reset()
	a2, _ := must2(w.people.Load(ctx, 1))
	deepEqual(t, drv.loads.Load(), int64(3))
	if a2.Friend.Friend != a2 {
		t.Errorf("a.friend.friend is not a")
	}
	if a2.Pets[0] != a2.Pets[1] || a2.Friend.Pets[0] != a2.Pets[0] {
		t.Errorf("the dog was loaded more than once")
	}
	if a2.Pets[0].Owner != a2 {
		t.Errorf("dog.owner is not a")
	}
	deepEqual(t, a2.Friend.Name, "b")

	// a separate load gets separate instances
	a3, _ := must2(w.people.Load(ctx, 1))
	if a3 == a2 || a3.Friend == a2.Friend {
		t.Errorf("instances leaked between operations")
	}
}

func TestDB_SaveSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	drv := newHookDriver()
	w := setupWorld(t, drv, Options{})

	a := &person{ID: 1, Name: "a", Pets: []*pet{{Name: "rex"}}}
	must(w.people.Save(ctx, a))
	deepEqual(t, drv.saves.Load(), int64(2))

	drv.reset()
	must(w.people.Save(ctx, a))
	deepEqual(t, drv.saves.Load(), int64(0))

	a.Pets[0].Kind = "dog"
	must(w.people.Save(ctx, a))
	deepEqual(t, drv.saves.Load(), int64(1))

	// a freshly loaded entity is not dirty either
	drv.reset()
	b, _ := must2(w.people.Load(ctx, 1))
	must(w.people.Save(ctx, b))
	deepEqual(t, drv.saves.Load(), int64(0))
}

func TestDB_Triggers(t *testing.T) {
	ctx := context.Background()
	w := setupWorld(t, nil, Options{})

	var after []string
	AddTrigger(w.people, TriggerFuncs[person, int]{
		BeforeSaveFunc: func(ctx context.Context, p *person) bool {
			return p.Name != ""
		},
		AfterSaveFunc: func(ctx context.Context, p *person) {
			after = append(after, p.Name)
		},
		BeforeDeleteFunc: func(ctx context.Context, key int) bool {
			return key != 1
		},
	})

	_, err := w.people.Save(ctx, &person{ID: 5})
	isErr(t, err, ErrTriggerAbort)
	deepEqual(t, w.people.Exists(5), false)

	must(w.people.Save(ctx, &person{ID: 1, Name: "one"}))
	must(w.people.Save(ctx, &person{ID: 2, Name: "two"}))
	deepEqual(t, after, []string{"one", "two"})

	_, err = w.people.Delete(ctx, 1)
	isErr(t, err, ErrTriggerAbort)
	deepEqual(t, w.people.Exists(1), true)

	deepEqual(t, must(w.people.Delete(ctx, 2)), true)
	deepEqual(t, must(w.people.Delete(ctx, 2)), false)
	deepEqual(t, w.people.Keys(), []int{1})

	// an aborted child fails the whole save, but the root is written
	_, err = w.people.Save(ctx, &person{ID: 3, Name: "three", Friend: &person{ID: 4}})
	isErr(t, err, ErrTriggerAbort)
	deepEqual(t, w.people.Exists(3), true)
	deepEqual(t, w.people.Exists(4), false)
}

type markInterceptor byte

func (m markInterceptor) Save(data []byte) ([]byte, error) {
	return append(slices.Clip(data), byte(m)), nil
}

func (m markInterceptor) Load(data []byte) ([]byte, error) {
	if n := len(data); n == 0 || data[n-1] != byte(m) {
		return nil, errBadMark
	}
	return data[:len(data)-1], nil
}

var errBadMark = errors.New("bad mark")

func TestDB_InterceptorOrder(t *testing.T) {
	ctx := context.Background()
	drv := NewMemDriver()
	w := setupWorld(t, drv, Options{})
	w.db.AddInterceptor(markInterceptor('A'))
	w.db.AddInterceptor(markInterceptor('B'))

	must(w.people.Save(ctx, &person{ID: 1, Name: "x"}))
	raw := must(drv.LoadRaw(ctx, "people", 0))
	if !bytes.HasSuffix(raw, []byte("AB")) {
		t.Fatalf("raw record %x does not end with AB", raw)
	}
	p, _ := must2(w.people.Load(ctx, 1))
	deepEqual(t, p.Name, "x")

	ensure(drv.SaveRaw(ctx, "people", 0, append(raw[:len(raw)-2], 'B', 'A')))
	_, _, err := w.people.Load(ctx, 1)
	isErr(t, err, errBadMark)
}

func TestDB_Zstd(t *testing.T) {
	ctx := context.Background()
	drv := NewMemDriver()
	w := setupWorld(t, drv, Options{})
	w.db.AddInterceptor(NewZstdInterceptor())

	name := strings.Repeat("abcdefgh", 512)
	must(w.people.Save(ctx, &person{ID: 1, Name: name}))
	raw := must(drv.LoadRaw(ctx, "people", 0))
	if len(raw) >= len(name)/4 {
		t.Errorf("compressed record is %d bytes, wanted well under %d", len(raw), len(name))
	}
	p, _ := must2(w.people.Load(ctx, 1))
	deepEqual(t, p.Name, name)
}

func TestDB_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := New(NewMemDriver(), Options{Logger: testLogger(t)})
	_, err := DefineStore(ctx, db, "x", func(p *pet) string { return p.Name }, nil)
	isErr(t, err, ErrNotActive)
	isErr(t, db.Flush(ctx), ErrNotActive)

	ensure(db.Activate(ctx))
	isErr(t, db.Activate(ctx), ErrAlreadyActivated)

	w := definePeople(ctx, db)
	_, err = DefineStore(ctx, db, "people", func(p *pet) string { return p.Name }, nil)
	isErr(t, err, ErrDuplicateStore)

	ensure(db.Deactivate(ctx))
	_, err = w.people.Save(ctx, &person{ID: 1})
	isErr(t, err, ErrNotActive)
	_, _, err = w.people.Load(ctx, 1)
	isErr(t, err, ErrNotActive)
	isErr(t, db.Activate(ctx), ErrAlreadyActivated)
	ensure(db.Close())
}

func TestDB_KeyTypeMustBeSerializable(t *testing.T) {
	ctx := context.Background()
	db := setup(t, nil, Options{})
	_, err := DefineStore(ctx, db, "weird", func(a *address) address { return *a }, nil)
	isErr(t, err, ErrSerializerIncapable)
}

func TestDB_Purge(t *testing.T) {
	ctx := context.Background()
	drv := newHookDriver()
	w := setupWorld(t, drv, Options{})
	must(w.people.Save(ctx, &person{ID: 1, Name: "a", Age: 3}))

	entered := make(chan struct{})
	release := make(chan struct{})
	drv.setHooks(func(ctx context.Context, store StoreID, slot int64) {
		close(entered)
		<-release
	}, nil)

	done := make(chan error)
	go func() {
		_, err := w.people.Save(ctx, &person{ID: 2, Name: "b"})
		done <- err
	}()
	<-entered
	isErr(t, w.db.Purge(ctx), ErrPurgeConflict)
	isErr(t, w.db.TruncateAll(ctx), ErrPurgeConflict)
	drv.setHooks(nil, nil)
	close(release)
	ensure(<-done)

	ensure(w.db.Purge(ctx))
	deepEqual(t, w.people.Len(), 0)
	deepEqual(t, w.people.Stats().Indexes["by_age"], 0)
	_, found, err := w.people.Load(ctx, 1)
	ensure(err)
	deepEqual(t, found, false)

	// slots start over after a purge
	must(w.people.Save(ctx, &person{ID: 7, Name: "c"}))
	ensure(w.db.Flush(ctx))
	keys := must(drv.DeserializeKeys(ctx, "people", "int"))
	deepEqual(t, len(keys.Entries), 1)
	deepEqual(t, keys.Entries[0].Slot, int64(0))
	deepEqual(t, keys.Next, int64(1))
}

func TestDB_Timeout(t *testing.T) {
	ctx := context.Background()
	drv := newHookDriver()
	// the blocked load outlives the test, so it must not log through t
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := setupWorld(t, drv, Options{Logger: logger, OperationTimeout: 50 * time.Millisecond})
	must(w.people.Save(ctx, &person{ID: 1, Name: "a", Pets: []*pet{{Name: "rex"}}}))

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	drv.setHooks(nil, func(ctx context.Context, store StoreID, slot int64) {
		if store == "pets" {
			<-release
		}
	})
	_, _, err := w.people.Load(ctx, 1)
	isErr(t, err, ErrOperationTimeout)
	if !strings.Contains(string(mustMetrics(w.db)), "objdb_operation_timeouts_total 1") {
		t.Errorf("timeout not counted")
	}
}

func mustMetrics(db *DB) []byte {
	var buf bytes.Buffer
	db.WriteMetrics(&buf)
	return buf.Bytes()
}

func TestDB_Events(t *testing.T) {
	ctx := context.Background()
	w := setupWorld(t, nil, Options{})
	ch, unsub := w.db.Subscribe(16)
	defer unsub()

	must(w.people.Save(ctx, &person{ID: 1, Name: "a", Pets: []*pet{{Name: "rex"}}}))
	e1, e2 := <-ch, <-ch
	deepEqual(t, e1.Op, OpSave)
	deepEqual(t, e2.Op, OpSave)
	deepEqual(t, e1.OpID, e2.OpID)
	stores := []StoreID{e1.Store, e2.Store}
	slices.Sort(stores)
	deepEqual(t, stores, []StoreID{"people", "pets"})

	must(w.people.Delete(ctx, 1))
	ev := <-ch
	deepEqual(t, ev.Op, OpDelete)
	deepEqual(t, ev.Key, any(1))

	ensure(w.db.Flush(ctx))
	deepEqual(t, (<-ch).Op, OpFlush)
	ensure(w.pets.Truncate(ctx))
	ev = <-ch
	deepEqual(t, ev.Op, OpTruncate)
	deepEqual(t, ev.Store, StoreID("pets"))
}

func TestDB_EventsDropped(t *testing.T) {
	ctx := context.Background()
	w := setupWorld(t, nil, Options{})
	ch, unsub := w.db.Subscribe(1)
	defer unsub()

	for i := range 3 {
		must(w.people.Save(ctx, &person{ID: i, Name: "x"}))
	}
	deepEqual(t, len(ch), 1)
	if !strings.Contains(string(mustMetrics(w.db)), "objdb_events_dropped_total 2") {
		t.Errorf("dropped events not counted:\n%s", mustMetrics(w.db))
	}
}

func TestDB_Metrics(t *testing.T) {
	ctx := context.Background()
	w := setupWorld(t, nil, Options{})
	p := &person{ID: 1, Name: "x"}
	must(w.people.Save(ctx, p))
	must(w.people.Save(ctx, p))
	must2(w.people.Load(ctx, 1))
	must2(w.people.Load(ctx, 2))
	must(w.people.Delete(ctx, 1))

	out := string(mustMetrics(w.db))
	for _, line := range []string{
		"objdb_saves_total 1",
		"objdb_save_noops_total 1",
		"objdb_loads_total 1",
		"objdb_load_misses_total 1",
		"objdb_deletes_total 1",
		"objdb_outstanding_operations 0",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("metrics do not contain %q:\n%s", line, out)
		}
	}
}

func must2[T1, T2 any](v1 T1, v2 T2, err error) (T1, T2) {
	if err != nil {
		panic(err)
	}
	return v1, v2
}
