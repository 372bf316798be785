package objdb

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

type (
	person struct {
		ID     int
		Name   string
		Age    int
		Friend *person
		Pets   []*pet
		Home   address
		Tags   map[string]int
		Extra  []any
	}

	pet struct {
		Name  string
		Kind  string
		Owner *person
	}

	address struct {
		City string
		Zip  string
	}
)

type world struct {
	db     *DB
	people *Store[person, int]
	pets   *Store[pet, string]
	byAge  *Index[person, int, int]
}

func definePeople(ctx context.Context, db *DB) *world {
	w := &world{db: db}
	ensure(DefineClass(ctx, db, func(b *Builder[address]) {
		b.TypeName("address")
		Field(b, "city", func(a *address) string { return a.City }, func(a *address, v string) { a.City = v })
		Field(b, "zip", func(a *address) string { return a.Zip }, func(a *address, v string) { a.Zip = v })
	}))
	w.people = must(DefineStore(ctx, db, "people", func(p *person) int { return p.ID }, func(b *Builder[person]) {
		b.TypeName("person")
		Field(b, "id", func(p *person) int { return p.ID }, func(p *person, v int) { p.ID = v })
		Field(b, "name", func(p *person) string { return p.Name }, func(p *person, v string) { p.Name = v })
		Field(b, "age", func(p *person) int { return p.Age }, func(p *person, v int) { p.Age = v })
		Field(b, "friend", func(p *person) *person { return p.Friend }, func(p *person, v *person) { p.Friend = v })
		Slice(b, "pets", func(p *person) []*pet { return p.Pets }, func(p *person, v []*pet) { p.Pets = v })
		Field(b, "home", func(p *person) address { return p.Home }, func(p *person, v address) { p.Home = v })
		Map(b, "tags", func(p *person) map[string]int { return p.Tags }, func(p *person, v map[string]int) { p.Tags = v })
		Slice(b, "extra", func(p *person) []any { return p.Extra }, func(p *person, v []any) { p.Extra = v })
	}))
	w.pets = must(DefineStore(ctx, db, "pets", func(p *pet) string { return p.Name }, func(b *Builder[pet]) {
		b.TypeName("pet")
		Field(b, "name", func(p *pet) string { return p.Name }, func(p *pet, v string) { p.Name = v })
		Field(b, "kind", func(p *pet) string { return p.Kind }, func(p *pet, v string) { p.Kind = v })
		Ref(b, "owner", w.people, func(p *pet) *person { return p.Owner }, func(p *pet, v *person) { p.Owner = v })
	}))
	w.byAge = must(AddIndex(ctx, w.people, "by_age", func(p *person) int { return p.Age }))
	return w
}

// hookDriver wraps a Driver, counting record reads and writes and calling
// optional hooks before them.
type hookDriver struct {
	Driver

	saves  atomic.Int64
	loads  atomic.Int64
	mu     sync.Mutex
	onSave func(ctx context.Context, store StoreID, slot int64)
	onLoad func(ctx context.Context, store StoreID, slot int64)
}

func newHookDriver() *hookDriver {
	return &hookDriver{Driver: NewMemDriver()}
}

func (d *hookDriver) hooks() (func(context.Context, StoreID, int64), func(context.Context, StoreID, int64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onSave, d.onLoad
}

func (d *hookDriver) setHooks(onSave, onLoad func(ctx context.Context, store StoreID, slot int64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSave, d.onLoad = onSave, onLoad
}

func (d *hookDriver) SaveRaw(ctx context.Context, store StoreID, slot int64, data []byte) error {
	if onSave, _ := d.hooks(); onSave != nil {
		onSave(ctx, store, slot)
	}
	d.saves.Add(1)
	return d.Driver.SaveRaw(ctx, store, slot, data)
}

func (d *hookDriver) LoadRaw(ctx context.Context, store StoreID, slot int64) ([]byte, error) {
	if _, onLoad := d.hooks(); onLoad != nil {
		onLoad(ctx, store, slot)
	}
	d.loads.Add(1)
	return d.Driver.LoadRaw(ctx, store, slot)
}

func (d *hookDriver) reset() {
	d.saves.Store(0)
	d.loads.Store(0)
}

func setupWorld(t testing.TB, drv Driver, opt Options) *world {
	t.Helper()
	return definePeople(context.Background(), setup(t, drv, opt))
}
