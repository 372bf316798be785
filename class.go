package objdb

import (
	"fmt"
	"reflect"
)

// classDesc describes how to take apart and rebuild one composite type.
type classDesc struct {
	name     string
	ptrType  reflect.Type
	valType  reflect.Type
	props    []*propDesc
	propsBy  map[string]*propDesc
	newObj   func() any
	addr     func(val any) any
	fallback func(obj any, name string, value any) error

	// store is set for entity classes.
	store *storeDef
}

func (cls *classDesc) String() string {
	return cls.name
}

func (cls *classDesc) addProp(p *propDesc) {
	if cls.propsBy[p.name] != nil {
		panic(fmt.Errorf("%s: duplicate property %q", cls.name, p.name))
	}
	cls.props = append(cls.props, p)
	cls.propsBy[p.name] = p
}

// asPtr returns obj as a pointer to the class type, copying value-typed
// instances.
func (cls *classDesc) asPtr(obj any) any {
	if reflect.TypeOf(obj) == cls.valType {
		return cls.addr(obj)
	}
	return obj
}

type propDesc struct {
	name    string
	get     func(obj any) any
	set     func(obj any, v any) error
	coll    collectionCodec
	foreign *storeDef
}

// Builder declares the persisted shape of T.
type Builder[T any] struct {
	cls *classDesc
}

func newClassDesc[T any](name string) *classDesc {
	vt := reflect.TypeFor[T]()
	if name == "" {
		name = qualifiedTypeName(vt)
	}
	return &classDesc{
		name:    name,
		ptrType: reflect.PointerTo(vt),
		valType: vt,
		propsBy: make(map[string]*propDesc),
		newObj:  func() any { return new(T) },
		addr: func(val any) any {
			v := val.(T)
			return &v
		},
	}
}

// TypeName overrides the persisted type name, which defaults to the
// qualified Go type name.
func (b *Builder[T]) TypeName(name string) {
	b.cls.name = name
}

// Factory sets the function used to create instances while decoding.
func (b *Builder[T]) Factory(f func() *T) {
	b.cls.newObj = func() any { return f() }
}

// Fallback receives persisted properties that are no longer declared, so
// that old records can be migrated while loading.
func (b *Builder[T]) Fallback(f func(obj *T, name string, value any) error) {
	b.cls.fallback = func(obj any, name string, value any) error {
		return f(obj.(*T), name, value)
	}
}

// Field declares a property holding a single value. The value's runtime type
// decides how it is encoded: serializer leaf, entity reference, nested
// class, or a generic []any or map[string]any container.
func Field[T, V any](b *Builder[T], name string, get func(*T) V, set func(*T, V)) {
	b.cls.addProp(&propDesc{
		name: name,
		get: func(obj any) any {
			return nilIfEmpty(get(obj.(*T)))
		},
		set: func(obj any, v any) error {
			x, err := convertTo[V](v)
			if err != nil {
				return err
			}
			set(obj.(*T), x)
			return nil
		},
	})
}

// Ref declares a property referencing an entity of another (or the same)
// store. Only the target's key is written into the record; the target itself
// is saved alongside.
func Ref[T, U any, KU comparable](b *Builder[T], name string, target *Store[U, KU], get func(*T) *U, set func(*T, *U)) {
	b.cls.addProp(&propDesc{
		name:    name,
		foreign: target.def,
		get: func(obj any) any {
			if v := get(obj.(*T)); v != nil {
				return v
			}
			return nil
		},
		set: func(obj any, v any) error {
			x, err := convertTo[*U](v)
			if err != nil {
				return err
			}
			set(obj.(*T), x)
			return nil
		},
	})
}

// Slice declares a property holding a slice. If E is an interface type,
// elements carry their own type information (a list); otherwise all elements
// share E (an array).
func Slice[T, E any](b *Builder[T], name string, get func(*T) []E, set func(*T, []E)) {
	ck := ckArray
	if reflect.TypeFor[E]().Kind() == reflect.Interface {
		ck = ckList
	}
	b.cls.addProp(&propDesc{
		name: name,
		coll: sliceCodec[E]{ck: ck},
		get: func(obj any) any {
			if v := get(obj.(*T)); v != nil {
				return v
			}
			return nil
		},
		set: func(obj any, v any) error {
			x, err := convertTo[[]E](v)
			if err != nil {
				return err
			}
			set(obj.(*T), x)
			return nil
		},
	})
}

// Map declares a property holding a map.
func Map[T any, K comparable, V any](b *Builder[T], name string, get func(*T) map[K]V, set func(*T, map[K]V)) {
	b.cls.addProp(&propDesc{
		name: name,
		coll: mapCodec[K, V]{},
		get: func(obj any) any {
			if v := get(obj.(*T)); v != nil {
				return v
			}
			return nil
		},
		set: func(obj any, v any) error {
			x, err := convertTo[map[K]V](v)
			if err != nil {
				return err
			}
			set(obj.(*T), x)
			return nil
		},
	})
}

func qualifiedTypeName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// convertTo adapts a decoded value to the declared Go type. Nested classes
// decode as pointers, so *E is accepted where E is wanted.
func convertTo[E any](v any) (E, error) {
	var zero E
	if v == nil {
		return zero, nil
	}
	if e, ok := v.(E); ok {
		return e, nil
	}
	if p, ok := v.(*E); ok && p != nil {
		return *p, nil
	}
	return zero, fmt.Errorf("%w: cannot use %T as %v", ErrTypeResolution, v, reflect.TypeFor[E]())
}

func nilIfEmpty(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	}
	return v
}
