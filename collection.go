package objdb

import (
	"cmp"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// maxPrealloc bounds the capacity reserved from an element count read off a
// record.
const maxPrealloc = 1024

// collectionCodec walks and rebuilds one container type.
type collectionCodec interface {
	kind() collectionKind
	count(v any) int
	each(v any, f func(key, elem any) error) error
	builder(n int) collectionBuilder
}

type collectionBuilder interface {
	add(key, elem any) error
	result() any
}

type sliceCodec[E any] struct {
	ck collectionKind
}

func (c sliceCodec[E]) kind() collectionKind {
	return c.ck
}

func (c sliceCodec[E]) count(v any) int {
	return len(v.([]E))
}

func (c sliceCodec[E]) each(v any, f func(key, elem any) error) error {
	for _, e := range v.([]E) {
		err := f(nil, nilIfEmpty(e))
		if err != nil {
			return err
		}
	}
	return nil
}

func (c sliceCodec[E]) builder(n int) collectionBuilder {
	return &sliceBuilder[E]{items: make([]E, 0, min(n, maxPrealloc))}
}

type sliceBuilder[E any] struct {
	items []E
}

func (b *sliceBuilder[E]) add(_, elem any) error {
	e, err := convertTo[E](elem)
	if err != nil {
		return fmt.Errorf("element %d: %w", len(b.items), err)
	}
	b.items = append(b.items, e)
	return nil
}

func (b *sliceBuilder[E]) result() any {
	return b.items
}

type mapCodec[K comparable, V any] struct{}

func (mapCodec[K, V]) kind() collectionKind {
	return ckDictionary
}

func (mapCodec[K, V]) count(v any) int {
	return len(v.(map[K]V))
}

// each visits entries in key order, so equal maps encode to equal bytes.
func (mapCodec[K, V]) each(v any, f func(key, elem any) error) error {
	m := v.(map[K]V)
	for _, k := range slices.SortedFunc(maps.Keys(m), compareKeys[K]) {
		err := f(k, nilIfEmpty(m[k]))
		if err != nil {
			return err
		}
	}
	return nil
}

func compareKeys[K comparable](a, b K) int {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() {
		return cmp.Compare(va.Kind(), vb.Kind())
	}
	switch va.Kind() {
	case reflect.String:
		return cmp.Compare(va.String(), vb.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(va.Int(), vb.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(va.Uint(), vb.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(va.Float(), vb.Float())
	case reflect.Invalid:
		return 0
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func (mapCodec[K, V]) builder(n int) collectionBuilder {
	return &mapBuilder[K, V]{m: make(map[K]V, min(n, maxPrealloc))}
}

type mapBuilder[K comparable, V any] struct {
	m map[K]V
}

func (b *mapBuilder[K, V]) add(key, elem any) error {
	k, err := convertTo[K](key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	e, err := convertTo[V](elem)
	if err != nil {
		return fmt.Errorf("value for %v: %w", k, err)
	}
	b.m[k] = e
	return nil
}

func (b *mapBuilder[K, V]) result() any {
	return b.m
}

var (
	genericListCodec collectionCodec = sliceCodec[any]{ck: ckList}
	genericDictCodec collectionCodec = mapCodec[string, any]{}
)

// genericCodec returns the codec for untyped containers found inside other
// values, or nil if v is not one.
func genericCodec(v any) collectionCodec {
	switch v.(type) {
	case []any:
		return genericListCodec
	case map[string]any:
		return genericDictCodec
	default:
		return nil
	}
}

func genericCodecFor(ck collectionKind) collectionCodec {
	if ck == ckDictionary {
		return genericDictCodec
	}
	return genericListCodec
}
