package objdb

import (
	"context"
	"fmt"
	"reflect"
)

// encoder writes the record of one entity. References to other entities are
// written as keys; the referenced entities are claimed in the operation
// cache and saved by sub-operations.
type encoder struct {
	db  *DB
	op  *opCache
	ctx context.Context
}

func (e *encoder) record(buf []byte, def *storeDef, obj any) ([]byte, error) {
	return e.class(buf, def.cls, obj, "")
}

func (e *encoder) value(buf []byte, v any, name string, coll collectionCodec, foreign *storeDef) ([]byte, error) {
	if v == nil {
		return appendHeader(buf, &header{Flags: hfNull, Prop: name}), nil
	}
	if foreign != nil {
		return e.ref(buf, foreign, v, name)
	}
	if coll != nil {
		return e.collection(buf, coll, v, name)
	}
	if _, ok := e.db.ser.TypeName(v); ok {
		return e.leaf(buf, v, name)
	}
	rt := reflect.TypeOf(v)
	if cls := e.db.classByType(rt); cls != nil {
		if cls.store != nil && rt == cls.ptrType {
			return e.ref(buf, cls.store, v, name)
		}
		return e.class(buf, cls, cls.asPtr(v), name)
	}
	if gc := genericCodec(v); gc != nil {
		return e.collection(buf, gc, v, name)
	}
	return buf, fmt.Errorf("%w: %T", ErrSerializerIncapable, v)
}

func (e *encoder) typeCode(name string) (int, error) {
	code, err := e.db.drv.TypeIndexOf(e.ctx, name)
	if err != nil {
		return 0, fmt.Errorf("type code for %q: %w", name, err)
	}
	return code, nil
}

func (e *encoder) leaf(buf []byte, v any, name string) ([]byte, error) {
	typeName, payload, err := encodeLeaf(e.db.ser, nil, v)
	if err != nil {
		return buf, err
	}
	code, err := e.typeCode(typeName)
	if err != nil {
		return buf, err
	}
	buf = appendHeader(buf, &header{
		Flags:    hfTypeCode | hfValueSerializer,
		Prop:     name,
		TypeCode: code,
	})
	return appendVarbytes(buf, payload), nil
}

func (e *encoder) ref(buf []byte, def *storeDef, v any, name string) ([]byte, error) {
	if rt := reflect.TypeOf(v); rt != def.cls.ptrType {
		return buf, fmt.Errorf("%w: store %s holds %v, got %v", ErrTypeResolution, def.id, def.cls.ptrType, rt)
	}
	key := def.keyOf(v)
	buf = appendHeader(buf, &header{
		Flags: hfForeignStore,
		Store: def.id,
		Prop:  name,
	})
	buf, err := e.leaf(buf, key, "")
	if err != nil {
		return buf, storeErrf(def.id, "", key, err, "encoding reference key")
	}
	if _, claimed := e.op.claim(def.id, key, v); claimed {
		e.op.spawn(func(ctx context.Context) error {
			_, err := e.db.saveEntity(ctx, e.op, def, v, true)
			return err
		})
	}
	return buf, nil
}

func (e *encoder) class(buf []byte, cls *classDesc, obj any, name string) ([]byte, error) {
	code, err := e.typeCode(cls.name)
	if err != nil {
		return buf, err
	}
	buf = appendHeader(buf, &header{
		Flags:     hfTypeCode | hfPropertyCount,
		Prop:      name,
		TypeCode:  code,
		PropCount: len(cls.props),
	})
	for _, p := range cls.props {
		buf, err = e.value(buf, p.get(obj), p.name, p.coll, p.foreign)
		if err != nil {
			return buf, fmt.Errorf("%s.%s: %w", cls.name, p.name, err)
		}
	}
	return buf, nil
}

func (e *encoder) collection(buf []byte, coll collectionCodec, v any, name string) ([]byte, error) {
	ck := coll.kind()
	buf = appendHeader(buf, &header{
		Flags: hfCollection,
		Prop:  name,
		Coll:  ck,
		Count: coll.count(v),
	})
	var i int
	err := coll.each(v, func(key, elem any) error {
		var err error
		if ck == ckDictionary {
			buf, err = e.value(buf, key, "", nil, nil)
			if err != nil {
				return fmt.Errorf("key %v: %w", key, err)
			}
		}
		buf, err = e.value(buf, elem, "", nil, nil)
		if err != nil {
			if ck == ckDictionary {
				return fmt.Errorf("[%v]: %w", key, err)
			}
			return fmt.Errorf("[%d]: %w", i, err)
		}
		i++
		return nil
	})
	return buf, err
}
