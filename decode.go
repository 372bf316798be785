package objdb

import (
	"context"
	"fmt"
	"log/slog"
)

// decoder rebuilds entities from records. References resolve through the
// operation cache: an entity already seen by the operation is reused,
// otherwise an empty instance is registered immediately and filled by a
// sub-operation, which keeps cycles finite.
type decoder struct {
	db  *DB
	op  *opCache
	ctx context.Context
}

func (dc *decoder) recordInto(data []byte, def *storeDef, obj any) error {
	d := makeByteDecoder(data)
	var h header
	err := d.Header(&h)
	if err != nil {
		return err
	}
	if !h.Has(hfTypeCode) || !h.Has(hfPropertyCount) {
		return dataErrf(data, 0, nil, "record does not hold an object (flags %#02x)", byte(h.Flags))
	}
	cls, err := dc.classAt(h.TypeCode)
	if err != nil {
		return err
	}
	if cls != def.cls {
		return fmt.Errorf("%w: record holds %s, store holds %s", ErrTypeResolution, cls.name, def.cls.name)
	}
	err = dc.props(&d, cls, obj, h.PropCount)
	if err != nil {
		return err
	}
	if d.Remaining() != 0 {
		return dataErrf(data, d.Off(), nil, "%d trailing bytes", d.Remaining())
	}
	return nil
}

func (dc *decoder) typeName(code int) (string, error) {
	return dc.db.drv.TypeAtIndex(dc.ctx, code)
}

func (dc *decoder) classAt(code int) (*classDesc, error) {
	name, err := dc.typeName(code)
	if err != nil {
		return nil, err
	}
	return dc.db.classByName(name)
}

// next decodes a complete value that has no declared type to guide it.
func (dc *decoder) next(d *byteDecoder) (any, error) {
	var h header
	err := d.Header(&h)
	if err != nil {
		return nil, err
	}
	return dc.value(d, &h, nil)
}

func (dc *decoder) value(d *byteDecoder, h *header, coll collectionCodec) (any, error) {
	switch {
	case h.Has(hfNull):
		return nil, nil
	case h.Has(hfForeignStore):
		return dc.ref(d, h)
	case h.Has(hfCollection):
		return dc.collection(d, h, coll)
	case h.Has(hfValueSerializer):
		return dc.leaf(d, h)
	case h.Has(hfPropertyCount):
		cls, err := dc.classAt(h.TypeCode)
		if err != nil {
			return nil, err
		}
		obj := cls.newObj()
		err = dc.props(d, cls, obj, h.PropCount)
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, dataErrf(d.Orig, d.Off(), nil, "header %#02x carries no value", byte(h.Flags))
	}
}

func (dc *decoder) leaf(d *byteDecoder, h *header) (any, error) {
	if !h.Has(hfTypeCode) {
		return nil, dataErrf(d.Orig, d.Off(), nil, "serialized value without a type code")
	}
	name, err := dc.typeName(h.TypeCode)
	if err != nil {
		return nil, err
	}
	payload, err := d.VarBytes()
	if err != nil {
		return nil, err
	}
	cur, ok := dc.db.resolveTypeName(name)
	if !ok {
		return nil, fmt.Errorf("%w: value type %q", ErrTypeResolution, name)
	}
	return dc.db.ser.Decode(cur, payload)
}

func (dc *decoder) props(d *byteDecoder, cls *classDesc, obj any, n int) error {
	if n > d.Remaining() {
		return dataErrf(d.Orig, d.Off(), nil, "%s: %d properties in %d bytes", cls.name, n, d.Remaining())
	}
	for range n {
		var h header
		err := d.Header(&h)
		if err != nil {
			return fmt.Errorf("%s: %w", cls.name, err)
		}
		p := cls.propsBy[h.Prop]
		var coll collectionCodec
		if p != nil {
			coll = p.coll
		}
		v, err := dc.value(d, &h, coll)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", cls.name, h.Prop, err)
		}
		switch {
		case p != nil:
			err = p.set(obj, v)
		case cls.fallback != nil:
			err = cls.fallback(obj, h.Prop, v)
		default:
			if dc.db.verbose {
				dc.db.logger.LogAttrs(dc.ctx, slog.LevelDebug, "objdb: skipping undeclared property",
					slog.String("type", cls.name), slog.String("prop", h.Prop))
			}
		}
		if err != nil {
			return fmt.Errorf("%s.%s: %w", cls.name, h.Prop, err)
		}
	}
	return nil
}

func (dc *decoder) ref(d *byteDecoder, h *header) (any, error) {
	def, err := dc.db.storeByID(h.Store)
	if err != nil {
		return nil, err
	}
	key, err := dc.next(d)
	if err != nil {
		return nil, fmt.Errorf("reference key: %w", err)
	}
	return dc.db.resolveRef(dc.op, def, key), nil
}

// resolveRef returns the instance for a referenced entity. A key without a
// slot resolves to nil.
func (db *DB) resolveRef(op *opCache, def *storeDef, key any) any {
	if inst, ok := op.lookup(def.id, key); ok {
		return inst
	}
	slot, ok := def.slotOf(key)
	if !ok {
		return nil
	}
	inst, claimed := op.claim(def.id, key, def.cls.newObj())
	if claimed {
		op.spawn(func(ctx context.Context) error {
			_, err := db.fillEntity(ctx, op, def, key, slot, inst)
			return err
		})
	}
	return inst
}

func (dc *decoder) collection(d *byteDecoder, h *header, coll collectionCodec) (any, error) {
	// every element takes at least one header byte
	if h.Count > d.Remaining() {
		return nil, dataErrf(d.Orig, d.Off(), nil, "%d elements in %d bytes", h.Count, d.Remaining())
	}
	if coll == nil {
		coll = genericCodecFor(h.Coll)
	}
	b := coll.builder(h.Count)
	for i := range h.Count {
		var key any
		var err error
		if h.Coll == ckDictionary {
			key, err = dc.next(d)
			if err != nil {
				return nil, fmt.Errorf("key %d: %w", i, err)
			}
		}
		elem, err := dc.next(d)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		err = b.add(key, elem)
		if err != nil {
			return nil, err
		}
	}
	return b.result(), nil
}
