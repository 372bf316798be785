package objdb

import (
	"context"
	"errors"
	"testing"
)

func TestDecode_RejectsImpossibleCounts(t *testing.T) {
	ctx := context.Background()
	drv := NewMemDriver()
	w := setupWorld(t, drv, Options{})
	a := &person{ID: 1, Name: "a"}
	must(w.people.Save(ctx, &person{ID: 2, Friend: a}))
	code := must(drv.TypeIndexOf(ctx, "person"))

	tests := []struct {
		name   string
		record []byte
	}{
		{"elements", appendHeader(
			appendHeader(nil, &header{Flags: hfTypeCode | hfPropertyCount, TypeCode: code, PropCount: 1}),
			&header{Flags: hfCollection, Prop: "pets", Coll: ckArray, Count: 1 << 60})},
		{"entries", appendHeader(
			appendHeader(nil, &header{Flags: hfTypeCode | hfPropertyCount, TypeCode: code, PropCount: 1}),
			&header{Flags: hfCollection, Prop: "tags", Coll: ckDictionary, Count: 1 << 40})},
		{"properties", appendHeader(nil, &header{Flags: hfTypeCode | hfPropertyCount, TypeCode: code, PropCount: 1 << 50})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, _ := w.people.def.slotOf(1)
			ensure(drv.SaveRaw(ctx, "people", slot, tt.record))

			_, _, err := w.people.Load(ctx, 1)
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("** got error %v, wanted a DataError", err)
			}

			// the same record reached through a reference is decoded by a
			// sub-operation
			_, _, err = w.people.Load(ctx, 2)
			if !errors.As(err, &de) {
				t.Fatalf("** got error %v from the referencing load, wanted a DataError", err)
			}
		})
	}
}
