package objdb

import (
	"errors"
	"testing"
)

func TestHeader_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    header
		size int
	}{
		{"null", header{Flags: hfNull}, 1},
		{"named null", header{Flags: hfNull | hfPropertyName, Prop: "a"}, 3},
		{"leaf", header{Flags: hfTypeCode | hfValueSerializer, TypeCode: 5}, 2},
		{"object", header{Flags: hfTypeCode | hfPropertyCount | hfPropertyName, Prop: "friend", TypeCode: 200, PropCount: 3}, 1 + 7 + 2 + 1},
		{"foreign", header{Flags: hfForeignStore | hfPropertyName, Store: "people", Prop: "owner"}, 1 + 7 + 6},
		{"list", header{Flags: hfCollection, Coll: ckList, Count: 2}, 3},
		{"dictionary", header{Flags: hfCollection | hfPropertyName, Prop: "m", Coll: ckDictionary, Count: 1000}, 1 + 2 + 1 + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := appendHeader(nil, &tt.h)
			if len(buf) != tt.size {
				t.Errorf("encoded %x (%d bytes), wanted %d bytes", buf, len(buf), tt.size)
			}
			d := makeByteDecoder(buf)
			var h header
			ensure(d.Header(&h))
			deepEqual(t, h, tt.h)
			deepEqual(t, d.Remaining(), 0)
		})
	}
}

func TestHeader_ImplicitPropertyName(t *testing.T) {
	buf := appendHeader(nil, &header{Flags: hfNull, Prop: "x"})
	if headerFlags(buf[0]) != hfNull|hfPropertyName {
		t.Fatalf("flags = %#02x, wanted %#02x", buf[0], byte(hfNull|hfPropertyName))
	}
}

func TestHeader_Invalid(t *testing.T) {
	var h header
	d := makeByteDecoder([]byte{0x80})
	err := d.Header(&h)
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("unknown flag: err = %v, wanted *DataError", err)
	}

	d = makeByteDecoder([]byte{byte(hfCollection), 0x03, 0x00})
	if err := d.Header(&h); err == nil {
		t.Fatalf("two collection kinds accepted")
	}

	d = makeByteDecoder([]byte{byte(hfTypeCode)})
	if err := d.Header(&h); err == nil {
		t.Fatalf("missing type code accepted")
	}
}

func TestCollectionKind_String(t *testing.T) {
	deepEqual(t, ckArray.String(), "array")
	deepEqual(t, ckList.String(), "list")
	deepEqual(t, ckDictionary.String(), "dictionary")
	deepEqual(t, collectionKind(8).String(), "collection(0x08)")
}
