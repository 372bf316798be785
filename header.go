package objdb

import "fmt"

// headerFlags is the leading byte of every encoded value.
type headerFlags byte

const (
	hfNull headerFlags = 1 << iota
	hfForeignStore
	hfPropertyName
	hfTypeCode
	hfPropertyCount
	hfCollection
	hfValueSerializer

	hfKnown = hfNull | hfForeignStore | hfPropertyName | hfTypeCode | hfPropertyCount | hfCollection | hfValueSerializer
)

// collectionKind is the sub-byte following the header of a collection value.
// Exactly one bit is set.
type collectionKind byte

const (
	ckArray collectionKind = 1 << iota
	ckList
	ckDictionary
)

func (ck collectionKind) String() string {
	switch ck {
	case ckArray:
		return "array"
	case ckList:
		return "list"
	case ckDictionary:
		return "dictionary"
	default:
		return fmt.Sprintf("collection(%#02x)", byte(ck))
	}
}

func (ck collectionKind) valid() bool {
	return ck == ckArray || ck == ckList || ck == ckDictionary
}

// header is the decoded form of a value header. Optional fields follow the
// flag byte in a fixed order: store name, property name, type code, property
// count, collection sub-byte with element count.
type header struct {
	Flags     headerFlags
	Store     StoreID
	Prop      string
	TypeCode  int
	PropCount int
	Coll      collectionKind
	Count     int
}

func (h *header) Has(f headerFlags) bool {
	return h.Flags&f != 0
}

func appendHeader(buf []byte, h *header) []byte {
	flags := h.Flags
	if h.Prop != "" {
		flags |= hfPropertyName
	}
	buf = append(buf, byte(flags))
	if flags&hfForeignStore != 0 {
		buf = appendVarstring(buf, string(h.Store))
	}
	if flags&hfPropertyName != 0 {
		buf = appendVarstring(buf, h.Prop)
	}
	if flags&hfTypeCode != 0 {
		buf = appendUvarint(buf, uint64(h.TypeCode))
	}
	if flags&hfPropertyCount != 0 {
		buf = appendUvarint(buf, uint64(h.PropCount))
	}
	if flags&hfCollection != 0 {
		buf = append(buf, byte(h.Coll))
		buf = appendUvarint(buf, uint64(h.Count))
	}
	return buf
}

func (d *byteDecoder) Header(h *header) error {
	start := d.Off()
	b, err := d.Byte()
	if err != nil {
		return err
	}
	*h = header{Flags: headerFlags(b)}
	if h.Flags&^hfKnown != 0 {
		return dataErrf(d.Orig, start, nil, "unknown header flags %#02x", b)
	}
	if h.Has(hfForeignStore) {
		s, err := d.VarString()
		if err != nil {
			return err
		}
		h.Store = StoreID(s)
	}
	if h.Has(hfPropertyName) {
		h.Prop, err = d.VarString()
		if err != nil {
			return err
		}
	}
	if h.Has(hfTypeCode) {
		h.TypeCode, err = d.Uvarinti()
		if err != nil {
			return err
		}
	}
	if h.Has(hfPropertyCount) {
		h.PropCount, err = d.Uvarinti()
		if err != nil {
			return err
		}
	}
	if h.Has(hfCollection) {
		ck, err := d.Byte()
		if err != nil {
			return err
		}
		h.Coll = collectionKind(ck)
		if !h.Coll.valid() {
			return dataErrf(d.Orig, d.Off()-1, nil, "invalid collection kind %#02x", ck)
		}
		h.Count, err = d.Uvarinti()
		if err != nil {
			return err
		}
	}
	return nil
}
