package objdb

import (
	"errors"
	"math"
	"testing"
)

func TestByteUtil_AppendAndDecode(t *testing.T) {
	var buf []byte
	buf = appendUvarint(buf, 0)
	buf = appendUvarint(buf, 300)
	buf = appendUvarint(buf, math.MaxUint32)
	buf = appendVarbytes(buf, []byte{0xAA, 0xBB})
	buf = appendVarstring(buf, "hi")
	buf = append(buf, 0x7F)

	d := makeByteDecoder(buf)
	deepEqual(t, must(d.Uvarinti()), 0)
	deepEqual(t, must(d.Uvarinti()), 300)
	deepEqual(t, must(d.Uvarint()), uint64(math.MaxUint32))
	deepEqual(t, must(d.VarBytes()), []byte{0xAA, 0xBB})
	deepEqual(t, must(d.VarString()), "hi")
	deepEqual(t, must(d.Byte()), byte(0x7F))
	deepEqual(t, d.Remaining(), 0)
	deepEqual(t, d.Off(), len(buf))
}

func TestByteUtil_Truncated(t *testing.T) {
	buf := appendVarstring(nil, "hello")
	d := makeByteDecoder(buf[:3])
	_, err := d.VarString()
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("VarString(truncated) err = %v, wanted *DataError", err)
	}
	if de.Off != 1 {
		t.Errorf("DataError.Off = %d, wanted 1", de.Off)
	}

	d = makeByteDecoder(nil)
	if _, err := d.Byte(); err == nil {
		t.Errorf("Byte() on empty data succeeded")
	}
	d = makeByteDecoder([]byte{0x80})
	if _, err := d.Uvarint(); err == nil {
		t.Errorf("Uvarint() on a truncated varint succeeded")
	}
}

func TestEnsureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1, 2}, 100)
	if cap(buf) < 100 {
		t.Fatalf("cap = %d, wanted >= 100", cap(buf))
	}
	deepEqual(t, buf, []byte{1, 2})

	off, buf := grow(buf, 3)
	deepEqual(t, off, 2)
	deepEqual(t, len(buf), 5)
}
