package objdb

import (
	"testing"
	"time"
)

type celsius float64

func TestMsgpackSerializer_Builtins(t *testing.T) {
	s := NewMsgpackSerializer()
	when := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	values := []any{true, 42, int8(-3), int64(1 << 40), uint16(7), 3.5, float32(1.25), "hello", []byte{1, 2}, 90 * time.Second}
	for _, v := range values {
		name, ok := s.TypeName(v)
		if !ok {
			t.Fatalf("TypeName(%T) not supported", v)
		}
		if !s.Supports(name) {
			t.Fatalf("Supports(%q) = false", name)
		}
		data := must(s.Encode(nil, v))
		got := must(s.Decode(name, data))
		deepEqual(t, got, v)
	}

	data := must(s.Encode(nil, when))
	got := must(s.Decode("time", data)).(time.Time)
	if !got.Equal(when) {
		t.Errorf("time = %v, wanted %v", got, when)
	}
}

func TestMsgpackSerializer_Unsupported(t *testing.T) {
	s := NewMsgpackSerializer()
	if _, ok := s.TypeName(celsius(1)); ok {
		t.Fatalf("celsius supported before registration")
	}
	if _, ok := s.TypeName(nil); ok {
		t.Fatalf("nil supported")
	}
	_, err := s.Encode(nil, struct{}{})
	isErr(t, err, ErrSerializerIncapable)
	_, err = s.Decode("nope", nil)
	isErr(t, err, ErrTypeResolution)
	_, err = s.Decode("int", []byte{0xC1})
	if err == nil {
		t.Fatalf("Decode of invalid msgpack succeeded")
	}
}

func TestRegisterValueType(t *testing.T) {
	s := NewMsgpackSerializer()
	RegisterValueType[celsius](s, "celsius")
	name, ok := s.TypeName(celsius(21.5))
	if !ok || name != "celsius" {
		t.Fatalf("TypeName = (%q, %v), wanted (celsius, true)", name, ok)
	}
	got := must(s.Decode("celsius", must(s.Encode(nil, celsius(21.5)))))
	deepEqual[any](t, got, celsius(21.5))

	defer func() {
		if recover() == nil {
			t.Errorf("duplicate registration did not panic")
		}
	}()
	RegisterValueType[float64](s, "celsius")
}
