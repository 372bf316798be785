package objdb

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ValueSerializer encodes leaf values that the record codec treats as opaque.
type ValueSerializer interface {
	// TypeName returns the persisted name of v's type, or false if the
	// serializer does not handle it.
	TypeName(v any) (string, bool)

	// Supports reports whether values of the named type can be decoded.
	Supports(typeName string) bool

	Encode(buf []byte, v any) ([]byte, error)
	Decode(typeName string, data []byte) (any, error)
}

type valueType struct {
	name   string
	decode func(data []byte) (any, error)
}

// MsgpackSerializer is the default ValueSerializer. It handles Go primitives,
// strings, byte slices, time.Time and time.Duration, plus any type added
// with RegisterValueType.
type MsgpackSerializer struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*valueType
	byName map[string]*valueType
}

func NewMsgpackSerializer() *MsgpackSerializer {
	s := &MsgpackSerializer{
		byType: make(map[reflect.Type]*valueType),
		byName: make(map[string]*valueType),
	}
	RegisterValueType[bool](s, "bool")
	RegisterValueType[int](s, "int")
	RegisterValueType[int8](s, "int8")
	RegisterValueType[int16](s, "int16")
	RegisterValueType[int32](s, "int32")
	RegisterValueType[int64](s, "int64")
	RegisterValueType[uint](s, "uint")
	RegisterValueType[uint8](s, "uint8")
	RegisterValueType[uint16](s, "uint16")
	RegisterValueType[uint32](s, "uint32")
	RegisterValueType[uint64](s, "uint64")
	RegisterValueType[float32](s, "float32")
	RegisterValueType[float64](s, "float64")
	RegisterValueType[string](s, "string")
	RegisterValueType[[]byte](s, "bytes")
	RegisterValueType[time.Time](s, "time")
	RegisterValueType[time.Duration](s, "duration")
	return s
}

// RegisterValueType makes s handle values of type T under the given
// persisted name. T must round-trip through msgpack.
func RegisterValueType[T any](s *MsgpackSerializer, name string) {
	vt := &valueType{
		name: name,
		decode: func(data []byte) (any, error) {
			var v T
			err := msgpack.Unmarshal(data, &v)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byName[name] != nil {
		panic(fmt.Errorf("value type %q registered twice", name))
	}
	s.byType[reflect.TypeFor[T]()] = vt
	s.byName[name] = vt
}

func (s *MsgpackSerializer) lookup(v any) *valueType {
	if v == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byType[reflect.TypeOf(v)]
}

func (s *MsgpackSerializer) TypeName(v any) (string, bool) {
	vt := s.lookup(v)
	if vt == nil {
		return "", false
	}
	return vt.name, true
}

func (s *MsgpackSerializer) Supports(typeName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[typeName] != nil
}

func (s *MsgpackSerializer) Encode(buf []byte, v any) ([]byte, error) {
	if s.lookup(v) == nil {
		return buf, fmt.Errorf("%w: %T", ErrSerializerIncapable, v)
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return buf, fmt.Errorf("msgpack: %w", err)
	}
	return append(buf, data...), nil
}

func (s *MsgpackSerializer) Decode(typeName string, data []byte) (any, error) {
	s.mu.RLock()
	vt := s.byName[typeName]
	s.mu.RUnlock()
	if vt == nil {
		return nil, fmt.Errorf("%w: value type %q", ErrTypeResolution, typeName)
	}
	v, err := vt.decode(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack: decoding %s: %w", typeName, err)
	}
	return v, nil
}

// encodeLeaf encodes v as a value-serializer payload and returns its type name.
func encodeLeaf(ser ValueSerializer, buf []byte, v any) (string, []byte, error) {
	name, ok := ser.TypeName(v)
	if !ok {
		return "", buf, fmt.Errorf("%w: %T", ErrSerializerIncapable, v)
	}
	buf, err := ser.Encode(buf, v)
	return name, buf, err
}
