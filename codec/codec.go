// Package codec implements the self-describing binary object codec.
//
// Values cross the wire as frames: a type tag naming a registered binding (or
// an array of one), followed by the fields the binding's handler emits. Each
// field is length-prefixed, so a decoder buffers a whole frame and resolves
// named fields in any order without a schema. Type and field names are
// interned in a constant pool that is scoped to one top-level message.
package codec

import (
	"bytes"

	"connector-rpc/protocol"
)

// ErrProtocol is wrapped by every framing failure reported by this package.
var ErrProtocol = protocol.ErrProtocol

// ObjectEncoder is handed to an EncodeFunc to emit an object's fields.
//
// Named fields are looked up by name on the reading side. Contents are
// anonymous fields, read back in the order they were written.
type ObjectEncoder interface {
	WriteObjectField(name string, v any) error
	WriteBoolField(name string, v bool)
	WriteInt32Field(name string, v int32)
	WriteInt64Field(name string, v int64)
	WriteFloat64Field(name string, v float64)
	WriteStringField(name string, v string)
	WriteInternedField(name string, v string)
	WriteBytesField(name string, v []byte)

	WriteObjectContents(v any) error
	WriteBoolContents(v bool)
	WriteInt32Contents(v int32)
	WriteInt64Contents(v int64)
	WriteFloat64Contents(v float64)
	WriteStringContents(v string)
	WriteBytesContents(v []byte)
}

// ObjectDecoder is handed to a DecodeFunc to read back an object's fields.
//
// Field readers return the supplied default when the field is absent. Contents
// readers consume anonymous fields in write order.
type ObjectDecoder interface {
	HasField(name string) bool
	ReadObjectField(name string) (any, error)
	ReadBoolField(name string, def bool) (bool, error)
	ReadInt32Field(name string, def int32) (int32, error)
	ReadInt64Field(name string, def int64) (int64, error)
	ReadFloat64Field(name string, def float64) (float64, error)
	ReadStringField(name string, def string) (string, error)
	ReadInternedField(name string, def string) (string, error)
	ReadBytesField(name string) ([]byte, error)

	NumSubObjects() int
	ReadObjectContents() (any, error)
	ReadBoolContents() (bool, error)
	ReadInt32Contents() (int32, error)
	ReadInt64Contents() (int64, error)
	ReadFloat64Contents() (float64, error)
	ReadStringContents() (string, error)
	ReadBytesContents() ([]byte, error)
}

// Marshal encodes v as a complete one-message stream, prologue included.
func Marshal(reg *Registry, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, reg).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes the first message of a stream produced by Marshal.
func Unmarshal(reg *Registry, data []byte) (any, error) {
	return NewDecoder(bytes.NewReader(data), reg).Decode()
}

// ReadField reads a named object field and asserts its type. An absent or
// null field yields the zero value of T.
func ReadField[T any](dec ObjectDecoder, name string) (T, error) {
	var zero T
	v, err := dec.ReadObjectField(name)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, protocol.Errorf("field %q has type %T, want %T", name, v, zero)
	}
	return t, nil
}
