package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"reflect"

	"connector-rpc/protocol"
)

var (
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
	byteType  = reflect.TypeOf(byte(0))
	bytesType = reflect.TypeOf([]byte(nil))
)

// Encoder writes top-level messages to a stream. The prologue goes out with
// the first message only. An Encoder is not safe for concurrent use.
type Encoder struct {
	w       io.Writer
	reg     *Registry
	started bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, reg *Registry) *Encoder {
	return &Encoder{w: w, reg: reg}
}

// Encode writes v as one top-level message: constant pool, then the frame.
// The whole message is assembled in memory and handed to the underlying
// writer in a single Write.
func (e *Encoder) Encode(v any) error {
	m := newMessageWriter(e.reg)
	if err := m.writeObject(v); err != nil {
		return err
	}

	var out bytes.Buffer
	if !e.started {
		if err := protocol.WriteHeader(&out); err != nil {
			return err
		}
	}
	m.writePool(&out)
	out.Write(m.cur().Bytes())

	if _, err := e.w.Write(out.Bytes()); err != nil {
		return err
	}
	e.started = true
	return nil
}

// region is one buffered field (or the message root) awaiting its length
// prefix.
type region struct {
	buf  bytes.Buffer
	tag  byte
	name string
}

// messageWriter holds the state of a single top-level message. Nothing in it
// survives past Encode.
type messageWriter struct {
	reg   *Registry
	codes map[string]int32
	pool  []string
	stack []*region
}

func newMessageWriter(reg *Registry) *messageWriter {
	return &messageWriter{
		reg:   reg,
		codes: make(map[string]int32),
		stack: []*region{{}},
	}
}

func (m *messageWriter) cur() *bytes.Buffer {
	return &m.stack[len(m.stack)-1].buf
}

func (m *messageWriter) intern(s string) int32 {
	if code, ok := m.codes[s]; ok {
		return code
	}
	code := int32(len(m.pool))
	m.codes[s] = code
	m.pool = append(m.pool, s)
	return code
}

func (m *messageWriter) writePool(out *bytes.Buffer) {
	putInt32(out, int32(len(m.pool)))
	for code, s := range m.pool {
		putString(out, s)
		putInt32(out, int32(code))
	}
}

func (m *messageWriter) writeObject(v any) error {
	if isNil(v) {
		m.cur().WriteByte(protocol.TypeNull)
		return nil
	}
	if b, ok := v.([]byte); ok {
		m.cur().WriteByte(protocol.TypeArray)
		m.cur().WriteByte(protocol.TypeClass)
		putInt32(m.cur(), m.intern(wireByte))
		m.WriteBytesContents(b)
		m.cur().WriteByte(protocol.FieldEnd)
		return nil
	}

	if binding, ok := m.reg.ForValue(v); ok {
		m.cur().WriteByte(protocol.TypeClass)
		putInt32(m.cur(), m.intern(binding.Name))
		if err := binding.Encode(m, v); err != nil {
			return err
		}
		m.cur().WriteByte(protocol.FieldEnd)
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return protocol.Errorf("no binding registered for %s", rv.Type())
	}
	if err := m.writeType(rv.Type()); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := m.WriteObjectContents(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	m.cur().WriteByte(protocol.FieldEnd)
	return nil
}

func (m *messageWriter) writeType(t reflect.Type) error {
	if t.Kind() == reflect.Slice {
		m.cur().WriteByte(protocol.TypeArray)
		return m.writeType(t.Elem())
	}

	var name string
	switch t {
	case byteType:
		name = wireByte
	case anyType:
		name = wireObject
	default:
		b, ok := m.reg.ForType(t)
		if !ok {
			return protocol.Errorf("no binding registered for array component %s", t)
		}
		name = b.Name
	}
	m.cur().WriteByte(protocol.TypeClass)
	putInt32(m.cur(), m.intern(name))
	return nil
}

func (m *messageWriter) startField(tag byte, name string) {
	m.stack = append(m.stack, &region{tag: tag, name: name})
}

func (m *messageWriter) endField() {
	r := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]

	parent := m.cur()
	parent.WriteByte(r.tag)
	if r.tag == protocol.FieldNamed {
		putInt32(parent, m.intern(r.name))
	}
	putInt32(parent, int32(r.buf.Len()))
	parent.Write(r.buf.Bytes())
}

func (m *messageWriter) named(name string, write func(*bytes.Buffer)) {
	m.startField(protocol.FieldNamed, name)
	write(m.cur())
	m.endField()
}

func (m *messageWriter) anonymous(write func(*bytes.Buffer)) {
	m.startField(protocol.FieldAnonymous, "")
	write(m.cur())
	m.endField()
}

func (m *messageWriter) WriteObjectField(name string, v any) error {
	m.startField(protocol.FieldNamed, name)
	err := m.writeObject(v)
	m.endField()
	return err
}

func (m *messageWriter) WriteBoolField(name string, v bool) {
	m.named(name, func(b *bytes.Buffer) { putBool(b, v) })
}

func (m *messageWriter) WriteInt32Field(name string, v int32) {
	m.named(name, func(b *bytes.Buffer) { putInt32(b, v) })
}

func (m *messageWriter) WriteInt64Field(name string, v int64) {
	m.named(name, func(b *bytes.Buffer) { putInt64(b, v) })
}

func (m *messageWriter) WriteFloat64Field(name string, v float64) {
	m.named(name, func(b *bytes.Buffer) { putInt64(b, int64(math.Float64bits(v))) })
}

func (m *messageWriter) WriteStringField(name string, v string) {
	m.named(name, func(b *bytes.Buffer) { putString(b, v) })
}

func (m *messageWriter) WriteInternedField(name string, v string) {
	code := m.intern(v)
	m.named(name, func(b *bytes.Buffer) { putInt32(b, code) })
}

func (m *messageWriter) WriteBytesField(name string, v []byte) {
	m.named(name, func(b *bytes.Buffer) { putBytes(b, v) })
}

func (m *messageWriter) WriteObjectContents(v any) error {
	m.startField(protocol.FieldAnonymous, "")
	err := m.writeObject(v)
	m.endField()
	return err
}

func (m *messageWriter) WriteBoolContents(v bool) {
	m.anonymous(func(b *bytes.Buffer) { putBool(b, v) })
}

func (m *messageWriter) WriteInt32Contents(v int32) {
	m.anonymous(func(b *bytes.Buffer) { putInt32(b, v) })
}

func (m *messageWriter) WriteInt64Contents(v int64) {
	m.anonymous(func(b *bytes.Buffer) { putInt64(b, v) })
}

func (m *messageWriter) WriteFloat64Contents(v float64) {
	m.anonymous(func(b *bytes.Buffer) { putInt64(b, int64(math.Float64bits(v))) })
}

func (m *messageWriter) WriteStringContents(v string) {
	m.anonymous(func(b *bytes.Buffer) { putString(b, v) })
}

func (m *messageWriter) WriteBytesContents(v []byte) {
	m.anonymous(func(b *bytes.Buffer) { putBytes(b, v) })
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func putBool(b *bytes.Buffer, v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

func putInt32(b *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.Write(tmp[:])
}

func putInt64(b *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.Write(tmp[:])
}

func putBytes(b *bytes.Buffer, v []byte) {
	putInt32(b, int32(len(v)))
	b.Write(v)
}

func putString(b *bytes.Buffer, s string) {
	putInt32(b, int32(len(s)))
	b.WriteString(s)
}
