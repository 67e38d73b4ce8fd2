package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"reflect"

	"connector-rpc/protocol"
)

// maxPoolEntries bounds the constant pool of a single message.
const maxPoolEntries = 1 << 20

// maxNesting bounds how deeply objects and array types may nest in one
// message.
const maxNesting = 512

// Decoder reads top-level messages from a stream. The prologue is verified
// before the first message. A Decoder is not safe for concurrent use.
type Decoder struct {
	r       io.Reader
	reg     *Registry
	started bool
	version int32
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, reg *Registry) *Decoder {
	return &Decoder{r: r, reg: reg}
}

// Version reports the encoding version announced by the peer, or zero before
// the first message has been read.
func (d *Decoder) Version() int32 {
	return d.version
}

// Decode reads one top-level message. It returns io.EOF when the stream ends
// cleanly on a message boundary, and io.ErrUnexpectedEOF when it ends inside
// one.
func (d *Decoder) Decode() (any, error) {
	if !d.started {
		version, err := protocol.ReadHeader(d.r)
		if err != nil {
			return nil, err
		}
		d.started = true
		d.version = version
	}

	pool, err := readPool(d.r)
	if err != nil {
		return nil, err
	}
	m := &messageReader{reg: d.reg, pool: pool}
	v, err := m.readObject(d.r)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return v, err
}

func readPool(r io.Reader) (map[int32]string, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	count := int32(binary.BigEndian.Uint32(head[:]))
	if count < 0 || count > maxPoolEntries {
		return nil, protocol.Errorf("constant pool size %d out of range", count)
	}

	pool := make(map[int32]string, count)
	for i := int32(0); i < count; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, eofIsUnexpected(err)
		}
		code, err := readInt32(r)
		if err != nil {
			return nil, eofIsUnexpected(err)
		}
		pool[code] = s
	}
	return pool, nil
}

// frame is an object whose fields have been fully buffered.
type frame struct {
	named map[string][]byte
	anon  [][]byte
}

// messageReader resolves interned codes against the pool of one message.
type messageReader struct {
	reg   *Registry
	pool  map[int32]string
	depth int
}

func (m *messageReader) enter() error {
	m.depth++
	if m.depth > maxNesting {
		return protocol.Errorf("nesting deeper than %d", maxNesting)
	}
	return nil
}

func (m *messageReader) leave() { m.depth-- }

func (m *messageReader) readInterned(r io.Reader) (string, error) {
	code, err := readInt32(r)
	if err != nil {
		return "", err
	}
	s, ok := m.pool[code]
	if !ok {
		return "", protocol.Errorf("unknown constant pool code %d", code)
	}
	return s, nil
}

// readType returns the Go type described by a type tag, the binding for class
// types, and null=true for the null tag.
func (m *messageReader) readType(r io.Reader) (reflect.Type, *TypeBinding, bool, error) {
	tag, err := readByte(r)
	if err != nil {
		return nil, nil, false, err
	}

	switch tag {
	case protocol.TypeNull:
		return nil, nil, true, nil
	case protocol.TypeClass:
		name, err := m.readInterned(r)
		if err != nil {
			return nil, nil, false, err
		}
		switch name {
		case wireByte:
			return byteType, nil, false, nil
		case wireObject:
			return anyType, nil, false, nil
		}
		b, ok := m.reg.ForName(name)
		if !ok {
			return nil, nil, false, protocol.Errorf("unknown wire type-name %q", name)
		}
		return b.Type, b, false, nil
	case protocol.TypeArray:
		if err := m.enter(); err != nil {
			return nil, nil, false, err
		}
		elem, _, null, err := m.readType(r)
		m.leave()
		if err != nil {
			return nil, nil, false, err
		}
		if null {
			return nil, nil, false, protocol.Errorf("array of null type")
		}
		return reflect.SliceOf(elem), nil, false, nil
	default:
		return nil, nil, false, protocol.Errorf("unknown type tag %d", tag)
	}
}

func (m *messageReader) readFields(r io.Reader) (*frame, error) {
	f := &frame{named: make(map[string][]byte)}
	for {
		tag, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch tag {
		case protocol.FieldEnd:
			return f, nil
		case protocol.FieldAnonymous:
			payload, err := readPayload(r)
			if err != nil {
				return nil, err
			}
			f.anon = append(f.anon, payload)
		case protocol.FieldNamed:
			name, err := m.readInterned(r)
			if err != nil {
				return nil, err
			}
			payload, err := readPayload(r)
			if err != nil {
				return nil, err
			}
			f.named[name] = payload
		default:
			return nil, protocol.Errorf("unknown field tag %d", tag)
		}
	}
}

func (m *messageReader) readObject(r io.Reader) (any, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.leave()

	t, binding, null, err := m.readType(r)
	if err != nil || null {
		return nil, err
	}
	f, err := m.readFields(r)
	if err != nil {
		return nil, err
	}

	if binding != nil {
		return binding.Decode(&frameDecoder{m: m, f: f})
	}
	if t.Kind() != reflect.Slice {
		return nil, protocol.Errorf("%s is only valid as an array component", t)
	}
	return m.decodeArray(t, f)
}

func (m *messageReader) decodeArray(t reflect.Type, f *frame) (any, error) {
	if t == bytesType {
		if len(f.anon) == 0 {
			return []byte{}, nil
		}
		b, err := readBytes(bytes.NewReader(f.anon[0]))
		if err != nil {
			return nil, protocol.Errorf("byte array: %v", err)
		}
		return b, nil
	}

	out := reflect.MakeSlice(t, len(f.anon), len(f.anon))
	elem := t.Elem()
	for i, payload := range f.anon {
		v, err := m.readObject(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(elem) {
			return nil, protocol.Errorf("array element %d: %s does not fit %s", i, rv.Type(), elem)
		}
		out.Index(i).Set(rv)
	}
	return out.Interface(), nil
}

// frameDecoder serves field reads for one object.
type frameDecoder struct {
	m      *messageReader
	f      *frame
	cursor int
}

func (d *frameDecoder) HasField(name string) bool {
	_, ok := d.f.named[name]
	return ok
}

func (d *frameDecoder) field(name string) (*bytes.Reader, bool) {
	p, ok := d.f.named[name]
	if !ok {
		return nil, false
	}
	return bytes.NewReader(p), true
}

func (d *frameDecoder) ReadObjectField(name string) (any, error) {
	r, ok := d.field(name)
	if !ok {
		return nil, nil
	}
	return d.m.readObject(r)
}

func (d *frameDecoder) ReadBoolField(name string, def bool) (bool, error) {
	r, ok := d.field(name)
	if !ok {
		return def, nil
	}
	return fieldValue(name, r, readBool)
}

func (d *frameDecoder) ReadInt32Field(name string, def int32) (int32, error) {
	r, ok := d.field(name)
	if !ok {
		return def, nil
	}
	return fieldValue(name, r, readInt32)
}

func (d *frameDecoder) ReadInt64Field(name string, def int64) (int64, error) {
	r, ok := d.field(name)
	if !ok {
		return def, nil
	}
	return fieldValue(name, r, readInt64)
}

func (d *frameDecoder) ReadFloat64Field(name string, def float64) (float64, error) {
	r, ok := d.field(name)
	if !ok {
		return def, nil
	}
	return fieldValue(name, r, readFloat64)
}

func (d *frameDecoder) ReadStringField(name string, def string) (string, error) {
	r, ok := d.field(name)
	if !ok {
		return def, nil
	}
	return fieldValue(name, r, readString)
}

func (d *frameDecoder) ReadInternedField(name string, def string) (string, error) {
	r, ok := d.field(name)
	if !ok {
		return def, nil
	}
	return d.m.readInterned(r)
}

func (d *frameDecoder) ReadBytesField(name string) ([]byte, error) {
	r, ok := d.field(name)
	if !ok {
		return nil, nil
	}
	return fieldValue(name, r, readBytes)
}

func (d *frameDecoder) NumSubObjects() int {
	return len(d.f.anon)
}

func (d *frameDecoder) next() (*bytes.Reader, error) {
	if d.cursor >= len(d.f.anon) {
		return nil, protocol.Errorf("anonymous field %d missing", d.cursor)
	}
	p := d.f.anon[d.cursor]
	d.cursor++
	return bytes.NewReader(p), nil
}

func (d *frameDecoder) ReadObjectContents() (any, error) {
	r, err := d.next()
	if err != nil {
		return nil, err
	}
	return d.m.readObject(r)
}

func (d *frameDecoder) ReadBoolContents() (bool, error) {
	return contentsValue(d, readBool)
}

func (d *frameDecoder) ReadInt32Contents() (int32, error) {
	return contentsValue(d, readInt32)
}

func (d *frameDecoder) ReadInt64Contents() (int64, error) {
	return contentsValue(d, readInt64)
}

func (d *frameDecoder) ReadFloat64Contents() (float64, error) {
	return contentsValue(d, readFloat64)
}

func (d *frameDecoder) ReadStringContents() (string, error) {
	return contentsValue(d, readString)
}

func (d *frameDecoder) ReadBytesContents() ([]byte, error) {
	return contentsValue(d, readBytes)
}

func fieldValue[T any](name string, r io.Reader, read func(io.Reader) (T, error)) (T, error) {
	v, err := read(r)
	if err != nil {
		var zero T
		return zero, protocol.Errorf("field %q: %v", name, err)
	}
	return v, nil
}

func contentsValue[T any](d *frameDecoder, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	r, err := d.next()
	if err != nil {
		return zero, err
	}
	v, err := read(r)
	if err != nil {
		return zero, protocol.Errorf("anonymous field %d: %v", d.cursor-1, err)
	}
	return v, nil
}

func eofIsUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return eofIsUnexpected(err)
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readBool(r io.Reader) (bool, error) {
	b, err := readByte(r)
	return b != 0, err
}

func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readFloat64(r io.Reader) (float64, error) {
	bits, err := readInt64(r)
	return math.Float64frombits(uint64(bits)), err
}

func readLength(r io.Reader) (int, error) {
	n, err := readInt32(r)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > protocol.MaxFieldLength {
		return 0, protocol.Errorf("length %d out of range", n)
	}
	return int(n), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readPayload(r io.Reader) ([]byte, error) {
	return readBytes(r)
}
