package codec

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"connector-rpc/protocol"
)

type point struct {
	X, Y  int32
	Label string
	Tags  []string
}

// pointBinding writes the named fields in the order given by reverse, which
// lets tests check that readers do not depend on write order.
func pointBinding(name string, reverse bool) TypeBinding {
	return TypeBinding{
		Type: reflect.TypeOf(&point{}),
		Name: name,
		Encode: func(enc ObjectEncoder, v any) error {
			p := v.(*point)
			if reverse {
				if err := enc.WriteObjectField("tags", p.Tags); err != nil {
					return err
				}
				enc.WriteStringField("label", p.Label)
				enc.WriteInt32Field("y", p.Y)
				enc.WriteInt32Field("x", p.X)
				return nil
			}
			enc.WriteInt32Field("x", p.X)
			enc.WriteInt32Field("y", p.Y)
			enc.WriteStringField("label", p.Label)
			return enc.WriteObjectField("tags", p.Tags)
		},
		Decode: func(dec ObjectDecoder) (any, error) {
			p := &point{}
			var err error
			if p.Label, err = dec.ReadStringField("label", ""); err != nil {
				return nil, err
			}
			if p.Y, err = dec.ReadInt32Field("y", 0); err != nil {
				return nil, err
			}
			if p.X, err = dec.ReadInt32Field("x", 0); err != nil {
				return nil, err
			}
			tags, err := dec.ReadObjectField("tags")
			if err != nil {
				return nil, err
			}
			p.Tags, _ = tags.([]string)
			return p, nil
		},
	}
}

func newTestRegistry(reverse bool) *Registry {
	reg := NewRegistry()
	reg.MustRegister(pointBinding("Point", reverse))
	return reg
}

func roundTrip(t *testing.T, reg *Registry, v any) any {
	t.Helper()
	data, err := Marshal(reg, v)
	if err != nil {
		t.Fatalf("Marshal(%#v) failed: %v", v, err)
	}
	out, err := Unmarshal(reg, data)
	if err != nil {
		t.Fatalf("Unmarshal(%#v) failed: %v", v, err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	reg := newTestRegistry(false)

	cases := []struct {
		name  string
		value any
	}{
		{"nil", nil},
		{"bool", true},
		{"int32", int32(-42)},
		{"int64", int64(1) << 40},
		{"float64", 3.25},
		{"string", "héllo wörld"},
		{"empty string", ""},
		{"bytes", []byte{0, 1, 2, 255}},
		{"empty bytes", []byte{}},
		{"string array", []string{"a", "b", "a"}},
		{"empty string array", []string{}},
		{"nested arrays", [][]int32{{1, 2}, {}, {3}}},
		{"byte matrix", [][]byte{{1}, {2, 3}}},
		{"mixed objects", []any{int32(1), "two", nil, []string{"three"}}},
		{"map", map[string]any{"k1": "v", "k2": int64(7), "k3": nil, "k4": []any{true}}},
		{"empty map", map[string]any{}},
		{"struct", &point{X: 1, Y: -2, Label: "origin", Tags: []string{"t"}}},
		{"struct array", []*point{{X: 1}, nil, {Y: 2, Tags: []string{}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, reg, tc.value)
			if !reflect.DeepEqual(got, tc.value) {
				t.Errorf("round trip mismatch: got %#v, want %#v", got, tc.value)
			}
		})
	}
}

func TestNilSliceEncodesAsNull(t *testing.T) {
	reg := NewRegistry()
	var tags []string
	if got := roundTrip(t, reg, tags); got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}

func TestFieldOrderIndependence(t *testing.T) {
	p := &point{X: 10, Y: 20, Label: "p", Tags: []string{"x", "y"}}

	forward, err := Marshal(newTestRegistry(false), p)
	if err != nil {
		t.Fatal(err)
	}
	backward, err := Marshal(newTestRegistry(true), p)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(forward, backward) {
		t.Fatal("expected different byte layouts for different write orders")
	}

	reg := newTestRegistry(false)
	for _, data := range [][]byte{forward, backward} {
		got, err := Unmarshal(reg, data)
		if err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Errorf("got %#v, want %#v", got, p)
		}
	}
}

func TestConstantPoolScopedPerMessage(t *testing.T) {
	reg := newTestRegistry(false)
	var buf bytes.Buffer
	enc := NewEncoder(&buf, reg)

	// The first message interns "Point", "x", "y", ... before "String"; the
	// second interns "String" first, so the same names get different codes.
	first := &point{X: 1, Label: "first"}
	second := []any{"String first", &point{Y: 2, Label: "second"}}
	if err := enc.Encode(first); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(second); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(&buf, reg)
	got, err := dec.Decode()
	if err != nil {
		t.Fatalf("first Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, first) {
		t.Errorf("first message: got %#v, want %#v", got, first)
	}
	got, err = dec.Decode()
	if err != nil {
		t.Fatalf("second Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Errorf("second message: got %#v, want %#v", got, second)
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("expected io.EOF after last message, got %v", err)
	}
}

func TestHeaderWrittenOnce(t *testing.T) {
	reg := NewRegistry()
	var buf bytes.Buffer
	enc := NewEncoder(&buf, reg)

	if err := enc.Encode("a"); err != nil {
		t.Fatal(err)
	}
	firstLen := buf.Len()
	if err := enc.Encode("a"); err != nil {
		t.Fatal(err)
	}
	if got := buf.Len() - firstLen; got != firstLen-protocol.HeaderSize {
		t.Errorf("second message size %d, want %d", got, firstLen-protocol.HeaderSize)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	data, err := Marshal(newTestRegistry(false), &point{X: 1})
	if err != nil {
		t.Fatal(err)
	}

	v, err := Unmarshal(NewRegistry(), data)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got value %#v, err %v", v, err)
	}
}

func TestEncodeUnregisteredType(t *testing.T) {
	reg := NewRegistry()

	if _, err := Marshal(reg, struct{ A int }{1}); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error for unregistered type, got %v", err)
	}
	if _, err := Marshal(reg, []*point{{X: 1}}); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected protocol error for unregistered array component, got %v", err)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data, err := Marshal(NewRegistry(), "x")
	if err != nil {
		t.Fatal(err)
	}
	data[2] ^= 0xFF

	if _, err := Unmarshal(NewRegistry(), data); !errors.Is(err, protocol.ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	reg := newTestRegistry(false)
	data, err := Marshal(reg, &point{X: 1, Label: "truncate me"})
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{protocol.HeaderSize + 2, len(data) / 2, len(data) - 1} {
		if _, err := Unmarshal(reg, data[:n]); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("truncated at %d: expected io.ErrUnexpectedEOF, got %v", n, err)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := newTestRegistry(false)

	if err := reg.Register(pointBinding("Point", true)); err == nil {
		t.Error("expected duplicate wire name to be rejected")
	}
	if err := reg.Register(pointBinding("Object", true)); err == nil {
		t.Error("expected reserved wire name to be rejected")
	}
}

type shape interface{ Area() int32 }

type square struct{ Side int32 }

func (s square) Area() int32 { return s.Side * s.Side }

type namedSquare struct{ square }

func (namedSquare) WireTypeName() string { return "NamedSquare" }

func TestSubtypeAndVariantBindings(t *testing.T) {
	reg := NewRegistry()
	shapeType := reflect.TypeOf((*shape)(nil)).Elem()
	reg.MustRegister(
		TypeBinding{
			Type:     shapeType,
			Name:     "Shape",
			Subtypes: true,
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteInt32Field("area", v.(shape).Area())
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) {
				area, err := dec.ReadInt32Field("area", 0)
				return square{Side: area}, err
			},
		},
		TypeBinding{
			Type: reflect.TypeOf(namedSquare{}),
			Name: "Square",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteInt32Contents(v.(namedSquare).Side)
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) {
				side, err := dec.ReadInt32Contents()
				return namedSquare{square{side}}, err
			},
		},
		TypeBinding{
			Type: reflect.TypeOf(namedSquare{}),
			Name: "NamedSquare",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteStringContents("named")
				enc.WriteInt32Contents(v.(namedSquare).Side)
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) {
				if _, err := dec.ReadStringContents(); err != nil {
					return nil, err
				}
				side, err := dec.ReadInt32Contents()
				return namedSquare{square{side}}, err
			},
		},
	)

	// square has no exact binding and falls back to the subtype binding.
	if got := roundTrip(t, reg, square{Side: 3}); got != (square{Side: 9}) {
		t.Errorf("subtype binding: got %#v", got)
	}

	b, ok := reg.ForValue(namedSquare{square{2}})
	if !ok || b.Name != "NamedSquare" {
		t.Fatalf("expected variant binding NamedSquare, got %+v", b)
	}
	if b, _ := reg.ForType(reflect.TypeOf(namedSquare{})); b.Name != "Square" {
		t.Errorf("plain type lookup should return first binding, got %s", b.Name)
	}
	if got := roundTrip(t, reg, namedSquare{square{4}}); got != (namedSquare{square{4}}) {
		t.Errorf("variant binding: got %#v", got)
	}
}

func TestMissingContentsIsProtocolError(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(TypeBinding{
		Type:   reflect.TypeOf(square{}),
		Name:   "Empty",
		Encode: func(ObjectEncoder, any) error { return nil },
		Decode: func(dec ObjectDecoder) (any, error) {
			side, err := dec.ReadInt32Contents()
			return square{side}, err
		},
	})

	data, err := Marshal(reg, square{1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(reg, data); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestDeepNestingIsProtocolError(t *testing.T) {
	reg := NewRegistry()

	// A type tag chain: ARRAY ARRAY ... NULL.
	var buf bytes.Buffer
	if err := protocol.WriteHeader(&buf); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(bytes.Repeat([]byte{protocol.TypeArray}, 1<<20))
	buf.WriteByte(protocol.TypeNull)
	if _, err := Unmarshal(reg, buf.Bytes()); !errors.Is(err, ErrProtocol) {
		t.Fatalf("array type chain: expected protocol error, got %v", err)
	}

	// Objects nested inside each other's fields.
	nest := func(depth int) any {
		var v any = "leaf"
		for i := 0; i < depth; i++ {
			v = []any{v}
		}
		return v
	}
	data, err := Marshal(reg, nest(maxNesting+10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(reg, data); !errors.Is(err, ErrProtocol) {
		t.Fatalf("nested objects: expected protocol error, got %v", err)
	}

	data, err = Marshal(reg, nest(20))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(reg, data); err != nil {
		t.Fatalf("moderate nesting should decode, got %v", err)
	}
}
