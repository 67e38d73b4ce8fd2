package codec

import (
	"fmt"
	"reflect"
	"sort"
)

// Wire names understood by every peer without registration. Byte and Object
// only appear as array components.
const (
	wireByte   = "Byte"
	wireObject = "Object"
)

type mapEntry struct {
	key   string
	value any
}

func primitiveBindings() []TypeBinding {
	return []TypeBinding{
		{
			Type: reflect.TypeOf(false),
			Name: "Boolean",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteBoolContents(v.(bool))
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) { return dec.ReadBoolContents() },
		},
		{
			Type: reflect.TypeOf(int32(0)),
			Name: "Integer",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteInt32Contents(v.(int32))
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) { return dec.ReadInt32Contents() },
		},
		{
			Type: reflect.TypeOf(int64(0)),
			Name: "Long",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteInt64Contents(v.(int64))
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) { return dec.ReadInt64Contents() },
		},
		{
			Type: reflect.TypeOf(float64(0)),
			Name: "Double",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteFloat64Contents(v.(float64))
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) { return dec.ReadFloat64Contents() },
		},
		{
			Type: reflect.TypeOf(""),
			Name: "String",
			Encode: func(enc ObjectEncoder, v any) error {
				enc.WriteStringContents(v.(string))
				return nil
			},
			Decode: func(dec ObjectDecoder) (any, error) { return dec.ReadStringContents() },
		},
		{
			Type:   reflect.TypeOf(map[string]any(nil)),
			Name:   "Map",
			Encode: encodeMap,
			Decode: decodeMap,
		},
		{
			Type: reflect.TypeOf(&mapEntry{}),
			Name: "MapEntry",
			Encode: func(enc ObjectEncoder, v any) error {
				e := v.(*mapEntry)
				enc.WriteStringField("key", e.key)
				return enc.WriteObjectField("value", e.value)
			},
			Decode: func(dec ObjectDecoder) (any, error) {
				key, err := dec.ReadStringField("key", "")
				if err != nil {
					return nil, err
				}
				value, err := dec.ReadObjectField("value")
				if err != nil {
					return nil, err
				}
				return &mapEntry{key: key, value: value}, nil
			},
		},
	}
}

// Entries are written in key order so equal maps encode to equal bytes.
func encodeMap(enc ObjectEncoder, v any) error {
	m := v.(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := enc.WriteObjectContents(&mapEntry{key: k, value: m[k]}); err != nil {
			return err
		}
	}
	return nil
}

func decodeMap(dec ObjectDecoder) (any, error) {
	n := dec.NumSubObjects()
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		v, err := dec.ReadObjectContents()
		if err != nil {
			return nil, err
		}
		e, ok := v.(*mapEntry)
		if !ok {
			return nil, fmt.Errorf("codec: map entry %d has type %T", i, v)
		}
		out[e.key] = e.value
	}
	return out, nil
}
