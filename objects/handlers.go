package objects

import (
	"reflect"

	"connector-rpc/codec"
)

// RegisterHandlers adds the bindings for every payload type in this package.
func RegisterHandlers(reg *codec.Registry) {
	reg.MustRegister(
		codec.TypeBinding{
			Type: reflect.TypeOf(&ConnectorKey{}),
			Name: "ConnectorKey",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				k := v.(*ConnectorKey)
				enc.WriteStringField("bundleName", k.BundleName)
				enc.WriteStringField("bundleVersion", k.BundleVersion)
				enc.WriteStringField("connectorName", k.ConnectorName)
				return nil
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				k := &ConnectorKey{}
				var err error
				if k.BundleName, err = dec.ReadStringField("bundleName", ""); err != nil {
					return nil, err
				}
				if k.BundleVersion, err = dec.ReadStringField("bundleVersion", ""); err != nil {
					return nil, err
				}
				if k.ConnectorName, err = dec.ReadStringField("connectorName", ""); err != nil {
					return nil, err
				}
				return k, nil
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&Uid{}),
			Name: "Uid",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				u := v.(*Uid)
				if u.Revision != "" {
					enc.WriteStringField("revision", u.Revision)
				}
				enc.WriteStringContents(u.Value)
				return nil
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				revision, err := dec.ReadStringField("revision", "")
				if err != nil {
					return nil, err
				}
				value, err := dec.ReadStringContents()
				if err != nil {
					return nil, err
				}
				return &Uid{Value: value, Revision: revision}, nil
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&ObjectClass{}),
			Name: "ObjectClass",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				enc.WriteStringField("type", v.(*ObjectClass).Name)
				return nil
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				name, err := dec.ReadStringField("type", "")
				return &ObjectClass{Name: name}, err
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&Attribute{}),
			Name: "Attribute",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				a := v.(*Attribute)
				enc.WriteStringField("name", a.Name)
				if a.Values == nil {
					return nil
				}
				return enc.WriteObjectField("values", a.Values)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				name, err := dec.ReadStringField("name", "")
				if err != nil {
					return nil, err
				}
				values, err := codec.ReadField[[]any](dec, "values")
				if err != nil {
					return nil, err
				}
				return &Attribute{Name: name, Values: values}, nil
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&ConnectorObject{}),
			Name: "ConnectorObject",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				o := v.(*ConnectorObject)
				if err := enc.WriteObjectField("ObjectClass", o.ObjectClass); err != nil {
					return err
				}
				return enc.WriteObjectField("Attributes", o.Attributes)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				oc, err := codec.ReadField[*ObjectClass](dec, "ObjectClass")
				if err != nil {
					return nil, err
				}
				attrs, err := codec.ReadField[[]*Attribute](dec, "Attributes")
				if err != nil {
					return nil, err
				}
				return &ConnectorObject{ObjectClass: oc, Attributes: attrs}, nil
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&SyncToken{}),
			Name: "SyncToken",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				return enc.WriteObjectField("value", v.(*SyncToken).Value)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				value, err := dec.ReadObjectField("value")
				return &SyncToken{Value: value}, err
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&Locale{}),
			Name: "Locale",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				l := v.(*Locale)
				enc.WriteStringField("language", l.Language)
				enc.WriteStringField("country", l.Country)
				enc.WriteStringField("variant", l.Variant)
				return nil
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				l := &Locale{}
				var err error
				if l.Language, err = dec.ReadStringField("language", ""); err != nil {
					return nil, err
				}
				if l.Country, err = dec.ReadStringField("country", ""); err != nil {
					return nil, err
				}
				if l.Variant, err = dec.ReadStringField("variant", ""); err != nil {
					return nil, err
				}
				return l, nil
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&RemoteConnectorInfo{}),
			Name: "RemoteConnectorInfo",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				info := v.(*RemoteConnectorInfo)
				if err := enc.WriteObjectField("connectorKey", info.Key); err != nil {
					return err
				}
				enc.WriteStringField("connectorDisplayNameKey", info.DisplayNameKey)
				enc.WriteStringField("connectorCategoryKey", info.CategoryKey)
				return enc.WriteObjectField("defaultAPIConfiguration", info.DefaultConfig)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				info := &RemoteConnectorInfo{}
				var err error
				if info.Key, err = codec.ReadField[*ConnectorKey](dec, "connectorKey"); err != nil {
					return nil, err
				}
				if info.DisplayNameKey, err = dec.ReadStringField("connectorDisplayNameKey", ""); err != nil {
					return nil, err
				}
				if info.CategoryKey, err = dec.ReadStringField("connectorCategoryKey", ""); err != nil {
					return nil, err
				}
				if info.DefaultConfig, err = codec.ReadField[*APIConfiguration](dec, "defaultAPIConfiguration"); err != nil {
					return nil, err
				}
				return info, nil
			},
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&APIConfiguration{}),
			Name: "APIConfiguration",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				c := v.(*APIConfiguration)
				enc.WriteInt32Field("producerBufferSize", c.ProducerBufferSize)
				if err := enc.WriteObjectField("timeoutMap", c.Timeouts); err != nil {
					return err
				}
				return enc.WriteObjectField("ConfigurationProperties", c.Properties)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				c := &APIConfiguration{}
				var err error
				if c.ProducerBufferSize, err = dec.ReadInt32Field("producerBufferSize", 0); err != nil {
					return nil, err
				}
				if c.Timeouts, err = codec.ReadField[map[string]any](dec, "timeoutMap"); err != nil {
					return nil, err
				}
				if c.Properties, err = codec.ReadField[*ConfigurationProperties](dec, "ConfigurationProperties"); err != nil {
					return nil, err
				}
				return c, nil
			},
		},
		codec.TypeBinding{
			Type:   reflect.TypeOf(&ConfigurationProperties{}),
			Name:   "ConfigurationProperties",
			Encode: encodeProperties,
			Decode: decodeProperties,
		},
		codec.TypeBinding{
			Type:   reflect.TypeOf(&ConfigurationProperty{}),
			Name:   "ConfigurationProperty",
			Encode: encodeProperty,
			Decode: decodeProperty,
		},
	)
}

func encodeProperties(enc codec.ObjectEncoder, v any) error {
	c := v.(*ConfigurationProperties)
	for _, name := range c.Names() {
		if err := enc.WriteObjectContents(c.props[name]); err != nil {
			return err
		}
	}
	return nil
}

func decodeProperties(dec codec.ObjectDecoder) (any, error) {
	c := NewConfigurationProperties()
	for i := dec.NumSubObjects(); i > 0; i-- {
		v, err := dec.ReadObjectContents()
		if err != nil {
			return nil, err
		}
		if p, ok := v.(*ConfigurationProperty); ok {
			c.Add(p)
		}
	}
	return c, nil
}

func encodeProperty(enc codec.ObjectEncoder, v any) error {
	p := v.(*ConfigurationProperty)
	enc.WriteInt32Field("order", p.Order)
	enc.WriteStringField("name", p.Name)
	enc.WriteStringField("helpMessageKey", p.HelpKey)
	enc.WriteStringField("displayMessageKey", p.DisplayKey)
	enc.WriteBoolField("confidential", p.Confidential)
	enc.WriteBoolField("required", p.Required)
	return enc.WriteObjectField("value", p.Value)
}

func decodeProperty(dec codec.ObjectDecoder) (any, error) {
	p := &ConfigurationProperty{}
	var err error
	if p.Order, err = dec.ReadInt32Field("order", 0); err != nil {
		return nil, err
	}
	if p.Name, err = dec.ReadStringField("name", ""); err != nil {
		return nil, err
	}
	if p.HelpKey, err = dec.ReadStringField("helpMessageKey", ""); err != nil {
		return nil, err
	}
	if p.DisplayKey, err = dec.ReadStringField("displayMessageKey", ""); err != nil {
		return nil, err
	}
	if p.Confidential, err = dec.ReadBoolField("confidential", false); err != nil {
		return nil, err
	}
	if p.Required, err = dec.ReadBoolField("required", false); err != nil {
		return nil, err
	}
	if p.Value, err = dec.ReadObjectField("value"); err != nil {
		return nil, err
	}
	return p, nil
}
