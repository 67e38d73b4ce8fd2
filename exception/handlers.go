package exception

import (
	"reflect"

	"connector-rpc/codec"
	"connector-rpc/objects"
)

// RemoteWrappedName is the wire name of errors sent as an Envelope.
const RemoteWrappedName = "RemoteWrappedException"

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// RegisterHandlers adds one binding per well-known kind, then a catch-all
// binding for any other error. Object payload bindings must already be
// registered.
func RegisterHandlers(reg *codec.Registry) {
	for _, kind := range Kinds() {
		reg.MustRegister(codec.TypeBinding{
			Type:   reflect.TypeOf(&Error{}),
			Name:   kind.String(),
			Encode: encodeError,
			Decode: decodeError(kind),
		})
	}
	reg.MustRegister(codec.TypeBinding{
		Type:     errorType,
		Name:     RemoteWrappedName,
		Encode:   encodeEnvelope,
		Decode:   decodeEnvelope,
		Subtypes: true,
	})
}

func encodeError(enc codec.ObjectEncoder, v any) error {
	e := v.(*Error)
	enc.WriteStringField("message", e.Message)
	if e.UID != nil {
		if err := enc.WriteObjectField("uid", e.UID); err != nil {
			return err
		}
	}
	trace := e.trace
	if trace == "" {
		trace = RenderTrace(e)
	}
	enc.WriteStringField("stackTrace", trace)
	if e.Cause != nil {
		return enc.WriteObjectField("cause", e.Cause)
	}
	return nil
}

func decodeError(kind Kind) codec.DecodeFunc {
	return func(dec codec.ObjectDecoder) (any, error) {
		e := &Error{Kind: kind}
		var err error
		if e.Message, err = dec.ReadStringField("message", ""); err != nil {
			return nil, err
		}
		if e.UID, err = codec.ReadField[*objects.Uid](dec, "uid"); err != nil {
			return nil, err
		}
		if e.trace, err = dec.ReadStringField("stackTrace", ""); err != nil {
			return nil, err
		}
		if e.Cause, err = codec.ReadField[error](dec, "cause"); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func encodeEnvelope(enc codec.ObjectEncoder, v any) error {
	env := Capture(v.(error))
	enc.WriteInternedField("class", env.ClassName)
	enc.WriteStringField("message", env.Message)
	if env.Trace != "" {
		enc.WriteStringField("stackTrace", env.Trace)
	}
	if env.Cause != nil {
		return enc.WriteObjectField("cause", env.Cause.Reconstruct())
	}
	return nil
}

func decodeEnvelope(dec codec.ObjectDecoder) (any, error) {
	r := &RemoteError{}
	var err error
	if r.ClassName, err = dec.ReadInternedField("class", ""); err != nil {
		return nil, err
	}
	if r.Message, err = dec.ReadStringField("message", ""); err != nil {
		return nil, err
	}
	if r.Trace, err = dec.ReadStringField("stackTrace", ""); err != nil {
		return nil, err
	}
	if r.Cause, err = codec.ReadField[error](dec, "cause"); err != nil {
		return nil, err
	}
	return r, nil
}
