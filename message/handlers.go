package message

import (
	"reflect"

	"connector-rpc/codec"
	"connector-rpc/exception"
	"connector-rpc/objects"
)

// NewRegistry returns a registry holding every binding a connector
// connection needs: primitives, payload objects, errors and messages.
func NewRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	objects.RegisterHandlers(reg)
	exception.RegisterHandlers(reg)
	RegisterHandlers(reg)
	return reg
}

// RegisterHandlers adds the message bindings.
func RegisterHandlers(reg *codec.Registry) {
	reg.MustRegister(
		codec.TypeBinding{
			Type: reflect.TypeOf(&HelloRequest{}),
			Name: "HelloRequest",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				enc.WriteInt32Field("infoLevel", v.(*HelloRequest).InfoLevel)
				return nil
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				level, err := dec.ReadInt32Field("infoLevel", InfoLevelConnectorInfo)
				return &HelloRequest{InfoLevel: level}, err
			},
		},
		codec.TypeBinding{
			Type:   reflect.TypeOf(&HelloResponse{}),
			Name:   "HelloResponse",
			Encode: encodeHelloResponse,
			Decode: decodeHelloResponse,
		},
		codec.TypeBinding{
			Type:   reflect.TypeOf(&OperationRequest{}),
			Name:   "OperationRequest",
			Encode: encodeOperationRequest,
			Decode: decodeOperationRequest,
		},
		codec.TypeBinding{
			Type: reflect.TypeOf(&OperationResponsePart{}),
			Name: "OperationResponsePart",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				p := v.(*OperationResponsePart)
				if err := enc.WriteObjectField("exception", p.Exception); err != nil {
					return err
				}
				return enc.WriteObjectField("result", p.Result)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				p := &OperationResponsePart{}
				var err error
				if p.Exception, err = codec.ReadField[error](dec, "exception"); err != nil {
					return nil, err
				}
				if p.Result, err = dec.ReadObjectField("result"); err != nil {
					return nil, err
				}
				return p, nil
			},
		},
		emptyBinding[OperationResponsePause]("OperationResponsePause"),
		emptyBinding[OperationResponseEnd]("OperationResponseEnd"),
		emptyBinding[OperationRequestMoreData]("OperationRequestMoreData"),
		emptyBinding[OperationRequestStopData]("OperationRequestStopData"),
		codec.TypeBinding{
			Type: reflect.TypeOf(&ErrorResponse{}),
			Name: "ErrorResponse",
			Encode: func(enc codec.ObjectEncoder, v any) error {
				return enc.WriteObjectField("exception", v.(*ErrorResponse).Exception)
			},
			Decode: func(dec codec.ObjectDecoder) (any, error) {
				exc, err := codec.ReadField[error](dec, "exception")
				return &ErrorResponse{Exception: exc}, err
			},
		},
	)
}

func emptyBinding[T any](name string) codec.TypeBinding {
	return codec.TypeBinding{
		Type:   reflect.TypeOf(new(T)),
		Name:   name,
		Encode: func(codec.ObjectEncoder, any) error { return nil },
		Decode: func(codec.ObjectDecoder) (any, error) { return new(T), nil },
	}
}

func encodeHelloResponse(enc codec.ObjectEncoder, v any) error {
	h := v.(*HelloResponse)
	if err := enc.WriteObjectField("exception", h.Exception); err != nil {
		return err
	}
	if err := enc.WriteObjectField("serverInfoMap", h.ServerInfo); err != nil {
		return err
	}
	if err := enc.WriteObjectField("ConnectorInfos", h.ConnectorInfos); err != nil {
		return err
	}
	return enc.WriteObjectField("ConnectorKeys", h.ConnectorKeys)
}

func decodeHelloResponse(dec codec.ObjectDecoder) (any, error) {
	h := &HelloResponse{}
	var err error
	if h.Exception, err = codec.ReadField[error](dec, "exception"); err != nil {
		return nil, err
	}
	if h.ServerInfo, err = codec.ReadField[map[string]any](dec, "serverInfoMap"); err != nil {
		return nil, err
	}
	if h.ConnectorInfos, err = codec.ReadField[[]*objects.RemoteConnectorInfo](dec, "ConnectorInfos"); err != nil {
		return nil, err
	}
	if h.ConnectorKeys, err = codec.ReadField[[]*objects.ConnectorKey](dec, "ConnectorKeys"); err != nil {
		return nil, err
	}
	return h, nil
}

func encodeOperationRequest(enc codec.ObjectEncoder, v any) error {
	r := v.(*OperationRequest)
	if err := enc.WriteObjectField("ConnectorKey", r.ConnectorKey); err != nil {
		return err
	}
	if err := enc.WriteObjectField("APIConfiguration", r.APIConfiguration); err != nil {
		return err
	}
	enc.WriteInternedField("operation", r.Operation)
	enc.WriteInternedField("operationMethodName", r.Method)
	args := r.Arguments
	if args == nil {
		args = []any{}
	}
	return enc.WriteObjectField("Arguments", args)
}

func decodeOperationRequest(dec codec.ObjectDecoder) (any, error) {
	r := &OperationRequest{}
	var err error
	if r.ConnectorKey, err = codec.ReadField[*objects.ConnectorKey](dec, "ConnectorKey"); err != nil {
		return nil, err
	}
	if r.APIConfiguration, err = codec.ReadField[*objects.APIConfiguration](dec, "APIConfiguration"); err != nil {
		return nil, err
	}
	if r.Operation, err = dec.ReadInternedField("operation", ""); err != nil {
		return nil, err
	}
	if r.Method, err = dec.ReadInternedField("operationMethodName", ""); err != nil {
		return nil, err
	}
	if r.Arguments, err = codec.ReadField[[]any](dec, "Arguments"); err != nil {
		return nil, err
	}
	if r.Arguments == nil {
		r.Arguments = []any{}
	}
	return r, nil
}
