package transport

import (
	"connector-rpc/message"
	"connector-rpc/objects"
	"connector-rpc/protocol"
)

// Greeting is what a client sends to open a connection.
type Greeting struct {
	Locale *objects.Locale
	Key    string
	Hello  *message.HelloRequest
}

// Handshake sends the greeting and waits for the server's answer. An
// ErrorResponse, or a HelloResponse carrying an exception, is returned as the
// carried error.
func Handshake(c *Conn, g Greeting) (*message.HelloResponse, error) {
	locale := g.Locale
	if locale == nil {
		locale = &objects.Locale{}
	}
	hello := g.Hello
	if hello == nil {
		hello = &message.HelloRequest{InfoLevel: message.InfoLevelConnectorInfo}
	}
	for _, v := range []any{locale, g.Key, hello} {
		if err := c.WriteObject(v); err != nil {
			return nil, err
		}
	}

	v, err := c.ReadObject()
	if err != nil {
		return nil, err
	}
	switch resp := v.(type) {
	case *message.HelloResponse:
		if resp.Exception != nil {
			return nil, resp.Exception
		}
		return resp, nil
	case *message.ErrorResponse:
		if resp.Exception == nil {
			return nil, protocol.Errorf("error response without an exception")
		}
		return nil, resp.Exception
	default:
		return nil, protocol.Errorf("expected HelloResponse, got %T", v)
	}
}

// ReadGreeting reads the three handshake messages on the server side.
func ReadGreeting(c *Conn) (*Greeting, error) {
	g := &Greeting{}
	v, err := c.ReadObject()
	if err != nil {
		return nil, err
	}
	if g.Locale, err = expect[*objects.Locale](v); err != nil {
		return nil, err
	}
	if v, err = c.ReadObject(); err != nil {
		return nil, err
	}
	if g.Key, err = expect[string](v); err != nil {
		return nil, err
	}
	if v, err = c.ReadObject(); err != nil {
		return nil, err
	}
	if g.Hello, err = expect[*message.HelloRequest](v); err != nil {
		return nil, err
	}
	return g, nil
}

func expect[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, protocol.Errorf("handshake: expected %T, got %T", zero, v)
	}
	return t, nil
}
