// Package middleware wraps operation calls in decorators.
//
// Middlewares compose like an onion: Chain(a, b)(h) runs a, then b, then h.
// The client and the server use the same chain type around their invokers.
package middleware

import (
	"context"

	"connector-rpc/objects"
)

// Call describes one operation invocation.
type Call struct {
	ID        string
	Key       *objects.ConnectorKey
	Config    *objects.APIConfiguration
	Operation string
	Method    string
	Args      []any
	// Streaming is set when the call delivers its results to a handler.
	Streaming bool
}

type HandlerFunc func(ctx context.Context, call *Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
