package server

import (
	"context"

	"connector-rpc/middleware"
	"connector-rpc/objects"
)

// Request is what the server knows about the call being served. Connector
// methods reach it with RequestFrom.
type Request struct {
	Call       *middleware.Call
	Locale     *objects.Locale
	RemoteAddr string

	results objects.ResultsHandler
}

type requestKey struct{}

func withRequest(ctx context.Context, r *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the request ctx belongs to.
func RequestFrom(ctx context.Context) (*Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*Request)
	return r, ok
}
