// Package client invokes operations on connectors hosted by remote connector
// servers.
//
// Call path:
//
//	Invoke → Middleware Chain → invoker
//	  → discover servers hosting the connector → balancer picks one
//	  → dial (bounded per server) → handshake → OperationRequest
//	  → one OperationResponsePart, or a flow-controlled stream into the handler
//
// Each call uses its own connection, closed when the call returns.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"connector-rpc/codec"
	"connector-rpc/exception"
	"connector-rpc/loadbalance"
	"connector-rpc/logx"
	"connector-rpc/message"
	"connector-rpc/middleware"
	"connector-rpc/objects"
	"connector-rpc/protocol"
	"connector-rpc/registry"
	"connector-rpc/stream"
	"connector-rpc/transport"
)

// Client sends operation requests to connector servers.
type Client struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	dialer   *transport.Dialer
	reg      *codec.Registry
	key      string
	locale   *objects.Locale
	service  string

	middlewares []middleware.Middleware
	invoke      middleware.HandlerFunc

	mu        sync.Mutex
	instances []registry.ServerInstance
	watching  bool
	ctx       context.Context
	cancel    context.CancelFunc
	closers   []func() error
}

// Option configures a Client.
type Option func(*Client)

// WithKey sets the shared key presented to servers.
func WithKey(key string) Option {
	return func(c *Client) { c.key = key }
}

// WithLocale sets the locale sent in the handshake.
func WithLocale(locale *objects.Locale) Option {
	return func(c *Client) { c.locale = locale }
}

// WithService sets the discovery service name.
func WithService(service string) Option {
	return func(c *Client) { c.service = service }
}

// WithDialer replaces the default dialer.
func WithDialer(d *transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithCodecRegistry replaces the default message registry.
func WithCodecRegistry(reg *codec.Registry) Option {
	return func(c *Client) { c.reg = reg }
}

// NewClient returns a client that finds servers through reg and picks among
// them with bal.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry: reg,
		balancer: bal,
		locale:   objects.ParseLocale("en_US"),
		service:  "connectors",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reg == nil {
		c.reg = message.NewRegistry()
	}
	if c.dialer == nil {
		c.dialer = transport.NewDialer(c.reg, 5*time.Second, 8)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.invoke = c.invoker
	return c
}

// Use registers a middleware. The first one registered is outermost.
func (c *Client) Use(mw middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw)
	c.invoke = middleware.Chain(c.middlewares...)(c.invoker)
}

// Close stops watching discovery and releases what NewFromConfig opened.
func (c *Client) Close() error {
	c.cancel()
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// Invoke runs method of the connector identified by key. At most one
// argument may be an objects.ResultsHandler: the call then streams its
// results into it and returns a nil result.
//
// Failures of the remote operation come back as the remote exception.
// Transport failures are ConnectorIOException, a server that cannot be
// reached is ConnectionFailedException and an expired ctx is
// OperationTimeoutException.
func (c *Client) Invoke(ctx context.Context, key *objects.ConnectorKey, cfg *objects.APIConfiguration, operation, method string, args ...any) (any, error) {
	if key == nil {
		return nil, exception.New(exception.KindConnector, "connector key is required")
	}
	streaming := false
	for _, a := range args {
		if handlerOf(a) != nil {
			if streaming {
				return nil, exception.Newf(exception.KindConnector, "%s: more than one results handler", method)
			}
			streaming = true
		}
	}
	call := &middleware.Call{
		Key:       key,
		Config:    cfg,
		Operation: operation,
		Method:    method,
		Args:      args,
		Streaming: streaming,
	}
	return c.invoke(ctx, call)
}

func handlerOf(v any) objects.ResultsHandler {
	switch h := v.(type) {
	case objects.ResultsHandler:
		return h
	case func(any) bool:
		return h
	}
	return nil
}

// invoker performs one call on one connection. It is wrapped by the
// middleware chain.
func (c *Client) invoker(ctx context.Context, call *middleware.Call) (any, error) {
	addr, err := c.pick(ctx, call.Key)
	if err != nil {
		return nil, err
	}

	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.interrupted(ctx, call)
		}
		return nil, exception.Wrap(exception.KindConnectionFailed, err, "cannot connect to "+addr)
	}
	defer conn.Close()
	// A cancelled call unblocks by closing its connection; the server sees
	// the close and drops the request.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	result, err := c.exchange(ctx, conn, call)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, c.interrupted(ctx, call)
	}
	if isRemote(err) {
		return nil, err
	}
	return nil, exception.Wrap(exception.KindConnectorIO, err, "call to "+addr+" failed")
}

func (c *Client) exchange(ctx context.Context, conn *transport.Conn, call *middleware.Call) (any, error) {
	if _, err := transport.Handshake(conn, transport.Greeting{Locale: c.locale, Key: c.key}); err != nil {
		return nil, err
	}

	var handler objects.ResultsHandler
	wire := make([]any, len(call.Args))
	for i, a := range call.Args {
		if h := handlerOf(a); h != nil {
			handler = h
			continue
		}
		wire[i] = a
	}
	req := &message.OperationRequest{
		ConnectorKey:     call.Key,
		APIConfiguration: call.Config,
		Operation:        call.Operation,
		Method:           call.Method,
		Arguments:        wire,
	}
	if err := conn.WriteObject(req); err != nil {
		return nil, err
	}

	if handler != nil {
		consumer := stream.NewConsumer(conn, handler)
		err := consumer.Run(ctx)
		if consumer.Stopped() {
			logx.Log.Debug().Str("call_id", call.ID).
				Int("delivered", consumer.Delivered()).
				Int("discarded", consumer.Discarded()).
				Msg("stream stopped by handler")
		}
		return nil, err
	}

	v, err := conn.ReadObject()
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case *message.OperationResponsePart:
		if m.Exception != nil {
			return nil, m.Exception
		}
		return m.Result, nil
	case *message.ErrorResponse:
		if m.Exception == nil {
			return nil, protocol.Errorf("error response without an exception")
		}
		return nil, m.Exception
	default:
		return nil, protocol.Errorf("expected OperationResponsePart, got %T", v)
	}
}

func (c *Client) interrupted(ctx context.Context, call *middleware.Call) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return exception.Wrap(exception.KindOperationTimeout, ctx.Err(), call.Operation+" timed out")
	}
	return exception.Wrap(exception.KindConnectorIO, ctx.Err(), call.Operation+" cancelled")
}

// isRemote reports whether err was decoded from the server rather than raised
// by the connection.
func isRemote(err error) bool {
	switch err.(type) {
	case *exception.Error, *exception.RemoteError:
		return true
	}
	return false
}

// pick chooses the server for a call on key.
func (c *Client) pick(ctx context.Context, key *objects.ConnectorKey) (string, error) {
	instances, err := c.discover(ctx)
	if err != nil {
		return "", exception.Wrap(exception.KindConnectionFailed, err, "discovery failed")
	}
	k := key.String()
	hosting := make([]registry.ServerInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Hosts(k) {
			hosting = append(hosting, inst)
		}
	}
	inst, err := c.balancer.Pick(k, hosting)
	if err != nil {
		return "", exception.Wrap(exception.KindConnectionFailed, err, "no server hosts "+k)
	}
	return inst.Addr, nil
}

// discover returns the cached instance list. The first call loads it and
// starts a watch that keeps it current until Close.
func (c *Client) discover(ctx context.Context) ([]registry.ServerInstance, error) {
	c.mu.Lock()
	if c.watching {
		instances := c.instances
		c.mu.Unlock()
		return instances, nil
	}
	c.mu.Unlock()

	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.watching {
		c.watching = true
		c.instances = instances
		go c.watch(c.registry.Watch(c.ctx, c.service))
	}
	return c.instances, nil
}

func (c *Client) watch(updates <-chan []registry.ServerInstance) {
	for instances := range updates {
		logx.Log.Debug().Str("service", c.service).Int("instances", len(instances)).Msg("server list changed")
		c.mu.Lock()
		c.instances = instances
		c.mu.Unlock()
	}
}

// Hello opens a connection to addr and returns the server's answer to a
// hello at level, such as message.InfoLevelConnectorInfo.
func (c *Client) Hello(ctx context.Context, addr string, level int32) (*message.HelloResponse, error) {
	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, exception.Wrap(exception.KindConnectionFailed, err, "cannot connect to "+addr)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	resp, err := transport.Handshake(conn, transport.Greeting{
		Locale: c.locale,
		Key:    c.key,
		Hello:  &message.HelloRequest{InfoLevel: level},
	})
	if err != nil && !isRemote(err) {
		return nil, exception.Wrap(exception.KindConnectorIO, err, "hello to "+addr+" failed")
	}
	return resp, err
}
