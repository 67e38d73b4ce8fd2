// Package server implements the connector server: it accepts connections,
// checks the handshake key, dispatches operation requests to registered
// connectors and streams their results back under flow control.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → handshake → for each OperationRequest, in turn:
//	    → Middleware Chain → businessHandler (reflect.Call on a fresh connector)
//	    → one OperationResponsePart, or Part... Pause/MoreData... End when streaming
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"connector-rpc/codec"
	"connector-rpc/exception"
	"connector-rpc/logx"
	"connector-rpc/message"
	"connector-rpc/metrics"
	"connector-rpc/middleware"
	"connector-rpc/objects"
	"connector-rpc/registry"
	"connector-rpc/stream"
	"connector-rpc/transport"
)

// Factory creates a connector instance configured for one call. The
// instance's operation methods are found by reflection; if it has a
// Dispose() method, that is called when the call ends.
type Factory func(cfg *objects.APIConfiguration) (any, error)

type connectorEntry struct {
	info    *objects.RemoteConnectorInfo
	factory Factory
}

// Server hosts connectors for remote clients.
type Server struct {
	reg                *codec.Registry
	key                string
	producerBufferSize int
	service            string
	ttl                int64
	handshakeTimeout   time.Duration
	started            time.Time

	mu         sync.RWMutex
	connectors map[string]*connectorEntry // ConnectorKey.String() → entry
	conns      map[*transport.Conn]struct{}

	listener      net.Listener
	wg            sync.WaitGroup // in-flight requests
	shutdown      atomic.Bool
	middlewares   []middleware.Middleware
	handler       middleware.HandlerFunc
	registry      registry.Registry // nil when not using discovery
	advertiseAddr string
}

// Option configures a Server.
type Option func(*Server)

// WithKey sets the shared key clients must present.
func WithKey(key string) Option {
	return func(s *Server) { s.key = key }
}

// WithProducerBufferSize sets how many streamed items are sent between
// pauses when a call does not choose.
func WithProducerBufferSize(n int) Option {
	return func(s *Server) { s.producerBufferSize = n }
}

// WithDiscovery sets the service name and lease TTL used when registering.
func WithDiscovery(service string, ttl int64) Option {
	return func(s *Server) {
		s.service = service
		s.ttl = ttl
	}
}

// DefaultHandshakeTimeout bounds how long a new connection may take to
// complete the handshake.
const DefaultHandshakeTimeout = 30 * time.Second

// WithHandshakeTimeout bounds the handshake of each new connection. Zero
// disables the bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) { s.handshakeTimeout = d }
}

// WithCodecRegistry replaces the default message registry, for connectors
// that bring their own payload types.
func WithCodecRegistry(reg *codec.Registry) Option {
	return func(s *Server) { s.reg = reg }
}

// NewServer creates a server with no connectors.
func NewServer(opts ...Option) *Server {
	s := &Server{
		producerBufferSize: stream.DefaultThreshold,
		service:            "connectors",
		ttl:                10,
		handshakeTimeout:   DefaultHandshakeTimeout,
		started:            time.Now(),
		connectors:         make(map[string]*connectorEntry),
		conns:              make(map[*transport.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reg == nil {
		s.reg = message.NewRegistry()
	}
	return s
}

// RegisterConnector makes a connector available under info.Key.
func (s *Server) RegisterConnector(info *objects.RemoteConnectorInfo, factory Factory) error {
	if info == nil || info.Key == nil {
		return fmt.Errorf("server: connector info needs a key")
	}
	if factory == nil {
		return fmt.Errorf("server: connector %s needs a factory", info.Key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := info.Key.String()
	if _, dup := s.connectors[k]; dup {
		return fmt.Errorf("server: connector %s already registered", k)
	}
	s.connectors[k] = &connectorEntry{info: info, factory: factory}
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are
// added. Call before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. advertiseAddr is the
// address registered with reg; pass a nil reg to skip discovery.
func (s *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ln net.Listener, advertiseAddr string, reg registry.Registry) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Built once: Chain(A, B)(h) runs A, then B, then h.
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = ln.Addr().String()
	}
	s.advertiseAddr = advertiseAddr
	if reg != nil {
		s.registry = reg
		inst := registry.ServerInstance{Addr: advertiseAddr, Weight: 1, Connectors: s.connectorKeys()}
		if err := reg.Register(context.Background(), s.service, inst, s.ttl); err != nil {
			ln.Close()
			return fmt.Errorf("server: register %s: %w", advertiseAddr, err)
		}
	}
	logx.Log.Info().Str("addr", ln.Addr().String()).Int("connectors", len(s.connectorKeys())).Msg("connector server listening")

	for {
		nc, err := ln.Accept()
		if err != nil {
			// Closing the listener in Shutdown makes Accept fail.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(nc)
	}
}

// Addr returns the listener address once serving has started.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown deregisters from discovery, stops accepting, waits up to timeout
// for in-flight requests and then closes every connection.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Deregister first so clients stop picking this server.
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.registry.Deregister(ctx, s.service, s.advertiseAddr); err != nil {
			logx.Log.Warn().Err(err).Msg("deregistration failed")
		}
		cancel()
	}

	// Set the flag before closing so Serve returns nil.
	s.shutdown.Store(true)
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for ongoing requests to finish")
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	return err
}

func (s *Server) track(c *transport.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) connectorKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectorKeysLocked()
}

func (s *Server) connector(key *objects.ConnectorKey) (*connectorEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.connectors[key.String()]
	return e, ok
}

// handleConn runs the handshake and then serves requests one at a time until
// the client closes the connection.
func (s *Server) handleConn(nc net.Conn) {
	c := transport.NewConn(nc, s.reg)
	s.track(c, true)
	defer func() {
		s.track(c, false)
		c.Close()
	}()
	metrics.ConnOpened()
	defer metrics.ConnClosed()

	log := logx.Log.With().Str("remote", nc.RemoteAddr().String()).Logger()

	if s.handshakeTimeout > 0 {
		c.SetDeadline(time.Now().Add(s.handshakeTimeout))
	}
	greeting, err := transport.ReadGreeting(c)
	if err != nil {
		log.Debug().Err(err).Msg("handshake failed")
		if errors.Is(err, codec.ErrProtocol) {
			c.WriteObject(&message.ErrorResponse{Exception: exception.Wrap(exception.KindConnector, err, "bad handshake")})
		}
		return
	}
	if greeting.Key != s.key {
		metrics.HandshakeFailed()
		log.Warn().Msg("client presented an invalid key")
		c.WriteObject(&message.ErrorResponse{
			Exception: exception.New(exception.KindInvalidCredential, "remote framework key is invalid"),
		})
		return
	}
	if err := c.WriteObject(s.hello(greeting.Hello)); err != nil {
		return
	}
	if s.handshakeTimeout > 0 {
		c.SetDeadline(time.Time{})
	}

	for {
		v, err := c.ReadObject()
		if err != nil {
			if err != io.EOF && !s.shutdown.Load() {
				log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		req, ok := v.(*message.OperationRequest)
		if !ok {
			c.WriteObject(&message.ErrorResponse{
				Exception: exception.Newf(exception.KindConnector, "expected OperationRequest, got %T", v),
			})
			return
		}
		if s.shutdown.Load() {
			c.WriteObject(&message.ErrorResponse{
				Exception: exception.New(exception.KindConnectionBroken, "server is shutting down"),
			})
			return
		}
		if err := s.serveRequest(c, req, greeting.Locale); err != nil {
			log.Debug().Err(err).Str("operation", req.Operation).Msg("request aborted")
			return
		}
	}
}

func (s *Server) hello(h *message.HelloRequest) *message.HelloResponse {
	resp := &message.HelloResponse{}
	if h.Wants(message.InfoLevelServerInfo) {
		resp.ServerInfo = map[string]any{message.ServerStartTime: s.started.UnixMilli()}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.connectorKeysLocked()
	if h.Wants(message.InfoLevelConnectorKeyList) {
		resp.ConnectorKeys = make([]*objects.ConnectorKey, 0, len(keys))
		for _, k := range keys {
			resp.ConnectorKeys = append(resp.ConnectorKeys, s.connectors[k].info.Key)
		}
	}
	if h.Wants(message.InfoLevelConnectorInfo) {
		resp.ConnectorInfos = make([]*objects.RemoteConnectorInfo, 0, len(keys))
		for _, k := range keys {
			resp.ConnectorInfos = append(resp.ConnectorInfos, s.connectors[k].info)
		}
	}
	return resp
}

func (s *Server) connectorKeysLocked() []string {
	keys := make([]string, 0, len(s.connectors))
	for k := range s.connectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// serveRequest answers one OperationRequest. It returns an error only when
// the connection can no longer be used.
func (s *Server) serveRequest(c *transport.Conn, req *message.OperationRequest, locale *objects.Locale) error {
	s.wg.Add(1)
	defer s.wg.Done()

	call := &middleware.Call{
		ID:        uuid.NewString(),
		Key:       req.ConnectorKey,
		Config:    req.APIConfiguration,
		Operation: req.Operation,
		Method:    req.Method,
		Args:      req.Arguments,
	}
	m, err := s.resolve(call)
	if err != nil {
		return c.WriteObject(&message.OperationResponsePart{Exception: err})
	}
	call.Streaming = m.streaming()

	r := &Request{Call: call, Locale: locale, RemoteAddr: c.RemoteAddr().String()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if call.Streaming {
		threshold := s.producerBufferSize
		if n := req.APIConfiguration; n != nil && n.ProducerBufferSize > 0 {
			threshold = int(n.ProducerBufferSize)
		}
		producer := stream.NewProducer(c, threshold)
		r.results = producer.Handle
		_, err := s.handler(withRequest(ctx, r), call)
		if producer.Stopped() {
			logx.Log.Debug().Str("call_id", call.ID).Int("sent", producer.Sent()).Msg("stream stopped by client")
		}
		return producer.Finish(err)
	}

	result, err := s.handler(withRequest(ctx, r), call)
	part := &message.OperationResponsePart{Result: result}
	if err != nil {
		part = &message.OperationResponsePart{Exception: err}
	}
	if err := c.WriteObject(part); err != nil {
		if !errors.Is(err, codec.ErrProtocol) {
			return err
		}
		// Nothing was written for a part that cannot be encoded.
		return c.WriteObject(&message.OperationResponsePart{
			Exception: exception.Wrap(exception.KindConnector, err, "cannot encode result"),
		})
	}
	return nil
}

// resolve finds the method a call targets without creating a connector.
func (s *Server) resolve(call *middleware.Call) (*methodType, error) {
	if call.Key == nil {
		return nil, exception.New(exception.KindConnector, "request has no connector key")
	}
	entry, ok := s.connector(call.Key)
	if !ok {
		return nil, exception.Newf(exception.KindConnector, "no connector %s on this server", call.Key)
	}
	instance, err := entry.factory(call.Config)
	if err != nil {
		return nil, configurationError(err)
	}
	dispose(instance)
	svc, err := serviceFor(instance)
	if err != nil {
		return nil, exception.Wrap(exception.KindConnector, err, "invalid connector")
	}
	m, ok := svc.method(call.Method)
	if !ok {
		return nil, exception.Newf(exception.KindConnector, "connector %s has no method %s", call.Key, call.Method)
	}
	return m, nil
}

// businessHandler creates a connector for the call and invokes the method.
// It is wrapped by the middleware chain.
func (s *Server) businessHandler(ctx context.Context, call *middleware.Call) (any, error) {
	entry, ok := s.connector(call.Key)
	if !ok {
		return nil, exception.Newf(exception.KindConnector, "no connector %s on this server", call.Key)
	}
	instance, err := entry.factory(call.Config)
	if err != nil {
		return nil, configurationError(err)
	}
	defer dispose(instance)

	svc, err := serviceFor(instance)
	if err != nil {
		return nil, exception.Wrap(exception.KindConnector, err, "invalid connector")
	}
	m, ok := svc.method(call.Method)
	if !ok {
		return nil, exception.Newf(exception.KindConnector, "connector %s has no method %s", call.Key, call.Method)
	}

	var results objects.ResultsHandler
	if r, ok := RequestFrom(ctx); ok {
		results = r.results
	}
	if m.streaming() && results == nil {
		return nil, exception.Newf(exception.KindConnector, "%s streams results but the call has no handler", call.Method)
	}
	return svc.call(ctx, instance, m, call.Args, results)
}

func configurationError(err error) error {
	var e *exception.Error
	if errors.As(err, &e) {
		return err
	}
	return exception.Wrap(exception.KindConfiguration, err, "cannot create connector")
}

func dispose(instance any) {
	if d, ok := instance.(interface{ Dispose() }); ok {
		d.Dispose()
	}
}
