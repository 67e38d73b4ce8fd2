package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"connector-rpc/exception"
	"connector-rpc/memconn"
	"connector-rpc/message"
	"connector-rpc/objects"
	"connector-rpc/registry"
	"connector-rpc/transport"
)

// sample is a connector exercising the dispatch paths.
type sample struct {
	disposed *atomic.Int32
}

func (p *sample) Add(ctx context.Context, a, b int32) (int32, error) {
	return a + b, nil
}

func (p *sample) Emit(ctx context.Context, n int32, h objects.ResultsHandler) error {
	for i := int32(0); i < n; i++ {
		if !h(i) {
			return nil
		}
	}
	return nil
}

func (p *sample) Fail(ctx context.Context, uid *objects.Uid) error {
	return exception.AlreadyExists(uid)
}

func (p *sample) Boom(ctx context.Context) (string, error) {
	panic("kaboom")
}

func (p *sample) Channel(ctx context.Context) (chan int, error) {
	return make(chan int), nil
}

func (p *sample) Whoami(ctx context.Context) (string, error) {
	r, ok := RequestFrom(ctx)
	if !ok {
		return "", errors.New("no request in context")
	}
	return r.Locale.String() + "/" + r.Call.Operation, nil
}

func (p *sample) Dispose() {
	p.disposed.Add(1)
}

// Not operations: no context, or no error result.
func (p *sample) Helper() string                     { return "" }
func (p *sample) NoError(ctx context.Context) string { return "" }

var sampleKey = &objects.ConnectorKey{BundleName: "sample", BundleVersion: "1", ConnectorName: "Sample"}

func startServer(t *testing.T, reg registry.Registry, opts ...Option) (*Server, string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	disposed := new(atomic.Int32)
	srv := NewServer(append([]Option{WithKey("key"), WithProducerBufferSize(50)}, opts...)...)
	err = srv.RegisterConnector(&objects.RemoteConnectorInfo{Key: sampleKey}, func(*objects.APIConfiguration) (any, error) {
		return &sample{disposed: disposed}, nil
	})
	if err != nil {
		t.Fatalf("RegisterConnector failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ln, "", reg) }()
	t.Cleanup(func() {
		srv.Shutdown(time.Second)
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
	return srv, ln.Addr().String(), disposed
}

func connect(t *testing.T, addr, key string) (*transport.Conn, error) {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	c := transport.NewConn(nc, message.NewRegistry())
	t.Cleanup(func() { c.Close() })
	_, err = transport.Handshake(c, transport.Greeting{Locale: objects.ParseLocale("de_CH"), Key: key})
	return c, err
}

func request(method string, cfg *objects.APIConfiguration, args ...any) *message.OperationRequest {
	return &message.OperationRequest{
		ConnectorKey:     sampleKey,
		APIConfiguration: cfg,
		Operation:        "Sample",
		Method:           method,
		Arguments:        args,
	}
}

// roundTrip sends req and reads exactly one response part.
func roundTrip(t *testing.T, c *transport.Conn, req *message.OperationRequest) *message.OperationResponsePart {
	t.Helper()
	if err := c.WriteObject(req); err != nil {
		t.Fatalf("WriteObject failed: %v", err)
	}
	v, err := c.ReadObject()
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	part, ok := v.(*message.OperationResponsePart)
	if !ok {
		t.Fatalf("expected OperationResponsePart, got %T", v)
	}
	return part
}

func TestHandshakeWithBadKey(t *testing.T) {
	_, addr, _ := startServer(t, nil)

	c, err := connect(t, addr, "nope")
	if !errors.Is(err, exception.ErrInvalidCredential) {
		t.Fatalf("expected InvalidCredentialException, got %v", err)
	}
	if _, err := c.ReadObject(); err != io.EOF {
		t.Errorf("expected the server to close the connection, got %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	_, addr, _ := startServer(t, nil, WithHandshakeTimeout(100*time.Millisecond))

	idle, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer idle.Close()
	idle.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := idle.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected the server to drop a silent client, got %v", err)
	}

	// The deadline is lifted once the handshake is done.
	c, err := connect(t, addr, "key")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if part := roundTrip(t, c, request("add", nil, int32(1), int32(1))); part.Result != int32(2) {
		t.Fatalf("add after idle period: got %v / %v", part.Result, part.Exception)
	}
}

func TestSequentialRequests(t *testing.T) {
	_, addr, disposed := startServer(t, nil)
	c, err := connect(t, addr, "key")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	// Each request gets exactly one part: the second read would otherwise
	// see a leftover message.
	if part := roundTrip(t, c, request("add", nil, int32(2), int32(3))); part.Exception != nil || part.Result != int32(5) {
		t.Fatalf("add: got %v / %v", part.Result, part.Exception)
	}
	if part := roundTrip(t, c, request("WHOAMI", nil)); part.Result != "de_CH/Sample" {
		t.Fatalf("whoami: got %v / %v", part.Result, part.Exception)
	}
	// One connector per call, plus one to resolve the method.
	if got := disposed.Load(); got != 4 {
		t.Errorf("disposed %d connectors, want 4", got)
	}
}

func TestCreateReadsExactlyOnePart(t *testing.T) {
	srv, addr, _ := startServer(t, nil)
	if err := srv.RegisterConnector(memconn.Info(), memconn.NewStore().Factory()); err != nil {
		t.Fatalf("RegisterConnector failed: %v", err)
	}
	c, err := connect(t, addr, "key")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	part := roundTrip(t, c, &message.OperationRequest{
		ConnectorKey: memconn.Key,
		Operation:    "Create",
		Method:       "create",
		Arguments: []any{
			&objects.ObjectClass{Name: objects.AccountClass},
			[]*objects.Attribute{objects.NewAttribute(objects.NameAttribute, "alice")},
			nil,
		},
	})
	uid, ok := part.Result.(*objects.Uid)
	if part.Exception != nil || !ok || uid.Value == "" {
		t.Fatalf("create: got %v / %v", part.Result, part.Exception)
	}

	// Nothing else follows the part.
	c.SetDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = c.ReadObject()
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected a read timeout, got %v", err)
	}
}

func TestDispatchFailures(t *testing.T) {
	_, addr, _ := startServer(t, nil)
	c, err := connect(t, addr, "key")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	uid := &objects.Uid{Value: "u-1"}

	tests := []struct {
		name string
		req  *message.OperationRequest
		kind exception.Kind
	}{
		{"connector error", request("fail", nil, uid), exception.KindAlreadyExists},
		{"panic", request("boom", nil), exception.KindConnector},
		{"unknown method", request("helper", nil), exception.KindConnector},
		{"wrong argument count", request("add", nil, int32(1)), exception.KindConnector},
		{"wrong argument type", request("add", nil, "1", int32(2)), exception.KindConnector},
		{"unencodable result", request("channel", nil), exception.KindConnector},
		{"unknown connector", &message.OperationRequest{
			ConnectorKey: &objects.ConnectorKey{BundleName: "x"},
			Operation:    "Sample",
			Method:       "add",
		}, exception.KindConnector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part := roundTrip(t, c, tt.req)
			if part.Exception == nil {
				t.Fatalf("expected an exception, got result %v", part.Result)
			}
			if !exception.IsKind(part.Exception, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, part.Exception)
			}
		})
	}

	part := roundTrip(t, c, request("fail", nil, uid))
	if got := exception.UIDOf(part.Exception); got == nil || got.Value != "u-1" {
		t.Errorf("uid: got %v", got)
	}
}

func TestStreamingFlowControl(t *testing.T) {
	_, addr, _ := startServer(t, nil)
	c, err := connect(t, addr, "key")
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	cfg := &objects.APIConfiguration{ProducerBufferSize: 3}
	if err := c.WriteObject(request("emit", cfg, int32(100), nil)); err != nil {
		t.Fatalf("WriteObject failed: %v", err)
	}

	var items []int32
	pauses := 0
	for {
		v, err := c.ReadObject()
		if err != nil {
			t.Fatalf("ReadObject failed: %v", err)
		}
		switch m := v.(type) {
		case *message.OperationResponsePart:
			if m.Exception != nil {
				t.Fatalf("unexpected exception: %v", m.Exception)
			}
			items = append(items, m.Result.(int32))
			continue
		case *message.OperationResponsePause:
			pauses++
			var reply any = &message.OperationRequestMoreData{}
			if pauses == 2 {
				reply = &message.OperationRequestStopData{}
			}
			if err := c.WriteObject(reply); err != nil {
				t.Fatalf("WriteObject failed: %v", err)
			}
			continue
		case *message.OperationResponseEnd:
		default:
			t.Fatalf("unexpected %T", v)
		}
		break
	}

	if len(items) != 6 || items[5] != 5 {
		t.Errorf("items: got %v, want 0..5", items)
	}
	if pauses != 2 {
		t.Errorf("pauses: got %d, want 2", pauses)
	}

	// The connection is still usable.
	if part := roundTrip(t, c, request("add", nil, int32(1), int32(1))); part.Result != int32(2) {
		t.Errorf("add after stream: got %v / %v", part.Result, part.Exception)
	}
}

func TestHelloLevels(t *testing.T) {
	srv, addr, _ := startServer(t, nil)
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	c := transport.NewConn(nc, message.NewRegistry())
	defer c.Close()

	resp, err := transport.Handshake(c, transport.Greeting{
		Key:   "key",
		Hello: &message.HelloRequest{InfoLevel: message.InfoLevelServerInfo | message.InfoLevelConnectorKeyList},
	})
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if got, _ := resp.ServerInfo[message.ServerStartTime].(int64); got != srv.started.UnixMilli() {
		t.Errorf("start time: got %v", resp.ServerInfo)
	}
	if len(resp.ConnectorKeys) != 1 || *resp.ConnectorKeys[0] != *sampleKey {
		t.Errorf("keys: got %v", resp.ConnectorKeys)
	}
	if resp.ConnectorInfos != nil {
		t.Errorf("infos were not requested, got %v", resp.ConnectorInfos)
	}
}

func TestShutdownDeregisters(t *testing.T) {
	reg := registry.NewStaticRegistry("connectors")
	srv, addr, _ := startServer(t, reg)

	// Registration happens before the first accept.
	if _, err := connect(t, addr, "key"); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	instances, _ := reg.Discover(context.Background(), "connectors")
	if len(instances) != 1 || instances[0].Addr != addr || !instances[0].Hosts(sampleKey.String()) {
		t.Fatalf("registered instances: got %v", instances)
	}

	if err := srv.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	instances, _ = reg.Discover(context.Background(), "connectors")
	if len(instances) != 0 {
		t.Errorf("instances after shutdown: got %v", instances)
	}
}

func TestServiceMethods(t *testing.T) {
	svc, err := serviceFor(&sample{disposed: new(atomic.Int32)})
	if err != nil {
		t.Fatalf("serviceFor failed: %v", err)
	}
	for _, name := range []string{"add", "emit", "fail", "boom", "channel", "whoami"} {
		if _, ok := svc.method(name); !ok {
			t.Errorf("method %s not registered", name)
		}
	}
	for _, name := range []string{"helper", "noerror", "dispose"} {
		if _, ok := svc.method(name); ok {
			t.Errorf("%s should not be an operation", name)
		}
	}
	if m, _ := svc.method("Emit"); !m.streaming() {
		t.Error("emit should be streaming")
	}
	if m, _ := svc.method("add"); m.streaming() {
		t.Error("add should not be streaming")
	}

	again, _ := serviceFor(&sample{})
	if again != svc {
		t.Error("service not cached per type")
	}
	if _, err := serviceFor(struct{}{}); err == nil {
		t.Error("a type without operations should be rejected")
	}
}
