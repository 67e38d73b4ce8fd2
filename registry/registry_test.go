package registry

import (
	"context"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestInstanceEncoding(t *testing.T) {
	in := ServerInstance{Addr: "127.0.0.1:8759", Weight: 3, Version: "1.0", Connectors: []string{"b:1:c"}}

	first, err := encodeInstance(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	second, _ := encodeInstance(in)
	if string(first) != string(second) {
		t.Error("encoding should be deterministic")
	}

	out, err := decodeInstance(first)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if _, err := decodeInstance([]byte("not cbor")); err == nil {
		t.Error("expected malformed entry to fail")
	}
}

func TestHosts(t *testing.T) {
	all := ServerInstance{Addr: "a"}
	some := ServerInstance{Addr: "b", Connectors: []string{"x:1:y"}}
	if !all.Hosts("x:1:y") || !some.Hosts("x:1:y") || some.Hosts("z:1:y") {
		t.Error("unexpected Hosts result")
	}
}

func TestStaticRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewStaticRegistry("connectors", ServerInstance{Addr: "127.0.0.1:8002", Weight: 1})
	watch := reg.Watch(ctx, "connectors")

	if err := reg.Register(ctx, "connectors", ServerInstance{Addr: "127.0.0.1:8001", Weight: 2}, 10); err != nil {
		t.Fatal(err)
	}
	instances, err := reg.Discover(ctx, "connectors")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 || instances[0].Addr != "127.0.0.1:8001" {
		t.Fatalf("unexpected instances: %+v", instances)
	}

	if err := reg.Deregister(ctx, "connectors", "127.0.0.1:8001"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-watch:
		if len(got) != 1 || got[0].Addr != "127.0.0.1:8002" {
			t.Fatalf("watch: unexpected instances %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}

	cancel()
	select {
	case _, ok := <-watch:
		if ok {
			t.Fatal("expected the watch channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx := context.Background()
	service := "connectors-test"
	inst1 := ServerInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServerInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, service, inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, service, inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, service, inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %+v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, service, inst2.Addr)
}
