// Package registry lets clients discover connector servers.
//
// Servers register the address they accept connections on under a service
// name. Clients discover the live instances and pick one per call.
package registry

import (
	"context"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ServerInstance is one connector server.
type ServerInstance struct {
	Addr    string `cbor:"addr"`
	Weight  int    `cbor:"weight"` // Weight for load balancing
	Version string `cbor:"version,omitempty"`
	// Connectors lists the connector keys the server hosts, as
	// ConnectorKey.String() values.
	Connectors []string `cbor:"connectors,omitempty"`
}

// Hosts reports whether the instance advertises key. An instance that lists
// no connectors is assumed to host all of them.
func (s ServerInstance) Hosts(key string) bool {
	if len(s.Connectors) == 0 {
		return true
	}
	for _, k := range s.Connectors {
		if k == key {
			return true
		}
	}
	return false
}

type Registry interface {
	Register(ctx context.Context, service string, instance ServerInstance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]ServerInstance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, service string) <-chan []ServerInstance
}

// Entries are stored with Core Deterministic Encoding so that re-registering
// an unchanged instance writes identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("registry: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("registry: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeInstance(instance ServerInstance) ([]byte, error) {
	return encMode.Marshal(instance)
}

func decodeInstance(data []byte) (ServerInstance, error) {
	var instance ServerInstance
	err := decMode.Unmarshal(data, &instance)
	return instance, err
}
