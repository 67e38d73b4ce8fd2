package registry

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"connector-rpc/logx"
)

// EtcdRegistry implements Registry on etcd v3.
//
//	Key:   /connector-rpc/{service}/{addr}
//	Value: CBOR-encoded ServerInstance
//
// Registrations hold a TTL lease that is kept alive in the background, so the
// entry of a crashed server expires on its own.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func servicePrefix(service string) string {
	return "/connector-rpc/" + service + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive until the client is closed.
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance ServerInstance, ttl int64) error {
	// The lease is a local: sharing one EtcdRegistry between servers must not race.
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := encodeInstance(instance)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, servicePrefix(service)+instance.Addr, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive outlives the registering call.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		logx.Log.Debug().Str("service", service).Str("addr", instance.Addr).Msg("registration lease keep-alive stopped")
	}()
	return nil
}

// Deregister removes an instance. Servers call it before closing their
// listener during shutdown.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	_, err := r.client.Delete(ctx, servicePrefix(service)+addr)
	return err
}

// Discover returns the instances currently registered for service.
// Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]ServerInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instance, err := decodeInstance(kv.Value)
		if err != nil {
			logx.Log.Warn().Err(err).Str("key", string(kv.Key)).Msg("skipping malformed registry entry")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the full list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []ServerInstance {
	ch := make(chan []ServerInstance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix()) {
			instances, err := r.Discover(ctx, service)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close releases the etcd client. Leases stop being renewed.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
