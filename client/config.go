package client

import (
	"fmt"

	"connector-rpc/config"
	"connector-rpc/loadbalance"
	"connector-rpc/message"
	"connector-rpc/metrics"
	"connector-rpc/middleware"
	"connector-rpc/objects"
	"connector-rpc/registry"
	"connector-rpc/transport"
)

// NewFromConfig builds a client from cfg: discovery through etcd when
// endpoints are set, otherwise the fixed server list, and the standard
// middleware stack. Close the client to release the etcd connection.
func NewFromConfig(cfg *config.ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bal, err := loadbalance.New(cfg.Balancer)
	if err != nil {
		return nil, err
	}

	var (
		reg    registry.Registry
		closer func() error
	)
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("client: connect to etcd: %w", err)
		}
		reg, closer = etcd, etcd.Close
	} else {
		instances := make([]registry.ServerInstance, 0, len(cfg.Servers))
		for _, addr := range cfg.Servers {
			instances = append(instances, registry.ServerInstance{Addr: addr, Weight: 1})
		}
		reg = registry.NewStaticRegistry(cfg.Service, instances...)
	}

	codecs := message.NewRegistry()
	c := NewClient(reg, bal,
		WithKey(cfg.Key),
		WithLocale(objects.ParseLocale(cfg.Locale)),
		WithService(cfg.Service),
		WithCodecRegistry(codecs),
		WithDialer(transport.NewDialer(codecs, cfg.DialTimeout, cfg.MaxConnsPerServer)),
	)
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	c.Use(middleware.LoggingMiddleware())
	c.Use(middleware.MetricsMiddleware(metrics.SideClient))
	c.Use(middleware.RetryMiddleware(cfg.Retries, cfg.RetryDelay))
	c.Use(middleware.TimeOutMiddleware(cfg.CallTimeout))
	return c, nil
}
