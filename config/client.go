package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ClientConfig configures a connector client.
type ClientConfig struct {
	ConfigFile string `yaml:"-"`
	Key        string `yaml:"key"`
	Locale     string `yaml:"locale"`

	// Servers is a fixed server list; it is used when no etcd endpoints
	// are configured.
	Servers       []string `yaml:"servers"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	Service       string   `yaml:"service"`
	Balancer      string   `yaml:"balancer"`

	DialTimeout       time.Duration `yaml:"dial_timeout"`
	MaxConnsPerServer int           `yaml:"max_conns_per_server"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	Retries           int           `yaml:"retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

// SetDefaults fills unset fields with built-in defaults.
func (c *ClientConfig) SetDefaults() {
	if c.Locale == "" {
		c.Locale = "en_US"
	}
	if c.Service == "" {
		c.Service = "connectors"
	}
	if c.Balancer == "" {
		c.Balancer = "round_robin"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxConnsPerServer == 0 {
		c.MaxConnsPerServer = 8
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
}

// ApplyEnv overlays CONNECTOR_* environment variables.
func (c *ClientConfig) ApplyEnv() {
	envString("CONFIG_FILE", &c.ConfigFile)
	envString("KEY", &c.Key)
	envString("LOCALE", &c.Locale)
	envList("SERVERS", &c.Servers)
	envList("ETCD_ENDPOINTS", &c.EtcdEndpoints)
	envString("SERVICE", &c.Service)
	envString("BALANCER", &c.Balancer)
	envDuration("DIAL_TIMEOUT", &c.DialTimeout)
	envInt("MAX_CONNS_PER_SERVER", &c.MaxConnsPerServer)
	envDuration("CALL_TIMEOUT", &c.CallTimeout)
	envInt("RETRIES", &c.Retries)
	envDuration("RETRY_DELAY", &c.RetryDelay)
}

// BindFlags binds command line flags using the current values as defaults.
func (c *ClientConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path")
	fs.StringVar(&c.Key, "key", c.Key, "shared key presented to servers")
	fs.StringVar(&c.Locale, "locale", c.Locale, "locale sent in the handshake")
	fs.StringSliceVar(&c.Servers, "server", c.Servers, "connector server address; repeat for several")
	fs.StringSliceVar(&c.EtcdEndpoints, "etcd", c.EtcdEndpoints, "etcd endpoints for discovery")
	fs.StringVar(&c.Service, "service", c.Service, "discovery service name")
	fs.StringVar(&c.Balancer, "balancer", c.Balancer, "server selection (round_robin, weighted_random, consistent_hash)")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "timeout for opening a connection")
	fs.IntVar(&c.MaxConnsPerServer, "max-conns", c.MaxConnsPerServer, "concurrent connections per server; 0 or less is unlimited")
	fs.DurationVar(&c.CallTimeout, "call-timeout", c.CallTimeout, "default operation timeout; 0 disables it")
	fs.IntVar(&c.Retries, "retries", c.Retries, "retries for retryable failures")
	fs.DurationVar(&c.RetryDelay, "retry-delay", c.RetryDelay, "first retry delay, doubled on each attempt")
}

// LoadFile overlays the YAML file at path. A missing file is ignored.
func (c *ClientConfig) LoadFile(path string) error {
	return loadFile(path, c)
}

// Validate reports settings the client cannot run with.
func (c *ClientConfig) Validate() error {
	if len(c.Servers) == 0 && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("config: either servers or etcd endpoints are required")
	}
	if c.Retries < 0 {
		return fmt.Errorf("config: retries must not be negative")
	}
	return nil
}
