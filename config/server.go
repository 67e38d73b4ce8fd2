package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ServerConfig configures a connector server.
type ServerConfig struct {
	ConfigFile    string `yaml:"-"`
	ListenAddr    string `yaml:"listen_addr"`
	AdvertiseAddr string `yaml:"advertise_addr"`
	// Key is the shared secret clients present in the handshake.
	Key         string `yaml:"key"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	EtcdEndpoints   []string `yaml:"etcd_endpoints"`
	Service         string   `yaml:"service"`
	RegistrationTTL int64    `yaml:"registration_ttl"`

	// ProducerBufferSize is the number of streamed items sent between
	// pauses when a call does not set its own.
	ProducerBufferSize int           `yaml:"producer_buffer_size"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	RateLimit          float64       `yaml:"rate_limit"`
	RateBurst          int           `yaml:"rate_burst"`
}

// SetDefaults fills unset fields with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8759"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Service == "" {
		c.Service = "connectors"
	}
	if c.RegistrationTTL == 0 {
		c.RegistrationTTL = 10
	}
	if c.ProducerBufferSize == 0 {
		c.ProducerBufferSize = 100
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = int(c.RateLimit) + 1
	}
}

// ApplyEnv overlays CONNECTOR_* environment variables.
func (c *ServerConfig) ApplyEnv() {
	envString("CONFIG_FILE", &c.ConfigFile)
	envString("LISTEN_ADDR", &c.ListenAddr)
	envString("ADVERTISE_ADDR", &c.AdvertiseAddr)
	envString("KEY", &c.Key)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("METRICS_ADDR", &c.MetricsAddr)
	envList("ETCD_ENDPOINTS", &c.EtcdEndpoints)
	envString("SERVICE", &c.Service)
	envInt64("REGISTRATION_TTL", &c.RegistrationTTL)
	envInt("PRODUCER_BUFFER_SIZE", &c.ProducerBufferSize)
	envDuration("REQUEST_TIMEOUT", &c.RequestTimeout)
	envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	envDuration("HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	envFloat("RATE_LIMIT", &c.RateLimit)
	envInt("RATE_BURST", &c.RateBurst)
}

// BindFlags binds command line flags using the current values as defaults.
func (c *ServerConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "address to accept connector connections on")
	fs.StringVar(&c.AdvertiseAddr, "advertise", c.AdvertiseAddr, "address registered for discovery; defaults to the listen address")
	fs.StringVar(&c.Key, "key", c.Key, "shared key clients must present")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics listen address; empty disables it")
	fs.StringSliceVar(&c.EtcdEndpoints, "etcd", c.EtcdEndpoints, "etcd endpoints for discovery; empty disables registration")
	fs.StringVar(&c.Service, "service", c.Service, "discovery service name")
	fs.Int64Var(&c.RegistrationTTL, "registration-ttl", c.RegistrationTTL, "discovery lease TTL in seconds")
	fs.IntVar(&c.ProducerBufferSize, "producer-buffer-size", c.ProducerBufferSize, "streamed items sent between pauses")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "default operation timeout; 0 disables it")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "time to wait for in-flight calls on shutdown")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", c.HandshakeTimeout, "time a new connection has to complete the handshake")
	fs.Float64Var(&c.RateLimit, "rate-limit", c.RateLimit, "calls per second accepted; 0 disables limiting")
	fs.IntVar(&c.RateBurst, "rate-burst", c.RateBurst, "burst size for the rate limit")
}

// LoadFile overlays the YAML file at path. A missing file is ignored.
func (c *ServerConfig) LoadFile(path string) error {
	return loadFile(path, c)
}

// Validate reports settings the server cannot start with.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.ProducerBufferSize < 0 {
		return fmt.Errorf("config: producer buffer size must not be negative")
	}
	if len(c.EtcdEndpoints) > 0 && c.RegistrationTTL <= 0 {
		return fmt.Errorf("config: registration TTL must be positive")
	}
	return nil
}
