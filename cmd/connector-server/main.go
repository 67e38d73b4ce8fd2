// Command connector-server hosts the in-memory connector for remote clients.
//
// Settings come from defaults, then the YAML file named by --config or
// CONNECTOR_CONFIG_FILE, then CONNECTOR_* variables, then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"connector-rpc/config"
	"connector-rpc/logx"
	"connector-rpc/memconn"
	"connector-rpc/metrics"
	"connector-rpc/middleware"
	"connector-rpc/registry"
	"connector-rpc/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logx.Log.Fatal().Err(err).Msg("connector server failed")
	}
}

func loadConfig(args []string) (*config.ServerConfig, error) {
	cfg := &config.ServerConfig{}
	cfg.SetDefaults()
	cfg.ApplyEnv()

	// Find the config file first so flags can override what it sets.
	pre := pflag.NewFlagSet("pre", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "")
	_ = pre.Parse(args)
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
	}

	fs := pflag.NewFlagSet("connector-server", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logx.Configure(cfg.LogLevel)

	metrics.Register(prometheus.DefaultRegisterer)
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	var reg registry.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer etcd.Close()
		reg = etcd
	}

	srv := server.NewServer(
		server.WithKey(cfg.Key),
		server.WithProducerBufferSize(cfg.ProducerBufferSize),
		server.WithDiscovery(cfg.Service, cfg.RegistrationTTL),
		server.WithHandshakeTimeout(cfg.HandshakeTimeout),
	)
	if err := srv.RegisterConnector(memconn.Info(), memconn.NewStore().Factory()); err != nil {
		return err
	}
	srv.Use(middleware.LoggingMiddleware())
	srv.Use(middleware.MetricsMiddleware(metrics.SideServer))
	if cfg.RateLimit > 0 {
		srv.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	srv.Use(middleware.TimeOutMiddleware(cfg.RequestTimeout))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logx.Log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
		if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
			logx.Log.Warn().Err(err).Msg("shutdown incomplete")
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(context.Background())
		}
	}()

	if err := srv.ServeListener(ln, cfg.AdvertiseAddr, reg); err != nil {
		return err
	}
	// Serve returns as soon as the listener closes; let Shutdown drain.
	<-stopped
	return nil
}
