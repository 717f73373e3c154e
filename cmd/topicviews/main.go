// Package main implements the entry point for the topicviews service: it
// consumes source topic events from NATS, evaluates topic views against
// them, and maintains the derived reference topics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/topicviews/bridge"
	"github.com/c360/topicviews/config"
	"github.com/c360/topicviews/eval"
	gatewayhttp "github.com/c360/topicviews/gateway/http"
	"github.com/c360/topicviews/health"
	"github.com/c360/topicviews/metric"
	"github.com/c360/topicviews/natsclient"
	"github.com/c360/topicviews/pkg/tlsutil"
	"github.com/c360/topicviews/registry"
	"github.com/c360/topicviews/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "topicviews"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	logLevel := cfg.Logging.Level
	if cliCfg.LogLevel != "" {
		logLevel = cliCfg.LogLevel
	}
	logFormat := cfg.Logging.Format
	if cliCfg.LogFormat != "" {
		logFormat = cliCfg.LogFormat
	}
	logger := setupLogger(logLevel, logFormat)
	slog.SetDefault(logger)

	slog.Info("Starting topicviews",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	return runService(signalCtx, cfg, logger, cliCfg.ShutdownTimeout)
}

func runService(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	natsClient, err := connectNATS(ctx, cfg, logger, metricsRegistry.CoreMetrics())
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(context.Background()) }()
	monitor.RegisterChecker("nats", func() health.Status {
		if natsClient.IsHealthy() {
			return health.NewHealthy("nats", "connected")
		}
		return health.NewUnhealthy("nats", natsClient.Status().String())
	})

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}

	// Derived reference topics publish to JetStream; the gateway feed
	// decorates the sink so websocket clients see every change.
	sink := store.NewNATSSink(js, store.WithSinkLogger(logger))
	feed := gatewayhttp.NewFeed(sink, cfg.Gateway.FeedBufferSize, logger)
	defer feed.Close()

	topics := store.NewMemoryTopicStore()
	evaluator := eval.New(topics, store.AllowAll{})

	regOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithMetrics(metricsRegistry),
	}
	if cfg.Persistence.Enabled {
		bucket, err := natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Persistence.Bucket,
			Description: "topic view definitions",
		})
		if err != nil {
			return fmt.Errorf("create view bucket: %w", err)
		}
		regOpts = append(regOpts, registry.WithViewStore(store.NewKVViewStore(bucket)))
	}

	reg := registry.New(evaluator, feed, store.AllowAll{}, regOpts...)
	if err := reg.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	defer reg.Close()
	monitor.UpdateHealthy("registry", "started")

	b, err := bridge.New(natsClient, reg, cfg.Bridge,
		bridge.WithLogger(logger),
		bridge.WithTopicStore(topics),
		bridge.WithMetrics(metricsRegistry))
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	defer func() { _ = b.Stop(shutdownTimeout) }()
	monitor.RegisterChecker("bridge", func() health.Status {
		stats := b.Stats()
		if stats.Dropped > 0 {
			return health.NewDegraded("bridge",
				fmt.Sprintf("%d events dropped since start", stats.Dropped))
		}
		return health.NewHealthy("bridge", "processing")
	})

	gatewayServer, err := gatewayhttp.NewServer(reg, cfg.Gateway, feed, logger)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	mux := http.NewServeMux()
	gatewayServer.RegisterHTTPHandlers("/api/v1", mux)
	mux.Handle("/healthz", monitor.Handler(appName))

	httpServer := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Security.TLS.Server.Enabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfigWithMTLS(cfg.Security.TLS.Server, cfg.Security.TLS.Server.MTLS)
		if err != nil {
			return fmt.Errorf("load TLS config: %w", err)
		}
		httpServer.TLSConfig = tlsConfig
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry, cfg.Security)
	}

	metricsRegistry.CoreMetrics().RecordServiceStatus(appName, 2) // running
	slog.Info("topicviews started",
		"gateway_addr", cfg.Gateway.Addr,
		"metrics_enabled", cfg.Metrics.Enabled,
		"persistence_enabled", cfg.Persistence.Enabled)

	return serve(ctx, httpServer, metricsServer, cfg.Security.TLS.Server.Enabled, shutdownTimeout)
}

// serve runs the HTTP servers until ctx is cancelled, then shuts them down
func serve(ctx context.Context, httpServer *http.Server, metricsServer *metric.Server, useTLS bool, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if useTLS {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Gateway shutdown failed", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(); err != nil {
				slog.Error("Metrics server shutdown failed", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("topicviews shutdown complete")
	return nil
}

// connectNATS creates the NATS client from config and waits for the
// connection to be ready.
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithLogger(logger),
		natsclient.WithDisconnectCallback(func(error) {
			metrics.RecordNATSStatus(false)
		}),
		natsclient.WithReconnectCallback(func() {
			metrics.RecordNATSStatus(true)
			metrics.RecordNATSReconnect()
		}),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()))
	}
	if cfg.NATS.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.NATS.Timeout.Std()))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	metrics.RecordNATSStatus(true)

	return natsClient, nil
}

// loadConfig loads configuration, layering the given file over defaults
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}
