// Command outbound runs the C7 delivery engine: it consumes
// EmailReadyToSend events from the message bus and attempts direct MX
// delivery for each.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/remails-com/remails/internal/bus"
	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/observability"
	"github.com/remails-com/remails/internal/outbound"
	"github.com/remails-com/remails/internal/repository/postgres"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (optional, YAML)")
	metricsAddr := flag.String("metrics-addr", ":9091", "address to serve /metrics and /healthz on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting outbound", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure, "remails-outbound")
	if err != nil {
		logger.Error("initializing tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("shutting down tracing", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("parsing database URL", "error", err)
		os.Exit(1)
	}
	poolCfg.ConnConfig.Tracer = observability.NewPgxTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("pinging database", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	messages := postgres.NewMessageStore(pool)
	resolver := engine.NewDNSResolver(cfg.DNS.Resolver, cfg.DNS.Timeout)
	sender := engine.NewSender(engine.SenderConfig{
		HeloDomain:     cfg.Outbound.HELODomain,
		TLSPolicy:      tlsPolicy(cfg.Outbound.AllowPlaintext),
		ConnectTimeout: cfg.Outbound.ConnectTimeout,
		SendTimeout:    cfg.Outbound.SendTimeout,
		Metrics:        observability.SenderMetrics{M: metrics},
	}, resolver, logger)

	busClient := bus.NewClient(cfg.MessageBus.FQDN, cfg.MessageBus.Port, logger)

	handler := outbound.NewHandler(messages, sender, busClient, observability.OutboundMetrics{M: metrics}, model.DefaultRetryConfig(), logger)
	listener := outbound.NewListener(handler, busClient, cfg.Workers.Concurrency, 2*time.Second, logger)

	metricsServer := observability.NewMetricsServer(*metricsAddr, reg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Run(ctx)
	}()

	go func() {
		logger.Info("starting metrics server", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("closing metrics server", "error", err)
	}

	<-done
	logger.Info("outbound stopped")
}

// tlsPolicy maps the boolean allow_plaintext setting onto the sender's
// string policy values.
func tlsPolicy(allowPlaintext bool) string {
	if allowPlaintext {
		return "opportunistic"
	}
	return "enforce"
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(observability.NewTracingHandler(handler))
}
