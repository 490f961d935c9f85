// Command message_bus runs the C4 message bus: the standalone HTTP/
// WebSocket fan-out service that decouples the inbound and outbound
// processes.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/remails-com/remails/internal/bus"
	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/observability"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (optional, YAML)")
	metricsAddr := flag.String("metrics-addr", ":9094", "address to serve /metrics and /healthz on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting message_bus", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure, "remails-message-bus")
	if err != nil {
		logger.Error("initializing tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("shutting down tracing", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	broadcaster := bus.NewBroadcaster(logger).WithListenerGauge(metrics.BusListenersGauge)
	server := bus.NewServer(broadcaster, cfg.MessageBus.CORSOrigins, logger)

	addr := fmt.Sprintf(":%d", cfg.MessageBus.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	metricsServer := observability.NewMetricsServer(*metricsAddr, reg)

	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("message bus server", "error", err)
		}
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
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("closing message bus server", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("closing metrics server", "error", err)
	}

	logger.Info("message_bus stopped")
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
