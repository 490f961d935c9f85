// Command inbound runs the C5 submission server and the C6 ingress
// handler it feeds: ESMTP AUTH, DKIM signing, and announcing signed
// messages on the message bus.
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
	"golang.org/x/sync/errgroup"

	"github.com/remails-com/remails/internal/bus"
	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/ingress"
	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/observability"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/smtp"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (optional, YAML)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics and /healthz on")
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
	logger.Info("starting inbound", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure, "remails-inbound")
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
	domains := postgres.NewDomainRepository(pool)
	credentials := postgres.NewSmtpCredentialRepository(pool)
	quotas := postgres.NewTenantQuotaRepository(pool)

	resolver := engine.NewDNSResolver(cfg.DNS.Resolver, cfg.DNS.Timeout)
	busClient := bus.NewClient(cfg.MessageBus.FQDN, cfg.MessageBus.Port, logger)

	handler := ingress.NewHandler(
		messages, domains, quotas, resolver,
		busPublisherAdapter{busClient}, observability.IngressMetrics{M: metrics},
		logger, model.DefaultRetryConfig().MaxAutomaticRetries,
	)
	queue := ingress.NewQueue(handler, cfg.Workers.Concurrency, logger)

	backend := smtp.NewBackend(credentials, queue, observability.SubmissionMetrics{M: metrics}, logger)
	submissionServer, err := smtp.NewServer(smtp.ServerConfig{
		ListenAddr:    cfg.SMTP.ListenAddr,
		Domain:        cfg.SMTP.ServerName,
		MaxRecipients: cfg.Outbound.MaxRecipients,
		ReadTimeout:   cfg.SMTP.ReadTimeout,
		WriteTimeout:  cfg.SMTP.WriteTimeout,
		TLSCert:       cfg.SMTP.CertFile,
		TLSKey:        cfg.SMTP.KeyFile,
	}, backend, logger)
	if err != nil {
		logger.Error("initializing submission server", "error", err)
		os.Exit(1)
	}

	metricsServer := observability.NewMetricsServer(*metricsAddr, reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting submission server", "addr", cfg.SMTP.ListenAddr)
		if err := submissionServer.ListenAndServeTLS(); err != nil {
			return fmt.Errorf("submission server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		if err := submissionServer.Close(); err != nil {
			logger.Error("closing submission server", "error", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("closing metrics server", "error", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("inbound exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("inbound stopped")
}

// busPublisherAdapter adapts bus.Client's Send method to ingress.Publisher,
// whose method is named Publish for readability at the ingress call site.
type busPublisherAdapter struct {
	client *bus.Client
}

func (a busPublisherAdapter) Publish(ctx context.Context, event model.BusEvent) error {
	return a.client.Send(ctx, event)
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
