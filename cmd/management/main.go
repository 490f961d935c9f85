// Command management runs the thin, out-of-scope management-API stub:
// domain provisioning, SMTP credential issuance, and quota readout over
// HTTP. Organizations, projects, streams, members and invites have no
// CRUD surface here; they are provisioned directly against Postgres by
// whatever dashboard owns that scope.
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/handler"
	"github.com/remails-com/remails/internal/observability"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/server"
	"github.com/remails-com/remails/internal/server/middleware"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "", "config file path (optional, YAML)")
	metricsAddr := flag.String("metrics-addr", ":9093", "address to serve /metrics and /healthz on")
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
	logger.Info("starting management", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure, "remails-management")
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

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	domains := postgres.NewDomainRepository(pool)
	credentials := postgres.NewSmtpCredentialRepository(pool)
	quotas := postgres.NewTenantQuotaRepository(pool)

	hostname := cfg.Outbound.HELODomain
	if hostname == "" {
		hostname = cfg.MessageBus.FQDN
	}
	h := handler.New(domains, credentials, quotas, cfg.DKIM, hostname, logger)

	httpServer := server.New(server.Config{
		Addr:         cfg.Management.ListenAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		JWTSecret:    cfg.Management.JWTSecret,
		CORSOrigins:  cfg.Management.CORSOrigins,
		Metrics:      metrics,
		RateLimitCfg: middleware.RateLimitConfig{
			Enabled:    cfg.Management.RateLimit.Enabled,
			DefaultRPS: cfg.Management.RateLimit.DefaultRPS,
			Window:     cfg.Management.RateLimit.Window,
		},
		Redis:    rdb,
		Handlers: h,
		Logger:   logger,
	})

	metricsServer := observability.NewMetricsServer(*metricsAddr, reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting management API", "addr", cfg.Management.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("management server: %w", err)
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

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("closing management server", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("closing metrics server", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("management exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("management stopped")
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

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(observability.NewTracingHandler(h))
}
