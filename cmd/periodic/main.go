// Command periodic runs the C8 scheduler: the asynq worker server plus
// the cron entries that drive the automatic-retry, quota-reset, and
// invite-cleanup ticks.
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
	"github.com/remails-com/remails/internal/observability"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/scheduler"
	"github.com/remails-com/remails/internal/worker"
)

var Version = "dev"

// inviteGracePeriod matches the 24h window the cleanup tick gives a
// just-expired invite before deleting it, in case a slow client is still
// mid-acceptance.
const inviteGracePeriod = 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "config file path (optional, YAML)")
	metricsAddr := flag.String("metrics-addr", ":9092", "address to serve /metrics and /healthz on")
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
	logger.Info("starting periodic", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure, "remails-periodic")
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

	messages := postgres.NewMessageStore(pool)
	quotas := postgres.NewTenantQuotaRepository(pool)
	invites := postgres.NewInviteRepository(pool)
	busClient := bus.NewClient(cfg.MessageBus.FQDN, cfg.MessageBus.Port, logger)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	handlers := worker.Handlers{
		RetryMessages: &worker.RetryMessagesHandler{
			Store:  messages,
			Bus:    busClient,
			Logger: logger,
		},
		ResetQuotas: &worker.ResetQuotasHandler{
			Quotas: quotas,
			Logger: logger,
		},
		CleanupInvites: &worker.CleanupInvitesHandler{
			Invites: invites,
			Grace:   inviteGracePeriod,
			Logger:  logger,
		},
	}

	workerCfg := worker.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		Concurrency:   cfg.Workers.Concurrency,
		Metrics:       metrics,
	}
	asynqSrv := worker.NewServer(workerCfg, logger)
	mux := worker.NewMux(handlers, metrics)

	metricsServer := observability.NewMetricsServer(*metricsAddr, reg)

	sched, err := scheduler.New(scheduler.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
	})
	if err != nil {
		logger.Error("building scheduler", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting worker server", "concurrency", workerCfg.Concurrency)
		if err := asynqSrv.Run(mux); err != nil {
			return fmt.Errorf("asynq worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting scheduler")
		if err := sched.Run(); err != nil {
			return fmt.Errorf("asynq scheduler: %w", err)
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
		sched.Shutdown()
		asynqSrv.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("closing metrics server", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("periodic exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("periodic stopped")
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
