package worker

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/remails-com/remails/internal/observability"
)

// Config holds configuration for the asynq worker server.
type Config struct {
	RedisAddr     string
	RedisPassword string
	Concurrency   int
	Queues        map[string]int // queue name -> priority weight
	Metrics       *observability.Metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedisAddr:     "localhost:6379",
		RedisPassword: "",
		Concurrency:   20,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	}
}

// Handlers holds the periodic scheduler's task handler instances that
// will be registered with the mux.
type Handlers struct {
	RetryMessages  *RetryMessagesHandler
	ResetQuotas    *ResetQuotasHandler
	CleanupInvites *CleanupInvitesHandler
}

// NewServer creates and configures a new asynq Server.
func NewServer(cfg Config, logger *slog.Logger) *asynq.Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}

	queues := cfg.Queues
	if queues == nil {
		queues = DefaultConfig().Queues
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConfig().Concurrency
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		Logger:      newAsynqLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task processing failed",
				"task_type", task.Type(),
				"error", err,
			)
		}),
	})

	return srv
}

// NewMux creates an asynq ServeMux with the scheduler's task handlers
// registered. When metrics is non-nil, every task is wrapped with
// Prometheus instrumentation before dispatch.
func NewMux(h Handlers, metrics *observability.Metrics) *asynq.ServeMux {
	mux := asynq.NewServeMux()

	if metrics != nil {
		mux.Use(observability.AsynqMetricsMiddleware(metrics))
	}

	if h.RetryMessages != nil {
		mux.HandleFunc(TaskRetryMessages, h.RetryMessages.ProcessTask)
	}
	if h.ResetQuotas != nil {
		mux.HandleFunc(TaskResetQuotas, h.ResetQuotas.ProcessTask)
	}
	if h.CleanupInvites != nil {
		mux.HandleFunc(TaskCleanupInvites, h.CleanupInvites.ProcessTask)
	}

	return mux
}

// asynqLogger adapts slog.Logger to asynq's Logger interface.
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) *asynqLogger {
	return &asynqLogger{logger: logger}
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.logger.Debug("asynq", "msg", args)
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Info("asynq", "msg", args)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Warn("asynq", "msg", args)
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Error("asynq", "msg", args)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error("asynq fatal", "msg", args)
}
