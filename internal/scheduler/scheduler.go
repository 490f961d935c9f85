// Package scheduler wires the periodic scheduler's three interval ticks
// onto an asynq.Scheduler, so the usual cron+queue machinery drives
// timing while internal/worker's handlers own the actual retry/reset/
// cleanup logic.
package scheduler

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/remails-com/remails/internal/worker"
)

// Config configures the Redis connection the scheduler enqueues onto.
type Config struct {
	RedisAddr     string
	RedisPassword string
}

// entryTTL bounds how long a scheduled task may sit unprocessed before a
// later tick is allowed to enqueue a duplicate. Setting it just under
// each tick's own period makes a missed tick coalesce into a delay
// instead of a burst: if the consumer is behind, the next cron fire is
// deduplicated against the one still queued rather than piling up.
const entryTTL = 55 * time.Second

type tickSpec struct {
	cron string
	ttl  time.Duration
	task func() (*asynq.Task, error)
}

var tickSpecs = []tickSpec{
	{"@every 1m", entryTTL, worker.NewRetryMessagesTask},
	{"@every 10m", 9 * time.Minute, worker.NewResetQuotasTask},
	{"@every 4h", 3*time.Hour + 55*time.Minute, worker.NewCleanupInvitesTask},
}

// New builds an asynq.Scheduler with the retry, quota-reset, and
// invite-cleanup ticks registered. Call Run (or Start/Shutdown) on the
// result the way any asynq.Scheduler is driven.
func New(cfg Config) (*asynq.Scheduler, error) {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	sched := asynq.NewScheduler(redisOpt, nil)

	for _, spec := range tickSpecs {
		task, err := spec.task()
		if err != nil {
			return nil, fmt.Errorf("building scheduled task: %w", err)
		}

		if _, err := sched.Register(spec.cron, task, asynq.Unique(spec.ttl)); err != nil {
			return nil, fmt.Errorf("registering %s tick: %w", task.Type(), err)
		}
	}

	return sched, nil
}
