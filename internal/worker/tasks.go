package worker

import "github.com/hibiken/asynq"

// Task type constants for the periodic scheduler's three ticks. None
// carry a payload; the handler re-derives what to act on from the store
// at run time, so a missed or deduplicated tick never loses work.
const (
	TaskRetryMessages  = "scheduler:retry_messages"
	TaskResetQuotas    = "scheduler:reset_quotas"
	TaskCleanupInvites = "scheduler:cleanup_invites"
)

// QueueDefault is the only queue the scheduler's tasks run on; none of
// them are latency sensitive enough to need priority lanes.
const QueueDefault = "default"

// NewRetryMessagesTask builds the task the scheduler enqueues every 60s
// to re-announce messages that became eligible for automatic retry.
func NewRetryMessagesTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskRetryMessages, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewResetQuotasTask builds the task the scheduler enqueues every 10
// minutes to reset any tenant quota whose reset window has elapsed.
func NewResetQuotasTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskResetQuotas, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewCleanupInvitesTask builds the task the scheduler enqueues every 4
// hours to remove long-expired invite rows.
func NewCleanupInvitesTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskCleanupInvites, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
