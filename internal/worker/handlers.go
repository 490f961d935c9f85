package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/remails-com/remails/internal/model"
)

// schedulerSourceIP is the synthetic source address the periodic
// scheduler stamps on the EmailReadyToSend events it re-emits, since the
// retry isn't attributable to any particular inbound connection.
var schedulerSourceIP = net.IPv4zero

// MessageRetrySource is the slice of the message store the retry tick
// needs: the set of rows whose retry_after has elapsed.
type MessageRetrySource interface {
	FindMessagesReadyForRetry(ctx context.Context) ([]uuid.UUID, error)
}

// QuotaResetSource is the slice of the tenant quota store the reset tick
// needs.
type QuotaResetSource interface {
	ListDueForReset(ctx context.Context) ([]model.TenantQuota, error)
	ResetQuota(ctx context.Context, tenantID uuid.UUID, newTotal int, nextReset time.Time) error
}

// InviteCleaner removes expired invites; see model.Invite.
type InviteCleaner interface {
	DeleteExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// BusPublisher is the narrow slice of bus.Client the scheduler's retry
// tick needs to re-announce a message.
type BusPublisher interface {
	TrySend(ctx context.Context, event model.BusEvent)
}

// RetryMessagesHandler implements the 60s tick: find rows ready for
// automatic retry and re-emit EmailReadyToSend for each.
type RetryMessagesHandler struct {
	Store  MessageRetrySource
	Bus    BusPublisher
	Logger *slog.Logger
}

func (h *RetryMessagesHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	ids, err := h.Store.FindMessagesReadyForRetry(ctx)
	if err != nil {
		return fmt.Errorf("finding messages ready for retry: %w", err)
	}

	for _, id := range ids {
		h.Bus.TrySend(ctx, model.NewEmailReadyToSend(id, schedulerSourceIP))
	}

	h.Logger.Info("scheduler: retried messages", "count", len(ids))
	return nil
}

// ResetQuotasHandler implements the 10-minute tick: reset every tenant
// quota whose window has elapsed.
type ResetQuotasHandler struct {
	Quotas QuotaResetSource
	Logger *slog.Logger
}

func (h *ResetQuotasHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	due, err := h.Quotas.ListDueForReset(ctx)
	if err != nil {
		return fmt.Errorf("listing tenant quotas due for reset: %w", err)
	}

	for _, quota := range due {
		newTotal, nextReset := quotaFromSubscription(quota.CurrentSubscription)
		if err := h.Quotas.ResetQuota(ctx, quota.TenantID, newTotal, nextReset); err != nil {
			h.Logger.Error("scheduler: failed to reset tenant quota", "tenant_id", quota.TenantID, "error", err)
		}
	}

	h.Logger.Info("scheduler: reset tenant quotas", "count", len(due))
	return nil
}

// CleanupInvitesHandler implements the 4h housekeeping tick.
type CleanupInvitesHandler struct {
	Invites InviteCleaner
	Grace   time.Duration
	Logger  *slog.Logger
}

func (h *CleanupInvitesHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	removed, err := h.Invites.DeleteExpired(ctx, h.Grace)
	if err != nil {
		return fmt.Errorf("cleaning up expired invites: %w", err)
	}

	h.Logger.Info("scheduler: cleaned up invites", "removed", removed)
	return nil
}

const (
	defaultMonthlyQuota = 10_000
	defaultResetInterval = 30 * 24 * time.Hour
)

// quotaFromSubscription reads the tenant's monthly quota and billing
// interval out of its current_subscription JSON blob, falling back to
// sane defaults for tenants with no subscription on record.
func quotaFromSubscription(subscription model.JSONMap) (newTotal int, nextReset time.Time) {
	total := defaultMonthlyQuota
	if v, ok := subscription["monthly_quota"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			total = int(f)
		}
	}

	interval := defaultResetInterval
	if v, ok := subscription["interval_days"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			interval = time.Duration(f) * 24 * time.Hour
		}
	}

	return total, time.Now().Add(interval)
}
