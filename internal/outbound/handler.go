// Package outbound implements the C7 delivery engine: the consumer of
// EmailReadyToSend bus events that hands a signed message to the SMTP
// sender, applies the resulting per-recipient outcomes to the message's
// retry state machine, and announces the attempt back on the bus.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/model"
)

// MessageStore is the subset of message persistence the handler needs.
type MessageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
	UpdateMessageStatus(ctx context.Context, message *model.Message) error
}

// Sender delivers a message's raw data to every recipient and reports the
// per-recipient outcome. *engine.Sender satisfies this.
type Sender interface {
	Deliver(ctx context.Context, msg *model.Message) []engine.RecipientOutcome
}

// BusPublisher announces a bus event on a best-effort basis.
type BusPublisher interface {
	TrySend(ctx context.Context, event model.BusEvent)
}

// Metrics is an optional interface for recording per-outcome counters.
// Pass nil to disable metrics.
type Metrics interface {
	IncOutcome(outcome string)
}

// Handler runs the outbound algorithm for a single EmailReadyToSend event.
type Handler struct {
	store   MessageStore
	sender  Sender
	bus     BusPublisher
	metrics Metrics
	retry   model.RetryConfig
	logger  *slog.Logger
}

// NewHandler creates a new outbound handler.
func NewHandler(store MessageStore, sender Sender, bus BusPublisher, metrics Metrics, retry model.RetryConfig, logger *slog.Logger) *Handler {
	return &Handler{store: store, sender: sender, bus: bus, metrics: metrics, retry: retry, logger: logger}
}

// HandleEvent loads the message named by event, attempts delivery, folds
// the outcomes into the retry state machine, persists the result, and
// announces EmailDeliveryAttempted. A message already in a terminal or
// not-yet-signed status is skipped rather than treated as an error, since
// the same message can be announced on the bus more than once (by the
// ingress handler and again by the periodic scheduler).
func (h *Handler) HandleEvent(ctx context.Context, event model.BusEvent) error {
	if event.Type != model.BusEventEmailReadyToSend {
		return nil
	}

	msg, err := h.store.Get(ctx, event.MessageID)
	if err != nil {
		return fmt.Errorf("loading message %s: %w", event.MessageID, err)
	}

	if msg.Status != model.MessageStatusAccepted && msg.Status != model.MessageStatusReattempt {
		h.logger.Debug("outbound: skipping message not ready for delivery", "message_id", msg.ID, "status", msg.Status)
		return nil
	}

	outcomes := h.sender.Deliver(ctx, msg)
	h.applyOutcomes(msg, outcomes, time.Now())

	if err := h.store.UpdateMessageStatus(ctx, msg); err != nil {
		return fmt.Errorf("persisting delivery result for %s: %w", msg.ID, err)
	}

	h.recordOutcome(string(msg.Status))
	h.bus.TrySend(ctx, model.NewEmailDeliveryAttempted(msg.ID, msg.Status))
	return nil
}

// applyOutcomes folds every recipient's outcome into msg's delivery
// details and advances its status and retry schedule in place.
func (h *Handler) applyOutcomes(msg *model.Message, outcomes []engine.RecipientOutcome, now time.Time) {
	if msg.DeliveryDetails == nil {
		msg.DeliveryDetails = make(model.DeliveryDetailsMap)
	}

	// allSuccess starts true and flips to false on the first failing
	// recipient, so a message with zero recipients (never reachable via
	// SMTP submission, reachable via internal system-email injection)
	// resolves to delivered rather than reattempt or failed.
	allSuccess := true
	anyRetryable := false

	for _, o := range outcomes {
		detail := msg.DeliveryDetails[o.Recipient]
		detail.Kind = o.Kind

		level := model.LogLevelInfo
		switch o.Kind {
		case model.DeliveryKindReattempt:
			level = model.LogLevelWarn
		case model.DeliveryKindFailed:
			level = model.LogLevelError
		}
		detail.AppendLog(level, fmt.Sprintf("%d %s", o.Code, o.Message), now)

		if o.Kind == model.DeliveryKindSuccess {
			deliveredAt := now
			detail.DeliveredAt = &deliveredAt
		} else {
			allSuccess = false
		}
		if o.Kind == model.DeliveryKindReattempt {
			anyRetryable = true
		}

		msg.DeliveryDetails[o.Recipient] = detail
	}

	switch {
	case allSuccess:
		msg.Status = model.MessageStatusDelivered
		msg.RetryAfter = nil
	case anyRetryable:
		msg.Status = model.MessageStatusReattempt
		msg.SetNextRetry(h.retry, now)
	default:
		msg.Status = model.MessageStatusFailed
		msg.RetryAfter = nil
	}
}

func (h *Handler) recordOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.IncOutcome(outcome)
	}
}
