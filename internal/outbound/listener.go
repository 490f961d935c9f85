package outbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/remails-com/remails/internal/model"
)

// EventSource supplies the bus's stream of events, reconnecting on its
// own; *bus.Client satisfies this.
type EventSource interface {
	ReceiveAutoReconnect(ctx context.Context, backoff time.Duration) <-chan model.BusEvent
}

// Listener drives Handler off the message bus: one goroutine per received
// event, bounded by a fixed number of in-flight delivery slots so a burst
// of EmailReadyToSend events can't spawn unbounded concurrent SMTP
// sessions. Mirrors the ingress queue's one-task-per-message model.
type Listener struct {
	handler *Handler
	source  EventSource
	backoff time.Duration
	slots   chan struct{}
	logger  *slog.Logger
}

// NewListener creates a Listener with the given number of concurrent
// delivery tasks.
func NewListener(handler *Handler, source EventSource, maxInFlight int, backoff time.Duration, logger *slog.Logger) *Listener {
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Listener{
		handler: handler,
		source:  source,
		backoff: backoff,
		slots:   make(chan struct{}, maxInFlight),
		logger:  logger,
	}
}

// Run blocks, dispatching events until ctx is cancelled or the event
// source closes its channel.
func (l *Listener) Run(ctx context.Context) {
	events := l.source.ReceiveAutoReconnect(ctx, l.backoff)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != model.BusEventEmailReadyToSend {
				continue
			}
			l.dispatch(ctx, event)

		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, event model.BusEvent) {
	select {
	case l.slots <- struct{}{}:
	default:
		l.logger.Warn("outbound: dropping event, all delivery slots busy", "message_id", event.MessageID)
		return
	}

	go func() {
		defer func() { <-l.slots }()
		if err := l.handler.HandleEvent(ctx, event); err != nil {
			l.logger.Error("outbound: failed to process delivery event", "message_id", event.MessageID, "error", err)
		}
	}()
}
