package ingress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/remails-com/remails/internal/model"
)

// Queue adapts a Handler to the submission server's Ingress interface: one
// goroutine per accepted message (§5's "one ingress task per message,
// short-lived"), bounded by a fixed number of in-flight slots so a burst of
// submissions can't spawn unbounded goroutines.
type Queue struct {
	handler *Handler
	slots   chan struct{}
	logger  *slog.Logger
}

// NewQueue creates a Queue with the given number of concurrent ingress
// tasks.
func NewQueue(handler *Handler, maxInFlight int, logger *slog.Logger) *Queue {
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	return &Queue{
		handler: handler,
		slots:   make(chan struct{}, maxInFlight),
		logger:  logger,
	}
}

// Submit claims a slot and spawns the ingress task. It only fails on
// backpressure (all slots in use); the submission server maps that to a
// 554 response.
func (q *Queue) Submit(ctx context.Context, newMessage *model.NewMessage) error {
	select {
	case q.slots <- struct{}{}:
	default:
		return fmt.Errorf("ingress queue is full")
	}

	go func() {
		defer func() { <-q.slots }()

		bg := context.Background()
		if _, err := q.handler.Handle(bg, newMessage); err != nil {
			q.logger.Error("ingress: failed to handle message", "error", err)
		}
	}()

	return nil
}
