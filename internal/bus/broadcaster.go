// Package bus implements the C4 message bus: a best-effort, at-most-once
// fan-out of BusEvent notifications between the inbound and outbound
// processes. It carries no state and persists nothing; a listener that
// isn't connected when an event is posted simply never sees it.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/remails-com/remails/internal/model"
)

// listenerBuffer is how many unread events a single slow listener may
// accumulate before it is dropped.
const listenerBuffer = 64

// ListenerGauge receives the current listener count whenever it changes.
// Satisfied by prometheus.Gauge; kept as a narrow interface so this
// package never imports Prometheus directly.
type ListenerGauge interface {
	Set(float64)
}

// Broadcaster holds the set of currently connected /listen subscribers and
// fans out every posted event to all of them.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[chan []byte]struct{}
	gauge     ListenerGauge
	logger    *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[chan []byte]struct{}),
		logger:    logger,
	}
}

// WithListenerGauge reports the connected listener count to gauge on every
// subscribe/unsubscribe. Call before serving traffic.
func (b *Broadcaster) WithListenerGauge(gauge ListenerGauge) *Broadcaster {
	b.gauge = gauge
	return b
}

// subscribe registers a new listener channel and returns it along with an
// unsubscribe func the caller must run when it stops reading.
func (b *Broadcaster) subscribe() (chan []byte, func()) {
	ch := make(chan []byte, listenerBuffer)

	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	count := len(b.listeners)
	b.mu.Unlock()
	b.reportCount(count)

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.listeners[ch]; ok {
			delete(b.listeners, ch)
			close(ch)
		}
		count := len(b.listeners)
		b.mu.Unlock()
		b.reportCount(count)
	}

	return ch, unsubscribe
}

func (b *Broadcaster) reportCount(count int) {
	if b.gauge != nil {
		b.gauge.Set(float64(count))
	}
}

// Broadcast encodes event and fans it out to every connected listener,
// returning how many listeners received it. A listener whose buffer is
// full is dropped rather than allowed to stall the broadcast.
func (b *Broadcaster) Broadcast(event model.BusEvent) (int, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}

	b.mu.RLock()
	sent := 0
	var slow []chan []byte
	for ch := range b.listeners {
		select {
		case ch <- data:
			sent++
		default:
			slow = append(slow, ch)
		}
	}
	b.mu.RUnlock()

	if len(slow) > 0 {
		b.mu.Lock()
		for _, ch := range slow {
			if _, ok := b.listeners[ch]; ok {
				b.logger.Warn("bus: dropping slow listener")
				delete(b.listeners, ch)
				close(ch)
			}
		}
		count := len(b.listeners)
		b.mu.Unlock()
		b.reportCount(count)
	}

	return sent, nil
}

// ListenerCount reports how many listeners are currently connected.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
