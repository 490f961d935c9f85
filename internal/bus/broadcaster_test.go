package bus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remails-com/remails/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcaster_Broadcast_FansOutToAllListeners(t *testing.T) {
	b := NewBroadcaster(discardLogger())

	ch1, unsub1 := b.subscribe()
	defer unsub1()
	ch2, unsub2 := b.subscribe()
	defer unsub2()

	event := model.NewEmailReadyToSend(uuid.New(), nil)
	sent, err := b.Broadcast(event)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	assertReceivesEvent(t, ch1, event)
	assertReceivesEvent(t, ch2, event)
}

func TestBroadcaster_Broadcast_NoListeners(t *testing.T) {
	b := NewBroadcaster(discardLogger())

	sent, err := b.Broadcast(model.NewEmailReadyToSend(uuid.New(), nil))
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestBroadcaster_ListenerCount(t *testing.T) {
	b := NewBroadcaster(discardLogger())
	assert.Equal(t, 0, b.ListenerCount())

	_, unsub := b.subscribe()
	assert.Equal(t, 1, b.ListenerCount())

	unsub()
	assert.Equal(t, 0, b.ListenerCount())
}

type fakeGauge struct {
	last float64
}

func (g *fakeGauge) Set(v float64) { g.last = v }

func TestBroadcaster_WithListenerGauge_ReportsCount(t *testing.T) {
	gauge := &fakeGauge{}
	b := NewBroadcaster(discardLogger()).WithListenerGauge(gauge)

	_, unsub1 := b.subscribe()
	assert.Equal(t, float64(1), gauge.last)

	_, unsub2 := b.subscribe()
	assert.Equal(t, float64(2), gauge.last)

	unsub1()
	assert.Equal(t, float64(1), gauge.last)

	unsub2()
	assert.Equal(t, float64(0), gauge.last)
}

func TestBroadcaster_DropsFullListenerRatherThanBlock(t *testing.T) {
	b := NewBroadcaster(discardLogger())
	ch, unsub := b.subscribe()
	defer unsub()

	for i := 0; i < listenerBuffer+5; i++ {
		_, err := b.Broadcast(model.NewEmailReadyToSend(uuid.New(), nil))
		require.NoError(t, err)
	}

	assert.Equal(t, listenerBuffer, len(ch))
}

func assertReceivesEvent(t *testing.T, ch chan []byte, want model.BusEvent) {
	t.Helper()
	select {
	case data := <-ch:
		assert.Contains(t, string(data), string(want.Type))
	default:
		t.Fatal("expected a buffered event")
	}
}
