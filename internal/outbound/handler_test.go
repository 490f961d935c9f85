package outbound

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	messages map[uuid.UUID]*model.Message
	updated  []*model.Message
	getErr   error
	updErr   error
}

func newFakeStore(msg *model.Message) *fakeStore {
	return &fakeStore{messages: map[uuid.UUID]*model.Message{msg.ID: msg}}
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeStore) UpdateMessageStatus(ctx context.Context, m *model.Message) error {
	f.updated = append(f.updated, m)
	return f.updErr
}

type fakeSender struct {
	outcomes []engine.RecipientOutcome
}

func (f *fakeSender) Deliver(ctx context.Context, msg *model.Message) []engine.RecipientOutcome {
	return f.outcomes
}

type fakeBus struct {
	sent []model.BusEvent
}

func (f *fakeBus) TrySend(ctx context.Context, event model.BusEvent) {
	f.sent = append(f.sent, event)
}

func newAcceptedMessage() *model.Message {
	return &model.Message{
		ID:          uuid.New(),
		Status:      model.MessageStatusAccepted,
		Recipients:  []string{"a@example.com", "b@example.com"},
		MaxAttempts: 3,
	}
}

func TestHandleEvent_AllRecipientsSucceed_MarksDelivered(t *testing.T) {
	msg := newAcceptedMessage()
	store := newFakeStore(msg)
	sender := &fakeSender{outcomes: []engine.RecipientOutcome{
		{Recipient: "a@example.com", Kind: model.DeliveryKindSuccess, Code: 250, Message: "OK"},
		{Recipient: "b@example.com", Kind: model.DeliveryKindSuccess, Code: 250, Message: "OK"},
	}}
	bus := &fakeBus{}
	h := NewHandler(store, sender, bus, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	require.Len(t, store.updated, 1)
	assert.Equal(t, model.MessageStatusDelivered, store.updated[0].Status)
	assert.Nil(t, store.updated[0].RetryAfter)

	require.Len(t, bus.sent, 1)
	assert.Equal(t, model.BusEventEmailDeliveryAttempt, bus.sent[0].Type)
	assert.Equal(t, model.MessageStatusDelivered, bus.sent[0].Status)

	for _, rcpt := range msg.Recipients {
		detail := msg.DeliveryDetails[rcpt]
		assert.Equal(t, model.DeliveryKindSuccess, detail.Kind)
		require.NotNil(t, detail.DeliveredAt)
		require.Len(t, detail.Log, 1)
	}
}

func TestHandleEvent_OneRecipientDefers_SchedulesRetry(t *testing.T) {
	msg := newAcceptedMessage()
	store := newFakeStore(msg)
	sender := &fakeSender{outcomes: []engine.RecipientOutcome{
		{Recipient: "a@example.com", Kind: model.DeliveryKindSuccess, Code: 250, Message: "OK"},
		{Recipient: "b@example.com", Kind: model.DeliveryKindReattempt, Code: 421, Message: "try later"},
	}}
	h := NewHandler(store, sender, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusReattempt, msg.Status)
	require.NotNil(t, msg.RetryAfter)
	assert.True(t, msg.RetryAfter.After(time.Now()))
	assert.Equal(t, 1, msg.Attempts)
}

func TestHandleEvent_AllRecipientsPermanentlyFail_MarksFailed(t *testing.T) {
	msg := newAcceptedMessage()
	store := newFakeStore(msg)
	sender := &fakeSender{outcomes: []engine.RecipientOutcome{
		{Recipient: "a@example.com", Kind: model.DeliveryKindFailed, Code: 550, Message: "no such user"},
		{Recipient: "b@example.com", Kind: model.DeliveryKindFailed, Code: 550, Message: "no such user"},
	}}
	h := NewHandler(store, sender, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusFailed, msg.Status)
	assert.Nil(t, msg.RetryAfter)
}

func TestHandleEvent_RetriesExhausted_GoesTerminal(t *testing.T) {
	msg := newAcceptedMessage()
	msg.Status = model.MessageStatusReattempt
	msg.Attempts = 2
	store := newFakeStore(msg)
	sender := &fakeSender{outcomes: []engine.RecipientOutcome{
		{Recipient: "a@example.com", Kind: model.DeliveryKindReattempt, Code: 421, Message: "try later"},
	}}
	h := NewHandler(store, sender, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusFailed, msg.Status)
	assert.Nil(t, msg.RetryAfter)
}

func TestHandleEvent_RespectsPerMessageMaxAttemptsOverGlobalConfig(t *testing.T) {
	msg := newAcceptedMessage()
	msg.Status = model.MessageStatusReattempt
	msg.Attempts = 2
	msg.MaxAttempts = 6 // bumped past RetryConfig.MaxAutomaticRetries (3) by MarkReadyToRetryNow
	store := newFakeStore(msg)
	sender := &fakeSender{outcomes: []engine.RecipientOutcome{
		{Recipient: "a@example.com", Kind: model.DeliveryKindReattempt, Code: 421, Message: "try later"},
	}}
	h := NewHandler(store, sender, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusReattempt, msg.Status)
	require.NotNil(t, msg.RetryAfter)
	assert.Equal(t, 3, msg.Attempts)
}

func TestHandleEvent_ZeroRecipients_MarksDelivered(t *testing.T) {
	msg := newAcceptedMessage()
	msg.Recipients = nil
	store := newFakeStore(msg)
	sender := &fakeSender{} // no outcomes
	h := NewHandler(store, sender, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	require.Len(t, store.updated, 1)
	assert.Equal(t, model.MessageStatusDelivered, store.updated[0].Status)
	assert.Nil(t, store.updated[0].RetryAfter)
}

func TestHandleEvent_SkipsMessageNotReadyForDelivery(t *testing.T) {
	msg := newAcceptedMessage()
	msg.Status = model.MessageStatusDelivered
	store := newFakeStore(msg)
	sender := &fakeSender{}
	bus := &fakeBus{}
	h := NewHandler(store, sender, bus, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(msg.ID, nil))
	require.NoError(t, err)

	assert.Empty(t, store.updated)
	assert.Empty(t, bus.sent)
}

func TestHandleEvent_PropagatesStoreGetError(t *testing.T) {
	store := &fakeStore{getErr: errors.New("db down")}
	h := NewHandler(store, &fakeSender{}, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailReadyToSend(uuid.New(), nil))
	assert.Error(t, err)
}

func TestHandleEvent_IgnoresNonReadyToSendEvents(t *testing.T) {
	msg := newAcceptedMessage()
	store := newFakeStore(msg)
	h := NewHandler(store, &fakeSender{}, &fakeBus{}, nil, model.DefaultRetryConfig(), discardLogger())

	err := h.HandleEvent(context.Background(), model.NewEmailDeliveryAttempted(msg.ID, model.MessageStatusDelivered))
	require.NoError(t, err)
	assert.Empty(t, store.updated)
}
