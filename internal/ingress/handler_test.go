package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/model"
)

type fakeStore struct {
	created *model.Message
	updates []*model.Message
	err     error
}

func (f *fakeStore) Create(ctx context.Context, nm *model.NewMessage, maxAttempts int) (*model.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	msg := &model.Message{
		ID:               uuid.New(),
		TenantID:         uuid.New(),
		SmtpCredentialID: &nm.SmtpCredentialID,
		Status:           model.MessageStatusProcessing,
		FromEmail:        nm.FromEmail,
		Recipients:       nm.Recipients,
		RawData:          nm.RawData,
		MaxAttempts:      maxAttempts,
	}
	f.created = msg
	return msg, nil
}

func (f *fakeStore) UpdateMessageData(ctx context.Context, m *model.Message) error {
	f.updates = append(f.updates, m)
	return nil
}

type fakeDomainLookup struct {
	domain *model.Domain
	err    error
}

func (f *fakeDomainLookup) GetDomainForCredential(ctx context.Context, credentialID uuid.UUID) (*model.Domain, error) {
	return f.domain, f.err
}

type fakeQuotaReducer struct {
	exceeded bool
	err      error
}

func (f *fakeQuotaReducer) ReduceQuota(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	return f.exceeded, f.err
}

type fakeDKIMVerifier struct {
	ok  bool
	err error
}

func (f *fakeDKIMVerifier) VerifyDKIMKeyEcho(domain string, expectedPublicKeyDER []byte) (bool, error) {
	return f.ok, f.err
}

type fakePublisher struct {
	events []model.BusEvent
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, event model.BusEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDomain(t *testing.T, fqdn string) *model.Domain {
	t.Helper()
	privDER, pubDER, err := engine.GenerateDKIMKeyPair(1024)
	require.NoError(t, err)
	return &model.Domain{
		ID:               uuid.New(),
		FQDN:             fqdn,
		DKIMKeyDER:       privDER,
		DKIMPublicKeyDER: pubDER,
		DKIMSelector:     "remails",
	}
}

func newMessage(from string, recipients []string, raw string) *model.NewMessage {
	return &model.NewMessage{
		SmtpCredentialID: uuid.New(),
		FromEmail:        from,
		Recipients:       recipients,
		RawData:          []byte(raw),
	}
}

func TestHandler_Handle_HappyPath(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	bus := &fakePublisher{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, bus, nil, discardLogger(), 3)

	nm := newMessage("alice@example.com", []string{"bob@dest.test"}, "From: alice@example.com\r\nSubject: Hi\r\n\r\nHello.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusAccepted, msg.Status)
	assert.Nil(t, msg.Reason)
	assert.Contains(t, string(msg.RawData), "DKIM-Signature:")
	assert.Contains(t, string(msg.RawData), "Message-ID:")

	require.Len(t, bus.events, 1)
	assert.Equal(t, model.BusEventEmailReadyToSend, bus.events[0].Type)
	assert.Equal(t, msg.ID, bus.events[0].MessageID)
}

func TestHandler_Handle_KeepsExistingMessageID(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, &fakePublisher{}, nil, discardLogger(), 3)

	nm := newMessage("alice@example.com", []string{"bob@dest.test"}, "From: alice@example.com\r\nMessage-ID: <already-here@example.com>\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	// Count header lines only: the DKIM-Signature's h= tag also names
	// Message-ID (and Resent-Message-ID).
	assert.Equal(t, 1, strings.Count(string(msg.RawData), "\r\nMessage-ID:"), "should not inject a second Message-ID when one is present")
}

func TestHandler_Handle_QuotaExceeded(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	bus := &fakePublisher{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{exceeded: true}, &fakeDKIMVerifier{ok: true}, bus, nil, discardLogger(), 3)

	nm := newMessage("alice@example.com", []string{"bob@dest.test"}, "From: alice@example.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusHeld, msg.Status)
	require.NotNil(t, msg.Reason)
	assert.Equal(t, "quota exceeded", *msg.Reason)
	assert.Empty(t, bus.events)
}

func TestHandler_Handle_MailFromOutsideAuthorizedDomain(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	bus := &fakePublisher{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, bus, nil, discardLogger(), 3)

	nm := newMessage("alice@gmail.com", []string{"bob@dest.test"}, "From: alice@gmail.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusHeld, msg.Status)
	require.NotNil(t, msg.Reason)
	assert.Contains(t, *msg.Reason, "not a valid (sub-)domain")
	assert.Empty(t, bus.events)
}

func TestHandler_Handle_SubdomainSenderIsAuthorized(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, &fakePublisher{}, nil, discardLogger(), 3)

	nm := newMessage("alice@mail.example.com", []string{"bob@dest.test"}, "From: alice@mail.example.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusAccepted, msg.Status)
}

func TestHandler_Handle_PathEvasionIsRejected(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, &fakePublisher{}, nil, discardLogger(), 3)

	nm := newMessage("alice@gmail.com/example.com", []string{"bob@dest.test"}, "From: alice@gmail.com/example.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusHeld, msg.Status)
}

func TestHandler_Handle_FromHeaderOutsideAuthorizedDomain(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, &fakePublisher{}, nil, discardLogger(), 3)

	nm := newMessage("alice@example.com", []string{"bob@dest.test"}, "From: alice@gmail.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusHeld, msg.Status)
	assert.Contains(t, *msg.Reason, "From domain")
}

func TestHandler_Handle_DKIMKeyMismatch(t *testing.T) {
	domain := testDomain(t, "example.com")
	store := &fakeStore{}
	h := NewHandler(store, &fakeDomainLookup{domain: domain}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: false}, &fakePublisher{}, nil, discardLogger(), 3)

	nm := newMessage("alice@example.com", []string{"bob@dest.test"}, "From: alice@example.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusHeld, msg.Status)
	assert.Contains(t, *msg.Reason, "invalid DKIM key on example.com")
}

func TestHandler_Handle_UnknownCredentialIsHeld(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(store, &fakeDomainLookup{err: errors.New("not found")}, &fakeQuotaReducer{}, &fakeDKIMVerifier{ok: true}, &fakePublisher{}, nil, discardLogger(), 3)

	nm := newMessage("alice@example.com", []string{"bob@dest.test"}, "From: alice@example.com\r\n\r\nHi.")
	msg, err := h.Handle(context.Background(), nm)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusHeld, msg.Status)
	assert.Contains(t, *msg.Reason, "not permitted to use domain")
}

func TestHandler_Handle_StoreCreateErrorPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	h := NewHandler(store, &fakeDomainLookup{}, &fakeQuotaReducer{}, &fakeDKIMVerifier{}, &fakePublisher{}, nil, discardLogger(), 3)

	_, err := h.Handle(context.Background(), newMessage("a@example.com", []string{"b@dest.test"}, "body"))
	assert.Error(t, err)
}
