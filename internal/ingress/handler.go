// Package ingress implements the C6 handler: the short-lived task spawned
// for every SMTP submission that persists the row, checks the sender is
// authorized for the domain it claims, verifies that domain's DKIM key is
// actually published, signs the message, and announces it on the bus.
package ingress

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/google/uuid"

	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/model"
)

// MessageStore is the subset of message persistence the handler needs.
type MessageStore interface {
	Create(ctx context.Context, newMessage *model.NewMessage, maxAttempts int) (*model.Message, error)
	UpdateMessageData(ctx context.Context, message *model.Message) error
}

// DomainLookup resolves the Domain a submission's credential is authorized
// to send as.
type DomainLookup interface {
	GetDomainForCredential(ctx context.Context, credentialID uuid.UUID) (*model.Domain, error)
}

// QuotaReducer enforces the per-tenant transactional-send allowance.
type QuotaReducer interface {
	ReduceQuota(ctx context.Context, tenantID uuid.UUID) (exceeded bool, err error)
}

// DKIMKeyVerifier fetches and compares the DKIM key echoed in DNS against
// the key on file for a domain.
type DKIMKeyVerifier interface {
	VerifyDKIMKeyEcho(domain string, expectedPublicKeyDER []byte) (bool, error)
}

// Publisher announces a bus event. Publish errors are logged, never
// propagated: §4.6 treats the bus post as best-effort.
type Publisher interface {
	Publish(ctx context.Context, event model.BusEvent) error
}

// Metrics is an optional interface for recording per-outcome counters.
// Pass nil to disable metrics.
type Metrics interface {
	IncOutcome(outcome string)
}

// Handler runs the ingress algorithm for a single submission.
type Handler struct {
	store       MessageStore
	domains     DomainLookup
	quotas      QuotaReducer
	dkimDNS     DKIMKeyVerifier
	bus         Publisher
	metrics     Metrics
	logger      *slog.Logger
	maxAttempts int
}

// NewHandler creates a new ingress handler. maxAttempts seeds the row's
// max_attempts column (the retry loop's budget before a row goes terminal).
func NewHandler(store MessageStore, domains DomainLookup, quotas QuotaReducer, dkimDNS DKIMKeyVerifier, bus Publisher, metrics Metrics, logger *slog.Logger, maxAttempts int) *Handler {
	return &Handler{
		store:       store,
		domains:     domains,
		quotas:      quotas,
		dkimDNS:     dkimDNS,
		bus:         bus,
		metrics:     metrics,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Handle runs the full §4.6 algorithm: create the row, enforce quota, check
// domain authority, verify the DKIM key echo, sign, persist, and announce.
// It only returns an error when the store fails; a rejected-by-policy
// submission, including one whose credential lookup fails, is a
// successful Handle call that leaves the row in status held.
func (h *Handler) Handle(ctx context.Context, newMessage *model.NewMessage) (*model.Message, error) {
	msg, err := h.store.Create(ctx, newMessage, h.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	if exceeded, quotaErr := h.quotas.ReduceQuota(ctx, msg.TenantID); quotaErr != nil {
		h.logger.Error("ingress: quota check failed", "message_id", msg.ID, "error", quotaErr)
	} else if exceeded {
		return h.hold(ctx, msg, "quota exceeded")
	}

	parsed, _ := mail.ReadMessage(bytes.NewReader(msg.RawData))
	if !hasMessageID(parsed) {
		domain := senderDomain(msg.FromEmail)
		msg.RawData = injectMessageID(msg.RawData, domain)
		parsed, _ = mail.ReadMessage(bytes.NewReader(msg.RawData))
	}
	msg.MessageData = headerMap(parsed)

	if msg.SmtpCredentialID == nil {
		return h.hold(ctx, msg, "missing SMTP credential")
	}

	domain, err := h.domains.GetDomainForCredential(ctx, *msg.SmtpCredentialID)
	if err != nil {
		return h.hold(ctx, msg, fmt.Sprintf("SMTP credential is not permitted to use domain %s", senderDomain(msg.FromEmail)))
	}

	if reason, ok := checkDomainAuthority(msg, parsed, domain); !ok {
		return h.hold(ctx, msg, reason)
	}

	sender := senderDomain(msg.FromEmail)
	keyOK, err := h.dkimDNS.VerifyDKIMKeyEcho(sender, domain.DKIMPublicKeyDER)
	if err != nil {
		h.logger.Warn("ingress: DKIM key lookup failed", "message_id", msg.ID, "domain", sender, "error", err)
	}
	if !keyOK {
		return h.hold(ctx, msg, fmt.Sprintf("invalid DKIM key on %s", sender))
	}

	signed, err := engine.SignMessage(msg.RawData, domain)
	if err != nil {
		h.logger.Error("ingress: DKIM signing failed", "message_id", msg.ID, "error", err)
		return h.hold(ctx, msg, "internal error: could not sign message")
	}

	msg.RawData = signed
	msg.Status = model.MessageStatusAccepted
	msg.Reason = nil

	if err := h.store.UpdateMessageData(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting signed message %s: %w", msg.ID, err)
	}

	h.recordOutcome("accepted")
	h.publish(ctx, model.NewEmailReadyToSend(msg.ID, nil))
	return msg, nil
}

// hold persists msg in status held with the given reason and reports no
// bus event, per §4.6.
func (h *Handler) hold(ctx context.Context, msg *model.Message, reason string) (*model.Message, error) {
	msg.Status = model.MessageStatusHeld
	msg.Reason = &reason

	if err := h.store.UpdateMessageData(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting held message %s: %w", msg.ID, err)
	}

	h.logger.Info("ingress: message held", "message_id", msg.ID, "reason", reason)
	h.recordOutcome("held")
	return msg, nil
}

func (h *Handler) recordOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.IncOutcome(outcome)
	}
}

func (h *Handler) publish(ctx context.Context, event model.BusEvent) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		h.logger.Warn("ingress: failed to publish bus event", "message_id", event.MessageID, "error", err)
	}
}
