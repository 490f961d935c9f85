package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the message store's state machine value (persisted by
// MessageStore in internal/repository/postgres).
type MessageStatus string

const (
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusHeld       MessageStatus = "held"
	MessageStatusAccepted   MessageStatus = "accepted"
	MessageStatusRejected   MessageStatus = "rejected"
	MessageStatusDelivered  MessageStatus = "delivered"
	MessageStatusReattempt  MessageStatus = "reattempt"
	MessageStatusFailed     MessageStatus = "failed"
)

// ShouldRetry reports whether a message in this status is still eligible
// for an automatic or operator-triggered retry.
func (s MessageStatus) ShouldRetry() bool {
	switch s {
	case MessageStatusHeld, MessageStatusReattempt:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status can never transition again.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusDelivered, MessageStatusRejected, MessageStatusFailed:
		return true
	default:
		return false
	}
}

// DeliveryKind distinguishes the three shapes a recipient's delivery
// outcome can take.
type DeliveryKind string

const (
	DeliveryKindSuccess   DeliveryKind = "success"
	DeliveryKindReattempt DeliveryKind = "reattempt"
	DeliveryKindFailed    DeliveryKind = "failed"
)

// ConnectionLogLevel is the severity of a single ConnectionLogEntry.
type ConnectionLogLevel string

const (
	LogLevelInfo  ConnectionLogLevel = "info"
	LogLevelWarn  ConnectionLogLevel = "warn"
	LogLevelError ConnectionLogLevel = "error"
)

// MaxConnectionLogEntries caps the per-recipient connection log; the
// source left this unbounded, this reimplementation does not.
const MaxConnectionLogEntries = 100

// ConnectionLogEntry is one append-only line in a recipient's delivery
// attempt log.
type ConnectionLogEntry struct {
	Time  time.Time          `json:"time"`
	Level ConnectionLogLevel `json:"level"`
	Text  string             `json:"text"`
}

// DeliveryDetail is the per-recipient outcome stored in a Message's
// delivery_details map.
type DeliveryDetail struct {
	Kind        DeliveryKind         `json:"kind"`
	DeliveredAt *time.Time           `json:"delivered_at,omitempty"`
	Log         []ConnectionLogEntry `json:"log"`
}

// AppendLog appends a log line, dropping the oldest entry if the cap is
// exceeded.
func (d *DeliveryDetail) AppendLog(level ConnectionLogLevel, text string, at time.Time) {
	d.Log = append(d.Log, ConnectionLogEntry{Time: at, Level: level, Text: text})
	if len(d.Log) > MaxConnectionLogEntries {
		d.Log = d.Log[len(d.Log)-MaxConnectionLogEntries:]
	}
}

// Message is the central entity: a single submitted email as it moves
// through ingress, signing, and outbound delivery.
type Message struct {
	ID               uuid.UUID  `db:"id"`
	TenantID         uuid.UUID  `db:"tenant_id"`
	ProjectID        uuid.UUID  `db:"project_id"`
	StreamID         uuid.UUID  `db:"stream_id"`
	SmtpCredentialID *uuid.UUID `db:"smtp_credential_id"`

	Status MessageStatus `db:"status"`
	Reason *string       `db:"reason"`

	DeliveryDetails DeliveryDetailsMap `db:"delivery_details"`

	FromEmail  string   `db:"from_email"`
	Recipients []string `db:"recipients"`
	RawData    []byte   `db:"raw_data"`
	// MessageData is the lenient structured view produced by parsing
	// RawData; kept as opaque JSON because the core never inspects it
	// beyond header extraction done ad hoc during ingress.
	MessageData JSONMap `db:"message_data"`

	Attempts    int        `db:"attempts"`
	MaxAttempts int        `db:"max_attempts"`
	RetryAfter  *time.Time `db:"retry_after"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PrependHeaders prepends raw header bytes (already CRLF-terminated) to
// RawData. The body is never re-serialized.
func (m *Message) PrependHeaders(headers string) {
	buf := make([]byte, 0, len(headers)+len(m.RawData))
	buf = append(buf, headers...)
	buf = append(buf, m.RawData...)
	m.RawData = buf
}

// NewMessage is the input to MessageStore.Create: a freshly accepted SMTP
// submission, not yet assigned tenant/project/stream (those are resolved
// by joining through SmtpCredentialID).
type NewMessage struct {
	SmtpCredentialID uuid.UUID
	FromEmail        string
	Recipients       []string
	RawData          []byte
}

// RetryConfig parameterizes the linear-backoff retry scheduling policy
// applied after every delivery attempt (see §4.3).
type RetryConfig struct {
	MaxAutomaticRetries int
	Delay               time.Duration
}

// DefaultRetryConfig mirrors the source's defaults: linear backoff capped
// at one day. MaxAutomaticRetries seeds a newly created Message's
// MaxAttempts; SetNextRetry itself reads the per-message field, not this
// config, so a later MarkReadyToRetryNow bump can raise the ceiling past
// this default.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAutomaticRetries: 3, Delay: 10 * time.Minute}
}

// SetNextRetry applies the §4.3 retry scheduling policy in place:
// increments Attempts, and either schedules RetryAfter with linear
// backoff or, once the message's own MaxAttempts is exhausted, moves the
// status to its terminal variant (held→rejected, reattempt→failed).
// MaxAttempts is a per-message field rather than cfg.MaxAutomaticRetries
// so that MarkReadyToRetryNow's monotonic bump to max_attempts actually
// buys the message extra automatic retries.
func (m *Message) SetNextRetry(cfg RetryConfig, now time.Time) {
	m.Attempts++

	if !m.Status.ShouldRetry() {
		m.RetryAfter = nil
		return
	}

	if m.Attempts < m.MaxAttempts {
		timeout := cfg.Delay * time.Duration(m.Attempts)
		if timeout > 24*time.Hour {
			timeout = 24 * time.Hour
		}
		retryAt := now.Add(timeout)
		m.RetryAfter = &retryAt
		return
	}

	switch m.Status {
	case MessageStatusHeld:
		m.Status = MessageStatusRejected
	case MessageStatusReattempt:
		m.Status = MessageStatusFailed
	}
	m.RetryAfter = nil
}
