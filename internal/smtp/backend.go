// Package smtp implements the ESMTP submission server (C5): TLS-terminated
// AUTH PLAIN/LOGIN, MAIL/RCPT/DATA framing, and enqueueing accepted
// submissions to the ingress handler.
package smtp

import (
	"context"
	"io"
	"log/slog"
	"time"

	gosasl "github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/pkg"
)

// maxMessageBytes is the hard cap on a DATA body (§4.5). Connections that
// exceed it get 554, not a generic protocol error.
const maxMessageBytes = 20 * 1024 * 1024

// CredentialLookup is the interface the backend needs to authenticate
// AUTH PLAIN/LOGIN against a tenant's SMTP credentials.
type CredentialLookup interface {
	GetByUsername(ctx context.Context, username string) (*model.SmtpCredential, error)
}

// Ingress accepts a freshly framed submission for asynchronous processing
// by the C6 handler. Submit only fails on backpressure (queue full or
// closed); it never runs the ingress algorithm inline.
type Ingress interface {
	Submit(ctx context.Context, msg *model.NewMessage) error
}

// SubmissionMetrics is an optional interface for recording session and
// auth counters. Pass nil to disable metrics.
type SubmissionMetrics interface {
	IncSession(result string)
	IncAuthAttempt(result string)
}

// Backend implements the go-smtp Backend interface for the submission
// server: every session must authenticate before MAIL FROM is accepted.
type Backend struct {
	credentials CredentialLookup
	ingress     Ingress
	metrics     SubmissionMetrics
	logger      *slog.Logger
}

// NewBackend creates a new submission backend.
func NewBackend(credentials CredentialLookup, ingress Ingress, metrics SubmissionMetrics, logger *slog.Logger) *Backend {
	return &Backend{
		credentials: credentials,
		ingress:     ingress,
		metrics:     metrics,
		logger:      logger,
	}
}

// NewSession is called when a new SMTP connection is established.
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.metrics != nil {
		b.metrics.IncSession("accepted")
	}
	return &Session{backend: b, logger: b.logger}, nil
}

// Session represents a single submission connection. Per §4.5's state
// table, MAIL FROM is only reachable once credential is non-nil; go-smtp
// enforces this itself (AuthDisabled=false on the server) before ever
// calling Mail.
type Session struct {
	backend    *Backend
	credential *model.SmtpCredential
	from       string
	recipients []string
	logger     *slog.Logger
}

// AuthMechanisms advertises the two mechanisms named in §4.5's EHLO
// capability line.
func (s *Session) AuthMechanisms() []string {
	return []string{gosasl.Plain, gosasl.Login}
}

// Auth returns a SASL server for the requested mechanism. Both PLAIN and
// LOGIN funnel into the same username/password verification.
func (s *Session) Auth(mech string) (gosasl.Server, error) {
	switch mech {
	case gosasl.Plain:
		return gosasl.NewPlainServer(func(identity, username, password string) error {
			return s.authenticate(username, password)
		}), nil
	case gosasl.Login:
		return gosasl.NewLoginServer(func(username, password string) error {
			return s.authenticate(username, password)
		}), nil
	default:
		return nil, gosmtp.ErrAuthUnsupported
	}
}

// authenticate looks up the credential by username (authcid) and verifies
// the password via constant-time argon2id compare (§4.5 "AUTH PLAIN
// format").
func (s *Session) authenticate(username, password string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cred, err := s.backend.credentials.GetByUsername(ctx, username)
	if err != nil {
		s.recordAuth("invalid")
		return gosmtp.ErrAuthFailed
	}

	ok, err := pkg.VerifyPassword(password, cred.PasswordHash)
	if err != nil || !ok {
		s.recordAuth("invalid")
		return gosmtp.ErrAuthFailed
	}

	s.credential = cred
	s.recordAuth("success")
	return nil
}

func (s *Session) recordAuth(result string) {
	if s.backend.metrics != nil {
		s.backend.metrics.IncAuthAttempt(result)
	}
}

// Mail is called with the MAIL FROM address. go-smtp already refused this
// command with 530 if no AUTH succeeded first.
func (s *Session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.from = from
	s.recipients = nil
	return nil
}

// Rcpt is called for each RCPT TO address.
func (s *Session) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	if s.from == "" {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "Use MAIL first",
		}
	}
	s.recipients = append(s.recipients, to)
	return nil
}

// Data is called when the DATA command is received; it frames the body,
// enforces the size cap, and hands the finished submission to the
// ingress handler.
func (s *Session) Data(r io.Reader) error {
	if s.credential == nil {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No valid recipients",
		}
	}

	limited := io.LimitReader(r, maxMessageBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		s.logger.Error("submission: failed to read message body", "error", err)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message data",
		}
	}
	if len(raw) > maxMessageBytes {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      "Message rejected",
		}
	}

	newMessage := &model.NewMessage{
		SmtpCredentialID: s.credential.ID,
		FromEmail:        s.from,
		Recipients:       append([]string(nil), s.recipients...),
		RawData:          raw,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.backend.ingress.Submit(ctx, newMessage); err != nil {
		s.logger.Warn("submission: ingress rejected message",
			"error", err,
			"from", s.from,
			"recipients", len(s.recipients),
		)
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "Message rejected",
		}
	}

	s.logger.Info("submission: message accepted",
		"credential_id", s.credential.ID,
		"from", s.from,
		"recipients", len(s.recipients),
	)

	return nil
}

// Reset is called after a successful DATA command or on RSET.
func (s *Session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout is called when the connection is closed.
func (s *Session) Logout() error {
	return nil
}
