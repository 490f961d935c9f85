package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/remails-com/remails/internal/model"
)

// SenderMetrics is an optional interface for recording SMTP metrics.
// Pass nil to disable metrics.
type SenderMetrics interface {
	ObserveEmailSendDuration(seconds float64)
	IncSMTPConnection(mxHost, result string)
}

// Sender delivers already-signed, already-framed RFC 5322 messages directly
// to each recipient's MX servers. It never builds or rewrites message
// bodies: by the time a Message reaches the sender it has already passed
// through ingress (header injection, DKIM signing) and its RawData is the
// exact byte stream handed to DATA.
type Sender struct {
	heloDomain     string
	tlsPolicy      string // "opportunistic" or "enforce"
	connectTimeout time.Duration
	sendTimeout    time.Duration
	resolver       *DNSResolver
	logger         *slog.Logger
	circuitBreaker *CircuitBreaker
	metrics        SenderMetrics
}

// SenderConfig configures the SMTP sender.
type SenderConfig struct {
	HeloDomain     string
	TLSPolicy      string
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	Metrics        SenderMetrics
}

// RecipientOutcome holds the delivery result for a single recipient, the
// input to Message.DeliveryDetails and the retry decision.
type RecipientOutcome struct {
	Recipient string
	Kind      model.DeliveryKind
	Code      int
	Message   string
	Permanent bool
}

// NewSender creates a new SMTP sender with the given configuration.
func NewSender(cfg SenderConfig, resolver *DNSResolver, logger *slog.Logger) *Sender {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 5 * time.Minute
	}
	if cfg.TLSPolicy == "" {
		cfg.TLSPolicy = "opportunistic"
	}

	return &Sender{
		heloDomain:     cfg.HeloDomain,
		tlsPolicy:      cfg.TLSPolicy,
		connectTimeout: cfg.ConnectTimeout,
		sendTimeout:    cfg.SendTimeout,
		resolver:       resolver,
		logger:         logger,
		circuitBreaker: NewCircuitBreaker(defaultFailureThreshold, defaultResetTimeout),
		metrics:        cfg.Metrics,
	}
}

// Deliver attempts delivery of msg.RawData to every recipient, grouping
// recipients by destination domain so each domain gets a single SMTP
// session where possible. It never mutates msg; the caller applies the
// returned outcomes to the message's delivery details and retry state.
func (s *Sender) Deliver(ctx context.Context, msg *model.Message) []RecipientOutcome {
	domainRecipients := groupByDomain(msg.Recipients)

	var outcomes []RecipientOutcome
	for domain, recipients := range domainRecipients {
		outcomes = append(outcomes, s.deliverToDomain(ctx, domain, recipients, msg.FromEmail, msg.RawData)...)
	}
	return outcomes
}

// groupByDomain groups email addresses by their domain part.
func groupByDomain(recipients []string) map[string][]string {
	groups := make(map[string][]string)
	for _, addr := range recipients {
		parts := strings.SplitN(addr, "@", 2)
		if len(parts) != 2 {
			continue
		}
		domain := strings.ToLower(parts[1])
		groups[domain] = append(groups[domain], addr)
	}
	return groups
}

// deliverToDomain resolves MX records for the domain and attempts delivery
// through each MX host in priority order until one succeeds.
func (s *Sender) deliverToDomain(
	ctx context.Context,
	domain string,
	recipients []string,
	from string,
	message []byte,
) []RecipientOutcome {
	mxRecords, err := s.resolver.LookupMX(domain)
	if err != nil {
		s.logger.Error("MX lookup failed", "domain", domain, "error", err)
		return deferAll(recipients, fmt.Sprintf("MX lookup failed: %v", err))
	}

	outcomes := make(map[string]RecipientOutcome)
	var lastErr error

	for _, mx := range mxRecords {
		select {
		case <-ctx.Done():
			return deferAll(remaining(recipients, outcomes), "context cancelled")
		default:
		}

		if !s.circuitBreaker.Allow(mx.Host) {
			s.logger.Warn("circuit breaker open, skipping MX host", "domain", domain, "mx_host", mx.Host)
			continue
		}

		left := remaining(recipients, outcomes)
		if len(left) == 0 {
			break
		}

		attempt, err := s.deliverToHost(ctx, mx.Host, from, left, message)
		for k, v := range attempt {
			outcomes[k] = v
		}
		if err == nil {
			s.circuitBreaker.RecordSuccess(mx.Host)
			break
		}
		s.circuitBreaker.RecordFailure(mx.Host)
		lastErr = err
		s.logger.Warn("delivery attempt failed", "mx_host", mx.Host, "error", err)
	}

	for _, rcpt := range remaining(recipients, outcomes) {
		outcomes[rcpt] = RecipientOutcome{
			Recipient: rcpt,
			Kind:      model.DeliveryKindReattempt,
			Message:   fmt.Sprintf("all MX hosts failed: %v", lastErr),
		}
	}

	result := make([]RecipientOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		result = append(result, o)
	}
	return result
}

func remaining(recipients []string, done map[string]RecipientOutcome) []string {
	var left []string
	for _, r := range recipients {
		if _, ok := done[r]; !ok {
			left = append(left, r)
		}
	}
	return left
}

func deferAll(recipients []string, reason string) []RecipientOutcome {
	outcomes := make([]RecipientOutcome, 0, len(recipients))
	for _, r := range recipients {
		outcomes = append(outcomes, RecipientOutcome{Recipient: r, Kind: model.DeliveryKindReattempt, Message: reason})
	}
	return outcomes
}

// deliverToHost connects to a single MX host and attempts SMTP delivery to
// every recipient in one session.
func (s *Sender) deliverToHost(
	ctx context.Context,
	host string,
	from string,
	recipients []string,
	message []byte,
) (map[string]RecipientOutcome, error) {
	outcomes := make(map[string]RecipientOutcome)
	start := time.Now()
	addr := host + ":25"

	dialer := net.Dialer{Timeout: s.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.recordSMTPConnection(host, "connect_error")
		return outcomes, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(s.sendTimeout)); err != nil {
		_ = conn.Close()
		return outcomes, fmt.Errorf("setting deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return outcomes, fmt.Errorf("creating SMTP client for %s: %w", host, err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Hello(s.heloDomain); err != nil {
		return outcomes, fmt.Errorf("EHLO to %s: %w", host, err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: host}
		if err := client.StartTLS(tlsConfig); err != nil {
			if s.tlsPolicy == "enforce" {
				return outcomes, fmt.Errorf("STARTTLS required but failed for %s: %w", host, err)
			}
			s.logger.Warn("STARTTLS failed, continuing without TLS", "host", host, "error", err)
		}
	} else if s.tlsPolicy == "enforce" {
		return outcomes, fmt.Errorf("STARTTLS required but not offered by %s", host)
	}

	if err := client.Mail(from); err != nil {
		return outcomes, fmt.Errorf("MAIL FROM to %s: %w", host, err)
	}

	var validRecipients []string
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			code, msg := parseSmtpError(err)
			bounce := ClassifyBounce(code, msg)
			outcomes[rcpt] = RecipientOutcome{
				Recipient: rcpt,
				Kind:      kindFromBounce(bounce),
				Code:      code,
				Message:   msg,
				Permanent: bounce.Permanent,
			}
			s.logger.Warn("RCPT TO rejected", "recipient", rcpt, "host", host, "code", code, "message", msg)
		} else {
			validRecipients = append(validRecipients, rcpt)
		}
	}

	if len(validRecipients) == 0 {
		_ = client.Reset()
		return outcomes, nil
	}

	wc, err := client.Data()
	if err != nil {
		code, msg := parseSmtpError(err)
		for _, rcpt := range validRecipients {
			outcomes[rcpt] = RecipientOutcome{Recipient: rcpt, Kind: model.DeliveryKindReattempt, Code: code, Message: msg, Permanent: code >= 500}
		}
		return outcomes, fmt.Errorf("DATA to %s: %w", host, err)
	}

	if _, err := wc.Write(message); err != nil {
		_ = wc.Close()
		return outcomes, fmt.Errorf("writing message data to %s: %w", host, err)
	}

	if err := wc.Close(); err != nil {
		code, msg := parseSmtpError(err)
		for _, rcpt := range validRecipients {
			outcomes[rcpt] = RecipientOutcome{Recipient: rcpt, Kind: model.DeliveryKindReattempt, Code: code, Message: msg, Permanent: code >= 500}
		}
		return outcomes, fmt.Errorf("closing DATA to %s: %w", host, err)
	}

	for _, rcpt := range validRecipients {
		outcomes[rcpt] = RecipientOutcome{Recipient: rcpt, Kind: model.DeliveryKindSuccess, Code: 250, Message: "OK"}
	}

	_ = client.Quit()
	s.recordSMTPConnection(host, "success")
	s.recordEmailSendDuration(time.Since(start).Seconds())
	return outcomes, nil
}

func (s *Sender) recordSMTPConnection(host, result string) {
	if s.metrics != nil {
		s.metrics.IncSMTPConnection(host, result)
	}
}

func (s *Sender) recordEmailSendDuration(seconds float64) {
	if s.metrics != nil {
		s.metrics.ObserveEmailSendDuration(seconds)
	}
}

// parseSmtpError extracts the SMTP response code and message from an error.
func parseSmtpError(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	msg := err.Error()

	if len(msg) >= 3 {
		var code int
		if _, parseErr := fmt.Sscanf(msg[:3], "%d", &code); parseErr == nil && code >= 200 && code < 600 {
			return code, strings.TrimSpace(msg[3:])
		}
	}

	if strings.Contains(strings.ToLower(msg), "timeout") ||
		strings.Contains(strings.ToLower(msg), "connection refused") {
		return 421, msg
	}

	return 0, msg
}

// kindFromBounce maps a BounceInfo to the DeliveryKind the retry state
// machine expects.
func kindFromBounce(b BounceInfo) model.DeliveryKind {
	switch b.Type {
	case BounceHard, BounceComplaint:
		return model.DeliveryKindFailed
	default:
		return model.DeliveryKindReattempt
	}
}
