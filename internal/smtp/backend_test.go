package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	gosasl "github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/pkg"
)

type fakeCredentialLookup struct {
	cred *model.SmtpCredential
	err  error
}

func (f *fakeCredentialLookup) GetByUsername(ctx context.Context, username string) (*model.SmtpCredential, error) {
	return f.cred, f.err
}

type fakeIngress struct {
	submitted []*model.NewMessage
	err       error
}

func (f *fakeIngress) Submit(ctx context.Context, msg *model.NewMessage) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, msg)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCredential(t *testing.T, password string) *model.SmtpCredential {
	t.Helper()
	hash, err := pkg.HashPassword(password)
	require.NoError(t, err)
	return &model.SmtpCredential{ID: uuid.New(), Username: "tenant1", PasswordHash: hash}
}

func TestSession_AuthMechanisms(t *testing.T) {
	session := &Session{}
	mechanisms := session.AuthMechanisms()
	assert.Equal(t, []string{gosasl.Plain, gosasl.Login}, mechanisms)
}

func TestSession_Authenticate(t *testing.T) {
	t.Run("correct password succeeds", func(t *testing.T) {
		cred := testCredential(t, "s3cret")
		backend := NewBackend(&fakeCredentialLookup{cred: cred}, &fakeIngress{}, nil, discardLogger())
		session := &Session{backend: backend, logger: discardLogger()}

		err := session.authenticate("tenant1", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, cred, session.credential)
	})

	t.Run("wrong password fails", func(t *testing.T) {
		cred := testCredential(t, "s3cret")
		backend := NewBackend(&fakeCredentialLookup{cred: cred}, &fakeIngress{}, nil, discardLogger())
		session := &Session{backend: backend, logger: discardLogger()}

		err := session.authenticate("tenant1", "wrong")
		assert.ErrorIs(t, err, gosmtp.ErrAuthFailed)
		assert.Nil(t, session.credential)
	})

	t.Run("unknown username fails", func(t *testing.T) {
		backend := NewBackend(&fakeCredentialLookup{err: errors.New("not found")}, &fakeIngress{}, nil, discardLogger())
		session := &Session{backend: backend, logger: discardLogger()}

		err := session.authenticate("ghost", "anything")
		assert.ErrorIs(t, err, gosmtp.ErrAuthFailed)
	})
}

func TestSession_Rcpt(t *testing.T) {
	t.Run("before MAIL FROM returns 503", func(t *testing.T) {
		session := &Session{}
		err := session.Rcpt("bob@example.com", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 503, smtpErr.Code)
	})

	t.Run("after MAIL FROM appends recipient", func(t *testing.T) {
		session := &Session{from: "alice@example.com"}
		err := session.Rcpt("bob@example.com", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob@example.com"}, session.recipients)
	})
}

func TestSession_Mail(t *testing.T) {
	session := &Session{recipients: []string{"stale@example.com"}}
	err := session.Mail("alice@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", session.from)
	assert.Nil(t, session.recipients, "Mail should reset recipients from any prior transaction")
}

func TestSession_Data(t *testing.T) {
	t.Run("rejects unauthenticated session", func(t *testing.T) {
		backend := NewBackend(&fakeCredentialLookup{}, &fakeIngress{}, nil, discardLogger())
		session := &Session{backend: backend, logger: discardLogger(), from: "a@example.com", recipients: []string{"b@example.com"}}

		err := session.Data(strings.NewReader("body"))
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 530, smtpErr.Code)
	})

	t.Run("rejects session with no recipients", func(t *testing.T) {
		cred := testCredential(t, "pw")
		backend := NewBackend(&fakeCredentialLookup{cred: cred}, &fakeIngress{}, nil, discardLogger())
		session := &Session{backend: backend, logger: discardLogger(), credential: cred, from: "a@example.com"}

		err := session.Data(strings.NewReader("body"))
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 554, smtpErr.Code)
	})

	t.Run("submits to ingress on success", func(t *testing.T) {
		cred := testCredential(t, "pw")
		ingress := &fakeIngress{}
		backend := NewBackend(&fakeCredentialLookup{cred: cred}, ingress, nil, discardLogger())
		session := &Session{
			backend:    backend,
			logger:     discardLogger(),
			credential: cred,
			from:       "alice@example.com",
			recipients: []string{"bob@dest.test"},
		}

		body := "From: alice@example.com\r\nSubject: Hi\r\n\r\nHello."
		err := session.Data(strings.NewReader(body))
		require.NoError(t, err)

		require.Len(t, ingress.submitted, 1)
		submitted := ingress.submitted[0]
		assert.Equal(t, cred.ID, submitted.SmtpCredentialID)
		assert.Equal(t, "alice@example.com", submitted.FromEmail)
		assert.Equal(t, []string{"bob@dest.test"}, submitted.Recipients)
		assert.Equal(t, []byte(body), submitted.RawData)
	})

	t.Run("oversized body is rejected with 554", func(t *testing.T) {
		cred := testCredential(t, "pw")
		ingress := &fakeIngress{}
		backend := NewBackend(&fakeCredentialLookup{cred: cred}, ingress, nil, discardLogger())
		session := &Session{
			backend:    backend,
			logger:     discardLogger(),
			credential: cred,
			from:       "alice@example.com",
			recipients: []string{"bob@dest.test"},
		}

		oversized := strings.NewReader(strings.Repeat("a", maxMessageBytes+100))
		err := session.Data(oversized)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 554, smtpErr.Code)
		assert.Empty(t, ingress.submitted)
	})

	t.Run("ingress backpressure is rejected with 554", func(t *testing.T) {
		cred := testCredential(t, "pw")
		ingress := &fakeIngress{err: errors.New("queue full")}
		backend := NewBackend(&fakeCredentialLookup{cred: cred}, ingress, nil, discardLogger())
		session := &Session{
			backend:    backend,
			logger:     discardLogger(),
			credential: cred,
			from:       "alice@example.com",
			recipients: []string{"bob@dest.test"},
		}

		err := session.Data(strings.NewReader("body"))
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 554, smtpErr.Code)
	})
}

func TestSession_Reset(t *testing.T) {
	session := &Session{from: "a@example.com", recipients: []string{"b@example.com"}}
	session.Reset()
	assert.Equal(t, "", session.from)
	assert.Nil(t, session.recipients)
}

func TestSession_Logout(t *testing.T) {
	session := &Session{}
	assert.NoError(t, session.Logout())
}
