package ingress

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderDomain(t *testing.T) {
	t.Run("simple address", func(t *testing.T) {
		assert.Equal(t, "example.com", senderDomain("alice@example.com"))
	})

	t.Run("lowercases the domain", func(t *testing.T) {
		assert.Equal(t, "example.com", senderDomain("alice@Example.COM"))
	})

	t.Run("no @ returns empty string", func(t *testing.T) {
		assert.Equal(t, "", senderDomain("not-an-address"))
	})
}

func TestAllowedDomainChars(t *testing.T) {
	t.Run("valid domain", func(t *testing.T) {
		assert.True(t, allowedDomainChars("mail.example.com"))
	})

	t.Run("rejects slash", func(t *testing.T) {
		assert.False(t, allowedDomainChars("gmail.com/example.com"))
	})

	t.Run("rejects query marker", func(t *testing.T) {
		assert.False(t, allowedDomainChars("gmail.com?q=example.com"))
	})

	t.Run("rejects empty", func(t *testing.T) {
		assert.False(t, allowedDomainChars(""))
	})
}

func TestIsAuthorizedDomain(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		assert.True(t, isAuthorizedDomain("example.com", "example.com"))
	})

	t.Run("subdomain of authorized domain", func(t *testing.T) {
		assert.True(t, isAuthorizedDomain("mail.example.com", "example.com"))
	})

	t.Run("unrelated domain suffix collision is rejected", func(t *testing.T) {
		assert.False(t, isAuthorizedDomain("evilexample.com", "example.com"))
	})

	t.Run("parent domain is not authorized by a child", func(t *testing.T) {
		assert.False(t, isAuthorizedDomain("example.com", "mail.example.com"))
	})

	t.Run("invalid characters reject both sides", func(t *testing.T) {
		assert.False(t, isAuthorizedDomain("gmail.com/example.com", "example.com"))
	})
}

func TestHasMessageID(t *testing.T) {
	t.Run("nil message has none", func(t *testing.T) {
		assert.False(t, hasMessageID(nil))
	})

	t.Run("present header", func(t *testing.T) {
		msg, err := mail.ReadMessage(strings.NewReader("Message-ID: <abc@example.com>\r\n\r\nbody"))
		require.NoError(t, err)
		assert.True(t, hasMessageID(msg))
	})

	t.Run("missing header", func(t *testing.T) {
		msg, err := mail.ReadMessage(strings.NewReader("Subject: hi\r\n\r\nbody"))
		require.NoError(t, err)
		assert.False(t, hasMessageID(msg))
	})
}

func TestInjectMessageID(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody")
	injected := injectMessageID(raw, "example.com")

	result := string(injected)
	assert.True(t, strings.HasPrefix(result, "Message-ID: <REMAILS-"))
	assert.Contains(t, result, "@example.com>\r\n")
	assert.True(t, strings.HasSuffix(result, string(raw)))

	t.Run("deterministic for the same input", func(t *testing.T) {
		again := injectMessageID(raw, "example.com")
		assert.Equal(t, injected, again)
	})

	t.Run("differs for different raw data", func(t *testing.T) {
		other := injectMessageID([]byte("Subject: other\r\n\r\nbody"), "example.com")
		assert.NotEqual(t, injected, other)
	})
}
