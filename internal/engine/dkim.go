package engine

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/remails-com/remails/internal/model"
)

// dkimHeaderKeys is the fixed set of 26 headers a DKIM-Signature covers.
// It goes well beyond the minimal From/To/Subject set: Resent-* and
// List-* headers are included because a signature that omits them can be
// stripped and replayed onto a forwarded or mailing-list copy of the
// message without invalidating it.
var dkimHeaderKeys = []string{
	"From", "Subject", "Date", "Message-ID",
	"To", "Cc", "MIME-Version",
	"Content-Type", "Content-Transfer-Encoding", "Content-ID", "Content-Description",
	"Resent-Date", "Resent-From", "Resent-Sender", "Resent-To", "Resent-Cc", "Resent-Message-ID",
	"In-Reply-To", "References",
	"List-Id", "List-Help", "List-Unsubscribe", "List-Subscribe", "List-Post", "List-Owner", "List-Archive",
}

// GenerateDKIMKeyPair generates a new RSA key pair for DKIM signing,
// returning both halves DER-encoded (PKCS#1 private, PKIX public) the way
// they are stored on a Domain row and published in a DNS TXT record.
func GenerateDKIMKeyPair(bits int) (privateKeyDER []byte, publicKeyDER []byte, err error) {
	if bits < 1024 {
		return nil, nil, fmt.Errorf("key size must be at least 1024 bits, got %d", bits)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("generating RSA key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(privateKey)

	pubDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling public key: %w", err)
	}

	return privDER, pubDER, nil
}

// GenerateEd25519DKIMKeyPair generates a new Ed25519 key pair for DKIM
// signing (RFC 8463). The private half is PKCS#8-encoded since x509 has no
// PKCS#1 support for Ed25519; the public half is PKIX-encoded like the RSA
// path so both key types publish the same DNS TXT record shape.
func GenerateEd25519DKIMKeyPair() (privateKeyDER []byte, publicKeyDER []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling public key: %w", err)
	}

	return privDER, pubDER, nil
}

// EncryptPrivateKey encrypts a DER-encoded private key using AES-256-GCM.
// The master key must be exactly 32 bytes for AES-256.
func EncryptPrivateKey(plaintext []byte, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes for AES-256, got %d", len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	// Seal prepends the nonce to the ciphertext for easy extraction during decryption.
	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptPrivateKey decrypts an AES-256-GCM encrypted private key.
// The master key must be exactly 32 bytes for AES-256.
func DecryptPrivateKey(encrypted []byte, masterKey []byte) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes for AES-256, got %d", len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonceSize := aesGCM.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes, need at least %d", len(encrypted), nonceSize)
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	return aesGCM.Open(nil, nonce, ciphertext, nil)
}

// ParsePrivateKey parses a DER-encoded DKIM private key, dispatching on
// keyType since the two supported algorithms use different DER encodings
// (PKCS#1 for RSA, PKCS#8 for Ed25519 — x509 has no PKCS#1 form for it).
func ParsePrivateKey(der []byte, keyType string) (crypto.Signer, error) {
	switch keyType {
	case model.DKIMKeyTypeEd25519:
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		privateKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("parsing private key: PKCS#8 key is not ed25519")
		}
		return privateKey, nil
	case model.DKIMKeyTypeRSA, "":
		privateKey, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return privateKey, nil
	default:
		return nil, fmt.Errorf("parsing private key: unknown key type %q", keyType)
	}
}

// SignMessage signs a raw RFC 5322 message with the given domain's DKIM
// keypair and returns the complete message with the DKIM-Signature header
// prepended. The body is never rewritten; only a header is added. Hash is
// always SHA-256 regardless of key type: RFC 8463's ed25519-sha256 and RFC
// 6376's rsa-sha256 both use it, differing only in signature algorithm,
// which go-msgauth/dkim picks from the concrete type behind Signer.
func SignMessage(message []byte, domain *model.Domain) ([]byte, error) {
	privateKey, err := ParsePrivateKey(domain.DKIMKeyDER, domain.DKIMKeyType)
	if err != nil {
		return nil, fmt.Errorf("parsing private key for DKIM: %w", err)
	}

	options := &dkim.SignOptions{
		Domain:     domain.FQDN,
		Selector:   domain.DKIMSelector,
		Signer:     privateKey,
		Hash:       crypto.SHA256,
		HeaderKeys: dkimHeaderKeys,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("signing message with DKIM: %w", err)
	}

	return signed.Bytes(), nil
}
