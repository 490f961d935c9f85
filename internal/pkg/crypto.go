package pkg

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// GenerateAPIKey generates a new API key with the given prefix (e.g., "re_").
// It returns the plaintext key, its SHA-256 hash, and a truncated prefix for display.
func GenerateAPIKey(prefix string) (plaintext string, hash string, keyPrefix string, err error) {
	bytes := make([]byte, 32)
	if _, err = rand.Read(bytes); err != nil {
		return "", "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext = prefix + hex.EncodeToString(bytes)
	hash = HashAPIKey(plaintext)
	keyPrefix = plaintext[:len(prefix)+8] + "..."
	return plaintext, hash, keyPrefix, nil
}

// HashAPIKey creates a SHA-256 hash of an API key.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateRandomString generates a cryptographically secure random hex string.
// The returned string will be 2*length characters long.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateWebhookSecret generates a signing secret for webhooks.
func GenerateWebhookSecret() (string, error) {
	return GenerateRandomString(32)
}

// argon2idParams are the memory/time/parallelism costs used for
// SmtpCredential password hashing. Tuned for a single-node submission
// server handling bursts of AUTH attempts, not a login page.
const (
	argon2idTime    = 3
	argon2idMemory  = 64 * 1024 // KiB
	argon2idThreads = 2
	argon2idKeyLen  = 32
	argon2idSaltLen = 16
)

// HashPassword hashes an SMTP credential password with argon2id, encoding
// the salt and cost parameters into the stored string so verification
// never depends on ambient configuration.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2idSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2idTime, argon2idMemory, argon2idThreads, argon2idKeyLen)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2idMemory, argon2idTime, argon2idThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyPassword checks a plaintext password against an encoded argon2id
// hash produced by HashPassword, comparing in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("invalid argon2id hash format")
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parsing argon2id params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
