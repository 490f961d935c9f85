package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and invalid values.
// It collects all failures into a single error so the operator sees every
// problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.SMTP.ListenAddr == "" {
		errs = append(errs, "SMTP_LISTEN_ADDR is required")
	}
	if c.SMTP.ServerName == "" {
		errs = append(errs, "SMTP_SERVER_NAME is required")
	}
	if (c.SMTP.CertFile == "") != (c.SMTP.KeyFile == "") {
		errs = append(errs, "SMTP_CERT_FILE and SMTP_KEY_FILE must be set together")
	}

	if c.MessageBus.FQDN == "" {
		errs = append(errs, "MESSAGE_BUS_FQDN is required")
	}
	if c.MessageBus.Port <= 0 {
		errs = append(errs, "MESSAGE_BUS_PORT must be a positive port number")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	if c.DKIM.MasterEncryptionKey != "" {
		decoded, err := hex.DecodeString(c.DKIM.MasterEncryptionKey)
		if err != nil {
			errs = append(errs, "dkim.master_encryption_key must be valid hex")
		} else if len(decoded) < 32 {
			errs = append(errs, "dkim.master_encryption_key must be at least 32 bytes (64 hex chars)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
