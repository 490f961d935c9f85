package model

import (
	"time"

	"github.com/google/uuid"
)

// SmtpCredential authenticates ESMTP AUTH on the submission server. Deleting
// a credential does not delete historic messages; the database sets their
// Message.SmtpCredentialID to NULL.
type SmtpCredential struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	StreamID     uuid.UUID `json:"stream_id" db:"stream_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
