package model

import (
	"time"

	"github.com/google/uuid"
)

// Invite is a pending membership invitation. The invite CRUD surface
// itself lives in the management API and is out of scope here; this type
// exists so the periodic scheduler's housekeeping tick has something
// concrete to clean up.
type Invite struct {
	ID        uuid.UUID `db:"id"`
	TenantID  uuid.UUID `db:"tenant_id"`
	Email     string    `db:"email"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
