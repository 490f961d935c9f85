package model

import (
	"time"

	"github.com/google/uuid"
)

// TenantQuota tracks a tenant's transactional-send allowance. The store
// enforces used <= total and decrements transactionally.
type TenantQuota struct {
	TenantID            uuid.UUID  `db:"tenant_id"`
	TotalMessageQuota    int        `db:"total_message_quota"`
	UsedMessageQuota     int        `db:"used_message_quota"`
	QuotaReset           *time.Time `db:"quota_reset"`
	CurrentSubscription JSONMap    `db:"current_subscription"`
}
