package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/remails-com/remails/internal/model"
)

// DomainRepository defines persistence operations for sender domains,
// the authorized (tenant, fqdn) tree the ingress handler's domain-
// authority check walks.
type DomainRepository interface {
	Create(ctx context.Context, domain *model.Domain) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Domain, error)
	GetByTenantAndID(ctx context.Context, tenantID, id uuid.UUID) (*model.Domain, error)
	GetByTenantAndFQDN(ctx context.Context, tenantID uuid.UUID, fqdn string) (*model.Domain, error)
	GetDomainForCredential(ctx context.Context, credentialID uuid.UUID) (*model.Domain, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.Domain, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SmtpCredentialRepository defines persistence operations for ESMTP AUTH
// credentials.
type SmtpCredentialRepository interface {
	Create(ctx context.Context, credential *model.SmtpCredential) error
	GetByUsername(ctx context.Context, username string) (*model.SmtpCredential, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.SmtpCredential, error)
	ListByStreamID(ctx context.Context, streamID uuid.UUID) ([]model.SmtpCredential, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TenantQuotaRepository defines persistence operations for per-tenant
// transactional-send quotas.
type TenantQuotaRepository interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*model.TenantQuota, error)
	// ReduceQuota atomically increments used_message_quota by one while it
	// is below the total, and reports whether the tenant was already at
	// its total.
	ReduceQuota(ctx context.Context, tenantID uuid.UUID) (exceeded bool, err error)
	// ListDueForReset returns tenants whose quota_reset has elapsed, for
	// the periodic scheduler's reset_all_quotas tick.
	ListDueForReset(ctx context.Context) ([]model.TenantQuota, error)
	ResetQuota(ctx context.Context, tenantID uuid.UUID, newTotal int, nextReset time.Time) error
}

// InviteRepository defines persistence operations for pending membership
// invitations. The management-API CRUD surface this would normally back
// is out of scope; only the cleanup the periodic scheduler needs is kept.
type InviteRepository interface {
	// DeleteExpired removes invites whose expiry plus grace has passed,
	// and reports how many rows were removed.
	DeleteExpired(ctx context.Context, grace time.Duration) (int64, error)
}
