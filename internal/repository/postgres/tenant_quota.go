package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remails-com/remails/internal/model"
)

type tenantQuotaRepository struct {
	pool *pgxpool.Pool
}

// NewTenantQuotaRepository creates a new TenantQuotaRepository backed by
// PostgreSQL.
func NewTenantQuotaRepository(pool *pgxpool.Pool) TenantQuotaRepository {
	return &tenantQuotaRepository{pool: pool}
}

const tenantQuotaColumns = `tenant_id, total_message_quota, used_message_quota, quota_reset, current_subscription`

func scanTenantQuota(row pgx.Row) (*model.TenantQuota, error) {
	q := &model.TenantQuota{}
	err := row.Scan(&q.TenantID, &q.TotalMessageQuota, &q.UsedMessageQuota, &q.QuotaReset, &q.CurrentSubscription)
	return q, err
}

func (r *tenantQuotaRepository) Get(ctx context.Context, tenantID uuid.UUID) (*model.TenantQuota, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenant_quotas WHERE tenant_id = $1`, tenantQuotaColumns)

	q, err := scanTenantQuota(r.pool.QueryRow(ctx, query, tenantID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("tenant quota")
		}
		return nil, fmt.Errorf("get tenant quota: %w", err)
	}
	return q, nil
}

// ReduceQuota only decrements when used is strictly below total, so the
// caller can tell an already-exhausted quota apart from a fresh decrement
// with one round trip.
func (r *tenantQuotaRepository) ReduceQuota(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	query := `
		UPDATE tenant_quotas
		SET used_message_quota = used_message_quota + 1
		WHERE tenant_id = $1 AND used_message_quota < total_message_quota
		RETURNING used_message_quota`

	var used int
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(&used)
	if err != nil {
		if isNoRows(err) {
			return true, nil
		}
		return false, fmt.Errorf("reduce tenant quota: %w", err)
	}
	return false, nil
}

func (r *tenantQuotaRepository) ListDueForReset(ctx context.Context) ([]model.TenantQuota, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenant_quotas WHERE quota_reset IS NOT NULL AND quota_reset <= now()`, tenantQuotaColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenant quotas due for reset: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TenantQuota, error) {
		var q model.TenantQuota
		err := row.Scan(&q.TenantID, &q.TotalMessageQuota, &q.UsedMessageQuota, &q.QuotaReset, &q.CurrentSubscription)
		return q, err
	})
}

func (r *tenantQuotaRepository) ResetQuota(ctx context.Context, tenantID uuid.UUID, newTotal int, nextReset time.Time) error {
	query := `
		UPDATE tenant_quotas
		SET total_message_quota = $2, used_message_quota = 0, quota_reset = $3
		WHERE tenant_id = $1`

	result, err := r.pool.Exec(ctx, query, tenantID, newTotal, nextReset)
	if err != nil {
		return fmt.Errorf("reset tenant quota: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("tenant quota")
	}
	return nil
}
