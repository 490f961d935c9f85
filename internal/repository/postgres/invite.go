package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type inviteRepository struct {
	pool *pgxpool.Pool
}

// NewInviteRepository creates a new InviteRepository backed by PostgreSQL.
func NewInviteRepository(pool *pgxpool.Pool) InviteRepository {
	return &inviteRepository{pool: pool}
}

func (r *inviteRepository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	query := `DELETE FROM invites WHERE expires_at < $1`

	cutoff := time.Now().Add(-grace)
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired invites: %w", err)
	}
	return result.RowsAffected(), nil
}
