package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remails-com/remails/internal/model"
)

type smtpCredentialRepository struct {
	pool *pgxpool.Pool
}

// NewSmtpCredentialRepository creates a new SmtpCredentialRepository backed
// by PostgreSQL.
func NewSmtpCredentialRepository(pool *pgxpool.Pool) SmtpCredentialRepository {
	return &smtpCredentialRepository{pool: pool}
}

const smtpCredentialColumns = `id, username, password_hash, stream_id, created_at, updated_at`

func scanSmtpCredential(row pgx.Row) (*model.SmtpCredential, error) {
	c := &model.SmtpCredential{}
	err := row.Scan(&c.ID, &c.Username, &c.PasswordHash, &c.StreamID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *smtpCredentialRepository) Create(ctx context.Context, credential *model.SmtpCredential) error {
	query := fmt.Sprintf(`
		INSERT INTO smtp_credentials (%s)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, smtpCredentialColumns, smtpCredentialColumns)

	row := r.pool.QueryRow(ctx, query,
		credential.ID, credential.Username, credential.PasswordHash, credential.StreamID,
		credential.CreatedAt, credential.UpdatedAt,
	)
	scanned, err := scanSmtpCredential(row)
	if err != nil {
		return fmt.Errorf("create smtp credential: %w", err)
	}
	*credential = *scanned
	return nil
}

// GetByUsername is the hot path hit on every AUTH attempt; username is
// unique across the whole deployment, not scoped per tenant.
func (r *smtpCredentialRepository) GetByUsername(ctx context.Context, username string) (*model.SmtpCredential, error) {
	query := fmt.Sprintf(`SELECT %s FROM smtp_credentials WHERE username = $1`, smtpCredentialColumns)

	c, err := scanSmtpCredential(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("smtp credential")
		}
		return nil, fmt.Errorf("get smtp credential by username: %w", err)
	}
	return c, nil
}

func (r *smtpCredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SmtpCredential, error) {
	query := fmt.Sprintf(`SELECT %s FROM smtp_credentials WHERE id = $1`, smtpCredentialColumns)

	c, err := scanSmtpCredential(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("smtp credential")
		}
		return nil, fmt.Errorf("get smtp credential by id: %w", err)
	}
	return c, nil
}

func (r *smtpCredentialRepository) ListByStreamID(ctx context.Context, streamID uuid.UUID) ([]model.SmtpCredential, error) {
	query := fmt.Sprintf(`SELECT %s FROM smtp_credentials WHERE stream_id = $1 ORDER BY created_at DESC`, smtpCredentialColumns)

	rows, err := r.pool.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("list smtp credentials by stream: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SmtpCredential, error) {
		var c model.SmtpCredential
		err := row.Scan(&c.ID, &c.Username, &c.PasswordHash, &c.StreamID, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	})
}

func (r *smtpCredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM smtp_credentials WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete smtp credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("smtp credential")
	}
	return nil
}
