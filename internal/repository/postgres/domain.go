package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remails-com/remails/internal/model"
)

type domainRepository struct {
	pool *pgxpool.Pool
}

// NewDomainRepository creates a new DomainRepository backed by PostgreSQL.
func NewDomainRepository(pool *pgxpool.Pool) DomainRepository {
	return &domainRepository{pool: pool}
}

const domainColumns = `id, tenant_id, project_id, fqdn, dkim_key_der, dkim_key_type, dkim_public_key_der, dkim_selector, created_at, updated_at`

func scanDomain(row pgx.Row) (*model.Domain, error) {
	d := &model.Domain{}
	err := row.Scan(
		&d.ID, &d.TenantID, &d.ProjectID, &d.FQDN,
		&d.DKIMKeyDER, &d.DKIMKeyType, &d.DKIMPublicKeyDER, &d.DKIMSelector,
		&d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r *domainRepository) Create(ctx context.Context, domain *model.Domain) error {
	query := fmt.Sprintf(`
		INSERT INTO domains (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s`, domainColumns, domainColumns)

	row := r.pool.QueryRow(ctx, query,
		domain.ID, domain.TenantID, domain.ProjectID, domain.FQDN,
		domain.DKIMKeyDER, domain.DKIMKeyType, domain.DKIMPublicKeyDER, domain.DKIMSelector,
		domain.CreatedAt, domain.UpdatedAt,
	)
	scanned, err := scanDomain(row)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	*domain = *scanned
	return nil
}

func (r *domainRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Domain, error) {
	query := fmt.Sprintf(`SELECT %s FROM domains WHERE id = $1`, domainColumns)

	d, err := scanDomain(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("domain")
		}
		return nil, fmt.Errorf("get domain by id: %w", err)
	}
	return d, nil
}

// GetByTenantAndID looks up a domain scoped to a tenant, the way a
// credential lookup narrows a Domain to the tenant that owns it.
func (r *domainRepository) GetByTenantAndID(ctx context.Context, tenantID, id uuid.UUID) (*model.Domain, error) {
	query := fmt.Sprintf(`SELECT %s FROM domains WHERE tenant_id = $1 AND id = $2`, domainColumns)

	d, err := scanDomain(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("domain")
		}
		return nil, fmt.Errorf("get domain by tenant and id: %w", err)
	}
	return d, nil
}

// GetByTenantAndFQDN is used by the ingress handler's domain-authority
// check to resolve the Domain a credential is permitted to send from.
func (r *domainRepository) GetByTenantAndFQDN(ctx context.Context, tenantID uuid.UUID, fqdn string) (*model.Domain, error) {
	query := fmt.Sprintf(`SELECT %s FROM domains WHERE tenant_id = $1 AND fqdn = $2`, domainColumns)

	d, err := scanDomain(r.pool.QueryRow(ctx, query, tenantID, fqdn))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("domain")
		}
		return nil, fmt.Errorf("get domain by tenant and fqdn: %w", err)
	}
	return d, nil
}

// GetDomainForCredential resolves the Domain that a given SmtpCredential
// is authorized to send from, joining through smtp_credentials → streams
// → projects → domains the way the source's
// get_domain_id_associated_with_credential query does.
func (r *domainRepository) GetDomainForCredential(ctx context.Context, credentialID uuid.UUID) (*model.Domain, error) {
	query := fmt.Sprintf(`
		SELECT d.id, d.tenant_id, d.project_id, d.fqdn, d.dkim_key_der, d.dkim_key_type, d.dkim_public_key_der, d.dkim_selector, d.created_at, d.updated_at
		FROM smtp_credentials sc
		JOIN streams s ON s.id = sc.stream_id
		JOIN projects p ON p.id = s.project_id
		JOIN domains d ON d.project_id = p.id
		WHERE sc.id = $1`)

	d, err := scanDomain(r.pool.QueryRow(ctx, query, credentialID))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("domain")
		}
		return nil, fmt.Errorf("get domain for credential: %w", err)
	}
	return d, nil
}

func (r *domainRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.Domain, int, error) {
	countQuery := `SELECT COUNT(*) FROM domains WHERE tenant_id = $1`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count domains: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM domains WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, domainColumns)

	rows, err := r.pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	domains, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Domain, error) {
		var d model.Domain
		err := row.Scan(
			&d.ID, &d.TenantID, &d.ProjectID, &d.FQDN,
			&d.DKIMKeyDER, &d.DKIMKeyType, &d.DKIMPublicKeyDER, &d.DKIMSelector,
			&d.CreatedAt, &d.UpdatedAt,
		)
		return d, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("collect domains: %w", err)
	}

	return domains, total, nil
}

func (r *domainRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// Deletes only the domains row. No foreign key references domains, so
	// the SMTP credentials and messages of the domain's project are not
	// removed or changed.
	query := `DELETE FROM domains WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notFound("domain")
	}
	return nil
}
