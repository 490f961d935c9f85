// Package handler implements the thin management-API surface: the handful
// of HTTP endpoints the core needs fronted so a domain can be provisioned
// and an SMTP credential issued without touching Postgres by hand. It
// deliberately does not attempt to be a full control-plane CRUD surface —
// organizations, projects, streams, members and their CRUD live in an
// out-of-scope dashboard that talks to the same tables directly.
package handler

import (
	"log/slog"

	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/repository/postgres"
)

// Handlers aggregates every route handler the management API stub
// exposes.
type Handlers struct {
	Domain     *DomainHandler
	Credential *CredentialHandler
	Quota      *QuotaHandler
}

// New wires the handler set directly to its repositories. There is no
// service layer in between: each handler is a thin adapter from HTTP to
// a single repository, which is all a stub this narrow needs.
func New(domains postgres.DomainRepository, credentials postgres.SmtpCredentialRepository, quotas postgres.TenantQuotaRepository, dkim config.DKIMConfig, hostname string, logger *slog.Logger) *Handlers {
	return &Handlers{
		Domain:     &DomainHandler{domains: domains, dkim: dkim, hostname: hostname, logger: logger},
		Credential: &CredentialHandler{credentials: credentials, logger: logger},
		Quota:      &QuotaHandler{quotas: quotas, logger: logger},
	}
}

// pagination holds parsed page/per_page query params.
type pagination struct {
	Page    int
	PerPage int
}

func parsePagination(page, perPage int) pagination {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return pagination{Page: page, PerPage: perPage}
}

func (p pagination) offset() int {
	return (p.Page - 1) * p.PerPage
}
