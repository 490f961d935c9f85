package handler

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/engine"
	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/pkg"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/server/middleware"
)

type DomainHandler struct {
	domains  postgres.DomainRepository
	dkim     config.DKIMConfig
	hostname string
	logger   *slog.Logger
}

type createDomainRequest struct {
	FQDN string `json:"fqdn" validate:"required,fqdn"`
}

type domainResponse struct {
	ID           uuid.UUID               `json:"id"`
	FQDN         string                  `json:"fqdn"`
	DKIMSelector string                  `json:"dkim_selector"`
	CreatedAt    time.Time               `json:"created_at"`
	DNSRecords   []model.DomainDNSRecord `json:"dns_records"`
}

func (h *DomainHandler) toResponse(d *model.Domain) domainResponse {
	pubKey := base64.StdEncoding.EncodeToString(d.DKIMPublicKeyDER)
	return domainResponse{
		ID:           d.ID,
		FQDN:         d.FQDN,
		DKIMSelector: d.DKIMSelector,
		CreatedAt:    d.CreatedAt,
		DNSRecords:   engine.GenerateDNSRecords(d.FQDN, d.DKIMSelector, d.DKIMKeyType, pubKey, h.hostname),
	}
}

// Create handles POST /domains. It generates the domain's DKIM keypair
// on the spot; the caller never supplies or sees the private half.
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuth(r.Context())
	if auth == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createDomainRequest
	if err := pkg.DecodeJSON(r, &req); err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := pkg.Validate(&req); err != nil {
		pkg.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	keyType := h.dkim.KeyType
	if keyType == "" {
		keyType = model.DKIMKeyTypeRSA
	}

	var privDER, pubDER []byte
	var err error
	switch keyType {
	case model.DKIMKeyTypeEd25519:
		privDER, pubDER, err = engine.GenerateEd25519DKIMKeyPair()
	default:
		privDER, pubDER, err = engine.GenerateDKIMKeyPair(h.dkim.KeyBits)
	}
	if err != nil {
		h.logger.Error("domain create: generating DKIM keypair", "error", err)
		pkg.Error(w, http.StatusInternalServerError, "failed to generate DKIM key")
		return
	}

	now := time.Now()
	domain := &model.Domain{
		ID:               uuid.New(),
		TenantID:         auth.TenantID,
		FQDN:             req.FQDN,
		DKIMKeyDER:       privDER,
		DKIMKeyType:      keyType,
		DKIMPublicKeyDER: pubDER,
		DKIMSelector:     h.dkim.Selector,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.domains.Create(r.Context(), domain); err != nil {
		h.logger.Error("domain create: persisting", "fqdn", req.FQDN, "error", err)
		pkg.HandleError(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, h.toResponse(domain))
}

// Get handles GET /domains/{domainId}.
func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuth(r.Context())
	if auth == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	domainID, err := uuid.Parse(chi.URLParam(r, "domainId"))
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid domain id")
		return
	}

	domain, err := h.domains.GetByTenantAndID(r.Context(), auth.TenantID, domainID)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, h.toResponse(domain))
}

type domainListResponse struct {
	Data       []domainResponse `json:"data"`
	TotalCount int              `json:"total_count"`
}

// List handles GET /domains.
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuth(r.Context())
	if auth == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	params := parsePagination(page, perPage)

	domains, total, err := h.domains.List(r.Context(), auth.TenantID, params.PerPage, params.offset())
	if err != nil {
		pkg.HandleError(w, err)
		return
	}

	resp := domainListResponse{Data: make([]domainResponse, len(domains)), TotalCount: total}
	for i := range domains {
		resp.Data[i] = h.toResponse(&domains[i])
	}
	pkg.JSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /domains/{domainId}. Only the domain row is
// removed; SMTP credentials and messages reference streams, not domains,
// and are not removed or changed.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuth(r.Context())
	if auth == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	domainID, err := uuid.Parse(chi.URLParam(r, "domainId"))
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid domain id")
		return
	}

	if _, err := h.domains.GetByTenantAndID(r.Context(), auth.TenantID, domainID); err != nil {
		pkg.HandleError(w, err)
		return
	}

	if err := h.domains.Delete(r.Context(), domainID); err != nil {
		pkg.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
