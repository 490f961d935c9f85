package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/remails-com/remails/internal/pkg"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/server/middleware"
)

// QuotaHandler exposes read-only visibility into a tenant's transactional
// send allowance. Quota is otherwise only ever touched by the ingress
// handler's ReduceQuota call and the periodic scheduler's reset tick.
type QuotaHandler struct {
	quotas postgres.TenantQuotaRepository
	logger *slog.Logger
}

type quotaResponse struct {
	TotalMessageQuota int        `json:"total_message_quota"`
	UsedMessageQuota  int        `json:"used_message_quota"`
	Remaining         int        `json:"remaining"`
	QuotaReset        *time.Time `json:"quota_reset,omitempty"`
}

// Get handles GET /quota.
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuth(r.Context())
	if auth == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	quota, err := h.quotas.Get(r.Context(), auth.TenantID)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}

	remaining := quota.TotalMessageQuota - quota.UsedMessageQuota
	if remaining < 0 {
		remaining = 0
	}

	pkg.JSON(w, http.StatusOK, quotaResponse{
		TotalMessageQuota: quota.TotalMessageQuota,
		UsedMessageQuota:  quota.UsedMessageQuota,
		Remaining:         remaining,
		QuotaReset:        quota.QuotaReset,
	})
}
