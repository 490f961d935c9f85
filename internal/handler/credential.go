package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/pkg"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/server/middleware"
)

// CredentialHandler issues and revokes the ESMTP AUTH username/password
// pairs the submission server authenticates against. Stream provisioning
// itself is out of scope; StreamID is taken as given, the way a stream
// already exists by the time its first credential is minted.
type CredentialHandler struct {
	credentials postgres.SmtpCredentialRepository
	logger      *slog.Logger
}

type createCredentialRequest struct {
	Username string    `json:"username" validate:"required,min=3,max=255"`
	StreamID uuid.UUID `json:"stream_id" validate:"required"`
}

type createCredentialResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	StreamID  uuid.UUID `json:"stream_id"`
	CreatedAt time.Time `json:"created_at"`
}

type credentialResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	StreamID  uuid.UUID `json:"stream_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Create handles POST /smtp-credentials. The plaintext password is
// generated server-side and returned exactly once; only its argon2id
// hash is ever persisted.
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuth(r.Context())
	if auth == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createCredentialRequest
	if err := pkg.DecodeJSON(r, &req); err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := pkg.Validate(&req); err != nil {
		pkg.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	password, err := pkg.GenerateRandomString(24)
	if err != nil {
		h.logger.Error("credential create: generating password", "error", err)
		pkg.Error(w, http.StatusInternalServerError, "failed to generate password")
		return
	}

	hash, err := pkg.HashPassword(password)
	if err != nil {
		h.logger.Error("credential create: hashing password", "error", err)
		pkg.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	now := time.Now()
	cred := &model.SmtpCredential{
		ID:           uuid.New(),
		Username:     req.Username,
		PasswordHash: hash,
		StreamID:     req.StreamID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.credentials.Create(r.Context(), cred); err != nil {
		h.logger.Error("credential create: persisting", "username", req.Username, "error", err)
		pkg.HandleError(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, createCredentialResponse{
		ID:        cred.ID,
		Username:  cred.Username,
		Password:  password,
		StreamID:  cred.StreamID,
		CreatedAt: cred.CreatedAt,
	})
}

// List handles GET /streams/{streamId}/smtp-credentials.
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	if middleware.GetAuth(r.Context()) == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	streamID, err := uuid.Parse(chi.URLParam(r, "streamId"))
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid stream id")
		return
	}

	creds, err := h.credentials.ListByStreamID(r.Context(), streamID)
	if err != nil {
		pkg.HandleError(w, err)
		return
	}

	resp := make([]credentialResponse, len(creds))
	for i, c := range creds {
		resp[i] = credentialResponse{ID: c.ID, Username: c.Username, StreamID: c.StreamID, CreatedAt: c.CreatedAt}
	}
	pkg.JSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /smtp-credentials/{credentialId}. Historic
// messages are kept; the database sets their SmtpCredentialID to NULL.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if middleware.GetAuth(r.Context()) == nil {
		pkg.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	credentialID, err := uuid.Parse(chi.URLParam(r, "credentialId"))
	if err != nil {
		pkg.Error(w, http.StatusBadRequest, "invalid credential id")
		return
	}

	if err := h.credentials.Delete(r.Context(), credentialID); err != nil {
		pkg.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
