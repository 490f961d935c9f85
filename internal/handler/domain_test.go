package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/remails-com/remails/internal/config"
	"github.com/remails-com/remails/internal/model"
	"github.com/remails-com/remails/internal/repository/postgres"
	"github.com/remails-com/remails/internal/testutil"
	mockpkg "github.com/remails-com/remails/internal/testutil/mock"
)

func newDomainHandler(repo postgres.DomainRepository) *DomainHandler {
	return &DomainHandler{
		domains:  repo,
		dkim:     config.DKIMConfig{Selector: "remails", KeyBits: 1024},
		hostname: "mx.remails.example",
		logger:   slog.Default(),
	}
}

func TestDomainHandler_Create_Success(t *testing.T) {
	repo := new(mockpkg.MockDomainRepository)
	h := newDomainHandler(repo)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*model.Domain")).
		Run(func(args mock.Arguments) {
			d := args.Get(1).(*model.Domain)
			assert.Equal(t, testutil.TestTenantID, d.TenantID)
			assert.Equal(t, "example.com", d.FQDN)
			assert.NotEmpty(t, d.DKIMKeyDER)
		}).
		Return(nil)

	body, _ := json.Marshal(createDomainRequest{FQDN: "example.com"})
	req := httptest.NewRequest(http.MethodPost, "/domains", bytes.NewReader(body))
	req = testutil.AuthenticatedRequest(req, testutil.TestTenantID, testutil.TestUserID)
	rec := httptest.NewRecorder()

	r := testutil.SetupRouter(func(r chi.Router) { r.Post("/domains", h.Create) })
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	repo.AssertExpectations(t)
}

func TestDomainHandler_Create_ValidationError(t *testing.T) {
	repo := new(mockpkg.MockDomainRepository)
	h := newDomainHandler(repo)

	body, _ := json.Marshal(createDomainRequest{FQDN: ""})
	req := httptest.NewRequest(http.MethodPost, "/domains", bytes.NewReader(body))
	req = testutil.AuthenticatedRequest(req, testutil.TestTenantID, testutil.TestUserID)
	rec := httptest.NewRecorder()

	r := testutil.SetupRouter(func(r chi.Router) { r.Post("/domains", h.Create) })
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	repo.AssertNotCalled(t, "Create")
}

func TestDomainHandler_Create_Unauthorized(t *testing.T) {
	repo := new(mockpkg.MockDomainRepository)
	h := newDomainHandler(repo)

	body, _ := json.Marshal(createDomainRequest{FQDN: "example.com"})
	req := httptest.NewRequest(http.MethodPost, "/domains", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	r := testutil.SetupRouter(func(r chi.Router) { r.Post("/domains", h.Create) })
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDomainHandler_Get_NotFound(t *testing.T) {
	repo := new(mockpkg.MockDomainRepository)
	h := newDomainHandler(repo)

	domainID := uuid.New()
	repo.On("GetByTenantAndID", mock.Anything, testutil.TestTenantID, domainID).
		Return(nil, postgres.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/domains/"+domainID.String(), nil)
	req = testutil.AuthenticatedRequest(req, testutil.TestTenantID, testutil.TestUserID)
	req = testutil.WithURLParam(req, "domainId", domainID.String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainHandler_List_Success(t *testing.T) {
	repo := new(mockpkg.MockDomainRepository)
	h := newDomainHandler(repo)

	domains := []model.Domain{
		{ID: uuid.New(), TenantID: testutil.TestTenantID, FQDN: "a.example.com", DKIMSelector: "remails"},
	}
	repo.On("List", mock.Anything, testutil.TestTenantID, 20, 0).Return(domains, 1, nil)

	req := httptest.NewRequest(http.MethodGet, "/domains", nil)
	req = testutil.AuthenticatedRequest(req, testutil.TestTenantID, testutil.TestUserID)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp domainListResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalCount)
	assert.Len(t, resp.Data, 1)
}

func TestDomainHandler_Delete_PropagatesRepositoryError(t *testing.T) {
	repo := new(mockpkg.MockDomainRepository)
	h := newDomainHandler(repo)

	domainID := uuid.New()
	repo.On("GetByTenantAndID", mock.Anything, testutil.TestTenantID, domainID).
		Return(&model.Domain{ID: domainID, TenantID: testutil.TestTenantID}, nil)
	repo.On("Delete", mock.Anything, domainID).Return(errors.New("boom"))

	req := httptest.NewRequest(http.MethodDelete, "/domains/"+domainID.String(), nil)
	req = testutil.AuthenticatedRequest(req, testutil.TestTenantID, testutil.TestUserID)
	req = testutil.WithURLParam(req, "domainId", domainID.String())
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
