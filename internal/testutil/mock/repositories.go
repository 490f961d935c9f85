package mock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/remails-com/remails/internal/model"
)

// MockDomainRepository mocks postgres.DomainRepository.
type MockDomainRepository struct{ mock.Mock }

func (m *MockDomainRepository) Create(ctx context.Context, domain *model.Domain) error {
	args := m.Called(ctx, domain)
	return args.Error(0)
}

func (m *MockDomainRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Domain, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Domain), args.Error(1)
}

func (m *MockDomainRepository) GetByTenantAndID(ctx context.Context, tenantID, id uuid.UUID) (*model.Domain, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Domain), args.Error(1)
}

func (m *MockDomainRepository) GetByTenantAndFQDN(ctx context.Context, tenantID uuid.UUID, fqdn string) (*model.Domain, error) {
	args := m.Called(ctx, tenantID, fqdn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Domain), args.Error(1)
}

func (m *MockDomainRepository) GetDomainForCredential(ctx context.Context, credentialID uuid.UUID) (*model.Domain, error) {
	args := m.Called(ctx, credentialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Domain), args.Error(1)
}

func (m *MockDomainRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.Domain, int, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]model.Domain), args.Int(1), args.Error(2)
}

func (m *MockDomainRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockSmtpCredentialRepository mocks postgres.SmtpCredentialRepository.
type MockSmtpCredentialRepository struct{ mock.Mock }

func (m *MockSmtpCredentialRepository) Create(ctx context.Context, credential *model.SmtpCredential) error {
	args := m.Called(ctx, credential)
	return args.Error(0)
}

func (m *MockSmtpCredentialRepository) GetByUsername(ctx context.Context, username string) (*model.SmtpCredential, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SmtpCredential), args.Error(1)
}

func (m *MockSmtpCredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SmtpCredential, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SmtpCredential), args.Error(1)
}

func (m *MockSmtpCredentialRepository) ListByStreamID(ctx context.Context, streamID uuid.UUID) ([]model.SmtpCredential, error) {
	args := m.Called(ctx, streamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SmtpCredential), args.Error(1)
}

func (m *MockSmtpCredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockTenantQuotaRepository mocks postgres.TenantQuotaRepository.
type MockTenantQuotaRepository struct{ mock.Mock }

func (m *MockTenantQuotaRepository) Get(ctx context.Context, tenantID uuid.UUID) (*model.TenantQuota, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TenantQuota), args.Error(1)
}

func (m *MockTenantQuotaRepository) ReduceQuota(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTenantQuotaRepository) ListDueForReset(ctx context.Context) ([]model.TenantQuota, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TenantQuota), args.Error(1)
}

func (m *MockTenantQuotaRepository) ResetQuota(ctx context.Context, tenantID uuid.UUID, newTotal int, nextReset time.Time) error {
	args := m.Called(ctx, tenantID, newTotal, nextReset)
	return args.Error(0)
}
