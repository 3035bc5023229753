package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tenancy-service/internal/models"
	"tenancy-service/internal/nats"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *mockRegistry) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *mockRegistry) ListActive(ctx context.Context) ([]models.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Tenant), args.Error(1)
}

func (m *mockRegistry) List(ctx context.Context) ([]models.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Tenant), args.Error(1)
}

func (m *mockRegistry) Create(ctx context.Context, tenant *models.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *mockRegistry) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockDatabaseSource struct {
	mock.Mock
}

func (m *mockDatabaseSource) Claim(ctx context.Context, tenantID uuid.UUID) (*models.PooledDatabase, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PooledDatabase), args.Error(1)
}

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) DatabaseName(slug string) string {
	return "tenant_" + slug
}

func (m *mockLifecycle) CreateDatabase(ctx context.Context, name string, force bool) error {
	args := m.Called(ctx, name, force)
	return args.Error(0)
}

func (m *mockLifecycle) MigrateDatabase(ctx context.Context, name string, force bool) (int, error) {
	args := m.Called(ctx, name, force)
	return args.Int(0), args.Error(1)
}

func (m *mockLifecycle) RenameDatabase(ctx context.Context, from, to string) error {
	args := m.Called(ctx, from, to)
	return args.Error(0)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishTenantCreated(ctx context.Context, event *nats.TenantCreatedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEvents) PublishTenantProvisioned(ctx context.Context, event *nats.TenantProvisionedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEvents) PublishTenantDeactivated(ctx context.Context, event *nats.TenantDeactivatedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEvents) PublishCompanyCreated(ctx context.Context, event *nats.CompanyCreatedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEvents) PublishCompanySwitched(ctx context.Context, event *nats.CompanySwitchedEvent) error {
	return m.Called(ctx, event).Error(0)
}

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) InvalidateCompanyKeys(ctx context.Context, companyID uuid.UUID) (int, error) {
	args := m.Called(ctx, companyID)
	return args.Int(0), args.Error(1)
}

type tenantServiceFixture struct {
	registry  *mockRegistry
	pool      *mockDatabaseSource
	lifecycle *mockLifecycle
	events    *mockEvents
	runner    *stubRunner
	svc       *TenantService
}

func newTenantServiceFixture() *tenantServiceFixture {
	f := &tenantServiceFixture{
		registry:  &mockRegistry{},
		pool:      &mockDatabaseSource{},
		lifecycle: &mockLifecycle{},
		events:    &mockEvents{},
		runner:    &stubRunner{},
	}
	lookup := NewLookupService(nil, &mockMappingStore{}, f.registry, f.runner, time.Hour)
	f.svc = NewTenantService(f.registry, f.pool, f.lifecycle, lookup, f.runner, f.events, nil)
	return f
}

func TestCreateTenantRejectsBadSlug(t *testing.T) {
	f := newTenantServiceFixture()

	for _, slug := range []string{"", "A", "Upper-Case", "9starts-with-digit", "has_underscore", "has space"} {
		_, err := f.svc.CreateTenant(context.Background(), &CreateTenantInput{Name: "Acme", Slug: slug})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr, "slug %q should be rejected", slug)
	}
	f.registry.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateTenantRejectsDuplicateSlug(t *testing.T) {
	f := newTenantServiceFixture()

	f.registry.On("GetBySlug", mock.Anything, "acme").Return(activeTenant("acme"), nil)

	_, err := f.svc.CreateTenant(context.Background(), &CreateTenantInput{Name: "Acme", Slug: "acme"})

	var cErr *ConflictError
	assert.ErrorAs(t, err, &cErr)
	f.registry.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateTenantClaimsFromPool(t *testing.T) {
	f := newTenantServiceFixture()

	f.registry.On("GetBySlug", mock.Anything, "acme").Return(nil, nil)
	f.pool.On("Claim", mock.Anything, mock.Anything).Return(&models.PooledDatabase{Name: "pool_ab12cd34ef56"}, nil)
	f.lifecycle.On("RenameDatabase", mock.Anything, "pool_ab12cd34ef56", "tenant_acme").Return(nil)
	f.registry.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.events.On("PublishTenantCreated", mock.Anything, mock.MatchedBy(func(e *nats.TenantCreatedEvent) bool {
		return e.FromPool && e.DatabaseName == "tenant_acme"
	})).Return(nil)
	f.events.On("PublishTenantProvisioned", mock.Anything, mock.Anything).Return(nil)

	tenant, err := f.svc.CreateTenant(context.Background(), &CreateTenantInput{Name: "Acme", Slug: "acme"})

	assert.NoError(t, err)
	assert.Equal(t, "tenant_acme", tenant.DatabaseName)
	assert.Equal(t, models.TenantStatusActive, tenant.Status)
	f.lifecycle.AssertNotCalled(t, "CreateDatabase", mock.Anything, mock.Anything, mock.Anything)
	f.events.AssertExpectations(t)
}

func TestCreateTenantKeepsPoolNameWhenRenameFails(t *testing.T) {
	f := newTenantServiceFixture()

	f.registry.On("GetBySlug", mock.Anything, "acme").Return(nil, nil)
	f.pool.On("Claim", mock.Anything, mock.Anything).Return(&models.PooledDatabase{Name: "pool_ab12cd34ef56"}, nil)
	f.lifecycle.On("RenameDatabase", mock.Anything, "pool_ab12cd34ef56", "tenant_acme").Return(errors.New("database is being accessed by other users"))
	f.registry.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.events.On("PublishTenantCreated", mock.Anything, mock.MatchedBy(func(e *nats.TenantCreatedEvent) bool {
		return e.FromPool && e.DatabaseName == "pool_ab12cd34ef56"
	})).Return(nil)
	f.events.On("PublishTenantProvisioned", mock.Anything, mock.Anything).Return(nil)

	tenant, err := f.svc.CreateTenant(context.Background(), &CreateTenantInput{Name: "Acme", Slug: "acme"})

	assert.NoError(t, err)
	assert.Equal(t, "pool_ab12cd34ef56", tenant.DatabaseName)
	f.lifecycle.AssertNotCalled(t, "CreateDatabase", mock.Anything, mock.Anything, mock.Anything)
	f.events.AssertExpectations(t)
}

func TestCreateTenantFallsBackWhenPoolEmpty(t *testing.T) {
	f := newTenantServiceFixture()

	f.registry.On("GetBySlug", mock.Anything, "acme").Return(nil, nil)
	f.pool.On("Claim", mock.Anything, mock.Anything).Return(nil, ErrPoolEmpty)
	f.lifecycle.On("CreateDatabase", mock.Anything, "tenant_acme", false).Return(nil)
	f.lifecycle.On("MigrateDatabase", mock.Anything, "tenant_acme", false).Return(4, nil)
	f.registry.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.events.On("PublishTenantCreated", mock.Anything, mock.MatchedBy(func(e *nats.TenantCreatedEvent) bool {
		return !e.FromPool && e.DatabaseName == "tenant_acme"
	})).Return(nil)
	f.events.On("PublishTenantProvisioned", mock.Anything, mock.MatchedBy(func(e *nats.TenantProvisionedEvent) bool {
		return e.GroupsRun == 4
	})).Return(nil)

	tenant, err := f.svc.CreateTenant(context.Background(), &CreateTenantInput{Name: "Acme", Slug: "acme"})

	assert.NoError(t, err)
	assert.Equal(t, "tenant_acme", tenant.DatabaseName)
	f.events.AssertExpectations(t)
}

func TestCreateTenantProvisioningFailure(t *testing.T) {
	f := newTenantServiceFixture()

	f.registry.On("GetBySlug", mock.Anything, "acme").Return(nil, nil)
	f.pool.On("Claim", mock.Anything, mock.Anything).Return(nil, ErrPoolEmpty)
	f.lifecycle.On("CreateDatabase", mock.Anything, "tenant_acme", false).Return(errors.New("admin connection refused"))

	_, err := f.svc.CreateTenant(context.Background(), &CreateTenantInput{Name: "Acme", Slug: "acme"})

	provErr, ok := IsProvisioningError(err)
	assert.True(t, ok)
	assert.Equal(t, "acme", provErr.Tenant)
	// No registry row for a tenant without a usable database
	f.registry.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDeactivateTenant(t *testing.T) {
	f := newTenantServiceFixture()

	tenant := activeTenant("acme")
	f.registry.On("GetBySlug", mock.Anything, "acme").Return(tenant, nil)
	f.registry.On("UpdateStatus", mock.Anything, tenant.ID, models.TenantStatusInactive).Return(nil)
	f.events.On("PublishTenantDeactivated", mock.Anything, mock.MatchedBy(func(e *nats.TenantDeactivatedEvent) bool {
		return e.Slug == "acme"
	})).Return(nil)

	assert.NoError(t, f.svc.DeactivateTenant(context.Background(), "acme"))
	f.events.AssertExpectations(t)
}

func TestDeactivateTenantAlreadyInactive(t *testing.T) {
	f := newTenantServiceFixture()

	tenant := activeTenant("acme")
	tenant.Status = models.TenantStatusInactive
	f.registry.On("GetBySlug", mock.Anything, "acme").Return(tenant, nil)

	assert.NoError(t, f.svc.DeactivateTenant(context.Background(), "acme"))
	f.registry.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestSwitchCompanyUnknownTenant(t *testing.T) {
	f := newTenantServiceFixture()

	f.registry.On("GetBySlug", mock.Anything, "ghost").Return(nil, nil)

	err := f.svc.SwitchCompany(context.Background(), "ghost", uuid.New(), uuid.New())

	assert.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestSwitchCompanyInactiveTenant(t *testing.T) {
	f := newTenantServiceFixture()

	tenant := activeTenant("dormant")
	tenant.Status = models.TenantStatusInactive
	f.registry.On("GetBySlug", mock.Anything, "dormant").Return(tenant, nil)

	err := f.svc.SwitchCompany(context.Background(), "dormant", uuid.New(), uuid.New())

	assert.ErrorIs(t, err, ErrTenantUnavailable)
}
