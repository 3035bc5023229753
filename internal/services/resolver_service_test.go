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
	"tenancy-service/internal/redis"
)

type mockTenantStore struct {
	mock.Mock
}

func (m *mockTenantStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *mockTenantStore) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *mockTenantStore) ListActive(ctx context.Context) ([]models.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Tenant), args.Error(1)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Check(ctx context.Context, tenant *models.Tenant, email, password string) (*Resolution, error) {
	args := m.Called(ctx, tenant, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Resolution), args.Error(1)
}

type mockEmailIndex struct {
	mock.Mock
}

func (m *mockEmailIndex) SetEmailIndex(ctx context.Context, email, tenantSlug string, ttl time.Duration) error {
	args := m.Called(ctx, email, tenantSlug, ttl)
	return args.Error(0)
}

func (m *mockEmailIndex) GetEmailIndex(ctx context.Context, email string) (*redis.EmailIndexEntry, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redis.EmailIndexEntry), args.Error(1)
}

func (m *mockEmailIndex) DeleteEmailIndex(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

type mockLoginCache struct {
	mock.Mock
}

func (m *mockLoginCache) SetLoginSuccess(ctx context.Context, email, fingerprint string, success *redis.LoginSuccess, ttl time.Duration) error {
	args := m.Called(ctx, email, fingerprint, success, ttl)
	return args.Error(0)
}

func (m *mockLoginCache) GetLoginSuccess(ctx context.Context, email, fingerprint string) (*redis.LoginSuccess, error) {
	args := m.Called(ctx, email, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redis.LoginSuccess), args.Error(1)
}

type mockMappingStore struct {
	mock.Mock
}

func (m *mockMappingStore) Upsert(ctx context.Context, tenantID, companyID uuid.UUID, force bool) (bool, error) {
	args := m.Called(ctx, tenantID, companyID, force)
	return args.Bool(0), args.Error(1)
}

func (m *mockMappingStore) FindTenantForCompany(ctx context.Context, companyID uuid.UUID) (*models.CompanyTenantMapping, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CompanyTenantMapping), args.Error(1)
}

func activeTenant(slug string) *models.Tenant {
	return &models.Tenant{
		ID:           uuid.New(),
		Name:         slug,
		Slug:         slug,
		Status:       models.TenantStatusActive,
		DatabaseName: "tenant_" + slug,
	}
}

func resolutionFor(tenant *models.Tenant, email string) *Resolution {
	return &Resolution{
		TenantID:   tenant.ID,
		TenantSlug: tenant.Slug,
		UserID:     uuid.New(),
		CompanyID:  uuid.New(),
		Email:      email,
	}
}

func newResolver(checker CredentialChecker, tenants TenantStore, index EmailIndex, cache LoginCache) *ResolverService {
	lookup := NewLookupService(index, &mockMappingStore{}, tenants, nil, time.Hour)
	return NewResolverService(checker, tenants, lookup, cache, "test-salt", 10*time.Minute)
}

func TestResolveByScan(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	svc := newResolver(checker, tenants, nil, nil)

	alpha := activeTenant("alpha")
	beta := activeTenant("beta")
	tenants.On("ListActive", mock.Anything).Return([]models.Tenant{*alpha, *beta}, nil)

	want := resolutionFor(beta, "ana@beta.example")
	checker.On("Check", mock.Anything, mock.MatchedBy(func(tn *models.Tenant) bool { return tn.Slug == "alpha" }), "ana@beta.example", "hunter2").Return(nil, nil)
	checker.On("Check", mock.Anything, mock.MatchedBy(func(tn *models.Tenant) bool { return tn.Slug == "beta" }), "ana@beta.example", "hunter2").Return(want, nil)

	got, err := svc.Resolve(context.Background(), "Ana@Beta.example", "hunter2")

	assert.NoError(t, err)
	assert.Equal(t, want.TenantSlug, got.TenantSlug)
	assert.Equal(t, want.UserID, got.UserID)
	checker.AssertNumberOfCalls(t, "Check", 2)
}

func TestResolveFailureIsUniform(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	svc := newResolver(checker, tenants, nil, nil)

	tenants.On("ListActive", mock.Anything).Return([]models.Tenant{*activeTenant("alpha")}, nil)
	checker.On("Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	// Unknown email and wrong password must be indistinguishable
	_, errUnknown := svc.Resolve(context.Background(), "nobody@example.com", "whatever")
	_, errWrongPw := svc.Resolve(context.Background(), "known@example.com", "wrong")

	assert.ErrorIs(t, errUnknown, ErrNotAuthenticated)
	assert.ErrorIs(t, errWrongPw, ErrNotAuthenticated)
	assert.Equal(t, errUnknown.Error(), errWrongPw.Error())
}

func TestResolveCacheHitSkipsDatabases(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	cache := &mockLoginCache{}
	svc := newResolver(checker, tenants, nil, cache)

	tenant := activeTenant("alpha")
	want := resolutionFor(tenant, "ana@alpha.example")
	fingerprint := Fingerprint("test-salt", "hunter2")

	cache.On("GetLoginSuccess", mock.Anything, "ana@alpha.example", fingerprint).Return(&redis.LoginSuccess{
		TenantID:   tenant.ID,
		TenantSlug: tenant.Slug,
		UserID:     want.UserID,
		CompanyID:  want.CompanyID,
		Email:      want.Email,
	}, nil)

	got, err := svc.Resolve(context.Background(), "ana@alpha.example", "hunter2")

	assert.NoError(t, err)
	assert.Equal(t, want.TenantSlug, got.TenantSlug)
	assert.Equal(t, want.UserID, got.UserID)
	// Cache hits resolve without touching the registry or any tenant DB
	checker.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	tenants.AssertNotCalled(t, "ListActive", mock.Anything)
}

func TestResolveChangedPasswordMissesCache(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	cache := &mockLoginCache{}
	svc := newResolver(checker, tenants, nil, cache)

	tenant := activeTenant("alpha")

	// The cache is keyed by password fingerprint, so a different password
	// produces a miss and the full resolution path runs.
	cache.On("GetLoginSuccess", mock.Anything, "ana@example.com", Fingerprint("test-salt", "changed-pw")).Return(nil, nil)
	cache.On("SetLoginSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	tenants.On("ListActive", mock.Anything).Return([]models.Tenant{*tenant}, nil)

	want := resolutionFor(tenant, "ana@example.com")
	checker.On("Check", mock.Anything, mock.Anything, "ana@example.com", "changed-pw").Return(want, nil)

	got, err := svc.Resolve(context.Background(), "ana@example.com", "changed-pw")

	assert.NoError(t, err)
	assert.Equal(t, "alpha", got.TenantSlug)
	tenants.AssertCalled(t, "ListActive", mock.Anything)
}

func TestResolveIndexHintShortCircuits(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	index := &mockEmailIndex{}
	svc := newResolver(checker, tenants, index, nil)

	tenant := activeTenant("alpha")
	index.On("GetEmailIndex", mock.Anything, "ana@alpha.example").Return(&redis.EmailIndexEntry{
		Email: "ana@alpha.example", TenantSlug: "alpha",
	}, nil)
	index.On("SetEmailIndex", mock.Anything, "ana@alpha.example", "alpha", mock.Anything).Return(nil)
	tenants.On("GetBySlug", mock.Anything, "alpha").Return(tenant, nil)

	want := resolutionFor(tenant, "ana@alpha.example")
	checker.On("Check", mock.Anything, tenant, "ana@alpha.example", "hunter2").Return(want, nil)

	got, err := svc.Resolve(context.Background(), "ana@alpha.example", "hunter2")

	assert.NoError(t, err)
	assert.Equal(t, "alpha", got.TenantSlug)
	tenants.AssertNotCalled(t, "ListActive", mock.Anything)
}

func TestResolveSkipsUnreachableTenant(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	svc := newResolver(checker, tenants, nil, nil)

	down := activeTenant("down")
	up := activeTenant("up")
	tenants.On("ListActive", mock.Anything).Return([]models.Tenant{*down, *up}, nil)

	want := resolutionFor(up, "ana@example.com")
	checker.On("Check", mock.Anything, mock.MatchedBy(func(tn *models.Tenant) bool { return tn.Slug == "down" }), mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	checker.On("Check", mock.Anything, mock.MatchedBy(func(tn *models.Tenant) bool { return tn.Slug == "up" }), mock.Anything, mock.Anything).Return(want, nil)

	got, err := svc.Resolve(context.Background(), "ana@example.com", "hunter2")

	assert.NoError(t, err)
	assert.Equal(t, "up", got.TenantSlug)
}

func TestResolveSuccessIsRecorded(t *testing.T) {
	checker := &mockChecker{}
	tenants := &mockTenantStore{}
	index := &mockEmailIndex{}
	cache := &mockLoginCache{}
	svc := newResolver(checker, tenants, index, cache)

	tenant := activeTenant("alpha")
	fingerprint := Fingerprint("test-salt", "hunter2")

	cache.On("GetLoginSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	index.On("GetEmailIndex", mock.Anything, mock.Anything).Return(nil, nil)
	tenants.On("ListActive", mock.Anything).Return([]models.Tenant{*tenant}, nil)

	want := resolutionFor(tenant, "ana@alpha.example")
	checker.On("Check", mock.Anything, mock.Anything, "ana@alpha.example", "hunter2").Return(want, nil)

	index.On("SetEmailIndex", mock.Anything, "ana@alpha.example", "alpha", mock.Anything).Return(nil)
	cache.On("SetLoginSuccess", mock.Anything, "ana@alpha.example", fingerprint, mock.MatchedBy(func(s *redis.LoginSuccess) bool {
		return s.TenantSlug == "alpha" && s.UserID == want.UserID
	}), 10*time.Minute).Return(nil)

	_, err := svc.Resolve(context.Background(), "ana@alpha.example", "hunter2")

	assert.NoError(t, err)
	index.AssertCalled(t, "SetEmailIndex", mock.Anything, "ana@alpha.example", "alpha", mock.Anything)
	cache.AssertCalled(t, "SetLoginSuccess", mock.Anything, "ana@alpha.example", fingerprint, mock.Anything, 10*time.Minute)
}

func TestFingerprintIsDeterministicAndSalted(t *testing.T) {
	a := Fingerprint("salt-1", "hunter2")
	b := Fingerprint("salt-1", "hunter2")
	c := Fingerprint("salt-2", "hunter2")
	d := Fingerprint("salt-1", "hunter3")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "hunter2")
}
