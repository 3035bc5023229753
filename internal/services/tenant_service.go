package services

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tenancy-service/internal/metrics"
	"tenancy-service/internal/models"
	"tenancy-service/internal/nats"
	"tenancy-service/internal/repository"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}$`)

// TenantRegistry is the write surface of the central tenant registry
type TenantRegistry interface {
	TenantStore
	Create(ctx context.Context, tenant *models.Tenant) error
	List(ctx context.Context) ([]models.Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// DatabaseSource provisions a tenant database, from the warm pool or
// directly
type DatabaseSource interface {
	Claim(ctx context.Context, tenantID uuid.UUID) (*models.PooledDatabase, error)
}

// Lifecycle creates, migrates and renames physical databases
type Lifecycle interface {
	DatabaseName(slug string) string
	CreateDatabase(ctx context.Context, name string, force bool) error
	MigrateDatabase(ctx context.Context, name string, force bool) (int, error)
	RenameDatabase(ctx context.Context, from, to string) error
}

// EventPublisher emits tenant lifecycle events
type EventPublisher interface {
	PublishTenantCreated(ctx context.Context, event *nats.TenantCreatedEvent) error
	PublishTenantProvisioned(ctx context.Context, event *nats.TenantProvisionedEvent) error
	PublishTenantDeactivated(ctx context.Context, event *nats.TenantDeactivatedEvent) error
	PublishCompanyCreated(ctx context.Context, event *nats.CompanyCreatedEvent) error
	PublishCompanySwitched(ctx context.Context, event *nats.CompanySwitchedEvent) error
}

// CompanyInvalidator drops company-tagged cache entries
type CompanyInvalidator interface {
	InvalidateCompanyKeys(ctx context.Context, companyID uuid.UUID) (int, error)
}

// CreateTenantInput carries the fields needed to onboard a tenant
type CreateTenantInput struct {
	Name         string `json:"name" binding:"required,min=2,max=255"`
	Slug         string `json:"slug" binding:"required,min=2,max=63"`
	TaxID        string `json:"tax_id"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email" binding:"omitempty,email"`
	ContactPhone string `json:"contact_phone"`
}

// CreateCompanyInput carries the fields needed to create a company inside
// an existing tenant
type CreateCompanyInput struct {
	LegalName string `json:"legal_name" binding:"required,min=2,max=255"`
	TaxID     string `json:"tax_id"`
}

// TenantService orchestrates tenant onboarding, company creation and
// deactivation across the registry, the warm pool and the lifecycle
// manager. Events and cache invalidation degrade gracefully when their
// backends are down.
type TenantService struct {
	registry    TenantRegistry
	pool        DatabaseSource
	lifecycle   Lifecycle
	lookup      *LookupService
	runner      ContextRunner
	events      EventPublisher     // nil when NATS is unavailable
	invalidator CompanyInvalidator // nil when Redis is unavailable
	log         *logrus.Entry
}

// NewTenantService creates a new tenant service
func NewTenantService(registry TenantRegistry, pool DatabaseSource, lifecycle Lifecycle, lookup *LookupService, runner ContextRunner, events EventPublisher, invalidator CompanyInvalidator) *TenantService {
	return &TenantService{
		registry:    registry,
		pool:        pool,
		lifecycle:   lifecycle,
		lookup:      lookup,
		runner:      runner,
		events:      events,
		invalidator: invalidator,
		log:         logrus.WithField("component", "tenants"),
	}
}

// CreateTenant onboards a new tenant. The database comes from the warm
// pool when one is available; otherwise it is created and migrated
// synchronously. The registry row is written only after the database is
// usable, so a half-provisioned tenant never becomes resolvable.
func (s *TenantService) CreateTenant(ctx context.Context, input *CreateTenantInput) (*models.Tenant, error) {
	if !slugPattern.MatchString(input.Slug) {
		return nil, NewValidationError("slug", "must be lowercase letters, digits and hyphens, starting with a letter")
	}

	existing, err := s.registry.GetBySlug(ctx, input.Slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("tenant", "slug already in use: "+input.Slug)
	}

	tenant := &models.Tenant{
		ID:           uuid.New(),
		Name:         input.Name,
		Slug:         input.Slug,
		TaxID:        input.TaxID,
		Status:       models.TenantStatusActive,
		ContactName:  input.ContactName,
		ContactEmail: input.ContactEmail,
		ContactPhone: input.ContactPhone,
	}

	fromPool, groupsRun, err := s.provisionDatabase(ctx, tenant)
	if err != nil {
		return nil, NewProvisioningError(tenant.Slug, err)
	}

	if err := s.registry.Create(ctx, tenant); err != nil {
		return nil, err
	}

	source := "direct"
	if fromPool {
		source = "pool"
	}
	metrics.TenantsProvisioned.WithLabelValues(source).Inc()
	s.log.WithFields(logrus.Fields{
		"tenant":    tenant.Slug,
		"database":  tenant.DatabaseName,
		"from_pool": fromPool,
	}).Info("tenant created")

	s.publishTenantCreated(ctx, tenant, fromPool, groupsRun)
	return tenant, nil
}

// provisionDatabase binds a usable database to the tenant, preferring the
// warm pool. Reports whether it came from the pool and how many migration
// groups ran.
func (s *TenantService) provisionDatabase(ctx context.Context, tenant *models.Tenant) (bool, int, error) {
	entry, err := s.pool.Claim(ctx, tenant.ID)
	if err == nil {
		name := s.lifecycle.DatabaseName(tenant.Slug)
		if renameErr := s.lifecycle.RenameDatabase(ctx, entry.Name, name); renameErr != nil {
			// The database is fully migrated and usable under its pool
			// name; a failed rename must not fail the signup.
			s.log.WithError(renameErr).WithFields(logrus.Fields{
				"tenant":   tenant.Slug,
				"database": entry.Name,
			}).Warn("failed to rename claimed pool database, keeping pool name")
			tenant.DatabaseName = entry.Name
			return true, 0, nil
		}
		tenant.DatabaseName = name
		return true, 0, nil
	}
	if !errors.Is(err, ErrPoolEmpty) {
		return false, 0, err
	}

	s.log.WithField("tenant", tenant.Slug).Warn("pool empty, provisioning database synchronously")
	name := s.lifecycle.DatabaseName(tenant.Slug)
	if err := s.lifecycle.CreateDatabase(ctx, name, false); err != nil {
		return false, 0, err
	}
	groups, err := s.lifecycle.MigrateDatabase(ctx, name, false)
	if err != nil {
		return false, 0, err
	}
	tenant.DatabaseName = name
	return false, groups, nil
}

// CreateCompany creates a company inside the tenant's database and records
// its mapping in the registry so future lookups resolve in O(1).
func (s *TenantService) CreateCompany(ctx context.Context, tenantSlug string, input *CreateCompanyInput) (*models.Company, error) {
	tenant, err := s.registry.GetBySlug(ctx, tenantSlug)
	if err != nil {
		return nil, err
	}
	if tenant == nil || !tenant.IsActive() {
		return nil, ErrTenantUnavailable
	}

	company := &models.Company{
		ID:        uuid.New(),
		LegalName: input.LegalName,
		TaxID:     input.TaxID,
		Status:    models.CompanyStatusActive,
	}

	err = s.runner.WithTenant(ctx, tenant, func(db *gorm.DB) error {
		return repository.NewCompanyRepository(db).Create(ctx, company)
	})
	if err != nil {
		return nil, err
	}

	if err := s.lookup.RecordCompanyMapping(ctx, tenant.ID, company.ID); err != nil {
		// The company exists; the mapping can be rebuilt by the backfill
		s.log.WithError(err).WithFields(logrus.Fields{
			"tenant":  tenant.Slug,
			"company": company.ID,
		}).Error("failed to record company mapping")
	}

	s.publishCompanyCreated(ctx, tenant, company)
	return company, nil
}

// SwitchCompany moves a user's working context to another company within
// the same tenant. Company-tagged cache entries for the target are dropped
// and a switch event is published for downstream consumers.
func (s *TenantService) SwitchCompany(ctx context.Context, tenantSlug string, userID, companyID uuid.UUID) error {
	tenant, err := s.registry.GetBySlug(ctx, tenantSlug)
	if err != nil {
		return err
	}
	if tenant == nil || !tenant.IsActive() {
		return ErrTenantUnavailable
	}

	// The target company must exist in this tenant's database. Switching
	// to a company from another tenant is an isolation breach.
	err = s.runner.WithTenant(ctx, tenant, func(db *gorm.DB) error {
		company, err := repository.NewCompanyRepository(db).GetByID(ctx, companyID)
		if err != nil {
			return err
		}
		if company == nil || company.Status != models.CompanyStatusActive {
			return NewValidationError("company_id", "company not found in tenant "+tenant.Slug)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.invalidator != nil {
		deleted, err := s.invalidator.InvalidateCompanyKeys(ctx, companyID)
		if err != nil {
			s.log.WithError(err).WithField("company", companyID).Warn("failed to invalidate company cache keys")
		} else if deleted > 0 {
			s.log.WithFields(logrus.Fields{"company": companyID, "deleted": deleted}).Debug("invalidated company cache keys")
		}
	}

	s.publishCompanySwitched(ctx, tenant, userID, companyID)
	return nil
}

// DeactivateTenant takes a tenant out of service. Its database is
// retained; resolution and batch jobs stop considering it immediately.
func (s *TenantService) DeactivateTenant(ctx context.Context, slug string) error {
	tenant, err := s.registry.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if tenant == nil {
		return NewValidationError("slug", "unknown tenant "+slug)
	}
	if !tenant.IsActive() {
		return nil // Already inactive
	}

	if err := s.registry.UpdateStatus(ctx, tenant.ID, models.TenantStatusInactive); err != nil {
		return err
	}
	s.log.WithField("tenant", slug).Info("tenant deactivated")

	if s.events != nil {
		event := &nats.TenantDeactivatedEvent{TenantID: tenant.ID.String(), Slug: tenant.Slug}
		if err := s.events.PublishTenantDeactivated(ctx, event); err != nil {
			s.log.WithError(err).Warn("failed to publish tenant deactivated event")
		}
	}
	return nil
}

// GetTenant returns a tenant by slug, or nil when unknown
func (s *TenantService) GetTenant(ctx context.Context, slug string) (*models.Tenant, error) {
	return s.registry.GetBySlug(ctx, slug)
}

// ListTenants returns all tenants in stable creation order
func (s *TenantService) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	return s.registry.List(ctx)
}

func (s *TenantService) publishTenantCreated(ctx context.Context, tenant *models.Tenant, fromPool bool, groupsRun int) {
	if s.events == nil {
		return
	}
	created := &nats.TenantCreatedEvent{
		TenantID:     tenant.ID.String(),
		Slug:         tenant.Slug,
		Name:         tenant.Name,
		DatabaseName: tenant.DatabaseName,
		FromPool:     fromPool,
	}
	if err := s.events.PublishTenantCreated(ctx, created); err != nil {
		s.log.WithError(err).Warn("failed to publish tenant created event")
	}

	provisioned := &nats.TenantProvisionedEvent{
		TenantID:     tenant.ID.String(),
		Slug:         tenant.Slug,
		DatabaseName: tenant.DatabaseName,
		GroupsRun:    groupsRun,
	}
	if err := s.events.PublishTenantProvisioned(ctx, provisioned); err != nil {
		s.log.WithError(err).Warn("failed to publish tenant provisioned event")
	}
}

func (s *TenantService) publishCompanyCreated(ctx context.Context, tenant *models.Tenant, company *models.Company) {
	if s.events == nil {
		return
	}
	event := &nats.CompanyCreatedEvent{
		TenantID:  tenant.ID.String(),
		CompanyID: company.ID.String(),
		LegalName: company.LegalName,
	}
	if err := s.events.PublishCompanyCreated(ctx, event); err != nil {
		s.log.WithError(err).Warn("failed to publish company created event")
	}
}

func (s *TenantService) publishCompanySwitched(ctx context.Context, tenant *models.Tenant, userID, companyID uuid.UUID) {
	if s.events == nil {
		return
	}
	event := &nats.CompanySwitchedEvent{
		TenantID:  tenant.ID.String(),
		UserID:    userID.String(),
		CompanyID: companyID.String(),
	}
	if err := s.events.PublishCompanySwitched(ctx, event); err != nil {
		s.log.WithError(err).Warn("failed to publish company switched event")
	}
}
