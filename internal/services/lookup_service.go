package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tenancy-service/internal/models"
	"tenancy-service/internal/redis"
	"tenancy-service/internal/repository"
)

// EmailIndex is the advisory email -> tenant cache
type EmailIndex interface {
	SetEmailIndex(ctx context.Context, email, tenantSlug string, ttl time.Duration) error
	GetEmailIndex(ctx context.Context, email string) (*redis.EmailIndexEntry, error)
	DeleteEmailIndex(ctx context.Context, email string) error
}

// MappingStore is the durable company -> tenant registry mapping
type MappingStore interface {
	Upsert(ctx context.Context, tenantID, companyID uuid.UUID, force bool) (bool, error)
	FindTenantForCompany(ctx context.Context, companyID uuid.UUID) (*models.CompanyTenantMapping, error)
}

// TenantStore reads the central tenant registry
type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

// ContextRunner runs a unit of work inside a tenant's activated context
type ContextRunner interface {
	WithTenant(ctx context.Context, tenant *models.Tenant, fn func(db *gorm.DB) error) error
}

// BackfillStats summarizes one bulk repopulation run
type BackfillStats struct {
	TenantsProcessed int
	TenantsFailed    int
	MappingsWritten  int
	MappingsSkipped  int
	LookupRows       int
}

// LookupService maintains the two denormalized indexes that turn
// O(tenants) lookups into O(1): the TTL'd email -> tenant hint and the
// durable company -> tenant mapping.
type LookupService struct {
	index    EmailIndex // nil when Redis is unavailable
	mappings MappingStore
	tenants  TenantStore
	runner   ContextRunner
	emailTTL time.Duration
	log      *logrus.Entry
}

// NewLookupService creates a new lookup service. index may be nil; email
// hints then silently disable and every miss takes the fallback path.
func NewLookupService(index EmailIndex, mappings MappingStore, tenants TenantStore, runner ContextRunner, emailTTL time.Duration) *LookupService {
	return &LookupService{
		index:    index,
		mappings: mappings,
		tenants:  tenants,
		runner:   runner,
		emailTTL: emailTTL,
		log:      logrus.WithField("component", "lookup"),
	}
}

// NormalizeEmail lower-cases and trims an address; every index read and
// write goes through the same normalization.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RecordEmailTenant records the tenant believed to hold a user with the
// email. Advisory, best effort: a failed write only costs a future scan.
func (s *LookupService) RecordEmailTenant(ctx context.Context, email string, tenant *models.Tenant, ttl time.Duration) {
	if s.index == nil {
		return
	}
	if ttl <= 0 {
		ttl = s.emailTTL
	}
	if err := s.index.SetEmailIndex(ctx, NormalizeEmail(email), tenant.Slug, ttl); err != nil {
		s.log.WithError(err).Warn("failed to record email index entry")
	}
}

// LookupEmailTenant returns the hinted tenant for an email, or nil on a
// miss. The hint is not ground truth; callers must re-verify against the
// tenant database.
func (s *LookupService) LookupEmailTenant(ctx context.Context, email string) (*models.Tenant, error) {
	if s.index == nil {
		return nil, nil
	}

	entry, err := s.index.GetEmailIndex(ctx, NormalizeEmail(email))
	if err != nil {
		s.log.WithError(err).Warn("email index read failed")
		return nil, nil // Degrade to the fallback path
	}
	if entry == nil {
		return nil, nil
	}
	return s.tenants.GetBySlug(ctx, entry.TenantSlug)
}

// RecordCompanyMapping durably maps the company to its tenant. Idempotent
// upsert: re-recording an existing pair never duplicates.
func (s *LookupService) RecordCompanyMapping(ctx context.Context, tenantID, companyID uuid.UUID) error {
	_, err := s.mappings.Upsert(ctx, tenantID, companyID, false)
	return err
}

// LookupTenantForCompany resolves the tenant whose database holds the
// company, or nil when the company is unknown.
func (s *LookupService) LookupTenantForCompany(ctx context.Context, companyID uuid.UUID) (*models.Tenant, error) {
	mapping, err := s.mappings.FindTenantForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, nil
	}
	return s.tenants.GetByID(ctx, mapping.TenantID)
}

// BulkRepopulate rebuilds the company mappings and per-tenant user lookup
// rows for every active tenant, or for one tenant when slug is non-empty.
// Designed to be safely re-run at any time (e.g. after restoring a
// backup): pre-existing mappings are skipped unless force, writes are
// upserts, and no lock is required. Per-tenant failures are counted and
// logged; they never abort the run.
func (s *LookupService) BulkRepopulate(ctx context.Context, slug string, force bool) (*BackfillStats, error) {
	var tenants []models.Tenant
	if slug != "" {
		tenant, err := s.tenants.GetBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if tenant == nil {
			return nil, NewValidationError("tenant", "unknown tenant "+slug)
		}
		tenants = []models.Tenant{*tenant}
	} else {
		var err error
		tenants, err = s.tenants.ListActive(ctx)
		if err != nil {
			return nil, err
		}
	}

	stats := &BackfillStats{}
	for i := range tenants {
		tenant := &tenants[i]
		if err := s.repopulateTenant(ctx, tenant, force, stats); err != nil {
			stats.TenantsFailed++
			s.log.WithError(err).WithField("tenant", tenant.Slug).Error("lookup repopulation failed for tenant")
			continue
		}
		stats.TenantsProcessed++
	}
	return stats, nil
}

func (s *LookupService) repopulateTenant(ctx context.Context, tenant *models.Tenant, force bool, stats *BackfillStats) error {
	return s.runner.WithTenant(ctx, tenant, func(db *gorm.DB) error {
		companies, err := repository.NewCompanyRepository(db).List(ctx)
		if err != nil {
			return err
		}

		for _, company := range companies {
			written, err := s.mappings.Upsert(ctx, tenant.ID, company.ID, force)
			if err != nil {
				return err
			}
			if written {
				stats.MappingsWritten++
			} else {
				stats.MappingsSkipped++
			}
		}

		rows, err := repository.NewUserLookupRepository(db).RebuildFromUsers(ctx)
		if err != nil {
			return err
		}
		stats.LookupRows += rows
		return nil
	})
}
