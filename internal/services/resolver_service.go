package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tenancy-service/internal/metrics"
	"tenancy-service/internal/models"
	"tenancy-service/internal/redis"
	"tenancy-service/internal/repository"
)

// Resolution identifies where a set of credentials lives
type Resolution struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	TenantSlug string    `json:"tenant_slug"`
	UserID     uuid.UUID `json:"user_id"`
	CompanyID  uuid.UUID `json:"company_id"`
	Email      string    `json:"email"`
}

// CredentialChecker verifies credentials against a single tenant's
// database. Returns (nil, nil) when the tenant holds no matching active
// user; an error means the tenant could not be checked at all.
type CredentialChecker interface {
	Check(ctx context.Context, tenant *models.Tenant, email, password string) (*Resolution, error)
}

// LoginCache stores successful resolutions keyed by email and password
// fingerprint
type LoginCache interface {
	SetLoginSuccess(ctx context.Context, email, fingerprint string, success *redis.LoginSuccess, ttl time.Duration) error
	GetLoginSuccess(ctx context.Context, email, fingerprint string) (*redis.LoginSuccess, error)
}

// Fingerprint derives a cache key component from a password. Salted
// SHA-256 hex; the raw password never reaches Redis.
func Fingerprint(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}

// ResolverService locates the tenant holding a set of credentials without
// requiring the caller to name it. Resolution order: success cache, email
// index hint, then a sequential scan of all active tenants. Failures are
// indistinguishable between unknown email and wrong password.
type ResolverService struct {
	checker    CredentialChecker
	tenants    TenantStore
	lookup     *LookupService
	cache      LoginCache // nil when Redis is unavailable
	salt       string
	successTTL time.Duration
	log        *logrus.Entry
}

// NewResolverService creates a new credential resolver
func NewResolverService(checker CredentialChecker, tenants TenantStore, lookup *LookupService, cache LoginCache, salt string, successTTL time.Duration) *ResolverService {
	return &ResolverService{
		checker:    checker,
		tenants:    tenants,
		lookup:     lookup,
		cache:      cache,
		salt:       salt,
		successTTL: successTTL,
		log:        logrus.WithField("component", "resolver"),
	}
}

// Resolve finds the tenant, user and company for the credentials. Returns
// ErrNotAuthenticated when no active tenant holds a matching active user.
func (s *ResolverService) Resolve(ctx context.Context, email, password string) (*Resolution, error) {
	email = NormalizeEmail(email)
	fingerprint := Fingerprint(s.salt, password)

	// Fast path: an identical login resolved successfully within the
	// cache TTL. The fingerprint keying means the password already
	// verified, so the cached resolution is returned without touching
	// any database.
	if res := s.resolveFromCache(ctx, email, fingerprint); res != nil {
		metrics.LoginResolutions.WithLabelValues("cache_hit").Inc()
		return res, nil
	}

	// Second chance: the email index hints at one tenant to try first
	if tenant, err := s.lookup.LookupEmailTenant(ctx, email); err == nil && tenant != nil && tenant.IsActive() {
		res, err := s.checker.Check(ctx, tenant, email, password)
		if err != nil {
			s.log.WithError(err).WithField("tenant", tenant.Slug).Warn("hinted tenant check failed")
		} else if res != nil {
			metrics.LoginResolutions.WithLabelValues("index_hit").Inc()
			s.recordSuccess(ctx, tenant, res, fingerprint)
			return res, nil
		}
		// Stale hint. Fall through to the scan.
	}

	res, err := s.scanTenants(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if res == nil {
		metrics.LoginResolutions.WithLabelValues("failed").Inc()
		return nil, ErrNotAuthenticated
	}
	metrics.LoginResolutions.WithLabelValues("scan_hit").Inc()
	return res, nil
}

func (s *ResolverService) resolveFromCache(ctx context.Context, email, fingerprint string) *Resolution {
	if s.cache == nil {
		return nil
	}

	cached, err := s.cache.GetLoginSuccess(ctx, email, fingerprint)
	if err != nil {
		s.log.WithError(err).Warn("login cache read failed")
		return nil
	}
	if cached == nil {
		return nil
	}

	return &Resolution{
		TenantID:   cached.TenantID,
		TenantSlug: cached.TenantSlug,
		UserID:     cached.UserID,
		CompanyID:  cached.CompanyID,
		Email:      cached.Email,
	}
}

// scanTenants checks every active tenant in stable registry order.
// Unreachable tenants are logged and skipped so one down database cannot
// block logins elsewhere.
func (s *ResolverService) scanTenants(ctx context.Context, email, password string) (*Resolution, error) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	metrics.TenantScans.Inc()

	fingerprint := Fingerprint(s.salt, password)
	for i := range tenants {
		tenant := &tenants[i]
		res, err := s.checker.Check(ctx, tenant, email, password)
		if err != nil {
			s.log.WithError(err).WithField("tenant", tenant.Slug).Warn("skipping unreachable tenant during scan")
			continue
		}
		if res != nil {
			s.recordSuccess(ctx, tenant, res, fingerprint)
			return res, nil
		}
	}
	return nil, nil
}

func (s *ResolverService) recordSuccess(ctx context.Context, tenant *models.Tenant, res *Resolution, fingerprint string) {
	s.lookup.RecordEmailTenant(ctx, res.Email, tenant, 0)

	if s.cache == nil {
		return
	}
	success := &redis.LoginSuccess{
		TenantID:   res.TenantID,
		TenantSlug: res.TenantSlug,
		UserID:     res.UserID,
		CompanyID:  res.CompanyID,
		Email:      res.Email,
	}
	if err := s.cache.SetLoginSuccess(ctx, res.Email, fingerprint, success, s.successTTL); err != nil {
		s.log.WithError(err).Warn("failed to cache login success")
	}
}

// TenantChecker verifies credentials by activating the tenant's context
// and reading its users table. Context deactivation is guaranteed by the
// runner even when the check panics.
type TenantChecker struct {
	runner ContextRunner
}

// NewTenantChecker creates a checker backed by the context switcher
func NewTenantChecker(runner ContextRunner) *TenantChecker {
	return &TenantChecker{runner: runner}
}

// Check looks up the active user by email and compares the bcrypt hash
func (c *TenantChecker) Check(ctx context.Context, tenant *models.Tenant, email, password string) (*Resolution, error) {
	var res *Resolution
	err := c.runner.WithTenant(ctx, tenant, func(db *gorm.DB) error {
		user, err := repository.NewUserRepository(db).FindActiveByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return nil
		}
		res = &Resolution{
			TenantID:   tenant.ID,
			TenantSlug: tenant.Slug,
			UserID:     user.ID,
			CompanyID:  user.CompanyID,
			Email:      user.Email,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
