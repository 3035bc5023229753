// Package tenancy activates and deactivates the current tenant for a unit
// of work. The active tenant is explicit state on a Switcher handed to
// callers, never package-level state, so one request can never observe
// another request's tenant.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"tenancy-service/internal/models"
)

// ErrContextActive is returned when a caller attempts to activate a tenant
// while a different tenant is already active. This is a caller bug: forcing
// the switch would let tenant A's unit of work finish against tenant B's
// database.
var ErrContextActive = errors.New("another tenant context is already active")

// ErrNoActiveContext is returned when the active database handle is
// requested while no tenant is activated.
var ErrNoActiveContext = errors.New("no tenant context is active")

// Switcher selects one tenant's physical database as the active connection
// target for the duration of a unit of work. States are Inactive and
// Active(tenant); activating the same tenant twice is a no-op, activating a
// second tenant is an error, deactivating while inactive is a no-op.
type Switcher struct {
	conns Connector

	mu     sync.Mutex
	active *models.Tenant
	db     *gorm.DB
}

// NewSwitcher creates a switcher over the given connector.
func NewSwitcher(conns Connector) *Switcher {
	return &Switcher{conns: conns}
}

// Activate selects the tenant's database as the active target. Activation
// fails if the tenant's database cannot be reached, or with
// ErrContextActive if a different tenant is currently active.
func (s *Switcher) Activate(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		if s.active.ID == tenant.ID {
			return nil
		}
		return fmt.Errorf("%w: %s is active, %s requested", ErrContextActive, s.active.Slug, tenant.Slug)
	}

	db, err := s.conns.Get(ctx, tenant.DatabaseName)
	if err != nil {
		return fmt.Errorf("failed to activate tenant %s: %w", tenant.Slug, err)
	}

	s.active = tenant
	s.db = db
	return nil
}

// Deactivate clears the active tenant. Safe to call when nothing is active.
func (s *Switcher) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = nil
	s.db = nil
}

// Active returns the currently activated tenant, or nil.
func (s *Switcher) Active() *models.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// DB returns the active tenant's database handle.
func (s *Switcher) DB() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, ErrNoActiveContext
	}
	return s.db, nil
}

// WithTenant runs fn with the tenant's context active and guarantees
// deactivation on every exit path, including panics inside fn. This is the
// form every other subsystem uses; bare Activate/Deactivate pairs are
// reserved for the switcher's own tests.
//
// If the same tenant is already active the call nests without deactivating
// on exit; the outermost WithTenant owns the deactivation.
func (s *Switcher) WithTenant(ctx context.Context, tenant *models.Tenant, fn func(db *gorm.DB) error) error {
	s.mu.Lock()
	if s.active != nil && s.active.ID == tenant.ID {
		db := s.db
		s.mu.Unlock()
		return fn(db)
	}
	s.mu.Unlock()

	if err := s.Activate(ctx, tenant); err != nil {
		return err
	}
	defer s.Deactivate()

	db, err := s.DB()
	if err != nil {
		return err
	}
	return fn(db)
}
