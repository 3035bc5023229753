package tenancy

import (
	"context"

	"gorm.io/gorm"

	"tenancy-service/internal/models"
)

// Runner hands every unit of work its own Switcher over the shared
// connection cache. The one-active-tenant discipline holds per unit of
// work: a login resolving against tenant A never collides with a batch
// job holding tenant B, while nesting a second tenant inside one unit
// still fails with ErrContextActive on the unit's own switcher.
type Runner struct {
	conns Connector
}

// NewRunner creates a runner over the given connector.
func NewRunner(conns Connector) *Runner {
	return &Runner{conns: conns}
}

// WithTenant runs fn inside a fresh switcher's activated context. Exit
// safety is inherited from Switcher.WithTenant.
func (r *Runner) WithTenant(ctx context.Context, tenant *models.Tenant, fn func(db *gorm.DB) error) error {
	return NewSwitcher(r.conns).WithTenant(ctx, tenant, fn)
}
