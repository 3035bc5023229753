package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"

	"tenancy-service/internal/models"
)

// fakeConnector hands out detached gorm handles; databases listed in
// unreachable fail to activate.
type fakeConnector struct {
	unreachable map[string]bool

	mu   sync.Mutex
	gets int
}

func (f *fakeConnector) Get(_ context.Context, database string) (*gorm.DB, error) {
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	if f.unreachable[database] {
		return nil, errors.New("database does not exist")
	}
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func testTenant(slug string) *models.Tenant {
	return &models.Tenant{
		ID:           uuid.New(),
		Name:         slug,
		Slug:         slug,
		Status:       models.TenantStatusActive,
		DatabaseName: "tenant_" + slug,
	}
}

func TestActivateDeactivateLifecycle(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})
	tenant := testTenant("acme")

	require.NoError(t, s.Activate(context.Background(), tenant))
	assert.Equal(t, tenant.ID, s.Active().ID)

	db, err := s.DB()
	require.NoError(t, err)
	assert.NotNil(t, db)

	s.Deactivate()
	assert.Nil(t, s.Active())

	_, err = s.DB()
	assert.ErrorIs(t, err, ErrNoActiveContext)
}

func TestActivateSameTenantIsNoOp(t *testing.T) {
	conns := &fakeConnector{}
	s := NewSwitcher(conns)
	tenant := testTenant("acme")

	require.NoError(t, s.Activate(context.Background(), tenant))
	require.NoError(t, s.Activate(context.Background(), tenant))
	assert.Equal(t, 1, conns.gets)
}

func TestActivateSecondTenantIsRejected(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})
	require.NoError(t, s.Activate(context.Background(), testTenant("acme")))

	err := s.Activate(context.Background(), testTenant("globex"))
	assert.ErrorIs(t, err, ErrContextActive)

	// The original context must survive the rejected activation.
	assert.Equal(t, "acme", s.Active().Slug)
}

func TestDeactivateWhenInactiveIsNoOp(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})
	s.Deactivate()
	assert.Nil(t, s.Active())
}

func TestActivateUnreachableDatabase(t *testing.T) {
	s := NewSwitcher(&fakeConnector{unreachable: map[string]bool{"tenant_ghost": true}})

	err := s.Activate(context.Background(), testTenant("ghost"))
	require.Error(t, err)
	assert.Nil(t, s.Active())
}

func TestWithTenantDeactivatesOnSuccess(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})

	err := s.WithTenant(context.Background(), testTenant("acme"), func(db *gorm.DB) error {
		assert.NotNil(t, db)
		assert.NotNil(t, s.Active())
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, s.Active())
}

func TestWithTenantDeactivatesOnError(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})
	boom := errors.New("boom")

	err := s.WithTenant(context.Background(), testTenant("acme"), func(*gorm.DB) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s.Active())
}

func TestWithTenantDeactivatesOnPanic(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})

	assert.Panics(t, func() {
		_ = s.WithTenant(context.Background(), testTenant("acme"), func(*gorm.DB) error {
			panic("fn exploded")
		})
	})
	assert.Nil(t, s.Active())
}

func TestWithTenantNestedSameTenant(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})
	tenant := testTenant("acme")

	err := s.WithTenant(context.Background(), tenant, func(*gorm.DB) error {
		inner := s.WithTenant(context.Background(), tenant, func(*gorm.DB) error {
			return nil
		})
		require.NoError(t, inner)
		// The outer unit of work still owns the context.
		assert.NotNil(t, s.Active())
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, s.Active())
}

func TestWithTenantRejectsOverlap(t *testing.T) {
	s := NewSwitcher(&fakeConnector{})

	err := s.WithTenant(context.Background(), testTenant("acme"), func(*gorm.DB) error {
		return s.WithTenant(context.Background(), testTenant("globex"), func(*gorm.DB) error {
			t.Fatal("must not run as globex inside acme's context")
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrContextActive)
	assert.Nil(t, s.Active())
}
