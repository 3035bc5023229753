package tenancy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunnerIndependentUnitsDoNotCollide(t *testing.T) {
	r := NewRunner(&fakeConnector{})

	// A batch job holding tenant A must not block a login resolving
	// against tenant B; each unit of work has its own switcher.
	err := r.WithTenant(context.Background(), testTenant("batch"), func(*gorm.DB) error {
		return r.WithTenant(context.Background(), testTenant("login"), func(db *gorm.DB) error {
			assert.NotNil(t, db)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestRunnerConcurrentUnits(t *testing.T) {
	r := NewRunner(&fakeConnector{})

	hold := make(chan struct{})
	holding := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- r.WithTenant(context.Background(), testTenant("nightly"), func(*gorm.DB) error {
			close(holding)
			<-hold
			return nil
		})
	}()

	// While the first unit's context is active, a second unit activates a
	// different tenant without ErrContextActive.
	<-holding
	errs <- r.WithTenant(context.Background(), testTenant("acme"), func(db *gorm.DB) error {
		assert.NotNil(t, db)
		return nil
	})
	close(hold)

	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestRunnerManyParallelUnits(t *testing.T) {
	r := NewRunner(&fakeConnector{})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tenant := testTenant("acme")
			if n%2 == 0 {
				tenant = testTenant("globex")
			}
			errs <- r.WithTenant(context.Background(), tenant, func(*gorm.DB) error {
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRunnerUnitStillRejectsNestedOverlap(t *testing.T) {
	r := NewRunner(&fakeConnector{})

	// Within a single unit of work the one-active-tenant discipline is
	// unchanged: the unit's own switcher rejects a second tenant.
	err := r.WithTenant(context.Background(), testTenant("acme"), func(*gorm.DB) error {
		s := NewSwitcher(&fakeConnector{})
		require.NoError(t, s.Activate(context.Background(), testTenant("acme")))
		defer s.Deactivate()
		return s.Activate(context.Background(), testTenant("globex"))
	})
	assert.ErrorIs(t, err, ErrContextActive)
}
