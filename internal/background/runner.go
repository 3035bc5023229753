package background

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tenancy-service/internal/config"
	redisClient "tenancy-service/internal/redis"
	"tenancy-service/internal/services"
)

const (
	replenishJobName  = "pool-replenish"
	repopulateJobName = "lookup-repopulate"
)

// Runner schedules the recurring maintenance jobs: warm pool
// replenishment and lookup index repopulation. When Redis is available
// each execution takes a distributed lock first so concurrent replicas do
// not run the same job twice; both jobs are idempotent, so a lost lock
// only costs duplicate work.
type Runner struct {
	pool   *services.PoolService
	lookup *services.LookupService
	redis  *redisClient.Client // nil disables locking, not the jobs

	poolCfg   config.PoolConfig
	lookupCfg config.LookupConfig

	stopCh           chan struct{}
	wg               sync.WaitGroup
	replenishTicker  *time.Ticker
	repopulateTicker *time.Ticker
	log              *logrus.Entry
}

// NewRunner creates a new background runner
func NewRunner(pool *services.PoolService, lookup *services.LookupService, redis *redisClient.Client, poolCfg config.PoolConfig, lookupCfg config.LookupConfig) *Runner {
	return &Runner{
		pool:      pool,
		lookup:    lookup,
		redis:     redis,
		poolCfg:   poolCfg,
		lookupCfg: lookupCfg,
		stopCh:    make(chan struct{}),
		log:       logrus.WithField("component", "background"),
	}
}

// Start begins the background job processing
func (r *Runner) Start() {
	r.log.Info("starting background job runner")

	replenishInterval := time.Duration(r.poolCfg.ReplenishInterval) * time.Minute
	r.replenishTicker = time.NewTicker(replenishInterval)
	r.log.WithField("interval", replenishInterval.String()).Info("pool replenishment job scheduled")

	repopulateInterval := time.Duration(r.lookupCfg.RepopulateInterval) * time.Hour
	r.repopulateTicker = time.NewTicker(repopulateInterval)
	r.log.WithField("interval", repopulateInterval.String()).Info("lookup repopulation job scheduled")

	r.wg.Add(1)
	go r.runReplenishJob()

	r.wg.Add(1)
	go r.runRepopulateJob()
}

// Stop gracefully stops all background jobs
func (r *Runner) Stop() {
	r.log.Info("stopping background job runner")
	close(r.stopCh)

	if r.replenishTicker != nil {
		r.replenishTicker.Stop()
	}
	if r.repopulateTicker != nil {
		r.repopulateTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("background job runner stopped")
	case <-time.After(30 * time.Second):
		r.log.Warn("background job runner stop timeout")
	}
}

func (r *Runner) runReplenishJob() {
	defer r.wg.Done()

	// Run immediately so a cold start does not wait a full interval with
	// an empty pool
	r.executeReplenish()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.replenishTicker.C:
			r.executeReplenish()
		}
	}
}

func (r *Runner) executeReplenish() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if !r.acquireLock(ctx, replenishJobName, 15*time.Minute) {
		return
	}
	defer r.releaseLock(replenishJobName)

	created, err := r.pool.Replenish(ctx)
	if err != nil {
		r.log.WithError(err).Error("pool replenishment job failed")
		return
	}
	if created > 0 {
		r.log.WithField("created", created).Info("pool replenishment job completed")
	}
}

func (r *Runner) runRepopulateJob() {
	defer r.wg.Done()

	// First run waits a full interval; the lookup tables are already
	// maintained incrementally on every write
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.repopulateTicker.C:
			r.executeRepopulate()
		}
	}
}

func (r *Runner) executeRepopulate() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if !r.acquireLock(ctx, repopulateJobName, 30*time.Minute) {
		return
	}
	defer r.releaseLock(repopulateJobName)

	stats, err := r.lookup.BulkRepopulate(ctx, "", false)
	if err != nil {
		r.log.WithError(err).Error("lookup repopulation job failed")
		return
	}
	r.log.WithFields(logrus.Fields{
		"tenants_processed": stats.TenantsProcessed,
		"tenants_failed":    stats.TenantsFailed,
		"mappings_written":  stats.MappingsWritten,
		"lookup_rows":       stats.LookupRows,
	}).Info("lookup repopulation job completed")
}

func (r *Runner) acquireLock(ctx context.Context, job string, ttl time.Duration) bool {
	if r.redis == nil {
		return true
	}

	ok, err := r.redis.AcquireJobLock(ctx, job, ttl)
	if err != nil {
		r.log.WithError(err).WithField("job", job).Warn("job lock acquisition failed, running anyway")
		return true
	}
	if !ok {
		r.log.WithField("job", job).Debug("job lock held elsewhere, skipping run")
	}
	return ok
}

func (r *Runner) releaseLock(job string) {
	if r.redis == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.redis.ReleaseJobLock(ctx, job); err != nil {
		r.log.WithError(err).WithField("job", job).Warn("failed to release job lock")
	}
}
