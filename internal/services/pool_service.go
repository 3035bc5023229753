package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tenancy-service/internal/config"
	"tenancy-service/internal/metrics"
	"tenancy-service/internal/models"
)

// PoolStore is the registry persistence the pool service needs
type PoolStore interface {
	CountAvailable(ctx context.Context) (int, error)
	Insert(ctx context.Context, entry *models.PooledDatabase) error
	ClaimNext(ctx context.Context, tenantID uuid.UUID, retries int) (*models.PooledDatabase, error)
}

// DatabaseProvisioner creates, migrates and removes physical databases
type DatabaseProvisioner interface {
	CreateDatabase(ctx context.Context, name string, force bool) error
	MigrateDatabase(ctx context.Context, name string, force bool) (int, error)
	DropDatabase(ctx context.Context, name string) error
}

// PoolService maintains the warm pool of pre-created, migrated, empty
// databases so tenant signup never blocks on database creation latency.
type PoolService struct {
	store       PoolStore
	provisioner DatabaseProvisioner
	cfg         config.PoolConfig
	namePrefix  string
	log         *logrus.Entry
}

// NewPoolService creates a new pool service
func NewPoolService(store PoolStore, provisioner DatabaseProvisioner, cfg config.PoolConfig, namePrefix string) *PoolService {
	return &PoolService{
		store:       store,
		provisioner: provisioner,
		cfg:         cfg,
		namePrefix:  namePrefix,
		log:         logrus.WithField("component", "pool"),
	}
}

// CountAvailable returns the number of free pool entries
func (s *PoolService) CountAvailable(ctx context.Context) (int, error) {
	available, err := s.store.CountAvailable(ctx)
	if err == nil {
		metrics.PoolAvailable.Set(float64(available))
	}
	return available, err
}

// Provision creates n fresh pool databases and returns how many actually
// succeeded. A partial failure is not an error: the caller sees the real
// count and decides whether to retry.
func (s *PoolService) Provision(ctx context.Context, n int) (int, error) {
	created := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		name := s.generateName()
		if err := s.provisionOne(ctx, name); err != nil {
			s.log.WithError(err).WithField("database", name).Error("pool entry provisioning failed")
			continue
		}
		created++
	}

	if created < n {
		s.log.WithFields(logrus.Fields{"requested": n, "created": created}).Warn("pool provisioning completed partially")
	}
	return created, nil
}

// Replenish tops the pool back up to the configured floor and returns the
// number of entries created.
func (s *PoolService) Replenish(ctx context.Context) (int, error) {
	available, err := s.store.CountAvailable(ctx)
	if err != nil {
		return 0, err
	}

	missing := s.cfg.Floor - available
	if missing <= 0 {
		return 0, nil
	}

	s.log.WithFields(logrus.Fields{"available": available, "floor": s.cfg.Floor, "missing": missing}).Info("replenishing database pool")
	return s.Provision(ctx, missing)
}

// Claim atomically takes a free entry for the tenant. Returns ErrPoolEmpty
// when no free entry can be won; the caller falls back to synchronous
// creation.
func (s *PoolService) Claim(ctx context.Context, tenantID uuid.UUID) (*models.PooledDatabase, error) {
	entry, err := s.store.ClaimNext(ctx, tenantID, s.cfg.ClaimRetries)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		metrics.PoolClaims.WithLabelValues("empty").Inc()
		return nil, ErrPoolEmpty
	}

	metrics.PoolClaims.WithLabelValues("claimed").Inc()
	s.log.WithFields(logrus.Fields{"database": entry.Name, "tenant_id": tenantID}).Info("claimed pool database")
	return entry, nil
}

func (s *PoolService) provisionOne(ctx context.Context, name string) error {
	if err := s.provisioner.CreateDatabase(ctx, name, false); err != nil {
		return err
	}
	if _, err := s.provisioner.MigrateDatabase(ctx, name, false); err != nil {
		return err
	}
	if err := s.store.Insert(ctx, &models.PooledDatabase{Name: name}); err != nil {
		// An unregistered database can never be claimed; remove it so it
		// does not accumulate on the server.
		if dropErr := s.provisioner.DropDatabase(ctx, name); dropErr != nil {
			s.log.WithError(dropErr).WithField("database", name).Error("orphaned pool database left on server")
		}
		return err
	}
	return nil
}

func (s *PoolService) generateName() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return s.namePrefix + suffix
}
