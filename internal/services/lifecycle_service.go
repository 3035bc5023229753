package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tenancy-service/internal/config"
	"tenancy-service/internal/migrate"
	"tenancy-service/internal/models"
	"tenancy-service/internal/tenancy"
)

// databaseNamePattern restricts physical database names to identifiers we
// can safely quote into CREATE DATABASE statements.
var databaseNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// LifecycleService creates tenant databases and brings them to the current
// schema version by applying the resolved script groups.
type LifecycleService struct {
	conns  tenancy.AdminConnector
	runner ContextRunner
	dbCfg  config.TenantDBConfig
	migCfg config.MigrationsConfig
	log    *logrus.Entry
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(conns tenancy.AdminConnector, runner ContextRunner, dbCfg config.TenantDBConfig, migCfg config.MigrationsConfig) *LifecycleService {
	return &LifecycleService{
		conns:  conns,
		runner: runner,
		dbCfg:  dbCfg,
		migCfg: migCfg,
		log:    logrus.WithField("component", "lifecycle"),
	}
}

// DatabaseName derives the physical database name for a tenant identifier.
func (s *LifecycleService) DatabaseName(slug string) string {
	return s.dbCfg.NamePrefix + slug
}

// DatabaseExists reports whether the named database exists on the server.
func (s *LifecycleService) DatabaseExists(ctx context.Context, name string) (bool, error) {
	admin, err := s.conns.Admin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reach admin database: %w", err)
	}

	var count int64
	if err := admin.WithContext(ctx).
		Raw("SELECT count(*) FROM pg_database WHERE datname = ?", name).
		Scan(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	return count > 0, nil
}

// CreateDatabase creates the named physical database. Idempotent: an
// existing database is a no-op unless force, which drops and recreates it.
func (s *LifecycleService) CreateDatabase(ctx context.Context, name string, force bool) error {
	if !databaseNamePattern.MatchString(name) {
		return NewValidationError("database", fmt.Sprintf("invalid database name %q", name))
	}

	exists, err := s.DatabaseExists(ctx, name)
	if err != nil {
		return err
	}

	admin, err := s.conns.Admin(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach admin database: %w", err)
	}

	if exists {
		if !force {
			s.log.WithField("database", name).Debug("database already exists, nothing to create")
			return nil
		}

		if err := s.dropDatabase(ctx, admin, name); err != nil {
			return err
		}
		s.log.WithField("database", name).Warn("dropped existing database for forced recreation")
	}

	if err := admin.WithContext(ctx).Exec(fmt.Sprintf(`CREATE DATABASE %q`, name)).Error; err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}

	s.log.WithField("database", name).Info("database created")
	return nil
}

// DropDatabase removes the named physical database, terminating any live
// sessions first. Dropping an absent database is a no-op.
func (s *LifecycleService) DropDatabase(ctx context.Context, name string) error {
	if !databaseNamePattern.MatchString(name) {
		return NewValidationError("database", fmt.Sprintf("invalid database name %q", name))
	}

	admin, err := s.conns.Admin(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach admin database: %w", err)
	}
	if err := s.dropDatabase(ctx, admin, name); err != nil {
		return err
	}

	s.log.WithField("database", name).Info("database dropped")
	return nil
}

// RenameDatabase renames a physical database, used to bind a pooled
// database to the tenant whose slug it now serves.
func (s *LifecycleService) RenameDatabase(ctx context.Context, from, to string) error {
	if !databaseNamePattern.MatchString(from) {
		return NewValidationError("database", fmt.Sprintf("invalid database name %q", from))
	}
	if !databaseNamePattern.MatchString(to) {
		return NewValidationError("database", fmt.Sprintf("invalid database name %q", to))
	}

	admin, err := s.conns.Admin(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach admin database: %w", err)
	}

	// ALTER DATABASE RENAME requires no live sessions on the source
	if err := s.terminateSessions(ctx, admin, from); err != nil {
		return err
	}
	s.conns.Evict(from)

	if err := admin.WithContext(ctx).Exec(fmt.Sprintf(`ALTER DATABASE %q RENAME TO %q`, from, to)).Error; err != nil {
		return fmt.Errorf("failed to rename database %s to %s: %w", from, to, err)
	}

	s.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("database renamed")
	return nil
}

func (s *LifecycleService) terminateSessions(ctx context.Context, admin *gorm.DB, name string) error {
	if err := admin.WithContext(ctx).Exec(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = ? AND pid <> pg_backend_pid()", name,
	).Error; err != nil {
		return fmt.Errorf("failed to terminate sessions on %s: %w", name, err)
	}
	return nil
}

func (s *LifecycleService) dropDatabase(ctx context.Context, admin *gorm.DB, name string) error {
	if err := s.terminateSessions(ctx, admin, name); err != nil {
		return err
	}
	s.conns.Evict(name)
	if err := admin.WithContext(ctx).Exec(fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, name)).Error; err != nil {
		return fmt.Errorf("failed to drop database %s: %w", name, err)
	}
	return nil
}

// ApplyMigrations brings the tenant's database to the current schema
// version. It runs inside the tenant's own activated context, never
// against the registry, and records applied state per script group so
// re-invocation skips completed groups. "Nothing to migrate" is a valid,
// non-error outcome (0 groups run).
func (s *LifecycleService) ApplyMigrations(ctx context.Context, tenant *models.Tenant, force bool) (int, error) {
	var groupsRun int
	err := s.runner.WithTenant(ctx, tenant, func(db *gorm.DB) error {
		var applyErr error
		groupsRun, applyErr = s.applyTo(ctx, db, force)
		return applyErr
	})
	if err != nil {
		return groupsRun, NewProvisioningError(tenant.Slug, err)
	}
	return groupsRun, nil
}

// MigrateDatabase migrates a database that has no tenant bound to it yet,
// used while filling the warm pool.
func (s *LifecycleService) MigrateDatabase(ctx context.Context, name string, force bool) (int, error) {
	db, err := s.conns.Get(ctx, name)
	if err != nil {
		return 0, NewProvisioningError(name, err)
	}
	groupsRun, err := s.applyTo(ctx, db, force)
	if err != nil {
		return groupsRun, NewProvisioningError(name, err)
	}
	return groupsRun, nil
}

// applyTo applies all pending script groups to one database handle.
func (s *LifecycleService) applyTo(ctx context.Context, db *gorm.DB, force bool) (int, error) {
	if err := ensureUUIDExtension(ctx, db); err != nil {
		// AutoMigrate surfaces the real failure if the function is missing
		s.log.WithError(err).Warn("failed to create uuid-ossp extension")
	}

	// Ledger and base tables first; script groups build on them
	baseModels := []interface{}{
		&models.AppliedMigration{},
		&models.Company{},
		&models.User{},
		&models.UserLookup{},
		&models.Supplier{},
	}
	for _, model := range baseModels {
		if err := db.WithContext(ctx).AutoMigrate(model); err != nil {
			return 0, fmt.Errorf("failed to migrate base table %T: %w", model, err)
		}
	}

	return s.applyGroups(ctx, db, force)
}

// ensureUUIDExtension makes uuid_generate_v4() available before any DDL
// that references it runs. Fresh databases cloned from a stock template
// lack the extension.
func ensureUUIDExtension(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error
}

// applyGroups runs every resolved, not-yet-applied script group in order.
func (s *LifecycleService) applyGroups(ctx context.Context, db *gorm.DB, force bool) (int, error) {
	groups, err := migrate.ResolvePaths(s.migCfg.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.WithField("root", s.migCfg.Root).Debug("no migrations root, base schema only")
			return 0, nil
		}
		return 0, err
	}

	groupsRun := 0
	for _, group := range groups {
		name := filepath.Base(group)

		if !force {
			applied, err := s.groupApplied(ctx, db, name)
			if err != nil {
				return groupsRun, err
			}
			if applied {
				continue
			}
		}

		if err := s.runGroup(ctx, db, group, name); err != nil {
			return groupsRun, err
		}
		groupsRun++
	}

	if groupsRun == 0 {
		s.log.Debug("nothing to migrate")
	}
	return groupsRun, nil
}

func (s *LifecycleService) groupApplied(ctx context.Context, db *gorm.DB, name string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.AppliedMigration{}).
		Where("group_name = ?", name).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	return count > 0, nil
}

// runGroup executes every script of one group and records it in the ledger
// within a single transaction, so a failed script leaves the group
// unrecorded and re-runnable.
func (s *LifecycleService) runGroup(ctx context.Context, db *gorm.DB, group, name string) error {
	scripts, err := migrate.ListScripts(group)
	if err != nil {
		return err
	}

	start := time.Now()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, script := range scripts {
			sqlBytes, err := os.ReadFile(script)
			if err != nil {
				return fmt.Errorf("failed to read script %s: %w", script, err)
			}
			if len(sqlBytes) == 0 {
				continue
			}
			if err := tx.Exec(string(sqlBytes)).Error; err != nil {
				return fmt.Errorf("script %s failed: %w", filepath.Base(script), err)
			}
		}

		entry := &models.AppliedMigration{GroupName: name, AppliedAt: time.Now()}
		if err := tx.Where("group_name = ?", name).FirstOrCreate(entry).Error; err != nil {
			return fmt.Errorf("failed to record migration group %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"group":    name,
		"scripts":  len(scripts),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("migration group applied")
	return nil
}
