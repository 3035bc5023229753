// Package main implements a batch command that applies pending schema
// migrations to every tenant database.
//
// Usage:
//
//	./migrate-tenants                  # Migrate all active tenants
//	./migrate-tenants --tenant=<slug>  # Migrate one tenant only
//	./migrate-tenants --dry-run        # List resolved migration groups without applying
//	./migrate-tenants --force          # Re-run groups already recorded as applied
//
// Connection settings come from the same environment variables as the
// service (REGISTRY_DB_*, TENANT_DB_*, MIGRATIONS_ROOT).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tenancy-service/internal/config"
	"tenancy-service/internal/migrate"
	"tenancy-service/internal/models"
	"tenancy-service/internal/repository"
	"tenancy-service/internal/services"
	"tenancy-service/internal/tenancy"
)

// MigrationStats tracks batch migration progress
type MigrationStats struct {
	TenantsFound     int
	TenantsProcessed int
	TenantsFailed    int
	GroupsRun        int
	StartTime        time.Time
	EndTime          time.Time
}

func (s *MigrationStats) Print() {
	duration := s.EndTime.Sub(s.StartTime)
	fmt.Println("\n========================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("========================================")
	fmt.Printf("Duration:           %v\n", duration.Round(time.Second))
	fmt.Printf("Tenants Found:      %d\n", s.TenantsFound)
	fmt.Printf("Tenants Processed:  %d\n", s.TenantsProcessed)
	fmt.Printf("Tenants Failed:     %d\n", s.TenantsFailed)
	fmt.Printf("Groups Run:         %d\n", s.GroupsRun)
	fmt.Println("========================================")
}

func main() {
	dryRun := flag.Bool("dry-run", false, "List resolved migration groups without applying them")
	tenantSlug := flag.String("tenant", "", "Migrate specific tenant only (by slug)")
	force := flag.Bool("force", false, "Re-run groups already recorded as applied")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *dryRun {
		log.Println("=== DRY RUN MODE - No changes will be made ===")
	}

	cfg := config.New()

	registryDB, err := initRegistryDatabase(cfg.Registry, *verbose)
	if err != nil {
		log.Fatalf("Failed to connect to registry database: %v", err)
	}

	conns := tenancy.NewConnManager(cfg.TenantDB)
	defer conns.Close()
	lifecycle := services.NewLifecycleService(conns, tenancy.NewRunner(conns), cfg.TenantDB, cfg.Migrations)

	stats := &MigrationStats{StartTime: time.Now()}
	ctx := context.Background()

	if err := run(ctx, registryDB, lifecycle, cfg.Migrations.Root, *dryRun, *tenantSlug, *force, stats); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	stats.EndTime = time.Now()
	stats.Print()

	// Per-tenant failures are reported in the summary; the exit code only
	// flips when the run achieved nothing at all.
	if stats.TenantsFailed > 0 && stats.TenantsProcessed == 0 {
		os.Exit(1)
	}
}

func initRegistryDatabase(cfg config.RegistryConfig, verbose bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	logLevel := logger.Silent
	if verbose {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry database: %w", err)
	}

	log.Println("Connected to registry database")
	return db, nil
}

func run(ctx context.Context, db *gorm.DB, lifecycle *services.LifecycleService, migrationsRoot string, dryRun bool, tenantSlug string, force bool, stats *MigrationStats) error {
	tenantRepo := repository.NewTenantRepository(db)

	var tenants []models.Tenant
	if tenantSlug != "" {
		tenant, err := tenantRepo.GetBySlug(ctx, tenantSlug)
		if err != nil {
			return fmt.Errorf("failed to look up tenant %s: %w", tenantSlug, err)
		}
		if tenant == nil {
			return fmt.Errorf("tenant %s not found", tenantSlug)
		}
		tenants = []models.Tenant{*tenant}
	} else {
		var err error
		tenants, err = tenantRepo.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
	}

	stats.TenantsFound = len(tenants)
	log.Printf("Found %d tenants to migrate", len(tenants))

	if len(tenants) == 0 {
		log.Println("No tenants to migrate")
		return nil
	}

	if dryRun {
		return printResolvedGroups(migrationsRoot)
	}

	for i := range tenants {
		tenant := &tenants[i]
		log.Printf("[%d/%d] Migrating tenant %s (database %s)", i+1, len(tenants), tenant.Slug, tenant.DatabaseName)

		groups, err := lifecycle.ApplyMigrations(ctx, tenant, force)
		if err != nil {
			log.Printf("ERROR: Failed to migrate tenant %s: %v", tenant.Slug, err)
			stats.TenantsFailed++
			// Continue with next tenant
			continue
		}

		stats.TenantsProcessed++
		stats.GroupsRun += groups
		log.Printf("  Applied %d migration groups", groups)
	}

	return nil
}

func printResolvedGroups(root string) error {
	groups, err := migrate.ResolvePaths(root)
	if err != nil {
		return fmt.Errorf("failed to resolve migration groups: %w", err)
	}

	log.Printf("Resolved %d migration groups (in execution order):", len(groups))
	for i, group := range groups {
		scripts, err := migrate.ListScripts(group)
		if err != nil {
			return err
		}
		log.Printf("  %d. %s (%d scripts)", i+1, group, len(scripts))
	}
	return nil
}
