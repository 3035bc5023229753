// Package main implements a batch command that rebuilds the lookup
// indexes: the durable company -> tenant mappings in the registry and the
// per-tenant user lookup rows. Intended for recovery after restoring a
// tenant database from backup, and safe to re-run at any time.
//
// Usage:
//
//	./backfill-lookup                  # Rebuild for all active tenants
//	./backfill-lookup --tenant=<slug>  # Rebuild for one tenant only
//	./backfill-lookup --force          # Overwrite existing company mappings
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
	"tenancy-service/internal/repository"
	"tenancy-service/internal/services"
	"tenancy-service/internal/tenancy"
)

func main() {
	tenantSlug := flag.String("tenant", "", "Rebuild for specific tenant only (by slug)")
	force := flag.Bool("force", false, "Overwrite existing company mappings")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *force {
		log.Println("=== FORCE MODE - Existing company mappings will be overwritten ===")
	}

	cfg := config.New()

	registryDB, err := initRegistryDatabase(cfg.Registry, *verbose)
	if err != nil {
		log.Fatalf("Failed to connect to registry database: %v", err)
	}

	conns := tenancy.NewConnManager(cfg.TenantDB)
	defer conns.Close()

	tenantRepo := repository.NewTenantRepository(registryDB)
	mappingRepo := repository.NewMappingRepository(registryDB)

	emailTTL := time.Duration(cfg.Lookup.EmailIndexTTLMinutes) * time.Minute
	lookup := services.NewLookupService(nil, mappingRepo, tenantRepo, tenancy.NewRunner(conns), emailTTL)

	start := time.Now()
	stats, err := lookup.BulkRepopulate(context.Background(), *tenantSlug, *force)
	if err != nil {
		log.Fatalf("Backfill failed: %v", err)
	}

	fmt.Println("\n========================================")
	fmt.Println("LOOKUP BACKFILL SUMMARY")
	fmt.Println("========================================")
	fmt.Printf("Duration:           %v\n", time.Since(start).Round(time.Second))
	fmt.Printf("Tenants Processed:  %d\n", stats.TenantsProcessed)
	fmt.Printf("Tenants Failed:     %d\n", stats.TenantsFailed)
	fmt.Printf("Mappings Written:   %d\n", stats.MappingsWritten)
	fmt.Printf("Mappings Skipped:   %d\n", stats.MappingsSkipped)
	fmt.Printf("Lookup Rows:        %d\n", stats.LookupRows)
	fmt.Println("========================================")

	// Per-tenant failures are counted in the summary; only a run that
	// repaired nothing at all exits non-zero.
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
