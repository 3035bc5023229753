// Package main implements a batch command that pre-provisions warm pool
// databases so tenant onboarding does not wait on CREATE DATABASE and
// migrations.
//
// Usage:
//
//	./provision-pool              # Top the pool up to POOL_FLOOR
//	./provision-pool --count=10   # Create exactly 10 new pool databases
//
// Connection settings come from the same environment variables as the
// service (REGISTRY_DB_*, TENANT_DB_*, MIGRATIONS_ROOT, POOL_FLOOR).
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
	count := flag.Int("count", 0, "Number of databases to create (0 = top up to the configured floor)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.New()

	registryDB, err := initRegistryDatabase(cfg.Registry, *verbose)
	if err != nil {
		log.Fatalf("Failed to connect to registry database: %v", err)
	}

	conns := tenancy.NewConnManager(cfg.TenantDB)
	defer conns.Close()

	lifecycle := services.NewLifecycleService(conns, tenancy.NewRunner(conns), cfg.TenantDB, cfg.Migrations)
	poolRepo := repository.NewPoolRepository(registryDB)
	pool := services.NewPoolService(poolRepo, lifecycle, cfg.Pool, cfg.TenantDB.PoolNamePrefix)

	ctx := context.Background()
	start := time.Now()

	available, err := pool.CountAvailable(ctx)
	if err != nil {
		log.Fatalf("Failed to read pool state: %v", err)
	}
	log.Printf("Pool state: %d available, floor %d", available, cfg.Pool.Floor)

	var created int
	var requested int
	if *count > 0 {
		requested = *count
		created, err = pool.Provision(ctx, *count)
	} else {
		requested = cfg.Pool.Floor - available
		if requested < 0 {
			requested = 0
		}
		created, err = pool.Replenish(ctx)
	}
	if err != nil {
		log.Fatalf("Pool provisioning failed: %v", err)
	}

	fmt.Println("\n========================================")
	fmt.Println("POOL PROVISIONING SUMMARY")
	fmt.Println("========================================")
	fmt.Printf("Duration:    %v\n", time.Since(start).Round(time.Second))
	fmt.Printf("Requested:   %d\n", requested)
	fmt.Printf("Created:     %d\n", created)
	fmt.Println("========================================")

	// Partial shortfalls are reported in the summary; only a run that
	// created nothing while entries were needed exits non-zero.
	if requested > 0 && created == 0 {
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
