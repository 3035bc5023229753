package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tenancy-service/internal/background"
	"tenancy-service/internal/config"
	"tenancy-service/internal/handlers"
	"tenancy-service/internal/metrics"
	"tenancy-service/internal/middleware"
	"tenancy-service/internal/models"
	natsClient "tenancy-service/internal/nats"
	redisClient "tenancy-service/internal/redis"
	"tenancy-service/internal/repository"
	"tenancy-service/internal/services"
	"tenancy-service/internal/tenancy"
)

func main() {
	cfg := config.New()
	configureLogging(cfg.App)

	// Central registry database: tenants, pool entries, company mappings
	registryDB, err := initRegistryDatabase(cfg.Registry)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize registry database")
	}
	if err := autoMigrateRegistry(registryDB); err != nil {
		logrus.WithError(err).Fatal("failed to migrate registry database")
	}

	// Redis backs the email index, the login success cache and job locks.
	// The service runs without it; lookups then always take the full path.
	var rdb *redisClient.Client
	rdb, err = redisClient.NewClient(cfg.Redis)
	if err != nil {
		logrus.WithError(err).Warn("Redis unavailable, lookup caching and job locks disabled")
		rdb = nil
	} else {
		logrus.Info("connected to Redis")
	}

	// NATS carries tenant lifecycle events. Optional as well.
	var nc *natsClient.Client
	nc, err = natsClient.NewClient(nil)
	if err != nil {
		logrus.WithError(err).Warn("NATS unavailable, event publishing disabled")
		nc = nil
	} else {
		logrus.Info("connected to NATS")
		defer nc.Close()
	}

	// Tenant database plumbing: shared connection cache, one switcher per
	// unit of work so concurrent requests and jobs never collide
	conns := tenancy.NewConnManager(cfg.TenantDB)
	defer conns.Close()
	runner := tenancy.NewRunner(conns)

	// Repositories over the registry database
	tenantRepo := repository.NewTenantRepository(registryDB)
	poolRepo := repository.NewPoolRepository(registryDB)
	mappingRepo := repository.NewMappingRepository(registryDB)

	// Services
	lifecycleSvc := services.NewLifecycleService(conns, runner, cfg.TenantDB, cfg.Migrations)
	poolSvc := services.NewPoolService(poolRepo, lifecycleSvc, cfg.Pool, cfg.TenantDB.PoolNamePrefix)

	emailTTL := time.Duration(cfg.Lookup.EmailIndexTTLMinutes) * time.Minute
	var emailIndex services.EmailIndex
	var loginCache services.LoginCache
	var invalidator services.CompanyInvalidator
	if rdb != nil {
		emailIndex = rdb
		loginCache = rdb
		invalidator = rdb
	}
	lookupSvc := services.NewLookupService(emailIndex, mappingRepo, tenantRepo, runner, emailTTL)

	checker := services.NewTenantChecker(runner)
	successTTL := time.Duration(cfg.Lookup.SuccessCacheTTLMinutes) * time.Minute
	resolverSvc := services.NewResolverService(checker, tenantRepo, lookupSvc, loginCache, cfg.App.FingerprintSalt, successTTL)

	var events services.EventPublisher
	if nc != nil {
		events = nc
	}
	tenantSvc := services.NewTenantService(tenantRepo, poolSvc, lifecycleSvc, lookupSvc, runner, events, invalidator)

	// Handlers
	healthHandler := handlers.NewHealthHandler(registryDB, rdb, nc)
	authHandler := handlers.NewAuthHandler(resolverSvc, cfg.App.JWTSecret)
	tenantHandler := handlers.NewTenantHandler(tenantSvc, lookupSvc, poolSvc)

	// Background jobs: pool replenishment and lookup repopulation
	bgRunner := background.NewRunner(poolSvc, lookupSvc, rdb, cfg.Pool, cfg.Lookup)
	bgRunner.Start()

	router := setupRouter(cfg, healthHandler, authHandler, tenantHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("starting tenancy-service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	bgRunner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("server forced to shutdown")
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logrus.WithError(err).Error("error closing Redis connection")
		}
	}

	logrus.Info("server exited")
}

func configureLogging(cfg config.AppConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func initRegistryDatabase(cfg config.RegistryConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func autoMigrateRegistry(db *gorm.DB) error {
	// uuid_generate_v4() defaults need the extension on a fresh cluster
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		logrus.WithError(err).Warn("failed to create uuid-ossp extension")
	}

	return db.AutoMigrate(
		&models.Tenant{},
		&models.PooledDatabase{},
		&models.CompanyTenantMapping{},
	)
}

func setupRouter(cfg *config.Config, healthHandler *handlers.HealthHandler, authHandler *handlers.AuthHandler, tenantHandler *handlers.TenantHandler) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-Tenant-Slug", "X-User-ID", "X-Company-ID"}

	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(metrics.Middleware())
	router.Use(middleware.TenantExtraction())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		// Tenant-less login; the resolver finds the tenant
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
		}

		// Tenant management
		tenants := v1.Group("/tenants")
		{
			tenants.POST("", tenantHandler.CreateTenant)
			tenants.GET("", tenantHandler.ListTenants)
			tenants.GET("/:slug", tenantHandler.GetTenant)
			tenants.DELETE("/:slug", tenantHandler.DeactivateTenant)
			tenants.POST("/:slug/companies", tenantHandler.CreateCompany)

			// Switching requires an authenticated user identity
			protected := tenants.Group("")
			protected.Use(middleware.Auth(cfg.App.JWTSecret))
			{
				protected.POST("/:slug/switch-company", tenantHandler.SwitchCompany)
			}
		}

		// Lookup index
		lookup := v1.Group("/lookup")
		{
			lookup.GET("/companies/:companyId", tenantHandler.ResolveCompany)
		}

		// Warm pool
		pool := v1.Group("/pool")
		{
			pool.GET("/status", tenantHandler.PoolStatus)
		}
	}

	return router
}
