package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig
	Registry   RegistryConfig
	TenantDB   TenantDBConfig
	Redis      RedisConfig
	App        AppConfig
	Pool       PoolConfig
	Migrations MigrationsConfig
	Lookup     LookupConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port string
}

// RegistryConfig holds connection settings for the central tenant registry
// database, which is reachable without any tenant context active.
type RegistryConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// TenantDBConfig holds settings for the database server that hosts the
// per-tenant physical databases.
type TenantDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	SSLMode  string
	// AdminDatabase is the maintenance database used for CREATE DATABASE
	// statements (on PostgreSQL, usually "postgres").
	AdminDatabase string
	// NamePrefix is prepended to the tenant identifier to form the
	// physical database name, e.g. "tenant_" + slug.
	NamePrefix string
	// PoolNamePrefix is used for pre-provisioned, unassigned databases.
	PoolNamePrefix string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AppConfig holds application configuration
type AppConfig struct {
	Environment string
	LogLevel    string
	JWTSecret   string
	// FingerprintSalt is mixed into the password fingerprint used as the
	// login success-cache key. It is never used for password storage.
	FingerprintSalt string
}

// PoolConfig holds warm-pool provisioning configuration
type PoolConfig struct {
	Floor             int // Target number of free pre-provisioned databases
	ReplenishInterval int // Replenishment job interval in minutes
	ClaimRetries      int // Attempts to claim a free entry before falling back
}

// MigrationsConfig holds schema migration configuration
type MigrationsConfig struct {
	// Root is the directory containing one subdirectory of .sql scripts
	// per schema group (permissions/, users/, companies/, ...).
	Root string
}

// LookupConfig holds lookup-index and login-cache configuration
type LookupConfig struct {
	EmailIndexTTLMinutes   int // TTL for email->tenant index entries
	SuccessCacheTTLMinutes int // TTL for credential success-cache entries
	RepopulateInterval     int // Company-mapping repopulation interval in hours
}

// New creates a new configuration instance
func New() *Config {
	// Best effort; deployed environments inject real env vars directly
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: getEnvWithDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvWithDefault("SERVER_PORT", "8090"),
		},
		Registry: RegistryConfig{
			Host:     getEnvWithDefault("REGISTRY_DB_HOST", "localhost"),
			Port:     getEnvWithDefault("REGISTRY_DB_PORT", "5432"),
			User:     getEnvWithDefault("REGISTRY_DB_USER", "postgres"),
			Password: getEnvWithDefault("REGISTRY_DB_PASSWORD", ""),
			Name:     getEnvWithDefault("REGISTRY_DB_NAME", "tenancy_registry"),
			SSLMode:  getEnvWithDefault("REGISTRY_DB_SSLMODE", "disable"),
		},
		TenantDB: TenantDBConfig{
			Host:           getEnvWithDefault("TENANT_DB_HOST", "localhost"),
			Port:           getEnvWithDefault("TENANT_DB_PORT", "5432"),
			User:           getEnvWithDefault("TENANT_DB_USER", "postgres"),
			Password:       getEnvWithDefault("TENANT_DB_PASSWORD", ""),
			SSLMode:        getEnvWithDefault("TENANT_DB_SSLMODE", "disable"),
			AdminDatabase:  getEnvWithDefault("TENANT_DB_ADMIN_NAME", "postgres"),
			NamePrefix:     getEnvWithDefault("TENANT_DB_PREFIX", "tenant_"),
			PoolNamePrefix: getEnvWithDefault("TENANT_DB_POOL_PREFIX", "pool_"),
		},
		Redis: RedisConfig{
			Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
			Port:     getEnvWithDefault("REDIS_PORT", "6379"),
			Password: getEnvWithDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntWithDefault("REDIS_DB", 0),
		},
		App: AppConfig{
			Environment:     getEnvWithDefault("APP_ENV", "development"),
			LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
			JWTSecret:       getEnvWithDefault("JWT_SECRET", "dev-only-secret"),
			FingerprintSalt: getEnvWithDefault("LOGIN_FINGERPRINT_SALT", "tenancy-login-v1"),
		},
		Pool: PoolConfig{
			Floor:             getEnvAsIntWithDefault("POOL_FLOOR", 5),
			ReplenishInterval: getEnvAsIntWithDefault("POOL_REPLENISH_INTERVAL_MINS", 15),
			ClaimRetries:      getEnvAsIntWithDefault("POOL_CLAIM_RETRIES", 3),
		},
		Migrations: MigrationsConfig{
			Root: getEnvWithDefault("MIGRATIONS_ROOT", "./migrations"),
		},
		Lookup: LookupConfig{
			EmailIndexTTLMinutes:   getEnvAsIntWithDefault("EMAIL_INDEX_TTL_MINS", 1440),
			SuccessCacheTTLMinutes: getEnvAsIntWithDefault("LOGIN_CACHE_TTL_MINS", 10),
			RepopulateInterval:     getEnvAsIntWithDefault("LOOKUP_REPOPULATE_INTERVAL_HOURS", 24),
		},
	}
}

// getEnvWithDefault gets environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntWithDefault gets environment variable as integer with default fallback
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
