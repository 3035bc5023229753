package tenancy

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tenancy-service/internal/config"
)

// Connector hands out connection handles for named physical databases on
// the tenant database server.
type Connector interface {
	Get(ctx context.Context, database string) (*gorm.DB, error)
}

// AdminConnector additionally reaches the server's maintenance database
// and can drop cached handles after a database is dropped or renamed.
type AdminConnector interface {
	Connector
	Admin(ctx context.Context) (*gorm.DB, error)
	Evict(database string)
}

// ConnManager dials and caches one gorm handle per physical database. All
// tenant databases live on the same server; only the database name in the
// DSN changes.
type ConnManager struct {
	cfg config.TenantDBConfig

	mu    sync.Mutex
	conns map[string]*gorm.DB
}

// NewConnManager creates a connection manager for the tenant database server.
func NewConnManager(cfg config.TenantDBConfig) *ConnManager {
	return &ConnManager{
		cfg:   cfg,
		conns: make(map[string]*gorm.DB),
	}
}

// Admin returns a handle to the maintenance database used for
// CREATE DATABASE and catalog queries.
func (m *ConnManager) Admin(ctx context.Context) (*gorm.DB, error) {
	return m.Get(ctx, m.cfg.AdminDatabase)
}

// Get returns a cached or freshly dialed handle for the named database.
func (m *ConnManager) Get(ctx context.Context, database string) (*gorm.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.conns[database]; ok {
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(m.dsn(database)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", database, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle for %s: %w", database, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", database, err)
	}

	m.conns[database] = db
	return db, nil
}

// Evict drops the cached handle for a database, closing its connections.
// Used after a database is dropped or recreated.
func (m *ConnManager) Evict(database string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.conns[database]; ok {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(m.conns, database)
	}
}

// Close closes every cached connection.
func (m *ConnManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, db := range m.conns {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(m.conns, name)
	}
}

func (m *ConnManager) dsn(database string) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Password, database, m.cfg.SSLMode,
	)
}
