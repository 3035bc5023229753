package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tenancy-service/internal/config"
)

// Client wraps the Redis client with application-specific methods
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key prefixes
const (
	EmailIndexPrefix   = "lookup:email:"   // email -> tenant hint
	LoginSuccessPrefix = "login:success:"  // (email, fingerprint) -> resolution
	CompanyKeyPrefix   = "company:"        // company-tagged cache entries
	JobLockPrefix      = "lock:job:"       // scheduled-job mutual exclusion
)

// EmailIndexEntry maps a normalized email to the tenant believed to hold a
// user with that address. Advisory only: a hit is always re-verified
// against the tenant database before being trusted.
type EmailIndexEntry struct {
	Email      string    `json:"email"`
	TenantSlug string    `json:"tenant_slug"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SetEmailIndex records an email -> tenant hint with a TTL
func (c *Client) SetEmailIndex(ctx context.Context, email, tenantSlug string, ttl time.Duration) error {
	entry := &EmailIndexEntry{
		Email:      email,
		TenantSlug: tenantSlug,
		RecordedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal email index entry: %w", err)
	}
	return c.rdb.Set(ctx, EmailIndexPrefix+email, data, ttl).Err()
}

// GetEmailIndex retrieves the cached tenant hint for an email
func (c *Client) GetEmailIndex(ctx context.Context, email string) (*EmailIndexEntry, error) {
	data, err := c.rdb.Get(ctx, EmailIndexPrefix+email).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found or expired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email index entry: %w", err)
	}

	var entry EmailIndexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email index entry: %w", err)
	}
	return &entry, nil
}

// DeleteEmailIndex removes the hint for an email
func (c *Client) DeleteEmailIndex(ctx context.Context, email string) error {
	return c.rdb.Del(ctx, EmailIndexPrefix+email).Err()
}

// LoginSuccess is a cached successful credential resolution. The key is
// derived from the email and a salted password fingerprint; the raw
// password is never stored.
type LoginSuccess struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	TenantSlug string    `json:"tenant_slug"`
	UserID     uuid.UUID `json:"user_id"`
	CompanyID  uuid.UUID `json:"company_id"`
	Email      string    `json:"email"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func loginSuccessKey(email, fingerprint string) string {
	return LoginSuccessPrefix + email + ":" + fingerprint
}

// SetLoginSuccess caches a successful resolution under (email, fingerprint)
func (c *Client) SetLoginSuccess(ctx context.Context, email, fingerprint string, success *LoginSuccess, ttl time.Duration) error {
	success.ResolvedAt = time.Now()
	data, err := json.Marshal(success)
	if err != nil {
		return fmt.Errorf("failed to marshal login success: %w", err)
	}
	return c.rdb.Set(ctx, loginSuccessKey(email, fingerprint), data, ttl).Err()
}

// GetLoginSuccess retrieves a cached resolution for (email, fingerprint)
func (c *Client) GetLoginSuccess(ctx context.Context, email, fingerprint string) (*LoginSuccess, error) {
	data, err := c.rdb.Get(ctx, loginSuccessKey(email, fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get login success: %w", err)
	}

	var success LoginSuccess
	if err := json.Unmarshal(data, &success); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login success: %w", err)
	}
	return &success, nil
}

// InvalidateCompanyKeys deletes every cache entry tagged with the company,
// used on company-switch events so stale company-scoped reads cannot
// survive the switch.
func (c *Client) InvalidateCompanyKeys(ctx context.Context, companyID uuid.UUID) (int, error) {
	pattern := fmt.Sprintf("%s%s:*", CompanyKeyPrefix, companyID)
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan company keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete company keys: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// AcquireJobLock takes a distributed lock for a scheduled job. Returns
// false if another run currently holds it. The lock expires on its own so
// a crashed run cannot wedge the schedule.
func (c *Client) AcquireJobLock(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, JobLockPrefix+job, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire job lock %s: %w", job, err)
	}
	return ok, nil
}

// ReleaseJobLock releases a scheduled-job lock
func (c *Client) ReleaseJobLock(ctx context.Context, job string) error {
	return c.rdb.Del(ctx, JobLockPrefix+job).Err()
}
