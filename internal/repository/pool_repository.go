package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tenancy-service/internal/models"
)

// PoolRepository handles the registry of pre-provisioned databases.
type PoolRepository struct {
	db *gorm.DB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *gorm.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// CountAvailable returns the number of free (unassigned) entries
func (r *PoolRepository) CountAvailable(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PooledDatabase{}).
		Where("assigned = ?", false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count available pool entries: %w", err)
	}
	return int(count), nil
}

// Insert records a newly provisioned, unassigned database
func (r *PoolRepository) Insert(ctx context.Context, entry *models.PooledDatabase) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert pool entry: %w", err)
	}
	return nil
}

// ClaimNext atomically assigns the oldest free entry to the tenant. The
// claim is a conditional update guarded on assigned = false: the first
// committer wins and a loser simply retries against the next free entry.
// Returns (nil, nil) when the pool is exhausted.
func (r *PoolRepository) ClaimNext(ctx context.Context, tenantID uuid.UUID, retries int) (*models.PooledDatabase, error) {
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		var entry models.PooledDatabase
		if err := r.db.WithContext(ctx).
			Where("assigned = ?", false).
			Order("created_at, id").
			First(&entry).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil // Pool empty
			}
			return nil, fmt.Errorf("failed to find free pool entry: %w", err)
		}

		now := time.Now()
		result := r.db.WithContext(ctx).
			Model(&models.PooledDatabase{}).
			Where("id = ? AND assigned = ?", entry.ID, false).
			Updates(map[string]interface{}{
				"assigned":           true,
				"assigned_tenant_id": tenantID,
				"assigned_at":        now,
				"updated_at":         now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("failed to claim pool entry: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Lost the race for this entry; try the next one
			continue
		}

		entry.Assigned = true
		entry.AssignedTenantID = &tenantID
		entry.AssignedAt = &now
		return &entry, nil
	}

	return nil, nil // Raced out on every attempt; treat as empty
}

// ListAssignedNames returns the database names already consumed from the
// pool, used by provisioning to avoid name collisions after restores.
func (r *PoolRepository) ListAssignedNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).
		Model(&models.PooledDatabase{}).
		Where("assigned = ?", true).
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list assigned pool names: %w", err)
	}
	return names, nil
}
