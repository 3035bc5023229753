package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tenancy-service/internal/models"
)

// MappingRepository handles the durable company -> tenant mapping in the
// central registry.
type MappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository creates a new mapping repository
func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// Upsert records that the company lives inside the tenant's database.
// Idempotent: a pre-existing mapping for the company is left untouched
// unless force is set, in which case the tenant side is refreshed (needed
// after restoring a backup into a different tenant). Returns whether a row
// was written.
func (r *MappingRepository) Upsert(ctx context.Context, tenantID, companyID uuid.UUID, force bool) (bool, error) {
	mapping := &models.CompanyTenantMapping{
		TenantID:  tenantID,
		CompanyID: companyID,
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}},
		DoNothing: true,
	}
	if force {
		onConflict = clause.OnConflict{
			Columns: []clause.Column{{Name: "company_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"tenant_id":  tenantID,
				"updated_at": time.Now(),
			}),
		}
	}

	result := r.db.WithContext(ctx).Clauses(onConflict).Create(mapping)
	if result.Error != nil {
		return false, fmt.Errorf("failed to upsert company mapping: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindTenantForCompany returns the mapping for a company, or nil when the
// company is unknown to the registry.
func (r *MappingRepository) FindTenantForCompany(ctx context.Context, companyID uuid.UUID) (*models.CompanyTenantMapping, error) {
	var mapping models.CompanyTenantMapping
	if err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		First(&mapping).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to find company mapping: %w", err)
	}
	return &mapping, nil
}

// CountForTenant returns how many companies are mapped to a tenant
func (r *MappingRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CompanyTenantMapping{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count company mappings: %w", err)
	}
	return int(count), nil
}
