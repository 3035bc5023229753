package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tenancy-service/internal/models"
)

// CompanyRepository handles companies inside an activated tenant database.
type CompanyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a company repository bound to the active
// tenant's database handle.
func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// Create inserts a new company
func (r *CompanyRepository) Create(ctx context.Context, company *models.Company) error {
	if err := r.db.WithContext(ctx).Create(company).Error; err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

// GetByID retrieves a company by id
func (r *CompanyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&company).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}

// List returns every company in the tenant database
func (r *CompanyRepository) List(ctx context.Context) ([]models.Company, error) {
	var companies []models.Company
	if err := r.db.WithContext(ctx).Order("created_at, id").Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, nil
}

// Deactivate soft-deletes a company. Companies are never hard-deleted
// while business rows reference them.
func (r *CompanyRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Company{}).
		Where("id = ?", id).
		Update("status", models.CompanyStatusInactive)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate company: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("company %s not found", id)
	}
	return nil
}

// UserLookupRepository maintains the durable per-tenant email index rows.
type UserLookupRepository struct {
	db *gorm.DB
}

// NewUserLookupRepository creates a user-lookup repository bound to the
// active tenant's database handle.
func NewUserLookupRepository(db *gorm.DB) *UserLookupRepository {
	return &UserLookupRepository{db: db}
}

// FindActiveByEmail returns the lookup entry for an email, or nil when the
// tenant holds no active user with that address.
func (r *UserLookupRepository) FindActiveByEmail(ctx context.Context, email string) (*models.UserLookup, error) {
	var entry models.UserLookup
	if err := r.db.WithContext(ctx).
		Where("email = ? AND status = ?", email, models.UserStatusActive).
		First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to find user lookup entry: %w", err)
	}
	return &entry, nil
}

// Upsert writes a lookup entry keyed by email. Re-running the population
// job updates in place and never duplicates.
func (r *UserLookupRepository) Upsert(ctx context.Context, entry *models.UserLookup) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "company_id", "status", "updated_at",
		}),
	}).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to upsert user lookup entry: %w", err)
	}
	return nil
}

// RebuildFromUsers repopulates the lookup table from the authoritative
// users table. Safe to re-run at any time. Returns the number of entries
// written.
func (r *UserLookupRepository) RebuildFromUsers(ctx context.Context) (int, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Find(&users).Error; err != nil {
		return 0, fmt.Errorf("failed to load users for lookup rebuild: %w", err)
	}

	written := 0
	for i := range users {
		user := &users[i]
		entry := &models.UserLookup{
			Email:     user.Email,
			UserID:    user.ID,
			CompanyID: user.CompanyID,
			Status:    user.Status,
		}
		if err := r.Upsert(ctx, entry); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// UserRepository reads the authoritative user rows inside an activated
// tenant database.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository bound to the active tenant's
// database handle.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindActiveByEmail returns the active user with the email, or nil
func (r *UserRepository) FindActiveByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("email = ? AND status = ?", email, models.UserStatusActive).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by id, or nil
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}
