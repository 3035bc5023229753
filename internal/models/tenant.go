package models

import (
	"time"

	"github.com/google/uuid"
)

// Company statuses
const (
	CompanyStatusActive   = "active"
	CompanyStatusInactive = "inactive"
)

// User statuses
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// Company is a logical sub-tenant stored inside a tenant's physical
// database. Companies are soft-deactivated, never hard-deleted while
// referenced by business rows.
type Company struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	LegalName string    `json:"legal_name" gorm:"not null" validate:"required,min=2,max=255"`
	TaxID     string    `json:"tax_id" gorm:"index"`
	Status    string    `json:"status" gorm:"default:'active';index" validate:"oneof=active inactive"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a business user inside a tenant's database. Users belong to one
// company and authenticate with a bcrypt password hash.
type User struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	CompanyID    uuid.UUID `json:"company_id" gorm:"type:uuid;not null;index"`
	Name         string    `json:"name" gorm:"not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null" validate:"required,email"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Status       string    `json:"status" gorm:"default:'active';index" validate:"oneof=active inactive"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserLookup is a durable per-tenant index row keyed by email, recording
// which user and company inside this tenant own the address. Repopulation
// upserts on email and never duplicates.
type UserLookup struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null"`
	CompanyID uuid.UUID `json:"company_id" gorm:"type:uuid;not null"`
	Status    string    `json:"status" gorm:"default:'active';index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppliedMigration is the per-tenant ledger of schema script groups that
// have already run, so repeated batch invocations skip completed groups.
type AppliedMigration struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	GroupName string    `json:"group_name" gorm:"uniqueIndex;not null"`
	AppliedAt time.Time `json:"applied_at"`
}

// TableName keeps the ledger under the conventional name inside each
// tenant database.
func (AppliedMigration) TableName() string {
	return "schema_migrations"
}

// Supplier is a representative company-scoped business table. Every
// company-scoped table carries a non-null company_id and is only ever read
// through the scoped repository.
type Supplier struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	CompanyID uuid.UUID `json:"company_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"not null"`
	TaxID     string    `json:"tax_id" gorm:"index"`
	Status    string    `json:"status" gorm:"default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetCompanyID implements repository.CompanyScoped.
func (s *Supplier) GetCompanyID() uuid.UUID { return s.CompanyID }

// SetCompanyID implements repository.CompanyScoped.
func (s *Supplier) SetCompanyID(id uuid.UUID) { s.CompanyID = id }
