package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant statuses
const (
	TenantStatusActive   = "active"
	TenantStatusInactive = "inactive"
)

// Tenant is one row per legal entity in the central registry. Each tenant
// owns exactly one physical database; Slug is immutable once that database
// exists because it is baked into the database name.
type Tenant struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Name         string    `json:"name" gorm:"not null" validate:"required,min=2,max=255"`
	Slug         string    `json:"slug" gorm:"uniqueIndex;not null" validate:"required,min=2,max=63"`
	TaxID        string    `json:"tax_id" gorm:"index"`
	Status       string    `json:"status" gorm:"default:'active';index" validate:"oneof=active inactive"`
	ContactName  string    `json:"contact_name"`
	ContactEmail string    `json:"contact_email"`
	ContactPhone string    `json:"contact_phone"`
	// DatabaseName is the physical database bound to this tenant. Either
	// derived from the slug at creation time or inherited from a claimed
	// pool entry.
	DatabaseName string    `json:"database_name" gorm:"uniqueIndex;not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsActive reports whether the tenant accepts logins and batch work.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// PooledDatabase is a pre-provisioned, fully migrated, empty database
// awaiting assignment to a new tenant. An entry is free or assigned
// exactly once; claiming flips Assigned under a conditional update so two
// signups can never win the same entry.
type PooledDatabase struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Name             string     `json:"name" gorm:"uniqueIndex;not null"`
	Assigned         bool       `json:"assigned" gorm:"default:false;index"`
	AssignedTenantID *uuid.UUID `json:"assigned_tenant_id" gorm:"type:uuid"`
	AssignedAt       *time.Time `json:"assigned_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CompanyTenantMapping is the authoritative, durable mapping from a company
// identifier to the tenant whose database holds it. Unlike the email index
// this is persisted: company identifiers are stable business keys.
type CompanyTenantMapping struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	CompanyID uuid.UUID `json:"company_id" gorm:"type:uuid;uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
