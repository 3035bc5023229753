package services

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is the single failure returned when no tenant yields
// a credential match. Wrong password and unknown email are deliberately
// indistinguishable so the login boundary cannot be used to enumerate
// accounts.
var ErrNotAuthenticated = errors.New("invalid credentials")

// ErrPoolEmpty signals that no free pre-provisioned database is available.
// Callers degrade to synchronous on-demand creation rather than failing.
var ErrPoolEmpty = errors.New("database pool is empty")

// ErrTenantUnavailable signals that a tenant exists in the registry but its
// database could not be reached.
var ErrTenantUnavailable = errors.New("tenant database unavailable")

// ProvisioningError wraps a database creation or migration failure for one
// tenant. Retryable; batch commands record it and continue with sibling
// tenants.
type ProvisioningError struct {
	Tenant string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed for %s: %v", e.Tenant, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// NewProvisioningError creates a provisioning error for a tenant
func NewProvisioningError(tenant string, err error) *ProvisioningError {
	return &ProvisioningError{Tenant: tenant, Err: err}
}

// IsProvisioningError checks if an error is a ProvisioningError
func IsProvisioningError(err error) (*ProvisioningError, bool) {
	var provErr *ProvisioningError
	if errors.As(err, &provErr) {
		return provErr, true
	}
	return nil, false
}

// ConflictError represents a resource conflict (e.g. already exists)
type ConflictError struct {
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

// NewConflictError creates a new conflict error
func NewConflictError(resource, message string) *ConflictError {
	return &ConflictError{Resource: resource, Message: message}
}

// IsConflictError checks if an error is a ConflictError
func IsConflictError(err error) (*ConflictError, bool) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr, true
	}
	return nil, false
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}
