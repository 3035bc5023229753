package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tenancy-service/internal/middleware"
	"tenancy-service/internal/services"
)

// TenantHandler handles tenant and company management endpoints
type TenantHandler struct {
	tenants *services.TenantService
	lookup  *services.LookupService
	pool    *services.PoolService
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(tenants *services.TenantService, lookup *services.LookupService, pool *services.PoolService) *TenantHandler {
	return &TenantHandler{
		tenants: tenants,
		lookup:  lookup,
		pool:    pool,
	}
}

// CreateTenant handles POST /api/v1/tenants
func (h *TenantHandler) CreateTenant(c *gin.Context) {
	var input services.CreateTenantInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tenant, err := h.tenants.CreateTenant(c.Request.Context(), &input)
	if err != nil {
		if vErr, ok := services.IsValidationError(err); ok {
			ErrorResponse(c, http.StatusBadRequest, vErr.Message, nil)
			return
		}
		if cErr, ok := services.IsConflictError(err); ok {
			ErrorResponse(c, http.StatusConflict, cErr.Message, nil)
			return
		}
		if _, ok := services.IsProvisioningError(err); ok {
			ErrorResponse(c, http.StatusInternalServerError, "Tenant provisioning failed", err)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create tenant", err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "Tenant created", tenant)
}

// GetTenant handles GET /api/v1/tenants/:slug
func (h *TenantHandler) GetTenant(c *gin.Context) {
	tenant, err := h.tenants.GetTenant(c.Request.Context(), c.Param("slug"))
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get tenant", err)
		return
	}
	if tenant == nil {
		ErrorResponse(c, http.StatusNotFound, "Tenant not found", nil)
		return
	}

	SuccessResponse(c, http.StatusOK, "Tenant retrieved", tenant)
}

// ListTenants handles GET /api/v1/tenants
func (h *TenantHandler) ListTenants(c *gin.Context) {
	tenants, err := h.tenants.ListTenants(c.Request.Context())
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list tenants", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Tenants retrieved", tenants)
}

// DeactivateTenant handles DELETE /api/v1/tenants/:slug
func (h *TenantHandler) DeactivateTenant(c *gin.Context) {
	err := h.tenants.DeactivateTenant(c.Request.Context(), c.Param("slug"))
	if err != nil {
		var vErr *services.ValidationError
		if errors.As(err, &vErr) {
			ErrorResponse(c, http.StatusNotFound, vErr.Message, nil)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to deactivate tenant", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Tenant deactivated", nil)
}

// CreateCompany handles POST /api/v1/tenants/:slug/companies
func (h *TenantHandler) CreateCompany(c *gin.Context) {
	var input services.CreateCompanyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	company, err := h.tenants.CreateCompany(c.Request.Context(), c.Param("slug"), &input)
	if err != nil {
		if errors.Is(err, services.ErrTenantUnavailable) {
			ErrorResponse(c, http.StatusNotFound, "Tenant not found or inactive", nil)
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create company", err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "Company created", company)
}

// SwitchCompanyRequest selects the user's working company
type SwitchCompanyRequest struct {
	CompanyID string `json:"company_id" binding:"required,uuid"`
}

// SwitchCompany handles POST /api/v1/tenants/:slug/switch-company
func (h *TenantHandler) SwitchCompany(c *gin.Context) {
	var req SwitchCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid company_id format", err)
		return
	}

	userID, err := uuid.Parse(middleware.GetUserID(c))
	if err != nil {
		ErrorResponse(c, http.StatusUnauthorized, "Missing user identity", err)
		return
	}

	err = h.tenants.SwitchCompany(c.Request.Context(), c.Param("slug"), userID, companyID)
	if err != nil {
		var vErr *services.ValidationError
		switch {
		case errors.Is(err, services.ErrTenantUnavailable):
			ErrorResponse(c, http.StatusNotFound, "Tenant not found or inactive", nil)
		case errors.As(err, &vErr):
			ErrorResponse(c, http.StatusNotFound, vErr.Message, nil)
		default:
			ErrorResponse(c, http.StatusInternalServerError, "Failed to switch company", err)
		}
		return
	}

	SuccessResponse(c, http.StatusOK, "Company switched", gin.H{"company_id": companyID})
}

// ResolveCompany handles GET /api/v1/lookup/companies/:companyId
func (h *TenantHandler) ResolveCompany(c *gin.Context) {
	companyID, err := uuid.Parse(c.Param("companyId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid company id format", err)
		return
	}

	tenant, err := h.lookup.LookupTenantForCompany(c.Request.Context(), companyID)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to resolve company", err)
		return
	}
	if tenant == nil {
		ErrorResponse(c, http.StatusNotFound, "Company not found", nil)
		return
	}

	SuccessResponse(c, http.StatusOK, "Company resolved", gin.H{
		"company_id":  companyID,
		"tenant_id":   tenant.ID,
		"tenant_slug": tenant.Slug,
	})
}

// PoolStatus handles GET /api/v1/pool/status
func (h *TenantHandler) PoolStatus(c *gin.Context) {
	available, err := h.pool.CountAvailable(c.Request.Context())
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to read pool status", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Pool status", gin.H{"available": available})
}
