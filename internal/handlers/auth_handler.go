package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"tenancy-service/internal/middleware"
	"tenancy-service/internal/services"
)

// AuthHandler handles credential resolution and token issuance. Callers
// never name a tenant: the resolver locates the one holding the
// credentials.
type AuthHandler struct {
	resolver  *services.ResolverService
	jwtSecret string
	tokenTTL  time.Duration
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(resolver *services.ResolverService, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		resolver:  resolver,
		jwtSecret: jwtSecret,
		tokenTTL:  12 * time.Hour,
	}
}

// LoginRequest is a tenant-less credential submission
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resolution, err := h.resolver.Resolve(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrNotAuthenticated) {
			// Uniform response regardless of why authentication failed
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid credentials",
			})
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to resolve credentials", err)
		return
	}

	token, err := h.issueToken(resolution)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Authenticated", gin.H{
		"access_token": token,
		"tenant_slug":  resolution.TenantSlug,
		"tenant_id":    resolution.TenantID,
		"user_id":      resolution.UserID,
		"company_id":   resolution.CompanyID,
		"email":        resolution.Email,
	})
}

func (h *AuthHandler) issueToken(res *services.Resolution) (string, error) {
	now := time.Now()
	claims := &middleware.Claims{
		UserID:     res.UserID.String(),
		TenantSlug: res.TenantSlug,
		CompanyID:  res.CompanyID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   res.UserID.String(),
			Issuer:    "tenancy-service",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.jwtSecret))
}
