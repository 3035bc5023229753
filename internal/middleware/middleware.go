package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context keys set by the middleware chain
const (
	RequestIDKey  = "request_id"
	TenantSlugKey = "tenant_slug"
	UserIDKey     = "user_id"
	CompanyIDKey  = "company_id"
)

// RequestID generates or extracts correlation IDs for request tracing
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// StructuredLogger logs each request with structured fields
func StructuredLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID, _ := c.Get(RequestIDKey)
		entry := logrus.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"ip":         c.ClientIP(),
			"request_id": requestID,
		})

		if tenantSlug := GetTenantSlug(c); tenantSlug != "" {
			entry = entry.WithField("tenant", tenantSlug)
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request completed")
		} else {
			entry.Info("request completed")
		}
	}
}

// TenantExtraction pulls the tenant identity from the request so handlers
// and logging can use it. Sources, in order: X-Tenant-Slug header, JWT
// claims set by Auth, the :slug path parameter, the slug query parameter.
func TenantExtraction() gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.GetHeader("X-Tenant-Slug")

		if slug == "" {
			if claimSlug, exists := c.Get(TenantSlugKey); exists {
				slug = claimSlug.(string)
			}
		}
		if slug == "" {
			slug = c.Param("slug")
		}
		if slug == "" {
			slug = c.Query("slug")
		}

		if slug != "" {
			c.Set(TenantSlugKey, slug)
		}

		c.Next()
	}
}

// Claims are the JWT claims issued at login
type Claims struct {
	UserID     string `json:"user_id"`
	TenantSlug string `json:"tenant_slug"`
	CompanyID  string `json:"company_id"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and loads its claims into the request
// context. Requests without a valid token are rejected.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Missing bearer token",
			})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(TenantSlugKey, claims.TenantSlug)
		c.Set(CompanyIDKey, claims.CompanyID)

		c.Next()
	}
}

// GetTenantSlug extracts the tenant slug from gin context
func GetTenantSlug(c *gin.Context) string {
	if slug, exists := c.Get(TenantSlugKey); exists {
		return slug.(string)
	}
	return ""
}

// GetUserID extracts the user id from gin context
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		return id.(string)
	}
	return c.GetHeader("X-User-ID")
}

// GetCompanyID extracts the working company id from gin context
func GetCompanyID(c *gin.Context) string {
	if id, exists := c.Get(CompanyIDKey); exists {
		return id.(string)
	}
	return c.GetHeader("X-Company-ID")
}
