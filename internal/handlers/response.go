package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tenancy-service/internal/middleware"
)

// APIResponse is the envelope every endpoint replies with.
type APIResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	Data         interface{} `json:"data,omitempty"`
	ErrorDetails string      `json:"error_details,omitempty"`
	RequestID    string      `json:"request_id"`
	Timestamp    string      `json:"timestamp"`
}

// ErrorResponse replies with the error envelope. The underlying error is
// logged with the request context; clients only see the message, except
// in debug mode where the details are included.
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	resp := APIResponse{
		Message:   message,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err != nil {
		entry := logrus.WithError(err).WithField("request_id", resp.RequestID)
		if slug := middleware.GetTenantSlug(c); slug != "" {
			entry = entry.WithField("tenant", slug)
		}
		entry.Error(message)

		if gin.Mode() == gin.DebugMode {
			resp.ErrorDetails = err.Error()
		}
	}

	c.JSON(statusCode, resp)
}

// SuccessResponse replies with the success envelope.
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		RequestID: getRequestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(middleware.RequestIDKey); exists {
		return requestID.(string)
	}
	return c.GetHeader("X-Request-ID")
}
