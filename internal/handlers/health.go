package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	natsClient "tenancy-service/internal/nats"
	redisClient "tenancy-service/internal/redis"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints
type HealthHandler struct {
	registryDB *gorm.DB
	redis      *redisClient.Client
	nats       *natsClient.Client
}

// NewHealthHandler creates a new health handler. redis and nats may be
// nil; their checks then report degraded instead of failing.
func NewHealthHandler(registryDB *gorm.DB, redis *redisClient.Client, nats *natsClient.Client) *HealthHandler {
	return &HealthHandler{
		registryDB: registryDB,
		redis:      redis,
		nats:       nats,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single dependency check result
type Check struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemInfo represents system runtime information
type SystemInfo struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_mb"`
	MemorySys   uint64 `json:"memory_sys_mb"`
	NumCPU      int    `json:"num_cpu"`
	GoVersion   string `json:"go_version"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Service:   "tenancy-service",
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if c.Query("detailed") == "true" {
		response.Checks = h.performChecks(c)
		response.System = getSystemInfo()
	}

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready. The registry database is the only hard
// dependency; Redis and NATS degrade features without blocking readiness.
func (h *HealthHandler) Ready(c *gin.Context) {
	response := HealthResponse{
		Service:   "tenancy-service",
		Version:   "1.0.0",
		Uptime:    time.Since(startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    h.performChecks(c),
	}

	if response.Checks["registry"].Status == "healthy" {
		response.Status = "ready"
		c.JSON(http.StatusOK, response)
		return
	}

	response.Status = "not ready"
	c.JSON(http.StatusServiceUnavailable, response)
}

func (h *HealthHandler) performChecks(c *gin.Context) map[string]Check {
	return map[string]Check{
		"registry": h.checkRegistry(),
		"redis":    h.checkRedis(c),
		"nats":     h.checkNATS(),
	}
}

func (h *HealthHandler) checkRegistry() Check {
	sqlDB, err := h.registryDB.DB()
	if err != nil {
		return Check{Status: "unhealthy", Message: "Failed to get database instance"}
	}
	if err := sqlDB.Ping(); err != nil {
		return Check{Status: "unhealthy", Message: "Registry database ping failed"}
	}

	stats := sqlDB.Stats()
	return Check{
		Status:  "healthy",
		Message: "Registry database connected",
		Details: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

func (h *HealthHandler) checkRedis(c *gin.Context) Check {
	if h.redis == nil {
		return Check{Status: "degraded", Message: "Redis not configured; lookup caching disabled"}
	}
	if err := h.redis.Ping(c.Request.Context()); err != nil {
		return Check{Status: "degraded", Message: "Redis unreachable; lookup caching disabled"}
	}
	return Check{Status: "healthy", Message: "Redis connected"}
}

func (h *HealthHandler) checkNATS() Check {
	if h.nats == nil {
		return Check{Status: "degraded", Message: "NATS not configured; event publishing disabled"}
	}
	if !h.nats.IsConnected() {
		return Check{Status: "degraded", Message: "NATS disconnected"}
	}
	return Check{Status: "healthy", Message: "NATS connected"}
}

func getSystemInfo() *SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &SystemInfo{
		Goroutines:  runtime.NumGoroutine(),
		MemoryAlloc: mem.Alloc / 1024 / 1024,
		MemorySys:   mem.Sys / 1024 / 1024,
		NumCPU:      runtime.NumCPU(),
		GoVersion:   runtime.Version(),
	}
}
