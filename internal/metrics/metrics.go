package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenancy_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LoginResolutions counts credential resolutions by outcome path:
	// cache_hit, index_hit, scan_hit, failed
	LoginResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_login_resolutions_total",
			Help: "Credential resolutions by resolution path",
		},
		[]string{"path"},
	)

	// TenantScans counts full sequential tenant scans during resolution
	TenantScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenancy_login_tenant_scans_total",
			Help: "Full tenant scans performed while resolving credentials",
		},
	)

	// PoolAvailable tracks the number of unclaimed pre-provisioned databases
	PoolAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenancy_pool_available_databases",
			Help: "Unclaimed databases in the warm pool",
		},
	)

	// PoolClaims counts pool claim attempts by result: claimed, empty
	PoolClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_pool_claims_total",
			Help: "Warm pool claim attempts by result",
		},
		[]string{"result"},
	)

	// IsolationViolations counts detected cross-company row leaks
	IsolationViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_isolation_violations_total",
			Help: "Detected cross-company isolation violations",
		},
		[]string{"table"},
	)

	// TenantsProvisioned counts tenant provisioning operations by source:
	// pool, direct
	TenantsProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenancy_tenants_provisioned_total",
			Help: "Tenants provisioned by database source",
		},
		[]string{"source"},
	)
)

// Middleware records request counts and latency for each route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
