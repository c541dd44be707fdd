package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec

	// Role resolution metrics
	RoleResolutionsTotal *prometheus.CounterVec
	RoleMigrationsTotal  *prometheus.CounterVec

	// Validation metrics
	ValidationRunsTotal   *prometheus.CounterVec
	ValidationDuration    *prometheus.HistogramVec
	ValidationIssuesTotal *prometheus.CounterVec
	SystemHealthScore     prometheus.Gauge

	// Rollback metrics
	RollbackOperationsTotal *prometheus.CounterVec
	SnapshotsCreatedTotal   prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
	RedisCommandsTotal     *prometheus.CounterVec

	// Population metrics
	ActiveAssignmentsTotal *prometheus.GaugeVec
	UsersPendingMigration  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolecore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolecore_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolecore_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Storage metrics
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolecore_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "error_type"},
		),

		// Role resolution metrics
		RoleResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_role_resolutions_total",
				Help: "Total number of role resolutions by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		RoleMigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_role_migrations_total",
				Help: "Total number of migration-on-read attempts",
			},
			[]string{"outcome"},
		),

		// Validation metrics
		ValidationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_validation_runs_total",
				Help: "Total number of validation runs",
			},
			[]string{"scope", "status"},
		),
		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolecore_validation_duration_seconds",
				Help:    "Validation run duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 120},
			},
			[]string{"scope"},
		),
		ValidationIssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_validation_issues_total",
				Help: "Total number of validation issues found",
			},
			[]string{"severity", "code"},
		),
		SystemHealthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_system_health_score",
				Help: "Most recent system validation health score (0-100)",
			},
		),

		// Rollback metrics
		RollbackOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_rollback_operations_total",
				Help: "Total number of rollback operations",
			},
			[]string{"type", "status"},
		),
		SnapshotsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rolecore_snapshots_created_total",
				Help: "Total number of rollback snapshots created",
			},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolecore_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),

		// Population metrics
		ActiveAssignmentsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rolecore_active_assignments_total",
				Help: "Current number of active role assignments by role",
			},
			[]string{"role"},
		),
		UsersPendingMigration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolecore_users_pending_migration",
				Help: "Users with legacy role data and no new-model role",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		m.RoleResolutionsTotal,
		m.RoleMigrationsTotal,
		m.ValidationRunsTotal,
		m.ValidationDuration,
		m.ValidationIssuesTotal,
		m.SystemHealthScore,
		m.RollbackOperationsTotal,
		m.SnapshotsCreatedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.RedisCommandsTotal,
		m.ActiveAssignmentsTotal,
		m.UsersPendingMigration,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
