package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		if metrics == nil {
			t.Fatal("NewMetrics returned nil")
		}

		// Verify HTTP metrics are initialized
		if metrics.HTTPRequestsTotal == nil {
			t.Error("HTTPRequestsTotal is nil")
		}
		if metrics.HTTPRequestDuration == nil {
			t.Error("HTTPRequestDuration is nil")
		}
		if metrics.HTTPRequestSize == nil {
			t.Error("HTTPRequestSize is nil")
		}
		if metrics.HTTPResponseSize == nil {
			t.Error("HTTPResponseSize is nil")
		}

		// Verify Storage metrics are initialized
		if metrics.StorageOperationsTotal == nil {
			t.Error("StorageOperationsTotal is nil")
		}
		if metrics.StorageOperationDuration == nil {
			t.Error("StorageOperationDuration is nil")
		}
		if metrics.StorageErrorsTotal == nil {
			t.Error("StorageErrorsTotal is nil")
		}

		// Verify resolver metrics are initialized
		if metrics.RoleResolutionsTotal == nil {
			t.Error("RoleResolutionsTotal is nil")
		}
		if metrics.RoleMigrationsTotal == nil {
			t.Error("RoleMigrationsTotal is nil")
		}

		// Verify validation metrics are initialized
		if metrics.ValidationRunsTotal == nil {
			t.Error("ValidationRunsTotal is nil")
		}
		if metrics.ValidationDuration == nil {
			t.Error("ValidationDuration is nil")
		}
		if metrics.ValidationIssuesTotal == nil {
			t.Error("ValidationIssuesTotal is nil")
		}
		if metrics.SystemHealthScore == nil {
			t.Error("SystemHealthScore is nil")
		}

		// Verify rollback metrics are initialized
		if metrics.RollbackOperationsTotal == nil {
			t.Error("RollbackOperationsTotal is nil")
		}
		if metrics.SnapshotsCreatedTotal == nil {
			t.Error("SnapshotsCreatedTotal is nil")
		}

		// Verify cache metrics are initialized
		if metrics.CacheHitsTotal == nil {
			t.Error("CacheHitsTotal is nil")
		}
		if metrics.CacheMissesTotal == nil {
			t.Error("CacheMissesTotal is nil")
		}

		// Verify connection metrics are initialized
		if metrics.DBConnectionsActive == nil {
			t.Error("DBConnectionsActive is nil")
		}
		if metrics.RedisConnectionsActive == nil {
			t.Error("RedisConnectionsActive is nil")
		}
		if metrics.RedisCommandsTotal == nil {
			t.Error("RedisCommandsTotal is nil")
		}

		// Verify population metrics are initialized
		if metrics.ActiveAssignmentsTotal == nil {
			t.Error("ActiveAssignmentsTotal is nil")
		}
		if metrics.UsersPendingMigration == nil {
			t.Error("UsersPendingMigration is nil")
		}
	})

	t.Run("metrics are usable after registration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/roles/users/u1/role", "200").Inc()
		metrics.RoleResolutionsTotal.WithLabelValues("role_assignments", "success").Inc()
		metrics.ValidationIssuesTotal.WithLabelValues("critical", "MISSING_ROLE").Inc()
		metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
		metrics.DBConnectionsActive.Set(11)
		metrics.SystemHealthScore.Set(97.5)

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Failed to gather metrics: %v", err)
		}
		if len(families) == 0 {
			t.Error("Expected gathered metric families")
		}
	})
}

func TestRoleResolutionMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RoleResolutionsTotal.WithLabelValues("role_assignments", "success").Inc()
	metrics.RoleResolutionsTotal.WithLabelValues("users_table_role", "success").Inc()
	metrics.RoleResolutionsTotal.WithLabelValues("default", "fallback").Inc()

	expected := `
# HELP rolecore_role_resolutions_total Total number of role resolutions by source and outcome
# TYPE rolecore_role_resolutions_total counter
rolecore_role_resolutions_total{outcome="success",source="role_assignments"} 1
rolecore_role_resolutions_total{outcome="success",source="users_table_role"} 1
rolecore_role_resolutions_total{outcome="fallback",source="default"} 1
`
	if err := testutil.CollectAndCompare(metrics.RoleResolutionsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected counter values: %v", err)
	}
}

func TestValidationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.ValidationRunsTotal.WithLabelValues("system", "success").Inc()
	metrics.ValidationIssuesTotal.WithLabelValues("critical", "ORPHANED_ASSIGNMENT").Add(3)
	metrics.SystemHealthScore.Set(88)

	expected := `
# HELP rolecore_validation_issues_total Total number of validation issues found
# TYPE rolecore_validation_issues_total counter
rolecore_validation_issues_total{code="ORPHANED_ASSIGNMENT",severity="critical"} 3
`
	if err := testutil.CollectAndCompare(metrics.ValidationIssuesTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected counter values: %v", err)
	}

	if got := testutil.ToFloat64(metrics.SystemHealthScore); got != 88 {
		t.Errorf("SystemHealthScore = %f, want 88", got)
	}
}

func TestRollbackMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RollbackOperationsTotal.WithLabelValues("role_assignment", "success").Inc()
	metrics.RollbackOperationsTotal.WithLabelValues("system_recovery", "failure").Inc()
	metrics.SnapshotsCreatedTotal.Inc()
	metrics.SnapshotsCreatedTotal.Inc()

	expected := `
# HELP rolecore_rollback_operations_total Total number of rollback operations
# TYPE rolecore_rollback_operations_total counter
rolecore_rollback_operations_total{status="success",type="role_assignment"} 1
rolecore_rollback_operations_total{status="failure",type="system_recovery"} 1
`
	if err := testutil.CollectAndCompare(metrics.RollbackOperationsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected counter values: %v", err)
	}

	if got := testutil.ToFloat64(metrics.SnapshotsCreatedTotal); got != 2 {
		t.Errorf("SnapshotsCreatedTotal = %f, want 2", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
	metrics.CacheMissesTotal.WithLabelValues("redis").Inc()

	expected := `
# HELP rolecore_cache_hits_total Total number of cache hits
# TYPE rolecore_cache_hits_total counter
rolecore_cache_hits_total{cache_type="memory"} 1
`
	if err := testutil.CollectAndCompare(metrics.CacheHitsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected counter values: %v", err)
	}
}

func TestPopulationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.ActiveAssignmentsTotal.WithLabelValues("student").Set(1500)
	metrics.ActiveAssignmentsTotal.WithLabelValues("teacher").Set(120)
	metrics.UsersPendingMigration.Set(42)

	expected := `
# HELP rolecore_active_assignments_total Current number of active role assignments by role
# TYPE rolecore_active_assignments_total gauge
rolecore_active_assignments_total{role="student"} 1500
rolecore_active_assignments_total{role="teacher"} 120
`
	if err := testutil.CollectAndCompare(metrics.ActiveAssignmentsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected gauge values: %v", err)
	}

	if got := testutil.ToFloat64(metrics.UsersPendingMigration); got != 42 {
		t.Errorf("UsersPendingMigration = %f, want 42", got)
	}
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		rw.WriteHeader(http.StatusNotFound)

		if rw.statusCode != http.StatusNotFound {
			t.Errorf("Expected status code %d, got %d", http.StatusNotFound, rw.statusCode)
		}
	})

	t.Run("captures bytes written", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		rw.Write([]byte("Hello, "))
		rw.Write([]byte("World!"))

		expected := len("Hello, ") + len("World!")
		if rw.bytesWritten != expected {
			t.Errorf("Expected %d bytes written, got %d", expected, rw.bytesWritten)
		}
	})

	t.Run("defaults to 200 status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		// Write without calling WriteHeader
		rw.Write([]byte("test"))

		if rw.statusCode != http.StatusOK {
			t.Errorf("Expected default status code %d, got %d", http.StatusOK, rw.statusCode)
		}
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("records HTTP metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		middleware := HTTPMetricsMiddleware(metrics)
		wrappedHandler := middleware(handler)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rec, req)

		// Verify counter was incremented
		expected := `
# HELP rolecore_http_requests_total Total number of HTTP requests
# TYPE rolecore_http_requests_total counter
rolecore_http_requests_total{method="GET",path="/test",status="200"} 1
`
		if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected counter value: %v", err)
		}

		// Verify duration was recorded
		count := testutil.CollectAndCount(metrics.HTTPRequestDuration)
		if count != 1 {
			t.Errorf("Expected 1 duration metric, got %d", count)
		}

		// Verify response size was recorded
		count = testutil.CollectAndCount(metrics.HTTPResponseSize)
		if count != 1 {
			t.Errorf("Expected 1 response size metric, got %d", count)
		}
	})

	t.Run("records different status codes", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		testCases := []struct {
			statusCode int
			path       string
		}{
			{http.StatusOK, "/ok"},
			{http.StatusNotFound, "/notfound"},
			{http.StatusInternalServerError, "/error"},
		}

		middleware := HTTPMetricsMiddleware(metrics)

		for _, tc := range testCases {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			})

			wrappedHandler := middleware(handler)
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(rec, req)
		}

		// Verify all status codes were recorded
		count := testutil.CollectAndCount(metrics.HTTPRequestsTotal)
		if count != 3 {
			t.Errorf("Expected 3 metrics, got %d", count)
		}
	})

	t.Run("records request size with content length", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		})

		middleware := HTTPMetricsMiddleware(metrics)
		wrappedHandler := middleware(handler)

		body := strings.NewReader(`{"reason":"bulk grant mistake"}`)
		req := httptest.NewRequest("POST", "/roles/rollback/bulk", body)
		rec := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rec, req)

		count := testutil.CollectAndCount(metrics.HTTPRequestSize)
		if count != 1 {
			t.Errorf("Expected 1 request size metric, got %d", count)
		}
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.UsersPendingMigration.Set(42)
	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "rolecore_users_pending_migration 42") {
		t.Error("Expected rolecore_users_pending_migration value in metrics output")
	}
	if !strings.Contains(body, "rolecore_http_requests_total") {
		t.Error("Expected rolecore_http_requests_total in metrics output")
	}
}
