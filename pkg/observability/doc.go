// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("Request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/roles/users/u1/role", "200").Inc()
//	metrics.RoleResolutionsTotal.WithLabelValues("role_assignments", "success").Inc()
//
// Business metrics:
//
//	metrics.SystemHealthScore.Set(report.Summary.HealthScore)
//	metrics.UsersPendingMigration.Set(float64(pending))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//	fmt.Printf("Healthy: %v\n", status.Healthy)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(&observability.OTelConfig{
//		ServiceName:    "rolecore",
//		ServiceVersion: "v1.0.0",
//		Endpoint:       "otel-collector:4317",
//	})
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
