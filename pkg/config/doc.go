// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	ROLECORE_HOST="0.0.0.0"
//	ROLECORE_PORT="8080"
//	ROLECORE_HEALTH_PORT="9090"
//	ROLECORE_READ_TIMEOUT="15s"
//	ROLECORE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	ROLECORE_POSTGRES_URL="postgres://localhost/roles"
//	ROLECORE_POSTGRES_REPLICA_URLS="postgres://replica1,postgres://replica2"
//	ROLECORE_POSTGRES_MAX_CONNS="25"
//
// Role resolution settings:
//
//	ROLECORE_MIGRATION_MODE="hybrid"  # strict, hybrid, permissive
//	ROLECORE_LEGACY_SUPPORT_ENABLED="true"
//	ROLECORE_FALLBACK_TO_LEGACY="true"
//
// Cache settings:
//
//	ROLECORE_CACHE_ENABLED="true"
//	ROLECORE_L1_CACHE_SIZE="10000"
//	ROLECORE_REDIS_URL="redis://localhost:6379"
//
// Observability settings:
//
//	ROLECORE_LOG_LEVEL="info"  # debug, info, warn, error
//	ROLECORE_METRICS_ENABLED="true"
//	ROLECORE_OTEL_ENABLED="true"
//	ROLECORE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Migration mode: %s\n", cfg.Resolver.MigrationMode)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/database: Uses database configuration
//   - pkg/compat: Uses role resolution configuration
//   - pkg/observability: Uses observability configuration
package config
