package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/compat"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis / role cache configuration
	Cache CacheConfig

	// Role resolution configuration
	Resolver compat.Config

	// Validation configuration
	Validation ValidationConfig

	// Rollback configuration
	Rollback RollbackConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection configuration. ReplicaURLs is a
// comma-separated list; reads are routed across replicas when present.
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
}

// CacheConfig holds the L1/L2 role cache configuration.
type CacheConfig struct {
	Enabled  bool
	L1Size   int
	TTL      time.Duration
	RedisURL string
	RedisDB  int
}

// ValidationConfig holds system validation settings.
type ValidationConfig struct {
	SystemConcurrency int
	MaxSystemAdmins   int
}

// RollbackConfig holds rollback engine settings.
type RollbackConfig struct {
	AuditWindow time.Duration
	// UseAdvisoryLock selects the postgres advisory lock over the
	// in-process mutex, for multi-replica deployments.
	UseAdvisoryLock bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Resolver:      loadResolverConfig(),
		Validation:    loadValidationConfig(),
		Rollback:      loadRollbackConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ROLECORE_HOST", "0.0.0.0"),
		Port:            getEnv("ROLECORE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ROLECORE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ROLECORE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ROLECORE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ROLECORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ROLECORE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("ROLECORE_POSTGRES_URL", ""),
		ReplicaURLs: getEnv("ROLECORE_POSTGRES_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("ROLECORE_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("ROLECORE_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("ROLECORE_POSTGRES_TIMEOUT", 30*time.Second),
	}
}

// loadCacheConfig loads role cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:  getEnvBool("ROLECORE_CACHE_ENABLED", true),
		L1Size:   getEnvInt("ROLECORE_L1_CACHE_SIZE", 10000),
		TTL:      getEnvDuration("ROLECORE_CACHE_TTL", 5*time.Minute),
		RedisURL: getEnv("ROLECORE_REDIS_URL", ""),
		RedisDB:  getEnvInt("ROLECORE_REDIS_DB", 0),
	}
}

// loadResolverConfig loads role resolution configuration from environment
func loadResolverConfig() compat.Config {
	return compat.Config{
		LegacySupportEnabled: getEnvBool("ROLECORE_LEGACY_SUPPORT_ENABLED", true),
		MigrationMode:        compat.MigrationMode(getEnv("ROLECORE_MIGRATION_MODE", string(compat.ModeHybrid))),
		FallbackToLegacy:     getEnvBool("ROLECORE_FALLBACK_TO_LEGACY", true),
		LogIssues:            getEnvBool("ROLECORE_LOG_COMPATIBILITY_ISSUES", true),
	}
}

// loadValidationConfig loads validation configuration from environment
func loadValidationConfig() ValidationConfig {
	return ValidationConfig{
		SystemConcurrency: getEnvInt("ROLECORE_VALIDATION_CONCURRENCY", 8),
		MaxSystemAdmins:   getEnvInt("ROLECORE_MAX_SYSTEM_ADMINS", 10),
	}
}

// loadRollbackConfig loads rollback configuration from environment
func loadRollbackConfig() RollbackConfig {
	return RollbackConfig{
		AuditWindow:     getEnvDuration("ROLECORE_ROLLBACK_AUDIT_WINDOW", time.Hour),
		UseAdvisoryLock: getEnvBool("ROLECORE_ROLLBACK_ADVISORY_LOCK", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("ROLECORE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ROLECORE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ROLECORE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ROLECORE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ROLECORE_OTEL_SERVICE_NAME", "rolecore"),
		OTelServiceVersion: getEnv("ROLECORE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ROLECORE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min connections (%d) exceeds max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if err := c.Resolver.Validate(); err != nil {
		return err
	}

	if c.Validation.SystemConcurrency <= 0 {
		return fmt.Errorf("validation concurrency must be positive")
	}
	if c.Validation.MaxSystemAdmins <= 0 {
		return fmt.Errorf("max system admins must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ReplicaList splits the comma-separated replica URL list, dropping empties.
func (c *DatabaseConfig) ReplicaList() []string {
	if c.ReplicaURLs == "" {
		return nil
	}
	var urls []string
	for _, u := range strings.Split(c.ReplicaURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
