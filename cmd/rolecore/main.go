package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/compat"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/config"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/database"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/middleware"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/rollback"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/validation"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx := context.Background()

	// OpenTelemetry (no-op when disabled)
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	// Database: primary plus optional read replicas
	connMgr, err := database.NewConnectionManager(database.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaList(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer connMgr.Close()

	if err := roles.RunMigrations(ctx, connMgr.Primary()); err != nil {
		logger.WithError(err).Error("Failed to run database migrations")
		os.Exit(1)
	}

	// Redis is optional; the cache degrades to in-memory only without it.
	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			logger.WithError(err).Error("Invalid redis URL")
			os.Exit(1)
		}
		opts.DB = cfg.Cache.RedisDB
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable, continuing without distributed cache")
			redisClient = nil
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Background pool upkeep: drop dead replicas and feed the connection
	// gauges.
	connMgr.StartHealthCheckRoutine(ctx, 30*time.Second)
	connMgr.StartStatsRoutine(ctx, 15*time.Second, metrics)
	if redisClient != nil {
		startRedisStatsRoutine(ctx, redisClient, metrics, logger)
	}

	store := roles.NewStoreWithReplica(connMgr.Primary(), connMgr.Replica())
	store.SetMetrics(metrics)

	var roleCache *compat.RoleCache
	if cfg.Cache.Enabled {
		if redisClient != nil {
			roleCache = compat.NewRoleCacheWithRedis(cfg.Cache.L1Size, cfg.Cache.TTL, redisClient)
		} else {
			roleCache = compat.NewRoleCache(cfg.Cache.L1Size, cfg.Cache.TTL)
		}
		roleCache.SetMetrics(metrics)
	}

	resolverOpts := []compat.ResolverOption{compat.WithMetrics(metrics)}
	if roleCache != nil {
		resolverOpts = append(resolverOpts, compat.WithCache(roleCache))
	}
	resolver, err := compat.NewResolver(store, cfg.Resolver, logger, resolverOpts...)
	if err != nil {
		logger.WithError(err).Error("Failed to create role resolver")
		os.Exit(1)
	}

	validator := validation.NewValidator(store, &validation.ValidationConfig{
		SystemConcurrency: cfg.Validation.SystemConcurrency,
		MaxSystemAdmins:   cfg.Validation.MaxSystemAdmins,
	}, logger, validation.WithMetrics(metrics))

	var locker rollback.Locker
	if cfg.Rollback.UseAdvisoryLock {
		locker = rollback.NewAdvisoryLocker(connMgr.Primary())
	} else {
		locker = rollback.NewMutexLocker()
	}
	engineOpts := []rollback.EngineOption{
		rollback.WithAuditWindow(cfg.Rollback.AuditWindow),
		rollback.WithMetrics(metrics),
	}
	if roleCache != nil {
		// Rollbacks rewrite role state under the resolver; stale cache
		// entries must not outlive the recovery.
		engineOpts = append(engineOpts, rollback.WithInvalidator(roleCache))
	}
	engine := rollback.NewEngine(store, rollback.NewStore(connMgr.Primary()), locker, logger, engineOpts...)

	router := mux.NewRouter()
	compat.NewHandlers(resolver).RegisterRoutes(router)
	validation.NewHandlers(validator).RegisterRoutes(router)
	rollback.NewHandlers(engine).RegisterRoutes(router)

	handler := buildHandler(ctx, router, cfg, logger, metrics, redisClient)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(connMgr.Primary(), redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server failed")
			os.Exit(1)
		}
	}()

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if redisClient != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}
	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// startRedisStatsRoutine feeds the redis connection gauge from the client's
// pool statistics until the context is cancelled.
func startRedisStatsRoutine(ctx context.Context, client *redis.Client, metrics *observability.Metrics, logger *observability.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(logger, "redis-pool-stats")

		for {
			select {
			case <-ticker.C:
				metrics.RedisConnectionsActive.Set(float64(client.PoolStats().TotalConns))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// buildHandler assembles the middleware chain around the API router. Reads
// and writes get separate rate limits; writes are always limited in-process,
// reads go through redis when it is available so limits hold across replicas.
func buildHandler(ctx context.Context, router http.Handler, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, redisClient *redis.Client) http.Handler {
	writeLimiter := middleware.NewRateLimitMiddleware(middleware.MutatingRateLimitConfig())

	var readLimit func(http.Handler) http.Handler
	if redisClient != nil {
		distributed := middleware.NewDistributedRateLimitMiddleware(redisClient, middleware.DefaultRateLimitConfig())
		readLimit = distributed.Handler
	} else {
		local := middleware.NewRateLimitMiddleware(middleware.DefaultRateLimitConfig())
		local.StartCleanup(ctx)
		readLimit = local.Handler
	}

	rateLimited := func(next http.Handler) http.Handler {
		readPath := readLimit(next)
		writePath := writeLimiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				readPath.ServeHTTP(w, r)
				return
			}
			writePath.ServeHTTP(w, r)
		})
	}

	handler := middleware.Chain(
		middleware.RecoveryMiddleware(logger),
		func(next http.Handler) http.Handler { return middleware.RequestIDMiddleware(next) },
		middleware.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		middleware.MaxBytesMiddleware(1<<20),
		rateLimited,
	)(router)

	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "rolecore")
	}
	return handler
}
