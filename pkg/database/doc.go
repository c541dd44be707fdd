// Package database manages PostgreSQL connections for the role subsystem.
//
// # Overview
//
// A ConnectionManager holds one primary connection pool for writes and an
// optional set of read replicas selected round-robin. Replicas that fail
// health checks are dropped automatically; reads fall back to the primary
// when no replica is available.
//
// WithRetry wraps read paths with bounded exponential backoff. Semantic
// errors (not found, conflicts, lock contention) and context cancellation
// pass through untouched so callers keep their error handling.
//
// # Usage Example
//
//	cm, err := database.NewConnectionManager(database.ConnectionConfig{
//		PrimaryURL:  cfg.Database.URL,
//		ReplicaURLs: cfg.Database.ReplicaList(),
//		MaxConns:    cfg.Database.MaxConns,
//		MinConns:    cfg.Database.MinConns,
//		Timeout:     cfg.Database.Timeout,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Close()
//
//	writeStore := roles.NewStore(cm.Primary())
//	readStore := roles.NewStore(cm.Replica())
//
// # Related Packages
//
//   - pkg/roles: Stores built on these connections
//   - pkg/config: Source of connection settings
package database
