// Package middleware provides HTTP middleware for request tracing, logging,
// panic recovery, and rate limiting.
//
// # Overview
//
// This package implements the request processing chain shared by all HTTP
// endpoints: request ID propagation, structured access logging, panic
// recovery, request body size limits, and rate limiting (in-memory and
// Redis-backed for multi-instance deployments).
//
// # Middleware Components
//
// RequestIDMiddleware: Assigns or propagates a request ID
//
//	handler = middleware.RequestIDMiddleware(handler)
//	// Honors an incoming X-Request-ID header, otherwise generates a UUID,
//	// and stores it in the request context.
//
// LoggingMiddleware: Structured access logging
//
//	handler = middleware.LoggingMiddleware(logger)(handler)
//
// RecoveryMiddleware: Converts panics into 500 responses
//
//	handler = middleware.RecoveryMiddleware(logger)(handler)
//
// RateLimitMiddleware: In-memory token bucket rate limiting keyed by client IP
//
//	m := middleware.NewRateLimitMiddleware(middleware.DefaultRateLimitConfig())
//	handler = m.Handler(handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting
//
//	m := middleware.NewDistributedRateLimitMiddleware(redisClient, nil)
//	handler = m.Handler(handler)
//
// # Rate Limiting
//
// Default (read endpoints): 100 req/min, 10 burst
// Mutating (rollbacks, system validation): 20 req/min, 5 burst
//
// The Redis-backed limiter fails open by default when Redis is unreachable;
// call SetFallbackEnabled(false) to fail closed instead.
//
// # Related Packages
//
//   - pkg/contextkeys: Request ID and actor context propagation
//   - pkg/observability: Structured logging and panic recovery helpers
package middleware
