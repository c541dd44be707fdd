// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, and context cancellation for fire-and-forget work like report
// archival.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, time.Minute, "report archive", func(ctx context.Context) error {
//		return archiver.ArchiveValidationReport(ctx, report)
//	})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Context Cancellation: Respects context cancellation
//
// # Related Packages
//
//   - pkg/observability: Structured logging for task failures
package async
