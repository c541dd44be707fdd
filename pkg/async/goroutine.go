package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
)

var (
	loggerMu sync.RWMutex
	logger   = observability.NewLogger(observability.WarnLevel, nil)
)

// SetLogger replaces the package logger. Call once during startup, before
// spawning tasks.
func SetLogger(l *observability.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l != nil {
		logger = l
	}
}

func taskLogger(taskName string) *observability.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger.WithField("task", taskName)
}

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, time.Minute, "report archive", func(ctx context.Context) error {
//	    return archiver.ArchiveValidationReport(ctx, report)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				taskLogger(taskName).
					WithField("panic", r).
					WithField("stack", string(debug.Stack())).
					Error("Background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			// Log and continue; the task owner decides whether a
			// failed background task is fatal.
			taskLogger(taskName).WithError(err).Error("Background task failed")
		}
	}()
}
