package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it at Error level with the
// panic value and full stack trace.
//
// Call it in a defer statement:
//
//	func sweepExpiredAssignments() {
//	    defer observability.RecoverPanic(logger, "expire sweep")
//	    // ... code that might panic
//	}
//
// The panic is NOT re-raised, so the goroutine survives. That keeps one bad
// user record from taking down a scheduled job, but the caller must tolerate
// partial completion.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, then runs the
// callback. The callback fires only when a panic actually occurred, which
// makes it suitable for failure-path cleanup:
//
//	defer observability.RecoverPanicWithCallback(logger, r.Method+" "+r.URL.Path, func() {
//	    http.Error(w, "internal server error", http.StatusInternalServerError)
//	})
//
// Typical cleanup actions are writing an error response, closing a channel
// to unblock waiters, or releasing a lock held across the panicking section.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}
