package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"with custom timeout", 10 * time.Second, 10 * time.Second},
		{"with zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(InfoLevel, &bytes.Buffer{})
			server := &http.Server{}

			sm := NewShutdownManager(logger, server, tt.timeout)

			if sm.logger != logger {
				t.Error("Logger not set correctly")
			}
			if sm.server != server {
				t.Error("Server not set correctly")
			}
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
		})
	}
}

func TestRegisterShutdownFunc(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	if len(sm.shutdownFuncs) != 2 {
		t.Errorf("Expected 2 shutdown functions, got %d", len(sm.shutdownFuncs))
	}
}

func TestRegisterShutdownFunc_Concurrent(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if len(sm.shutdownFuncs) != 50 {
		t.Errorf("Expected 50 shutdown functions, got %d", len(sm.shutdownFuncs))
	}
}

// waitAndSignal starts WaitForShutdown in a goroutine, delivers SIGTERM to
// the test process once the handler is installed, and returns the result.
func waitAndSignal(t *testing.T, sm *ShutdownManager) error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	// Give WaitForShutdown time to install its signal handler.
	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to deliver SIGTERM: %v", err)
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("WaitForShutdown did not return")
		return nil
	}
}

func TestWaitForShutdown_RunsRegisteredFuncs(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}

	if err := waitAndSignal(t, sm); err != nil {
		t.Errorf("WaitForShutdown returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ran != 3 {
		t.Errorf("Expected 3 shutdown functions to run, got %d", ran)
	}
}

func TestWaitForShutdown_ReportsFuncErrors(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return errors.New("redis close failed")
	})

	if err := waitAndSignal(t, sm); err == nil {
		t.Error("Expected error when a shutdown function fails")
	}
}

func TestWaitForShutdown_Timeout(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})
	sm := NewShutdownManager(logger, nil, 200*time.Millisecond)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		// Ignores the context deadline on purpose.
		time.Sleep(2 * time.Second)
		return nil
	})

	err := waitAndSignal(t, sm)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
}
