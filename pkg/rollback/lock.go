package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// Locker serializes rollback operations so two restorations cannot
// interleave. Acquire does not queue: a held lock fails fast with
// roles.ErrLockBusy and the operator retries once the other rollback
// finishes.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// MutexLocker serializes rollbacks within one process.
type MutexLocker struct {
	mu sync.Mutex
}

// NewMutexLocker creates an in-process locker. Sufficient when a single
// instance performs rollbacks; deployments with several instances should use
// the advisory locker instead.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{}
}

// Acquire takes the lock or fails with roles.ErrLockBusy.
func (l *MutexLocker) Acquire(_ context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, fmt.Errorf("rollback in progress: %w", roles.ErrLockBusy)
	}
	return l.mu.Unlock, nil
}

// advisoryLockKey scopes the postgres advisory lock to role rollbacks.
const advisoryLockKey = 0x726f6c65 // "role"

// AdvisoryLocker serializes rollbacks across instances using a postgres
// advisory lock held on a dedicated connection.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates a locker backed by the given postgres pool.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// Acquire takes the advisory lock or fails with roles.ErrLockBusy. The
// returned release closes the connection holding the lock.
func (l *AdvisoryLocker) Acquire(ctx context.Context) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, fmt.Errorf("rollback in progress: %w", roles.ErrLockBusy)
	}

	release := func() {
		// Unlock explicitly; closing the connection would also drop the
		// lock but may return the session to the pool still holding it
		// if close fails.
		conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
		conn.Close()
	}
	return release, nil
}
