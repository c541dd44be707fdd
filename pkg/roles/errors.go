package roles

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a user, assignment, or audit entry does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert would create a second active
	// assignment for the same (user, role, institution, department) tuple.
	ErrConflict = errors.New("duplicate active assignment")

	// ErrLockBusy is returned when the rollback critical section could not
	// be acquired.
	ErrLockBusy = errors.New("rollback lock busy")
)

// IsUniqueViolation reports whether err is a uniqueness-constraint violation
// from the underlying store. Postgres reports SQLSTATE 23505; SQLite (used in
// tests) reports a constraint message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
