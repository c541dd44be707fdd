package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
)

// Store handles persistence for users, role assignments, and the role audit
// log. Reads go to the read connection (a replica when configured), writes
// always go to the primary.
type Store struct {
	writes  *sql.DB
	reads   *sql.DB
	metrics *observability.Metrics
}

// NewStore creates a store backed by a single connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{writes: db, reads: db}
}

// NewStoreWithReplica creates a store that routes reads to a replica pool.
func NewStoreWithReplica(primary, replica *sql.DB) *Store {
	if replica == nil {
		replica = primary
	}
	return &Store{writes: primary, reads: replica}
}

// SetMetrics attaches storage operation metrics to the store.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// observe records one storage operation. Deferred with a pointer so the
// final error value is the one classified.
func (s *Store) observe(operation string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err := *errp; err != nil {
		status = "error"
		s.metrics.StorageErrorsTotal.WithLabelValues(operation, errorType(err)).Inc()
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "storage"
}

const userColumns = `id, email, legacy_role, primary_role, role_status, institution_id, department_id, created_at, updated_at`

// GetUser retrieves a user by id. Returns ErrNotFound when the row does not
// exist.
func (s *Store) GetUser(ctx context.Context, userID string) (user *User, err error) {
	defer s.observe("get_user", time.Now(), &err)
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err = scanUser(s.reads.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUserIDs returns every user id, ordered for stable iteration.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.reads.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUsersByIDs returns the user rows for the given ids. Missing ids are
// silently absent from the result. An empty id list returns all users.
func (s *Store) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := make([]interface{}, 0, len(userIDs))
	if len(userIDs) > 0 {
		query += ` WHERE id IN (` + placeholders(len(userIDs), 1) + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.reads.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetUserRole updates the new-model primary role and status on the user row.
// Either pointer may be nil to clear the corresponding column.
func (s *Store) SetUserRole(ctx context.Context, userID string, primaryRole *Role, status *RoleStatus) (err error) {
	defer s.observe("set_user_role", time.Now(), &err)
	query := `UPDATE users SET primary_role = $1, role_status = $2, updated_at = $3 WHERE id = $4`

	result, err := s.writes.ExecContext(ctx, query, roleValue(primaryRole), statusValue(status), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

const assignmentColumns = `id, user_id, role, status, assigned_by, assigned_at, expires_at, is_temporary, institution_id, department_id, bulk_operation_id, restored_by, created_at`

// CreateAssignment inserts a new role assignment. An id is generated when the
// caller leaves it empty. A second active assignment for the same
// (user, role, institution, department) tuple returns ErrConflict.
func (s *Store) CreateAssignment(ctx context.Context, a *RoleAssignment) (err error) {
	defer s.observe("create_assignment", time.Now(), &err)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	query := `
		INSERT INTO role_assignments (` + assignmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.writes.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		string(a.Role),
		string(a.Status),
		a.AssignedBy,
		a.AssignedAt,
		a.ExpiresAt,
		a.IsTemporary,
		a.InstitutionID,
		a.DepartmentID,
		a.Metadata.BulkOperationID,
		a.Metadata.RestoredBy,
		a.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("assignment for user %s role %s: %w", a.UserID, a.Role, ErrConflict)
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetAssignment retrieves an assignment by id. Returns ErrNotFound when the
// row does not exist.
func (s *Store) GetAssignment(ctx context.Context, assignmentID string) (*RoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE id = $1`

	a, err := scanAssignment(s.reads.QueryRowContext(ctx, query, assignmentID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListAssignmentsForUser returns every assignment for a user, newest first.
func (s *Store) ListAssignmentsForUser(ctx context.Context, userID string) ([]RoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE user_id = $1 ORDER BY assigned_at DESC, id`
	return s.queryAssignments(ctx, query, userID)
}

// ListActiveAssignmentsForUser returns the user's active assignments, newest
// first. Expiry is not evaluated here; expired-but-active rows are a
// validation concern.
func (s *Store) ListActiveAssignmentsForUser(ctx context.Context, userID string) (assignments []RoleAssignment, err error) {
	defer s.observe("list_active_assignments", time.Now(), &err)
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE user_id = $1 AND status = $2 ORDER BY assigned_at DESC, id`
	return s.queryAssignments(ctx, query, userID, string(AssignmentActive))
}

// FindActiveAssignment looks up the active assignment for an exact
// (user, role, institution, department) tuple. Returns ErrNotFound when no
// such assignment exists.
func (s *Store) FindActiveAssignment(ctx context.Context, userID string, role Role, institutionID string, departmentID *string) (found *RoleAssignment, err error) {
	defer s.observe("find_active_assignment", time.Now(), &err)
	query := `
		SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE user_id = $1 AND role = $2 AND institution_id = $3
		  AND COALESCE(department_id, '') = COALESCE($4, '')
		  AND status = $5
		LIMIT 1
	`

	a, err := scanAssignment(s.reads.QueryRowContext(ctx, query, userID, string(role), institutionID, departmentID, string(AssignmentActive)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active assignment for user %s role %s: %w", userID, role, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active assignment: %w", err)
	}
	return a, nil
}

// ListAssignmentsByBulkOperation returns every assignment tagged with the
// given bulk-operation id, oldest first so rollback replays in apply order.
func (s *Store) ListAssignmentsByBulkOperation(ctx context.Context, bulkOperationID string) ([]RoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments WHERE bulk_operation_id = $1 ORDER BY assigned_at ASC, id`
	return s.queryAssignments(ctx, query, bulkOperationID)
}

// ListAssignmentsForUsers returns all assignments for the given users. An
// empty list returns every assignment.
func (s *Store) ListAssignmentsForUsers(ctx context.Context, userIDs []string) ([]RoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM role_assignments`
	args := make([]interface{}, 0, len(userIDs))
	if len(userIDs) > 0 {
		query += ` WHERE user_id IN (` + placeholders(len(userIDs), 1) + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY user_id, assigned_at DESC, id`
	return s.queryAssignments(ctx, query, args...)
}

// UpdateAssignmentStatus transitions an assignment to the given status.
func (s *Store) UpdateAssignmentStatus(ctx context.Context, assignmentID string, status AssignmentStatus) (err error) {
	defer s.observe("update_assignment_status", time.Now(), &err)
	result, err := s.writes.ExecContext(ctx,
		`UPDATE role_assignments SET status = $1 WHERE id = $2`,
		string(status), assignmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update assignment status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
	}
	return nil
}

// DeleteAssignment removes an assignment row. Used only by the rollback
// engine; ordinary revocation is a status transition.
func (s *Store) DeleteAssignment(ctx context.Context, assignmentID string) error {
	_, err := s.writes.ExecContext(ctx, `DELETE FROM role_assignments WHERE id = $1`, assignmentID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}

// DeleteAssignmentsForUser removes every assignment for a user. Used only by
// snapshot restoration.
func (s *Store) DeleteAssignmentsForUser(ctx context.Context, userID string) (err error) {
	defer s.observe("delete_user_assignments", time.Now(), &err)
	_, err = s.writes.ExecContext(ctx, `DELETE FROM role_assignments WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete assignments for user: %w", err)
	}
	return nil
}

// ExpireOverdueAssignments transitions active assignments whose expiry has
// passed to expired. Returns the number of rows corrected.
func (s *Store) ExpireOverdueAssignments(ctx context.Context, now time.Time) (n int64, err error) {
	defer s.observe("expire_overdue_assignments", time.Now(), &err)
	result, err := s.writes.ExecContext(ctx,
		`UPDATE role_assignments SET status = $1 WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3`,
		string(AssignmentExpired), string(AssignmentActive), now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue assignments: %w", err)
	}
	return result.RowsAffected()
}

// ListOrphanedAssignments returns assignments whose user row no longer
// exists.
func (s *Store) ListOrphanedAssignments(ctx context.Context) ([]RoleAssignment, error) {
	query := `
		SELECT ` + prefixColumns("a", assignmentColumns) + `
		FROM role_assignments a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE u.id IS NULL
		ORDER BY a.user_id, a.id
	`
	return s.queryAssignments(ctx, query)
}

// ListDuplicateActiveGroups returns groups of active assignments that share
// the same (user, role, institution, department) tuple. Each group carries
// every duplicate id for remediation.
func (s *Store) ListDuplicateActiveGroups(ctx context.Context) ([]DuplicateGroup, error) {
	// Grouping includes department consistently; see DESIGN.md.
	query := `
		SELECT user_id, role, institution_id, COALESCE(department_id, ''), COUNT(*)
		FROM role_assignments
		WHERE status = $1
		GROUP BY user_id, role, institution_id, COALESCE(department_id, '')
		HAVING COUNT(*) > 1
		ORDER BY user_id, role
	`

	rows, err := s.reads.QueryContext(ctx, query, string(AssignmentActive))
	if err != nil {
		return nil, fmt.Errorf("failed to group duplicate assignments: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		var role, dept string
		var count int
		if err := rows.Scan(&g.UserID, &role, &g.InstitutionID, &dept, &count); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate group: %w", err)
		}
		g.Role = Role(role)
		if dept != "" {
			d := dept
			g.DepartmentID = &d
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Second pass collects the member ids per group.
	for i := range groups {
		members, err := s.queryAssignments(ctx, `
			SELECT `+assignmentColumns+`
			FROM role_assignments
			WHERE user_id = $1 AND role = $2 AND institution_id = $3
			  AND COALESCE(department_id, '') = $4 AND status = $5
			ORDER BY assigned_at ASC, id
		`, groups[i].UserID, string(groups[i].Role), groups[i].InstitutionID, deptKey(groups[i].DepartmentID), string(AssignmentActive))
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			groups[i].AssignmentIDs = append(groups[i].AssignmentIDs, m.ID)
		}
	}

	return groups, nil
}

// CountActiveAssignmentsByRole counts active assignments holding the given
// role across the population.
func (s *Store) CountActiveAssignmentsByRole(ctx context.Context, role Role) (int, error) {
	var count int
	err := s.reads.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_assignments WHERE role = $1 AND status = $2`,
		string(role), string(AssignmentActive),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments by role: %w", err)
	}
	return count, nil
}

// CountUsersPendingMigration counts users who still carry only legacy role
// data.
func (s *Store) CountUsersPendingMigration(ctx context.Context) (int, error) {
	var count int
	err := s.reads.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE legacy_role IS NOT NULL AND primary_role IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users pending migration: %w", err)
	}
	return count, nil
}

// AppendAuditEntry writes one role-change record to the append-only log.
func (s *Store) AppendAuditEntry(ctx context.Context, entry *AuditEntry) (err error) {
	defer s.observe("append_audit_entry", time.Now(), &err)
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO role_audit_log (user_id, old_role, new_role, changed_at, actor)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.writes.ExecContext(ctx, query,
		entry.UserID,
		roleValue(entry.OldRole),
		string(entry.NewRole),
		entry.ChangedAt,
		entry.Actor,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// LatestAuditBefore returns the most recent audit entry for a user strictly
// before the given instant. Returns ErrNotFound when the user has no history
// before that point.
func (s *Store) LatestAuditBefore(ctx context.Context, userID string, before time.Time) (*AuditEntry, error) {
	query := `
		SELECT id, user_id, old_role, new_role, changed_at, actor
		FROM role_audit_log
		WHERE user_id = $1 AND changed_at < $2
		ORDER BY changed_at DESC, id DESC
		LIMIT 1
	`

	entry, err := scanAuditEntry(s.reads.QueryRowContext(ctx, query, userID, before))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit history for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up audit history: %w", err)
	}
	return entry, nil
}

// ListAuditSince returns audit entries for the given users newer than the
// given instant, oldest first. An empty user list covers everyone.
func (s *Store) ListAuditSince(ctx context.Context, userIDs []string, since time.Time) ([]AuditEntry, error) {
	query := `
		SELECT id, user_id, old_role, new_role, changed_at, actor
		FROM role_audit_log
		WHERE changed_at >= $1
	`
	args := []interface{}{since}
	if len(userIDs) > 0 {
		query += ` AND user_id IN (` + placeholders(len(userIDs), 2) + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY changed_at ASC, id ASC`

	rows, err := s.reads.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// InstitutionExists reports whether an institution row exists.
func (s *Store) InstitutionExists(ctx context.Context, institutionID string) (bool, error) {
	return s.rowExists(ctx, `SELECT 1 FROM institutions WHERE id = $1`, institutionID)
}

// DepartmentExists reports whether a department row exists.
func (s *Store) DepartmentExists(ctx context.Context, departmentID string) (bool, error) {
	return s.rowExists(ctx, `SELECT 1 FROM departments WHERE id = $1`, departmentID)
}

// UserExists reports whether a user row exists.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	return s.rowExists(ctx, `SELECT 1 FROM users WHERE id = $1`, userID)
}

// Writes exposes the primary connection for callers that need transactions
// or engine-specific locking.
func (s *Store) Writes() *sql.DB { return s.writes }

func (s *Store) rowExists(ctx context.Context, query string, arg string) (bool, error) {
	var one int
	err := s.reads.QueryRowContext(ctx, query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed existence check: %w", err)
	}
	return true, nil
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...interface{}) ([]RoleAssignment, error) {
	rows, err := s.reads.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// scanner is the shared subset of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(sc scanner) (*User, error) {
	var user User
	var legacyRole, primaryRole, roleStatus, departmentID sql.NullString

	err := sc.Scan(
		&user.ID,
		&user.Email,
		&legacyRole,
		&primaryRole,
		&roleStatus,
		&user.InstitutionID,
		&departmentID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if legacyRole.Valid {
		lr := legacyRole.String
		user.LegacyRole = &lr
	}
	if primaryRole.Valid {
		pr := Role(primaryRole.String)
		user.PrimaryRole = &pr
	}
	if roleStatus.Valid {
		rs := RoleStatus(roleStatus.String)
		user.RoleStatus = &rs
	}
	if departmentID.Valid {
		d := departmentID.String
		user.DepartmentID = &d
	}

	return &user, nil
}

func scanAssignment(sc scanner) (*RoleAssignment, error) {
	var a RoleAssignment
	var role, status string
	var expiresAt sql.NullTime
	var departmentID, bulkOperationID, restoredBy sql.NullString

	err := sc.Scan(
		&a.ID,
		&a.UserID,
		&role,
		&status,
		&a.AssignedBy,
		&a.AssignedAt,
		&expiresAt,
		&a.IsTemporary,
		&a.InstitutionID,
		&departmentID,
		&bulkOperationID,
		&restoredBy,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Role = Role(role)
	a.Status = AssignmentStatus(status)
	if expiresAt.Valid {
		e := expiresAt.Time
		a.ExpiresAt = &e
	}
	if departmentID.Valid {
		d := departmentID.String
		a.DepartmentID = &d
	}
	if bulkOperationID.Valid {
		b := bulkOperationID.String
		a.Metadata.BulkOperationID = &b
	}
	if restoredBy.Valid {
		r := restoredBy.String
		a.Metadata.RestoredBy = &r
	}

	return &a, nil
}

func scanAuditEntry(sc scanner) (*AuditEntry, error) {
	var entry AuditEntry
	var oldRole sql.NullString
	var newRole string

	err := sc.Scan(
		&entry.ID,
		&entry.UserID,
		&oldRole,
		&newRole,
		&entry.ChangedAt,
		&entry.Actor,
	)
	if err != nil {
		return nil, err
	}

	if oldRole.Valid {
		or := Role(oldRole.String)
		entry.OldRole = &or
	}
	entry.NewRole = Role(newRole)

	return &entry, nil
}

func roleValue(r *Role) interface{} {
	if r == nil {
		return nil
	}
	return string(*r)
}

func statusValue(s *RoleStatus) interface{} {
	if s == nil {
		return nil
	}
	return string(*s)
}

func deptKey(d *string) string {
	if d == nil {
		return ""
	}
	return *d
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

// placeholders renders $start..$start+n-1 for IN clauses.
func placeholders(n, start int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("$%d", start+i)
	}
	return out
}
