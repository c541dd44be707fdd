package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

const defaultAuditWindow = time.Hour

// Engine captures snapshots and reverts role state at three granularities:
// whole snapshots, single assignments, and bulk operations.
type Engine struct {
	roleStore   *roles.Store
	store       *Store
	locker      Locker
	logger      *observability.Logger
	metrics     *observability.Metrics
	invalidator Invalidator
	auditWindow time.Duration
}

// Invalidator drops externally cached role state for a user after the
// engine rewrites it. *compat.RoleCache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithAuditWindow bounds how much audit history a snapshot captures.
func WithAuditWindow(window time.Duration) EngineOption {
	return func(e *Engine) { e.auditWindow = window }
}

// WithMetrics attaches rollback metrics.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithInvalidator drops cached roles for every user the engine touches, so
// resolvers stop serving pre-rollback state immediately instead of waiting
// out the cache TTL.
func WithInvalidator(inv Invalidator) EngineOption {
	return func(e *Engine) { e.invalidator = inv }
}

// NewEngine creates a rollback engine.
func NewEngine(roleStore *roles.Store, store *Store, locker Locker, logger *observability.Logger, opts ...EngineOption) *Engine {
	if locker == nil {
		locker = NewMutexLocker()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	e := &Engine{
		roleStore:   roleStore,
		store:       store,
		locker:      locker,
		logger:      logger.WithField("component", "rollback"),
		auditWindow: defaultAuditWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSnapshot captures current user rows, assignment rows, and the recent
// audit-log window for the given users (all users when the list is empty)
// into an immutable snapshot. Creation is all-or-nothing: any storage fault
// fails the call and stores nothing.
func (e *Engine) CreateSnapshot(ctx context.Context, description string, userIDs []string, metadata map[string]string) (*SnapshotInfo, error) {
	users, err := e.roleStore.ListUsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to capture users: %w", err)
	}
	// An explicit scope that matches nothing must fail rather than widen:
	// the assignment listing treats an empty user list as "all users".
	if len(userIDs) > 0 && len(users) == 0 {
		return nil, fmt.Errorf("snapshot scope matched no users: %w", roles.ErrNotFound)
	}

	captured := make([]string, 0, len(users))
	for _, u := range users {
		captured = append(captured, u.ID)
	}

	assignments, err := e.roleStore.ListAssignmentsForUsers(ctx, captured)
	if err != nil {
		return nil, fmt.Errorf("failed to capture assignments: %w", err)
	}
	auditEntries, err := e.roleStore.ListAuditSince(ctx, captured, time.Now().UTC().Add(-e.auditWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to capture audit window: %w", err)
	}

	snap := &Snapshot{
		ID:              newSnapshotID(),
		CreatedAt:       time.Now().UTC(),
		Description:     description,
		UserCount:       len(users),
		AssignmentCount: len(assignments),
		Payload: SnapshotPayload{
			Users:        users,
			Assignments:  assignments,
			AuditEntries: auditEntries,
		},
		Metadata: metadata,
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.SnapshotsCreatedTotal.Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"snapshot_id": snap.ID,
		"users":       snap.UserCount,
		"assignments": snap.AssignmentCount,
	}).Info("created rollback snapshot")

	return &SnapshotInfo{
		ID:              snap.ID,
		CreatedAt:       snap.CreatedAt,
		Description:     snap.Description,
		UserCount:       snap.UserCount,
		AssignmentCount: snap.AssignmentCount,
	}, nil
}

// RollbackToSnapshot restores every captured user to the snapshot's state:
// current assignments for those users are deleted, the snapshot's rows are
// re-inserted tagged with the restoring operation id, and each user's
// primary role columns are reset. Per-row failures are collected without
// aborting the rest.
func (e *Engine) RollbackToSnapshot(ctx context.Context, snapshotID, reason string) (*Result, error) {
	snap, err := e.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rollback lock: %w", err)
	}
	defer release()

	result := newResult(OpSystemRecovery)

	byUser := make(map[string][]roles.RoleAssignment)
	for _, a := range snap.Payload.Assignments {
		byUser[a.UserID] = append(byUser[a.UserID], a)
	}

	affected := make([]string, 0, len(snap.Payload.Users))
	for _, u := range snap.Payload.Users {
		affected = append(affected, u.ID)
		e.restoreUser(ctx, &u, byUser[u.ID], result)
	}

	result.AffectedUsers = len(affected)
	result.Success = len(result.Errors) == 0

	e.recordOperation(ctx, result, &Operation{
		ID:            result.OperationID,
		Type:          OpSystemRecovery,
		CreatedAt:     time.Now().UTC(),
		AffectedUsers: affected,
		RollbackState: snapshotID,
		Reason:        reason,
		Metadata:      map[string]string{"snapshotId": snapshotID},
	})

	e.logResult(result, map[string]interface{}{"snapshot_id": snapshotID})
	return result, nil
}

func (e *Engine) restoreUser(ctx context.Context, u *roles.User, assignments []roles.RoleAssignment, result *Result) {
	if err := e.roleStore.DeleteAssignmentsForUser(ctx, u.ID); err != nil {
		result.addError(u.ID, actionRemoveAssignment, err, "critical")
		result.Actions = append(result.Actions, RollbackAction{
			Action: actionRemoveAssignment, UserID: u.ID, Error: err.Error(),
		})
		return
	}
	// Role state changes from here on; drop cached resolutions once the
	// restore sequence for this user has run.
	defer e.invalidate(ctx, u.ID)
	result.Actions = append(result.Actions, RollbackAction{
		Action: actionRemoveAssignment, UserID: u.ID, Success: true,
	})

	for _, a := range assignments {
		a.Metadata.RestoredBy = &result.OperationID
		action := RollbackAction{
			Action:       actionRestoreAssignment,
			UserID:       u.ID,
			AssignmentID: a.ID,
			Role:         a.Role,
		}
		if err := e.roleStore.CreateAssignment(ctx, &a); err != nil {
			result.addError(u.ID, actionRestoreAssignment, err, "high")
			action.Error = err.Error()
		} else {
			action.Success = true
		}
		result.Actions = append(result.Actions, action)
	}

	action := RollbackAction{Action: actionRestoreUserRole, UserID: u.ID}
	if u.PrimaryRole != nil {
		action.Role = *u.PrimaryRole
	}
	if err := e.roleStore.SetUserRole(ctx, u.ID, u.PrimaryRole, u.RoleStatus); err != nil {
		result.addError(u.ID, actionRestoreUserRole, err, "high")
		action.Error = err.Error()
	} else {
		action.Success = true
	}
	result.Actions = append(result.Actions, action)

	// The restore is a role change like any other and gets an audit entry.
	// A user whose snapshot held no primary role has nothing to record.
	if action.Success && u.PrimaryRole != nil {
		entry := &roles.AuditEntry{
			UserID:    u.ID,
			NewRole:   *u.PrimaryRole,
			ChangedAt: time.Now().UTC(),
			Actor:     result.OperationID,
		}
		if err := e.roleStore.AppendAuditEntry(ctx, entry); err != nil {
			result.addError(u.ID, actionRestoreUserRole, fmt.Errorf("failed to record restoration: %w", err), "high")
		}
	}
}

// invalidate drops a user's cached role resolution when a cache is wired.
func (e *Engine) invalidate(ctx context.Context, userID string) {
	if e.invalidator != nil {
		e.invalidator.Invalidate(ctx, userID)
	}
}

// RollbackRoleAssignment undoes one assignment: the assignment is removed,
// and the user's most recent audit-log state from before the assignment is
// restored. Without prior history the removal stands and a warning is
// reported instead of a failure.
func (e *Engine) RollbackRoleAssignment(ctx context.Context, assignmentID, reason string) (*Result, error) {
	a, err := e.roleStore.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	result := newResult(OpRoleAssignment)
	e.rollbackAssignment(ctx, a, result)
	result.AffectedUsers = 1
	result.Success = len(result.Errors) == 0

	e.recordOperation(ctx, result, &Operation{
		ID:            result.OperationID,
		Type:          OpRoleAssignment,
		CreatedAt:     time.Now().UTC(),
		AffectedUsers: []string{a.UserID},
		OriginalState: string(a.Role),
		Reason:        reason,
		Metadata:      map[string]string{"assignmentId": assignmentID},
	})

	e.logResult(result, map[string]interface{}{"assignment_id": assignmentID})
	return result, nil
}

// RollbackBulkAssignment rolls back every assignment tagged with the given
// bulk-operation id. An empty match set is a no-op success with a warning.
func (e *Engine) RollbackBulkAssignment(ctx context.Context, bulkOperationID, reason string) (*Result, error) {
	assignments, err := e.roleStore.ListAssignmentsByBulkOperation(ctx, bulkOperationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find bulk assignments: %w", err)
	}

	result := newResult(OpBulkAssignment)

	if len(assignments) == 0 {
		result.Success = true
		result.Warnings = append(result.Warnings, fmt.Sprintf("no assignments tagged with bulk operation %s", bulkOperationID))
		e.recordOperation(ctx, result, &Operation{
			ID:            result.OperationID,
			Type:          OpBulkAssignment,
			CreatedAt:     time.Now().UTC(),
			AffectedUsers: []string{},
			Reason:        reason,
			Metadata:      map[string]string{"bulkOperationId": bulkOperationID},
		})
		return result, nil
	}

	release, err := e.locker.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rollback lock: %w", err)
	}
	defer release()

	affectedSet := make(map[string]bool)
	var affected []string
	for i := range assignments {
		e.rollbackAssignment(ctx, &assignments[i], result)
		if !affectedSet[assignments[i].UserID] {
			affectedSet[assignments[i].UserID] = true
			affected = append(affected, assignments[i].UserID)
		}
	}

	result.AffectedUsers = len(affected)
	result.Success = len(result.Errors) == 0

	e.recordOperation(ctx, result, &Operation{
		ID:            result.OperationID,
		Type:          OpBulkAssignment,
		CreatedAt:     time.Now().UTC(),
		AffectedUsers: affected,
		Reason:        reason,
		Metadata:      map[string]string{"bulkOperationId": bulkOperationID},
	})

	e.logResult(result, map[string]interface{}{"bulk_operation_id": bulkOperationID})
	return result, nil
}

// rollbackAssignment applies the remove/restore pair for one assignment,
// collecting failures into the shared result.
func (e *Engine) rollbackAssignment(ctx context.Context, a *roles.RoleAssignment, result *Result) {
	prior, err := e.roleStore.LatestAuditBefore(ctx, a.UserID, a.AssignedAt)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, roles.ErrNotFound) {
		result.addError(a.UserID, actionRestoreAssignment, fmt.Errorf("failed to look up prior state: %w", err), "critical")
		return
	}

	removeAction := RollbackAction{
		Action:       actionRemoveAssignment,
		UserID:       a.UserID,
		AssignmentID: a.ID,
		Role:         a.Role,
	}
	if err := e.roleStore.DeleteAssignment(ctx, a.ID); err != nil {
		result.addError(a.UserID, actionRemoveAssignment, err, "critical")
		removeAction.Error = err.Error()
		result.Actions = append(result.Actions, removeAction)
		return
	}
	removeAction.Success = true
	result.Actions = append(result.Actions, removeAction)
	defer e.invalidate(ctx, a.UserID)

	if !hasPrior {
		result.Warnings = append(result.Warnings, fmt.Sprintf("no previous role to restore for user %s", a.UserID))
		return
	}

	restoreAction := RollbackAction{
		Action: actionRestoreAssignment,
		UserID: a.UserID,
		Role:   prior.NewRole,
	}
	restored := &roles.RoleAssignment{
		UserID:        a.UserID,
		Role:          prior.NewRole,
		Status:        roles.AssignmentActive,
		AssignedBy:    result.OperationID,
		InstitutionID: a.InstitutionID,
		DepartmentID:  a.DepartmentID,
		Metadata:      roles.Metadata{RestoredBy: &result.OperationID},
	}
	err = e.roleStore.CreateAssignment(ctx, restored)
	switch {
	case err == nil:
		restoreAction.AssignmentID = restored.ID
	case errors.Is(err, roles.ErrConflict):
		// An active assignment for the prior role already exists; the
		// desired end state holds. Record the surviving row's id, not the
		// id of the insert that never landed.
		if existing, lookupErr := e.roleStore.FindActiveAssignment(ctx, a.UserID, prior.NewRole, a.InstitutionID, a.DepartmentID); lookupErr == nil {
			restoreAction.AssignmentID = existing.ID
		}
	default:
		result.addError(a.UserID, actionRestoreAssignment, err, "high")
		restoreAction.Error = err.Error()
		result.Actions = append(result.Actions, restoreAction)
		return
	}
	restoreAction.Success = true
	result.Actions = append(result.Actions, restoreAction)

	active := roles.RoleStatusActive
	if err := e.roleStore.SetUserRole(ctx, a.UserID, &prior.NewRole, &active); err != nil {
		result.addError(a.UserID, actionRestoreUserRole, err, "high")
	}
	entry := &roles.AuditEntry{
		UserID:    a.UserID,
		OldRole:   &a.Role,
		NewRole:   prior.NewRole,
		ChangedAt: time.Now().UTC(),
		Actor:     result.OperationID,
	}
	if err := e.roleStore.AppendAuditEntry(ctx, entry); err != nil {
		result.addError(a.UserID, actionRestoreUserRole, fmt.Errorf("failed to record restoration: %w", err), "high")
	}
}

// AvailableSnapshots lists restoration points, newest first.
func (e *Engine) AvailableSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	return e.store.ListSnapshots(ctx, limit)
}

// History lists past rollback operations, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]Operation, error) {
	return e.store.ListOperations(ctx, limit)
}

func (e *Engine) recordOperation(ctx context.Context, result *Result, op *Operation) {
	if err := e.store.SaveOperation(ctx, op); err != nil {
		result.addError("", "record_operation", err, "critical")
		result.Success = false
	}
	if e.metrics != nil {
		status := "success"
		if !result.Success {
			status = "failure"
		}
		e.metrics.RollbackOperationsTotal.WithLabelValues(string(op.Type), status).Inc()
	}
}

func (e *Engine) logResult(result *Result, fields map[string]interface{}) {
	fields["operation_id"] = result.OperationID
	fields["type"] = string(result.Type)
	fields["affected_users"] = result.AffectedUsers
	fields["errors"] = len(result.Errors)
	logger := e.logger.WithFields(fields)
	if result.Success {
		logger.Info("rollback operation complete")
	} else {
		logger.Error("rollback operation completed with errors")
	}
}
