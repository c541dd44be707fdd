package rollback

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// OperationType classifies a rollback operation.
type OperationType string

const (
	OpRoleAssignment OperationType = "role_assignment"
	OpBulkAssignment OperationType = "bulk_assignment"
	OpMigration      OperationType = "migration"
	OpSystemRecovery OperationType = "system_recovery"
)

// SnapshotPayload is the by-value capture stored inside a snapshot.
type SnapshotPayload struct {
	Users        []roles.User           `json:"users"`
	Assignments  []roles.RoleAssignment `json:"assignments"`
	AuditEntries []roles.AuditEntry     `json:"auditEntries"`
}

// Snapshot is an immutable restoration point.
type Snapshot struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"createdAt"`
	Description     string            `json:"description"`
	UserCount       int               `json:"userCount"`
	AssignmentCount int               `json:"assignmentCount"`
	Payload         SnapshotPayload   `json:"payload"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// SnapshotInfo is a snapshot listing entry without the payload.
type SnapshotInfo struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	Description     string    `json:"description"`
	UserCount       int       `json:"userCount"`
	AssignmentCount int       `json:"assignmentCount"`
}

// Operation is the append-only record of a rollback action, independent of
// the role audit log.
type Operation struct {
	ID            string            `json:"id"`
	Type          OperationType     `json:"type"`
	CreatedAt     time.Time         `json:"createdAt"`
	AffectedUsers []string          `json:"affectedUsers"`
	OriginalState string            `json:"originalState,omitempty"`
	RollbackState string            `json:"rollbackState,omitempty"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RollbackAction is one applied (or attempted) step of a rollback.
type RollbackAction struct {
	Action       string     `json:"action"`
	UserID       string     `json:"userId"`
	AssignmentID string     `json:"assignmentId,omitempty"`
	Role         roles.Role `json:"role,omitempty"`
	Success      bool       `json:"success"`
	Error        string     `json:"error,omitempty"`
}

const (
	actionRemoveAssignment  = "remove_assignment"
	actionRestoreAssignment = "restore_assignment"
	actionRestoreUserRole   = "restore_user_role"
)

// RollbackError is a per-row restoration failure.
type RollbackError struct {
	UserID   string `json:"userId"`
	Action   string `json:"action"`
	Error    string `json:"error"`
	Severity string `json:"severity"`
}

// Result reports the outcome of one rollback operation. Success is true only
// when no error was collected; false means some or all of the operation may
// not have been applied.
type Result struct {
	OperationID   string           `json:"operationId"`
	Type          OperationType    `json:"type"`
	Success       bool             `json:"success"`
	AffectedUsers int              `json:"affectedUsers"`
	Actions       []RollbackAction `json:"actions"`
	Errors        []RollbackError  `json:"errors"`
	Warnings      []string         `json:"warnings"`
}

func newResult(opType OperationType) *Result {
	return &Result{
		OperationID: newOperationID(),
		Type:        opType,
		Actions:     make([]RollbackAction, 0),
		Errors:      make([]RollbackError, 0),
		Warnings:    make([]string, 0),
	}
}

func (r *Result) addError(userID, action string, err error, severity string) {
	r.Errors = append(r.Errors, RollbackError{
		UserID:   userID,
		Action:   action,
		Error:    err.Error(),
		Severity: severity,
	})
}

func newSnapshotID() string {
	return fmt.Sprintf("snapshot_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func newOperationID() string {
	return fmt.Sprintf("rollback_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
