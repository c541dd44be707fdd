package roles

import (
	"time"
)

// Role is a canonical new-model role.
type Role string

const (
	RoleStudent          Role = "student"
	RoleTeacher          Role = "teacher"
	RoleDepartmentAdmin  Role = "department_admin"
	RoleInstitutionAdmin Role = "institution_admin"
	RoleSystemAdmin      Role = "system_admin"
)

// AllRoles lists every canonical role.
func AllRoles() []Role {
	return []Role{
		RoleStudent,
		RoleTeacher,
		RoleDepartmentAdmin,
		RoleInstitutionAdmin,
		RoleSystemAdmin,
	}
}

// Valid reports whether r is a known canonical role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleDepartmentAdmin, RoleInstitutionAdmin, RoleSystemAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// RoleStatus is the new-model activity flag on the user row.
type RoleStatus string

const (
	RoleStatusActive   RoleStatus = "active"
	RoleStatusInactive RoleStatus = "inactive"
)

// Valid reports whether s is a known role status.
func (s RoleStatus) Valid() bool {
	return s == RoleStatusActive || s == RoleStatusInactive
}

// AssignmentStatus is the lifecycle state of a RoleAssignment.
type AssignmentStatus string

const (
	AssignmentActive  AssignmentStatus = "active"
	AssignmentExpired AssignmentStatus = "expired"
	AssignmentRevoked AssignmentStatus = "revoked"
)

// Valid reports whether s is a known assignment status.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentActive, AssignmentExpired, AssignmentRevoked:
		return true
	}
	return false
}

// User is the identity-subsystem row as seen by this subsystem. LegacyRole is
// the pre-migration free-form role string; PrimaryRole/RoleStatus are the
// new-model pair. All three are nullable while the migration is in flight.
type User struct {
	ID            string      `json:"id"`
	Email         string      `json:"email"`
	LegacyRole    *string     `json:"legacy_role,omitempty"`
	PrimaryRole   *Role       `json:"primary_role,omitempty"`
	RoleStatus    *RoleStatus `json:"role_status,omitempty"`
	InstitutionID string      `json:"institution_id"`
	DepartmentID  *string     `json:"department_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Metadata carries the optional tags attached to an assignment. It replaces
// the open key/value map the legacy schema used; BulkOperationID is the join
// key bulk rollback groups on.
type Metadata struct {
	BulkOperationID *string `json:"bulk_operation_id,omitempty"`
	RestoredBy      *string `json:"restored_by,omitempty"`
}

// RoleAssignment is a single new-model role grant.
//
// Invariants: at most one active assignment per
// (user_id, role, institution_id, department_id) tuple; a temporary
// assignment must carry an expiry strictly after its assignment time.
type RoleAssignment struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Role          Role             `json:"role"`
	Status        AssignmentStatus `json:"status"`
	AssignedBy    string           `json:"assigned_by"`
	AssignedAt    time.Time        `json:"assigned_at"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	IsTemporary   bool             `json:"is_temporary"`
	InstitutionID string           `json:"institution_id"`
	DepartmentID  *string          `json:"department_id,omitempty"`
	Metadata      Metadata         `json:"metadata"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Expired reports whether the assignment's expiry has passed at the given
// instant. Assignments without an expiry never expire.
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// AuditEntry is one append-only record in the role audit log. OldRole is nil
// for a user's first role grant.
type AuditEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	OldRole   *Role     `json:"old_role,omitempty"`
	NewRole   Role      `json:"new_role"`
	ChangedAt time.Time `json:"changed_at"`
	Actor     string    `json:"actor"`
}

// DuplicateGroup is one set of active assignments sharing the same
// (user, role, institution, department) tuple.
type DuplicateGroup struct {
	UserID        string   `json:"user_id"`
	Role          Role     `json:"role"`
	InstitutionID string   `json:"institution_id"`
	DepartmentID  *string  `json:"department_id,omitempty"`
	AssignmentIDs []string `json:"assignment_ids"`
}
