// Package roles defines the shared data contracts and storage primitives for
// the role migration subsystem.
//
// # Overview
//
// The platform is mid-migration from a single legacy role string on the user
// row to a multi-row assignment model. This package owns the entities both
// representations share and the low-level read/write primitives every service
// above it (compat, validation, rollback) builds on.
//
// # Entities
//
// User: identity-subsystem row carrying both the legacy `role` string and the
// new-model primary_role/role_status pair. Never deleted by this subsystem.
//
// RoleAssignment: one row per (user, role) grant in the new model, with
// status transitions active -> expired | revoked. At most one active
// assignment may exist per (user, role, institution, department) tuple; the
// store enforces this with a partial unique index and surfaces violations as
// ErrConflict.
//
// AuditEntry: append-only record of every role change by any path. It is the
// sole source of "previous state" consulted by single-assignment rollback.
//
// # Usage Example
//
// Create an assignment and record the change:
//
//	a := &roles.RoleAssignment{
//		UserID:        user.ID,
//		Role:          roles.RoleTeacher,
//		Status:        roles.AssignmentActive,
//		AssignedBy:    actorID,
//		InstitutionID: user.InstitutionID,
//	}
//	if err := store.CreateAssignment(ctx, a); err != nil {
//		if errors.Is(err, roles.ErrConflict) {
//			// already granted
//		}
//	}
//
// # Related Packages
//
//   - pkg/compat: legacy/new-model resolution and migration-on-read
//   - pkg/validation: integrity checks over these tables
//   - pkg/rollback: snapshot and restore of these tables
package roles
