// Package rollback provides reversible state management for role data.
//
// # Overview
//
// The engine works at three granularities: whole-system snapshots, single
// role assignments, and bulk operations. Snapshots capture user rows,
// assignment rows, and a recent audit-log window by value, so later mutation
// of live rows cannot corrupt a restoration point. Single-assignment rollback
// consults the role audit log for the most recent state before the
// assignment was made. Bulk rollback joins assignments on the bulk-operation
// tag and rolls each one back.
//
// Restorations are serialized through a Locker so two operators cannot
// restore conflicting states at the same time. Per-row restoration failures
// are collected and reported, never thrown mid-run; a result with any error
// means some or all of the operation may not have been applied.
//
// # Usage Example
//
//	engine := rollback.NewEngine(roleStore, rollbackStore, rollback.NewMutexLocker(), logger)
//
//	info, err := engine.CreateSnapshot(ctx, "before spring bulk import", nil, nil)
//	if err != nil {
//		return err
//	}
//
//	// ... bulk change goes wrong ...
//
//	result, err := engine.RollbackToSnapshot(ctx, info.ID, "bulk import applied wrong roles")
//	if err != nil {
//		return err
//	}
//	if !result.Success {
//		for _, e := range result.Errors {
//			fmt.Println(e.UserID, e.Action, e.Error)
//		}
//	}
//
// # Related Packages
//
//   - pkg/roles: shared entities and store the engine mutates
//   - pkg/validation: detects the states worth rolling back from
package rollback
