// Package compat resolves a user's effective role while legacy and new-model
// role data coexist in the database.
//
// # Overview
//
// The platform is mid-migration from a single free-form role string on the
// user row to multi-row role assignments. The Resolver answers "what role(s)
// does this user have right now" by trying the new model first and, depending
// on configuration, falling back to the legacy field through a static mapping
// table. In hybrid mode it also performs migration-on-read: the first resolve
// of a legacy-only user creates the matching role assignment.
//
// Read paths degrade to "no role" on storage faults instead of failing the
// caller; faults are reported through the logger only. Context cancellation
// is the one exception and is always propagated.
//
// # Usage Example
//
//	resolver, err := compat.NewResolver(store, compat.Config{
//		LegacySupportEnabled: true,
//		MigrationMode:        compat.ModeHybrid,
//		FallbackToLegacy:     true,
//		LogIssues:            true,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	role, err := resolver.GetUserRole(ctx, userID)
//	if err != nil {
//		// context cancellation only
//	}
//	if role == nil {
//		// user has no resolvable role
//	}
//
// # Related Packages
//
//   - pkg/roles: shared entities and store used by the resolver
//   - pkg/validation: detects the inconsistencies migration can leave behind
//   - pkg/rollback: undoes migrations and bulk role changes
package compat
