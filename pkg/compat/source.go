package compat

import (
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// RoleSource resolves a role from one representation of role data. Sources
// are tried in a fixed priority order decided by the resolver configuration.
type RoleSource interface {
	// Name identifies the source in logs.
	Name() string

	// Resolve returns the role the source derives from the user row, and
	// whether it derived one at all.
	Resolve(user *roles.User) (roles.Role, bool)
}

// newModelSource reads the user's primary role, honoring role status.
type newModelSource struct{}

func (newModelSource) Name() string { return "new_model" }

func (newModelSource) Resolve(user *roles.User) (roles.Role, bool) {
	if user.PrimaryRole == nil {
		return "", false
	}
	if user.RoleStatus != nil && *user.RoleStatus != roles.RoleStatusActive {
		return "", false
	}
	return *user.PrimaryRole, true
}

// legacyModelSource maps the legacy role string through the static table.
type legacyModelSource struct{}

func (legacyModelSource) Name() string { return "legacy_model" }

func (legacyModelSource) Resolve(user *roles.User) (roles.Role, bool) {
	if user.LegacyRole == nil {
		return "", false
	}
	return MapLegacyRole(*user.LegacyRole)
}

// sourcesFor returns the source chain for a configuration. The new model
// always wins; legacy participates only when fallback is allowed.
func sourcesFor(cfg Config) []RoleSource {
	sources := []RoleSource{newModelSource{}}
	if cfg.allowsLegacyFallback() {
		sources = append(sources, legacyModelSource{})
	}
	return sources
}
