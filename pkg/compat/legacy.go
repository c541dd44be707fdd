package compat

import (
	"strings"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// legacyRoleMap is the static mapping from pre-migration role strings to
// canonical roles. Unrecognized values resolve to no role rather than an
// error.
var legacyRoleMap = map[string]roles.Role{
	"student":    roles.RoleStudent,
	"instructor": roles.RoleTeacher,
	"teacher":    roles.RoleTeacher,
	"admin":      roles.RoleInstitutionAdmin,
}

// MapLegacyRole maps a legacy role string to its canonical role. The second
// return value reports whether the value was recognized. Matching is
// case-insensitive and ignores surrounding whitespace, since the legacy
// column was free-form.
func MapLegacyRole(legacy string) (roles.Role, bool) {
	role, ok := legacyRoleMap[strings.ToLower(strings.TrimSpace(legacy))]
	return role, ok
}
