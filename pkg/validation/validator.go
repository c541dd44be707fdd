package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// ValidationConfig defines validation behavior
type ValidationConfig struct {
	// SystemConcurrency bounds the fan-out of ValidateSystem
	SystemConcurrency int
	// MaxSystemAdmins is the count above which system_admin assignments
	// are flagged as implausible
	MaxSystemAdmins int
}

// DefaultValidationConfig returns default validation settings
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		SystemConcurrency: 8,
		MaxSystemAdmins:   10,
	}
}

// Validator audits role data for integrity violations. All checks are
// read-only and safe for concurrent use.
type Validator struct {
	store   *roles.Store
	config  *ValidationConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithMetrics attaches validation metrics.
func WithMetrics(m *observability.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a new validator
func NewValidator(store *roles.Store, config *ValidationConfig, logger *observability.Logger, opts ...ValidatorOption) *Validator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	if config.SystemConcurrency <= 0 {
		config.SystemConcurrency = DefaultValidationConfig().SystemConcurrency
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	v := &Validator{
		store:  store,
		config: config,
		logger: logger.WithField("component", "validation"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateUserRoles checks one user's role data for integrity violations.
// A missing user is a critical error in the result, not a Go error; only
// storage faults are returned as errors.
func (v *Validator) ValidateUserRoles(ctx context.Context, userID string) (*Result, error) {
	result := newResult()

	user, err := v.store.GetUser(ctx, userID)
	if errors.Is(err, roles.ErrNotFound) {
		result.addError(Issue{
			Code:     CodeUserNotFound,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("user %s does not exist", userID),
			UserID:   userID,
		})
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	if user.PrimaryRole == nil {
		result.addError(Issue{
			Code:     CodeMissingPrimaryRole,
			Severity: SeverityHigh,
			Message:  "user has no primary role",
			UserID:   userID,
			Field:    "primaryRole",
		})
	}

	assignments, err := v.store.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments for %s: %w", userID, err)
	}

	var active []roles.RoleAssignment
	for _, a := range assignments {
		if a.Status == roles.AssignmentActive {
			active = append(active, a)
		}
	}

	// The mismatch check only fires when active assignments exist; a set
	// primary role with zero assignments is deliberately silent. See
	// DESIGN.md.
	if user.PrimaryRole != nil && len(active) > 0 {
		matched := false
		for _, a := range active {
			if a.Role == *user.PrimaryRole {
				matched = true
				break
			}
		}
		if !matched {
			result.addWarning(Issue{
				Code:     CodePrimaryRoleMismatch,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("primary role %s matches no active assignment", *user.PrimaryRole),
				UserID:   userID,
				Field:    "primaryRole",
			})
		}
	}

	now := time.Now().UTC()
	for _, a := range assignments {
		v.checkTemporalRules(&a, result)

		if a.Status == roles.AssignmentActive && a.Expired(now) {
			result.addWarning(Issue{
				Code:         CodeExpiredActiveAssignment,
				Severity:     SeverityLow,
				Message:      fmt.Sprintf("active assignment %s expired at %s", a.ID, a.ExpiresAt.Format(time.RFC3339)),
				UserID:       userID,
				AssignmentID: a.ID,
				Field:        "expiresAt",
			})
		}

		if a.InstitutionID != user.InstitutionID {
			result.addWarning(Issue{
				Code:         CodeInstitutionMismatch,
				Severity:     SeverityLow,
				Message:      fmt.Sprintf("assignment institution %s differs from user institution %s", a.InstitutionID, user.InstitutionID),
				UserID:       userID,
				AssignmentID: a.ID,
				Field:        "institutionId",
			})
		}
	}

	return result, nil
}

// ValidateRoleAssignment structurally validates a single candidate
// assignment, including referential checks against live rows. Missing
// references are critical errors.
func (v *Validator) ValidateRoleAssignment(ctx context.Context, a *roles.RoleAssignment) (*Result, error) {
	result := newResult()

	for field, value := range map[string]string{
		"userId":        a.UserID,
		"role":          string(a.Role),
		"institutionId": a.InstitutionID,
	} {
		if strings.TrimSpace(value) == "" {
			result.addError(Issue{
				Code:     CodeMissingRequiredField,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("required field %s is empty", field),
				Field:    field,
			})
		}
	}

	if a.Role != "" && !a.Role.Valid() {
		result.addError(Issue{
			Code:     CodeInvalidRole,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("unknown role %q", a.Role),
			Field:    "role",
		})
	}
	switch a.Status {
	case roles.AssignmentActive, roles.AssignmentExpired, roles.AssignmentRevoked:
	default:
		result.addError(Issue{
			Code:     CodeInvalidStatus,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("unknown status %q", a.Status),
			Field:    "status",
		})
	}

	v.checkTemporalRules(a, result)

	if a.UserID != "" {
		exists, err := v.store.UserExists(ctx, a.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to check user reference: %w", err)
		}
		if !exists {
			result.addError(Issue{
				Code:     CodeInvalidUserReference,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("user %s does not exist", a.UserID),
				UserID:   a.UserID,
				Field:    "userId",
			})
		}
	}
	if a.InstitutionID != "" {
		exists, err := v.store.InstitutionExists(ctx, a.InstitutionID)
		if err != nil {
			return nil, fmt.Errorf("failed to check institution reference: %w", err)
		}
		if !exists {
			result.addError(Issue{
				Code:     CodeInvalidInstitutionRef,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("institution %s does not exist", a.InstitutionID),
				Field:    "institutionId",
			})
		}
	}
	if a.DepartmentID != nil {
		exists, err := v.store.DepartmentExists(ctx, *a.DepartmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to check department reference: %w", err)
		}
		if !exists {
			result.addError(Issue{
				Code:     CodeInvalidDepartmentRef,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("department %s does not exist", *a.DepartmentID),
				Field:    "departmentId",
			})
		}
	}

	return result, nil
}

// ValidateOrphanedAssignments finds assignments whose user row no longer
// exists.
func (v *Validator) ValidateOrphanedAssignments(ctx context.Context) ([]Issue, error) {
	orphans, err := v.store.ListOrphanedAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned assignments: %w", err)
	}

	issues := make([]Issue, 0, len(orphans))
	for _, a := range orphans {
		issues = append(issues, Issue{
			Code:         CodeOrphanedAssignment,
			Severity:     SeverityHigh,
			Message:      fmt.Sprintf("assignment %s references missing user %s", a.ID, a.UserID),
			UserID:       a.UserID,
			AssignmentID: a.ID,
		})
	}
	return issues, nil
}

// ValidateDuplicateAssignments finds groups of active assignments sharing
// the same (user, role, institution, department) tuple. Each issue carries
// every duplicate id for remediation.
func (v *Validator) ValidateDuplicateAssignments(ctx context.Context) ([]Issue, error) {
	groups, err := v.store.ListDuplicateActiveGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate assignments: %w", err)
	}

	issues := make([]Issue, 0, len(groups))
	for _, g := range groups {
		issues = append(issues, Issue{
			Code:          CodeDuplicateAssignment,
			Severity:      SeverityMedium,
			Message:       fmt.Sprintf("user %s holds %d active %s assignments for the same scope", g.UserID, len(g.AssignmentIDs), g.Role),
			UserID:        g.UserID,
			AssignmentIDs: g.AssignmentIDs,
		})
	}
	return issues, nil
}

func (v *Validator) checkTemporalRules(a *roles.RoleAssignment, result *Result) {
	if a.ExpiresAt != nil && !a.ExpiresAt.After(a.AssignedAt) {
		result.addError(Issue{
			Code:         CodeInvalidExpirationDate,
			Severity:     SeverityHigh,
			Message:      fmt.Sprintf("assignment %s expires at or before its assignment time", a.ID),
			UserID:       a.UserID,
			AssignmentID: a.ID,
			Field:        "expiresAt",
		})
	}
	if a.IsTemporary && a.ExpiresAt == nil {
		result.addError(Issue{
			Code:         CodeTemporaryNoExpiration,
			Severity:     SeverityHigh,
			Message:      fmt.Sprintf("temporary assignment %s has no expiration", a.ID),
			UserID:       a.UserID,
			AssignmentID: a.ID,
			Field:        "expiresAt",
		})
	}
}
