package validation

import (
	"time"
)

// Severity ranks how bad a validation issue is. It drives both the
// error/warning split in per-user results and the system health score.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	return []string{"low", "medium", "high", "critical"}[s]
}

// MarshalJSON renders the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Stable issue codes. Codes are part of the reporting contract; dashboards
// and remediation tooling match on them.
const (
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeMissingPrimaryRole      = "MISSING_PRIMARY_ROLE"
	CodePrimaryRoleMismatch     = "PRIMARY_ROLE_MISMATCH"
	CodeInvalidRole             = "INVALID_ROLE"
	CodeInvalidStatus           = "INVALID_STATUS"
	CodeMissingRequiredField    = "MISSING_REQUIRED_FIELD"
	CodeInvalidExpirationDate   = "INVALID_EXPIRATION_DATE"
	CodeTemporaryNoExpiration   = "TEMPORARY_NO_EXPIRATION"
	CodeExpiredActiveAssignment = "EXPIRED_ACTIVE_ASSIGNMENT"
	CodeInstitutionMismatch     = "INSTITUTION_MISMATCH"
	CodeOrphanedAssignment      = "ORPHANED_ASSIGNMENT"
	CodeDuplicateAssignment     = "DUPLICATE_ASSIGNMENT"
	CodeInvalidUserReference    = "INVALID_USER_REFERENCE"
	CodeInvalidInstitutionRef   = "INVALID_INSTITUTION_REFERENCE"
	CodeInvalidDepartmentRef    = "INVALID_DEPARTMENT_REFERENCE"
	CodeExcessiveSystemAdmins   = "EXCESSIVE_SYSTEM_ADMINS"
	CodeValidationIncomplete    = "VALIDATION_INCOMPLETE"
)

// Issue describes one integrity violation.
type Issue struct {
	Code          string   `json:"code"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	UserID        string   `json:"userId,omitempty"`
	AssignmentID  string   `json:"assignmentId,omitempty"`
	AssignmentIDs []string `json:"assignmentIds,omitempty"`
	Field         string   `json:"field,omitempty"`
}

// Result holds the outcome of validating one user or one assignment. Issues
// at high or critical severity land in Errors and make the result invalid;
// the rest are Warnings.
type Result struct {
	IsValid  bool    `json:"isValid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func newResult() *Result {
	return &Result{
		IsValid:  true,
		Errors:   make([]Issue, 0),
		Warnings: make([]Issue, 0),
	}
}

func (r *Result) addError(issue Issue) {
	r.Errors = append(r.Errors, issue)
	r.IsValid = false
}

func (r *Result) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

// Issues returns errors and warnings as one list.
func (r *Result) Issues() []Issue {
	out := make([]Issue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	return out
}

// Summary aggregates issue counts by severity into a health score.
type Summary struct {
	CriticalIssues int `json:"criticalIssues"`
	HighIssues     int `json:"highIssues"`
	MediumIssues   int `json:"mediumIssues"`
	LowIssues      int `json:"lowIssues"`
	HealthScore    int `json:"healthScore"`
}

// SystemValidationReport is the result of validating the whole population.
type SystemValidationReport struct {
	GeneratedAt  time.Time `json:"generatedAt"`
	TotalUsers   int       `json:"totalUsers"`
	ValidUsers   int       `json:"validUsers"`
	InvalidUsers int       `json:"invalidUsers"`
	Issues       []Issue   `json:"issues"`
	Summary      Summary   `json:"summary"`

	// Incomplete is set when part of the population could not be
	// inspected. An incomplete report must not be read as healthy.
	Incomplete bool `json:"incomplete"`
}

// HealthScore computes the 0-100 score for a set of issues: each critical
// costs 20, high 10, medium 5, low 1, floored at 0.
func HealthScore(issues []Issue) int {
	score := 100
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= 20
		case SeverityHigh:
			score -= 10
		case SeverityMedium:
			score -= 5
		case SeverityLow:
			score -= 1
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func summarize(issues []Issue) Summary {
	s := Summary{}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			s.CriticalIssues++
		case SeverityHigh:
			s.HighIssues++
		case SeverityMedium:
			s.MediumIssues++
		case SeverityLow:
			s.LowIssues++
		}
	}
	s.HealthScore = HealthScore(issues)
	return s
}
