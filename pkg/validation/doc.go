// Package validation audits role data for integrity violations.
//
// # Overview
//
// The validator checks one user or the whole population for the
// inconsistencies a half-finished role migration can leave behind: missing
// primary roles, assignments whose user no longer exists, duplicate active
// assignments, broken temporal rules, and dangling references. Every check
// is read-only; callers decide remediation.
//
// Issues carry a stable code and a severity. High and critical issues make a
// result invalid; medium and low issues are warnings. System-wide validation
// folds all per-user results into one report with a 0-100 health score
// derived from weighted severity counts. A run that could not inspect part
// of the population is explicitly marked incomplete rather than reported as
// healthy.
//
// # Usage Example
//
//	validator := validation.NewValidator(store, nil, logger)
//
//	result, err := validator.ValidateUserRoles(ctx, userID)
//	if err != nil {
//		return err
//	}
//	if !result.IsValid {
//		for _, issue := range result.Errors {
//			fmt.Println(issue.Code, issue.Message)
//		}
//	}
//
//	report, err := validator.ValidateSystem(ctx)
//	if err != nil {
//		return err
//	}
//	fmt.Printf("health score: %d\n", report.Summary.HealthScore)
//
// # Related Packages
//
//   - pkg/roles: shared entities and store the validator reads
//   - pkg/rollback: the usual remediation for what validation finds
package validation
