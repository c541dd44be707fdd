package validation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// ValidateSystem validates every user plus the population-wide checks and
// folds everything into one report. Per-user faults do not stop the run;
// they mark the report incomplete instead. Only listing the population or a
// cancelled context fails the call outright.
func (v *Validator) ValidateSystem(ctx context.Context) (*SystemValidationReport, error) {
	start := time.Now()

	userIDs, err := v.store.ListUserIDs(ctx)
	if err != nil {
		v.countRun("system", "error")
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	report := &SystemValidationReport{
		GeneratedAt: start.UTC(),
		TotalUsers:  len(userIDs),
		Issues:      make([]Issue, 0),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.config.SystemConcurrency)

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			result, err := v.ValidateUserRoles(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Incomplete = true
				report.InvalidUsers++
				report.Issues = append(report.Issues, Issue{
					Code:     CodeValidationIncomplete,
					Severity: SeverityHigh,
					Message:  fmt.Sprintf("could not validate user %s: %v", userID, err),
					UserID:   userID,
				})
				return nil
			}
			if result.IsValid {
				report.ValidUsers++
			} else {
				report.InvalidUsers++
			}
			report.Issues = append(report.Issues, result.Issues()...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.countRun("system", "error")
		return nil, fmt.Errorf("system validation aborted: %w", err)
	}

	v.appendOrIncomplete(ctx, report, v.ValidateOrphanedAssignments, "orphan scan")
	v.appendOrIncomplete(ctx, report, v.ValidateDuplicateAssignments, "duplicate scan")

	// Population-wide plausibility check on system_admin grants.
	admins, err := v.store.CountActiveAssignmentsByRole(ctx, roles.RoleSystemAdmin)
	if err != nil {
		report.Incomplete = true
		report.Issues = append(report.Issues, Issue{
			Code:     CodeValidationIncomplete,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("could not count system admins: %v", err),
		})
	} else if admins > v.config.MaxSystemAdmins {
		report.Issues = append(report.Issues, Issue{
			Code:     CodeExcessiveSystemAdmins,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("%d active system_admin assignments exceeds threshold %d", admins, v.config.MaxSystemAdmins),
		})
	}

	report.Summary = summarize(report.Issues)
	v.publishPopulationGauges(ctx)
	v.recordSystemRun(report, time.Since(start))

	v.logger.WithFields(map[string]interface{}{
		"total_users":   report.TotalUsers,
		"invalid_users": report.InvalidUsers,
		"issues":        len(report.Issues),
		"health_score":  report.Summary.HealthScore,
		"incomplete":    report.Incomplete,
	}).Info("system validation complete")

	return report, nil
}

func (v *Validator) appendOrIncomplete(ctx context.Context, report *SystemValidationReport, scan func(context.Context) ([]Issue, error), name string) {
	issues, err := scan(ctx)
	if err != nil {
		report.Incomplete = true
		report.Issues = append(report.Issues, Issue{
			Code:     CodeValidationIncomplete,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("%s failed: %v", name, err),
		})
		return
	}
	report.Issues = append(report.Issues, issues...)
}

// publishPopulationGauges refreshes the population-level gauges alongside
// the sweep. Best effort: a failed count leaves the previous value standing.
func (v *Validator) publishPopulationGauges(ctx context.Context) {
	if v.metrics == nil {
		return
	}
	for _, role := range roles.AllRoles() {
		count, err := v.store.CountActiveAssignmentsByRole(ctx, role)
		if err != nil {
			continue
		}
		v.metrics.ActiveAssignmentsTotal.WithLabelValues(string(role)).Set(float64(count))
	}
	if pending, err := v.store.CountUsersPendingMigration(ctx); err == nil {
		v.metrics.UsersPendingMigration.Set(float64(pending))
	}
}

func (v *Validator) countRun(scope, status string) {
	if v.metrics != nil {
		v.metrics.ValidationRunsTotal.WithLabelValues(scope, status).Inc()
	}
}

func (v *Validator) recordSystemRun(report *SystemValidationReport, elapsed time.Duration) {
	if v.metrics == nil {
		return
	}
	status := "ok"
	if report.Incomplete {
		status = "incomplete"
	}
	v.metrics.ValidationRunsTotal.WithLabelValues("system", status).Inc()
	v.metrics.ValidationDuration.WithLabelValues("system").Observe(elapsed.Seconds())
	v.metrics.SystemHealthScore.Set(float64(report.Summary.HealthScore))
	for _, issue := range report.Issues {
		v.metrics.ValidationIssuesTotal.WithLabelValues(issue.Severity.String(), issue.Code).Inc()
	}
}
