package validation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/observability"
	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			legacy_role TEXT,
			primary_role TEXT,
			role_status TEXT,
			institution_id TEXT NOT NULL,
			department_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE institutions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE departments (
			id TEXT PRIMARY KEY,
			institution_id TEXT NOT NULL,
			name TEXT NOT NULL
		);

		CREATE TABLE role_assignments (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_by TEXT NOT NULL,
			assigned_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			is_temporary INTEGER NOT NULL DEFAULT 0,
			institution_id TEXT NOT NULL,
			department_id TEXT,
			bulk_operation_id TEXT,
			restored_by TEXT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE UNIQUE INDEX idx_role_assignments_active_tuple
		ON role_assignments(user_id, role, institution_id, COALESCE(department_id, ''))
		WHERE status = 'active';

		CREATE TABLE role_audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			old_role TEXT,
			new_role TEXT NOT NULL,
			changed_at TIMESTAMP NOT NULL,
			actor TEXT NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func insertTestUser(t *testing.T, db *sql.DB, id, institutionID string, primaryRole *string) {
	t.Helper()
	now := time.Now().UTC()
	var roleStatus interface{}
	if primaryRole != nil {
		roleStatus = "active"
	}
	_, err := db.Exec(
		`INSERT INTO users (id, email, primary_role, role_status, institution_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, id+"@example.edu", primaryRole, roleStatus, institutionID, now, now,
	)
	if err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func newTestValidator(t *testing.T, store *roles.Store) *Validator {
	t.Helper()
	return NewValidator(store, nil, observability.NewLogger(observability.ErrorLevel, nil))
}

func TestValidateUserRoles_UserNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	validator := newTestValidator(t, roles.NewStore(db))

	result, err := validator.ValidateUserRoles(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}
	if result.IsValid {
		t.Error("Expected invalid result for missing user")
	}
	if len(result.Errors) != 1 || result.Errors[0].Code != CodeUserNotFound {
		t.Fatalf("Expected single USER_NOT_FOUND error, got %v", result.Errors)
	}
	if result.Errors[0].Severity != SeverityCritical {
		t.Errorf("Expected critical severity, got %s", result.Errors[0].Severity)
	}
}

func TestValidateUserRoles_MissingPrimaryRole(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)

	insertTestUser(t, db, "u1", "inst-1", nil)

	result, err := validator.ValidateUserRoles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}
	if result.IsValid {
		t.Error("Expected invalid result")
	}
	if len(result.Errors) != 1 || result.Errors[0].Code != CodeMissingPrimaryRole {
		t.Fatalf("Expected MISSING_PRIMARY_ROLE, got %v", result.Errors)
	}
	if result.Errors[0].Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", result.Errors[0].Severity)
	}
}

func TestValidateUserRoles_PrimaryRoleMismatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "u1", Role: roles.RoleStudent, Status: roles.AssignmentActive,
		AssignedBy: "admin", InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	result, err := validator.ValidateUserRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}
	// A mismatch is a warning, not an error.
	if !result.IsValid {
		t.Errorf("Expected valid result, errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Code != CodePrimaryRoleMismatch {
		t.Fatalf("Expected PRIMARY_ROLE_MISMATCH warning, got %v", result.Warnings)
	}

	// A user with a primary role and zero assignments stays silent.
	insertTestUser(t, db, "u2", "inst-1", strPtr("teacher"))
	result, err = validator.ValidateUserRoles(ctx, "u2")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings without assignments, got %v", result.Warnings)
	}
}

func TestValidateUserRoles_ExpiredActiveIsWarningOnly(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))
	past := time.Now().UTC().Add(-time.Hour)
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "u1", Role: roles.RoleTeacher, Status: roles.AssignmentActive,
		AssignedBy: "admin", AssignedAt: past.Add(-time.Hour), ExpiresAt: &past,
		IsTemporary: true, InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	result, err := validator.ValidateUserRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("Expired active assignment must not be an error, got %v", result.Errors)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == CodeExpiredActiveAssignment {
			found = true
		}
		if w.Code == CodeExpiredActiveAssignment && w.Severity != SeverityLow {
			t.Errorf("Expected low severity, got %s", w.Severity)
		}
	}
	if !found {
		t.Errorf("Expected EXPIRED_ACTIVE_ASSIGNMENT warning, got %v", result.Warnings)
	}
}

func TestValidateUserRoles_TemporalErrors(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))
	assignedAt := time.Now().UTC()
	expiresBefore := assignedAt.Add(-time.Minute)
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "u1", Role: roles.RoleTeacher, Status: roles.AssignmentRevoked,
		AssignedBy: "admin", AssignedAt: assignedAt, ExpiresAt: &expiresBefore,
		InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "u1", Role: roles.RoleStudent, Status: roles.AssignmentActive,
		AssignedBy: "admin", IsTemporary: true, InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	result, err := validator.ValidateUserRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}

	codes := map[string]bool{}
	for _, e := range result.Errors {
		codes[e.Code] = true
	}
	if !codes[CodeInvalidExpirationDate] {
		t.Errorf("Expected INVALID_EXPIRATION_DATE, got %v", result.Errors)
	}
	if !codes[CodeTemporaryNoExpiration] {
		t.Errorf("Expected TEMPORARY_NO_EXPIRATION, got %v", result.Errors)
	}
}

func TestValidateUserRoles_InstitutionMismatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "u1", Role: roles.RoleTeacher, Status: roles.AssignmentActive,
		AssignedBy: "admin", InstitutionID: "inst-2",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	result, err := validator.ValidateUserRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("ValidateUserRoles failed: %v", err)
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == CodeInstitutionMismatch {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected INSTITUTION_MISMATCH warning, got %v", result.Warnings)
	}
}

func TestValidateRoleAssignment(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))
	if _, err := db.Exec(`INSERT INTO institutions (id, name) VALUES ('inst-1', 'State University')`); err != nil {
		t.Fatalf("Failed to insert institution: %v", err)
	}

	future := time.Now().UTC().Add(time.Hour)
	good := &roles.RoleAssignment{
		UserID: "u1", Role: roles.RoleTeacher, Status: roles.AssignmentActive,
		AssignedBy: "admin", AssignedAt: time.Now().UTC(), ExpiresAt: &future,
		IsTemporary: true, InstitutionID: "inst-1",
	}
	result, err := validator.ValidateRoleAssignment(ctx, good)
	if err != nil {
		t.Fatalf("ValidateRoleAssignment failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("Expected valid assignment, got %v", result.Errors)
	}

	dept := "missing-dept"
	bad := &roles.RoleAssignment{
		UserID: "ghost", Role: roles.Role("overlord"), Status: roles.AssignmentStatus("frozen"),
		AssignedBy: "admin", AssignedAt: time.Now().UTC(),
		InstitutionID: "missing-inst", DepartmentID: &dept,
	}
	result, err = validator.ValidateRoleAssignment(ctx, bad)
	if err != nil {
		t.Fatalf("ValidateRoleAssignment failed: %v", err)
	}
	if result.IsValid {
		t.Fatal("Expected invalid assignment")
	}

	codes := map[string]Severity{}
	for _, e := range result.Errors {
		codes[e.Code] = e.Severity
	}
	for _, want := range []string{CodeInvalidRole, CodeInvalidStatus, CodeInvalidUserReference, CodeInvalidInstitutionRef, CodeInvalidDepartmentRef} {
		if _, ok := codes[want]; !ok {
			t.Errorf("Expected %s error, got %v", want, result.Errors)
		}
	}
	if codes[CodeInvalidUserReference] != SeverityCritical {
		t.Error("Expected reference errors to be critical")
	}

	empty := &roles.RoleAssignment{Status: roles.AssignmentActive}
	result, err = validator.ValidateRoleAssignment(ctx, empty)
	if err != nil {
		t.Fatalf("ValidateRoleAssignment failed: %v", err)
	}
	missing := 0
	for _, e := range result.Errors {
		if e.Code == CodeMissingRequiredField {
			missing++
		}
	}
	if missing != 3 {
		t.Errorf("Expected 3 MISSING_REQUIRED_FIELD errors, got %d", missing)
	}
}

func TestValidateOrphanedAndDuplicateAssignments(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))

	// One orphan.
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "ghost", Role: roles.RoleStudent, Status: roles.AssignmentActive,
		AssignedBy: "admin", InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	issues, err := validator.ValidateOrphanedAssignments(ctx)
	if err != nil {
		t.Fatalf("ValidateOrphanedAssignments failed: %v", err)
	}
	if len(issues) != 1 || issues[0].Code != CodeOrphanedAssignment || issues[0].UserID != "ghost" {
		t.Fatalf("Expected one ORPHANED_ASSIGNMENT for ghost, got %v", issues)
	}
	if issues[0].Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", issues[0].Severity)
	}

	// Duplicates predate the unique index; mimic the pre-migration schema
	// by dropping it and inserting two active rows for the same tuple.
	if _, err := db.Exec(`DROP INDEX idx_role_assignments_active_tuple`); err != nil {
		t.Fatalf("Failed to drop index: %v", err)
	}
	now := time.Now().UTC()
	for _, id := range []string{"dup-1", "dup-2"} {
		_, err := db.Exec(`
			INSERT INTO role_assignments (id, user_id, role, status, assigned_by, assigned_at, is_temporary, institution_id, created_at)
			VALUES ($1, 'u1', 'teacher', 'active', 'admin', $2, 0, 'inst-1', $3)
		`, id, now, now)
		if err != nil {
			t.Fatalf("Failed to insert duplicate: %v", err)
		}
	}

	issues, err = validator.ValidateDuplicateAssignments(ctx)
	if err != nil {
		t.Fatalf("ValidateDuplicateAssignments failed: %v", err)
	}
	if len(issues) != 1 || issues[0].Code != CodeDuplicateAssignment {
		t.Fatalf("Expected exactly one DUPLICATE_ASSIGNMENT, got %v", issues)
	}
	if len(issues[0].AssignmentIDs) != 2 {
		t.Errorf("Expected both duplicate ids, got %v", issues[0].AssignmentIDs)
	}
}

func TestHealthScore(t *testing.T) {
	if got := HealthScore(nil); got != 100 {
		t.Errorf("Expected 100 for clean report, got %d", got)
	}

	issues := []Issue{{Severity: SeverityCritical}}
	if got := HealthScore(issues); got != 80 {
		t.Errorf("Expected one critical to cost exactly 20, got %d", got)
	}

	issues = []Issue{
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityLow},
	}
	if got := HealthScore(issues); got != 64 {
		t.Errorf("Expected 64, got %d", got)
	}

	// Floored at zero.
	var many []Issue
	for i := 0; i < 10; i++ {
		many = append(many, Issue{Severity: SeverityCritical})
	}
	if got := HealthScore(many); got != 0 {
		t.Errorf("Expected floor at 0, got %d", got)
	}
}

func TestValidateSystem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	validator := newTestValidator(t, store)
	ctx := context.Background()

	insertTestUser(t, db, "good", "inst-1", strPtr("teacher"))
	insertTestUser(t, db, "no-role", "inst-1", nil)

	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "good", Role: roles.RoleTeacher, Status: roles.AssignmentActive,
		AssignedBy: "admin", InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}
	if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
		UserID: "ghost", Role: roles.RoleStudent, Status: roles.AssignmentActive,
		AssignedBy: "admin", InstitutionID: "inst-1",
	}); err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	report, err := validator.ValidateSystem(ctx)
	if err != nil {
		t.Fatalf("ValidateSystem failed: %v", err)
	}

	if report.TotalUsers != 2 {
		t.Errorf("Expected 2 users, got %d", report.TotalUsers)
	}
	if report.ValidUsers != 1 || report.InvalidUsers != 1 {
		t.Errorf("Expected 1 valid / 1 invalid, got %d / %d", report.ValidUsers, report.InvalidUsers)
	}
	if report.Incomplete {
		t.Error("Expected complete report")
	}

	codes := map[string]int{}
	for _, issue := range report.Issues {
		codes[issue.Code]++
	}
	if codes[CodeMissingPrimaryRole] != 1 {
		t.Errorf("Expected one MISSING_PRIMARY_ROLE, got %v", codes)
	}
	if codes[CodeOrphanedAssignment] != 1 {
		t.Errorf("Expected one ORPHANED_ASSIGNMENT, got %v", codes)
	}

	// One high (missing primary role) + one high (orphan) = 80.
	if report.Summary.HighIssues != 2 {
		t.Errorf("Expected 2 high issues, got %+v", report.Summary)
	}
	if report.Summary.HealthScore != 80 {
		t.Errorf("Expected health score 80, got %d", report.Summary.HealthScore)
	}
	if report.Summary.HealthScore < 0 || report.Summary.HealthScore > 100 {
		t.Errorf("Health score out of bounds: %d", report.Summary.HealthScore)
	}
}

func TestValidateSystem_ExcessiveSystemAdmins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	ctx := context.Background()

	config := DefaultValidationConfig()
	config.MaxSystemAdmins = 2
	validator := NewValidator(store, config, observability.NewLogger(observability.ErrorLevel, nil))

	for i, id := range []string{"a", "b", "c"} {
		insertTestUser(t, db, id, "inst-1", strPtr("system_admin"))
		if err := store.CreateAssignment(ctx, &roles.RoleAssignment{
			UserID: id, Role: roles.RoleSystemAdmin, Status: roles.AssignmentActive,
			AssignedBy: "root", AssignedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
			InstitutionID: "inst-1",
		}); err != nil {
			t.Fatalf("CreateAssignment failed: %v", err)
		}
	}

	report, err := validator.ValidateSystem(ctx)
	if err != nil {
		t.Fatalf("ValidateSystem failed: %v", err)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Code == CodeExcessiveSystemAdmins {
			found = true
			if issue.Severity != SeverityMedium {
				t.Errorf("Expected medium severity, got %s", issue.Severity)
			}
		}
	}
	if !found {
		t.Errorf("Expected EXCESSIVE_SYSTEM_ADMINS, got %v", report.Issues)
	}
}

func TestValidateSystem_PublishesPopulationGauges(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := roles.NewStore(db)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	validator := NewValidator(store, nil, observability.NewLogger(observability.ErrorLevel, nil), WithMetrics(metrics))
	ctx := context.Background()

	insertTestUser(t, db, "u1", "inst-1", strPtr("teacher"))
	insertTestUser(t, db, "u2", "inst-1", strPtr("student"))
	now := time.Now().UTC()
	// A user still on the legacy representation only.
	if _, err := db.Exec(
		`INSERT INTO users (id, email, legacy_role, institution_id, created_at, updated_at)
		 VALUES ('u3', 'u3@example.com', 'instructor', 'inst-1', $1, $2)`, now, now,
	); err != nil {
		t.Fatalf("Failed to insert legacy user: %v", err)
	}

	for _, a := range []*roles.RoleAssignment{
		{UserID: "u1", Role: roles.RoleTeacher, Status: roles.AssignmentActive, AssignedBy: "admin", InstitutionID: "inst-1"},
		{UserID: "u2", Role: roles.RoleStudent, Status: roles.AssignmentActive, AssignedBy: "admin", InstitutionID: "inst-1"},
	} {
		if err := store.CreateAssignment(ctx, a); err != nil {
			t.Fatalf("CreateAssignment failed: %v", err)
		}
	}

	if _, err := validator.ValidateSystem(ctx); err != nil {
		t.Fatalf("ValidateSystem failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.ActiveAssignmentsTotal.WithLabelValues("teacher")); got != 1 {
		t.Errorf("teacher assignments gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveAssignmentsTotal.WithLabelValues("student")); got != 1 {
		t.Errorf("student assignments gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveAssignmentsTotal.WithLabelValues("system_admin")); got != 0 {
		t.Errorf("system_admin assignments gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.UsersPendingMigration); got != 1 {
		t.Errorf("pending migration gauge = %v, want 1", got)
	}
}
