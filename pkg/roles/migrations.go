package roles

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the migrations for the role subsystem's tables. The
// users, institutions, and departments tables are owned by the identity
// subsystem and are expected to exist already.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					role VARCHAR(50) NOT NULL,
					status VARCHAR(20) NOT NULL,
					assigned_by VARCHAR(64) NOT NULL,
					assigned_at TIMESTAMP WITH TIME ZONE NOT NULL,
					expires_at TIMESTAMP WITH TIME ZONE,
					is_temporary BOOLEAN NOT NULL DEFAULT FALSE,
					institution_id VARCHAR(64) NOT NULL,
					department_id VARCHAR(64),
					bulk_operation_id VARCHAR(64),
					restored_by VARCHAR(64),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX idx_role_assignments_user_id ON role_assignments(user_id);
				CREATE INDEX idx_role_assignments_status ON role_assignments(status);
				CREATE INDEX idx_role_assignments_bulk_operation_id ON role_assignments(bulk_operation_id);
				CREATE INDEX idx_role_assignments_expires_at ON role_assignments(expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Enforce single active assignment per tuple",
			SQL: `
				CREATE UNIQUE INDEX idx_role_assignments_active_tuple
				ON role_assignments(user_id, role, institution_id, COALESCE(department_id, ''))
				WHERE status = 'active';
			`,
		},
		{
			Version:     3,
			Description: "Create role_audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_audit_log (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					old_role VARCHAR(50),
					new_role VARCHAR(50) NOT NULL,
					changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
					actor VARCHAR(64) NOT NULL
				);

				CREATE INDEX idx_role_audit_log_user_id ON role_audit_log(user_id);
				CREATE INDEX idx_role_audit_log_changed_at ON role_audit_log(changed_at);
			`,
		},
		{
			Version:     4,
			Description: "Create rollback_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rollback_snapshots (
					id VARCHAR(100) PRIMARY KEY,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					description TEXT NOT NULL,
					user_count INTEGER NOT NULL,
					assignment_count INTEGER NOT NULL,
					payload TEXT NOT NULL,
					metadata TEXT
				);

				CREATE INDEX idx_rollback_snapshots_created_at ON rollback_snapshots(created_at);
			`,
		},
		{
			Version:     5,
			Description: "Create rollback_operations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rollback_operations (
					id VARCHAR(100) PRIMARY KEY,
					op_type VARCHAR(50) NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					affected_users TEXT NOT NULL,
					original_state TEXT,
					rollback_state TEXT,
					reason TEXT NOT NULL,
					metadata TEXT
				);

				CREATE INDEX idx_rollback_operations_created_at ON rollback_operations(created_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations inside transactions, tracking
// applied versions in role_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS role_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM role_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO role_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
