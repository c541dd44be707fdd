package rollback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// Store persists snapshots and rollback operation records.
type Store struct {
	db *sql.DB
}

// NewStore creates a rollback store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot stores a snapshot. The payload goes in as one row, so a
// failed insert leaves no partial snapshot behind.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot payload: %w", err)
	}
	metadata, err := marshalMetadata(snap.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rollback_snapshots (id, created_at, description, user_count, assignment_count, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snap.ID, snap.CreatedAt, snap.Description, snap.UserCount, snap.AssignmentCount, string(payload), metadata)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads a snapshot including its payload. Returns
// roles.ErrNotFound when the id is unknown.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	var payload string
	var metadata sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, description, user_count, assignment_count, payload, metadata
		FROM rollback_snapshots WHERE id = $1
	`, id).Scan(&snap.ID, &snap.CreatedAt, &snap.Description, &snap.UserCount, &snap.AssignmentCount, &payload, &metadata)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", id, roles.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &snap.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot metadata: %w", err)
		}
	}
	return &snap, nil
}

// ListSnapshots returns snapshot listings without payloads, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	query := `
		SELECT id, created_at, description, user_count, assignment_count
		FROM rollback_snapshots
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.Description, &info.UserCount, &info.AssignmentCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// SaveOperation appends a rollback operation record.
func (s *Store) SaveOperation(ctx context.Context, op *Operation) error {
	affected, err := json.Marshal(op.AffectedUsers)
	if err != nil {
		return fmt.Errorf("failed to encode affected users: %w", err)
	}
	metadata, err := marshalMetadata(op.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode operation metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rollback_operations (id, op_type, created_at, affected_users, original_state, rollback_state, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, op.ID, string(op.Type), op.CreatedAt, string(affected), nullable(op.OriginalState), nullable(op.RollbackState), op.Reason, metadata)
	if err != nil {
		return fmt.Errorf("failed to save rollback operation: %w", err)
	}
	return nil
}

// ListOperations returns rollback operations, newest first.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]Operation, error) {
	query := `
		SELECT id, op_type, created_at, affected_users, original_state, rollback_state, reason, metadata
		FROM rollback_operations
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollback operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var opType, affected string
		var original, rollbackState, metadata sql.NullString
		if err := rows.Scan(&op.ID, &opType, &op.CreatedAt, &affected, &original, &rollbackState, &op.Reason, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan rollback operation: %w", err)
		}
		op.Type = OperationType(opType)
		if err := json.Unmarshal([]byte(affected), &op.AffectedUsers); err != nil {
			return nil, fmt.Errorf("failed to decode affected users: %w", err)
		}
		op.OriginalState = original.String
		op.RollbackState = rollbackState.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &op.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode operation metadata: %w", err)
			}
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func marshalMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
