package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dbvault/internal/backup"
)

const restoreSelect = `SELECT id, backup_id, emergency_backup_id, name, backup_type, status, forced,
	rollback_of, tables_restored, records_restored, error_message, created_at, updated_at,
	completed_at FROM `

// CreateRestore inserts a restore operation
func (l *Ledger) CreateRestore(ctx context.Context, op *backup.RestoreOperation) error {
	query := `INSERT INTO ` + l.restores + ` (id, backup_id, emergency_backup_id, name, backup_type,
		status, forced, rollback_of, tables_restored, records_restored, error_message, created_at,
		updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.exec(ctx, query,
		op.ID, op.BackupID, op.EmergencyBackupID, op.Name, string(op.Type),
		string(op.Status), op.Forced, op.RollbackOf, op.TablesRestored, op.RecordsRestored, op.Error, op.CreatedAt.UTC(),
		op.UpdatedAt.UTC(), op.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create restore operation: %w", err)
	}
	return nil
}

// UpdateRestore writes the current state of a restore operation. Operations already in a
// terminal status are never updated again.
func (l *Ledger) UpdateRestore(ctx context.Context, op *backup.RestoreOperation) error {
	query := `UPDATE ` + l.restores + ` SET emergency_backup_id = ?, status = ?, tables_restored = ?,
		records_restored = ?, error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`

	affected, err := l.exec(ctx, query,
		op.EmergencyBackupID, string(op.Status), op.TablesRestored,
		op.RecordsRestored, op.Error, op.UpdatedAt.UTC(), op.CompletedAt,
		op.ID, string(backup.RestoreStatusCompleted), string(backup.RestoreStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to update restore operation: %w", err)
	}
	if affected == 0 {
		return backup.NewConflictError(fmt.Sprintf("restore operation %s is missing or already finished", op.ID), nil).
			WithContext("restore_id", op.ID)
	}
	return nil
}

// GetRestore loads one restore operation
func (l *Ledger) GetRestore(ctx context.Context, id string) (*backup.RestoreOperation, error) {
	var op backup.RestoreOperation
	query := l.db.Rebind(restoreSelect + l.restores + ` WHERE id = ?`)
	if err := l.db.GetContext(ctx, &op, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backup.NewNotFoundError(fmt.Sprintf("restore operation %s not found", id), nil).
				WithContext("restore_id", id)
		}
		return nil, fmt.Errorf("failed to get restore operation: %w", err)
	}
	normalizeRestore(&op)
	return &op, nil
}

// ListRestores returns restore operations matching the filter, newest first
func (l *Ledger) ListRestores(ctx context.Context, filter backup.RestoreFilter) ([]*backup.RestoreOperation, error) {
	query := restoreSelect + l.restores + ` WHERE 1=1`
	args := []interface{}{}

	if filter.BackupID != "" {
		query += " AND backup_id = ?"
		args = append(args, filter.BackupID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.CreatedAfter != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		query += " AND created_at <= ?"
		args = append(args, filter.CreatedBefore.UTC())
	}
	if filter.WithEmergencyBackupOnly {
		query += " AND emergency_backup_id IS NOT NULL AND emergency_backup_id <> ''"
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	ops := []*backup.RestoreOperation{}
	if err := l.db.SelectContext(ctx, &ops, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list restore operations: %w", err)
	}
	for _, op := range ops {
		normalizeRestore(op)
	}
	return ops, nil
}

func normalizeRestore(op *backup.RestoreOperation) {
	op.CreatedAt = op.CreatedAt.UTC()
	op.UpdatedAt = op.UpdatedAt.UTC()
	if op.CompletedAt != nil {
		t := op.CompletedAt.UTC()
		op.CompletedAt = &t
	}
}
