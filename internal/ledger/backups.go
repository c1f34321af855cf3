package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dbvault/internal/backup"
)

// backupRow is the flat column mapping of a backup record
type backupRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Type             string    `db:"backup_type"`
	Scope            string    `db:"scope"`
	Status           string    `db:"status"`
	TableCount       int       `db:"table_count"`
	RecordCount      int64     `db:"record_count"`
	TriggerCount     int       `db:"trigger_count"`
	IndexCount       int       `db:"index_count"`
	PolicyCount      int       `db:"policy_count"`
	FunctionCount    int       `db:"function_count"`
	EnumTypeCount    int       `db:"enum_type_count"`
	ViewCount        int       `db:"view_count"`
	ProtectedTables  string    `db:"protected_tables"`
	Notes            string    `db:"notes"`
	Error            string    `db:"error_message"`
	CreatedBy        string    `db:"created_by"`
	ArtifactLocation string    `db:"artifact_location"`
	ExecutionTimeMs  int64     `db:"execution_time_ms"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

const backupSelect = `SELECT id, name, backup_type, scope, status, table_count, record_count,
	trigger_count, index_count, policy_count, function_count, enum_type_count, view_count,
	protected_tables, notes, error_message, created_by, artifact_location, execution_time_ms,
	created_at, updated_at FROM `

func newBackupRow(r *backup.BackupRecord) (backupRow, error) {
	protected := []string{}
	if r.ProtectedTables != nil {
		protected = r.ProtectedTables
	}
	encoded, err := json.Marshal(protected)
	if err != nil {
		return backupRow{}, err
	}
	return backupRow{
		ID:               r.ID,
		Name:             r.Name,
		Type:             string(r.Type),
		Scope:            string(r.Scope),
		Status:           string(r.Status),
		TableCount:       r.Counts.Tables,
		RecordCount:      r.Counts.Records,
		TriggerCount:     r.Counts.Triggers,
		IndexCount:       r.Counts.Indexes,
		PolicyCount:      r.Counts.Policies,
		FunctionCount:    r.Counts.Functions,
		EnumTypeCount:    r.Counts.EnumTypes,
		ViewCount:        r.Counts.Views,
		ProtectedTables:  string(encoded),
		Notes:            r.Notes,
		Error:            r.Error,
		CreatedBy:        r.CreatedBy,
		ArtifactLocation: r.ArtifactLocation,
		ExecutionTimeMs:  r.ExecutionTime.Milliseconds(),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}, nil
}

func (row backupRow) record() *backup.BackupRecord {
	var protected []string
	if row.ProtectedTables != "" {
		_ = json.Unmarshal([]byte(row.ProtectedTables), &protected)
	}
	if len(protected) == 0 {
		protected = nil
	}
	return &backup.BackupRecord{
		ID:     row.ID,
		Name:   row.Name,
		Type:   backup.BackupType(row.Type),
		Scope:  backup.BackupType(row.Scope),
		Status: backup.BackupStatus(row.Status),
		Counts: backup.ObjectCounts{
			Tables:    row.TableCount,
			Records:   row.RecordCount,
			Triggers:  row.TriggerCount,
			Indexes:   row.IndexCount,
			Policies:  row.PolicyCount,
			Functions: row.FunctionCount,
			EnumTypes: row.EnumTypeCount,
			Views:     row.ViewCount,
		},
		ProtectedTables:  protected,
		Notes:            row.Notes,
		Error:            row.Error,
		CreatedBy:        row.CreatedBy,
		ArtifactLocation: row.ArtifactLocation,
		ExecutionTime:    time.Duration(row.ExecutionTimeMs) * time.Millisecond,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

// CreateBackup inserts a backup record
func (l *Ledger) CreateBackup(ctx context.Context, r *backup.BackupRecord) error {
	row, err := newBackupRow(r)
	if err != nil {
		return fmt.Errorf("failed to encode backup record: %w", err)
	}

	query := `INSERT INTO ` + l.backups + ` (id, name, backup_type, scope, status, table_count,
		record_count, trigger_count, index_count, policy_count, function_count, enum_type_count,
		view_count, protected_tables, notes, error_message, created_by, artifact_location,
		execution_time_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = l.exec(ctx, query,
		row.ID, row.Name, row.Type, row.Scope, row.Status, row.TableCount,
		row.RecordCount, row.TriggerCount, row.IndexCount, row.PolicyCount, row.FunctionCount, row.EnumTypeCount,
		row.ViewCount, row.ProtectedTables, row.Notes, row.Error, row.CreatedBy, row.ArtifactLocation,
		row.ExecutionTimeMs, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create backup record: %w", err)
	}
	return nil
}

// FinalizeBackup writes the terminal state of an in_progress record. A record that is
// already terminal is a conflict; terminal records never change.
func (l *Ledger) FinalizeBackup(ctx context.Context, r *backup.BackupRecord) error {
	if !r.Status.Terminal() {
		return backup.NewValidationError(fmt.Sprintf("cannot finalize backup %s with status %s", r.ID, r.Status), nil)
	}
	row, err := newBackupRow(r)
	if err != nil {
		return fmt.Errorf("failed to encode backup record: %w", err)
	}

	query := `UPDATE ` + l.backups + ` SET status = ?, table_count = ?, record_count = ?,
		trigger_count = ?, index_count = ?, policy_count = ?, function_count = ?,
		enum_type_count = ?, view_count = ?, protected_tables = ?, error_message = ?,
		artifact_location = ?, execution_time_ms = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	affected, err := l.exec(ctx, query,
		row.Status, row.TableCount, row.RecordCount,
		row.TriggerCount, row.IndexCount, row.PolicyCount, row.FunctionCount,
		row.EnumTypeCount, row.ViewCount, row.ProtectedTables, row.Error,
		row.ArtifactLocation, row.ExecutionTimeMs, row.UpdatedAt,
		row.ID, string(backup.BackupStatusInProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize backup record: %w", err)
	}
	if affected == 0 {
		return backup.NewConflictError(fmt.Sprintf("backup %s is not in progress", r.ID), nil).
			WithContext("backup_id", r.ID)
	}
	return nil
}

// GetBackup loads one backup record
func (l *Ledger) GetBackup(ctx context.Context, id string) (*backup.BackupRecord, error) {
	var row backupRow
	query := l.db.Rebind(backupSelect + l.backups + ` WHERE id = ?`)
	if err := l.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backup.NewNotFoundError(fmt.Sprintf("backup %s not found", id), nil).
				WithContext("backup_id", id)
		}
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	return row.record(), nil
}

// ListBackups returns backup records matching the filter, newest first
func (l *Ledger) ListBackups(ctx context.Context, filter backup.BackupFilter) ([]*backup.BackupRecord, error) {
	query := backupSelect + l.backups + ` WHERE 1=1`
	args := []interface{}{}

	if filter.Type != "" {
		query += " AND backup_type = ?"
		args = append(args, string(filter.Type))
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

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []backupRow
	if err := l.db.SelectContext(ctx, &rows, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	records := make([]*backup.BackupRecord, len(rows))
	for i, row := range rows {
		records[i] = row.record()
	}
	return records, nil
}
