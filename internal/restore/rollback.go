package restore

import (
	"context"
	"fmt"

	"dbvault/internal/backup"
)

// Rollback restores the emergency backup taken before a finished restore operation.
// Operations without an emergency backup fail with NO_RECOVERY_POINT and nothing is done.
func (o *Orchestrator) Rollback(ctx context.Context, restoreID string) (*Result, error) {
	op, err := o.ledger.GetRestore(ctx, restoreID)
	if err != nil {
		return nil, err
	}
	if !op.HasRecoveryPoint() {
		return nil, backup.NewNoRecoveryPointError(restoreID)
	}
	if !op.Status.Terminal() {
		return nil, backup.NewConflictError(fmt.Sprintf("restore operation %s is still %s", restoreID, op.Status), nil).
			WithContext("restore_id", restoreID)
	}

	o.logger.WithFields(map[string]interface{}{
		"restore_id":          restoreID,
		"emergency_backup_id": *op.EmergencyBackupID,
	}).Info("Rolling back restore")

	// The emergency backup is restored forced so a rollback never takes another emergency backup
	return o.Restore(ctx, Request{
		BackupID:   *op.EmergencyBackupID,
		Name:       "rollback of " + restoreID,
		Force:      true,
		RollbackOf: restoreID,
	})
}

// RecoveryPoints lists restore operations that can be rolled back, newest first
func (o *Orchestrator) RecoveryPoints(ctx context.Context, limit int) ([]*backup.RestoreOperation, error) {
	return o.ledger.ListRestores(ctx, backup.RestoreFilter{WithEmergencyBackupOnly: true, Limit: limit})
}

// History lists restore operations matching the filter, newest first
func (o *Orchestrator) History(ctx context.Context, filter backup.RestoreFilter) ([]*backup.RestoreOperation, error) {
	return o.ledger.ListRestores(ctx, filter)
}

// Get loads one restore operation
func (o *Orchestrator) Get(ctx context.Context, restoreID string) (*backup.RestoreOperation, error) {
	return o.ledger.GetRestore(ctx, restoreID)
}
