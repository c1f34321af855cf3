package cmd

import (
	"fmt"
	"time"

	"dbvault/internal/application"
	"dbvault/internal/backup"
	"dbvault/internal/confirmation"

	"github.com/spf13/cobra"
)

var (
	// Restore flags
	restoreName  string
	restoreForce bool

	// History flags
	historyBackupID    string
	historyStatus      string
	historySince       string
	historyLimit       int
	historyRecoverable bool
)

// restoreCmd replaces table contents with the rows of a backup
var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore the tables captured by a backup",
	Long: `Replace the contents of every table captured by a backup.

Before anything is replaced, an emergency backup of the current data is taken so the
restore can be undone with 'dbvault rollback'. --force skips the emergency backup; such a
restore cannot be rolled back. Tables that fail to restore are skipped and reported.

Examples:
  # Restore after confirming the plan
  dbvault restore 01J9Z6M3QK4W2T7Y8V5N0R1B3C

  # Unattended restore with a name
  dbvault restore 01J9Z6M3QK4W2T7Y8V5N0R1B3C --name "incident 112" --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

// rollbackCmd restores the emergency backup of a restore
var rollbackCmd = &cobra.Command{
	Use:   "rollback <restore-id>",
	Short: "Undo a restore from its emergency backup",
	Long: `Restore the emergency backup taken by a finished restore. The rollback is itself
recorded as a restore operation linked to the one it undoes.

Examples:
  # List restores that can be rolled back
  dbvault history --recoverable

  # Roll one back
  dbvault rollback 6f1c2a9e-7d44-4e0b-9a52-1f3c8d2b7e10`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

// historyCmd lists restore operations
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List restore operations",
	Long: `List restore and rollback operations recorded in the ledger, newest first.

Examples:
  dbvault history
  dbvault history --backup 01J9Z6M3QK4W2T7Y8V5N0R1B3C --status failed
  dbvault history --recoverable --limit 5`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	restoreCmd.Flags().StringVar(&restoreName, "name", "", "restore name (default is generated)")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "skip the emergency backup; the restore cannot be rolled back")

	historyCmd.Flags().StringVar(&historyBackupID, "backup", "", "only restores of this backup")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only restores in this status")
	historyCmd.Flags().StringVar(&historySince, "since", "", "only restores newer than a duration (24h) or an RFC3339 time")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of restores; 0 lists all")
	historyCmd.Flags().BoolVar(&historyRecoverable, "recoverable", false, "only finished restores that can be rolled back")

	rootCmd.AddCommand(restoreCmd, rollbackCmd, historyCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	backupID := args[0]

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	plan := s.vault.PlanRestore(cmd.Context(), backupID)
	if err := plan.Err(); err != nil {
		return err
	}

	proceed, err := s.confirm.ConfirmRestore(confirmation.RestoreSummary{
		BackupID:   plan.BackupID,
		BackupType: string(plan.BackupType),
		Tables:     plan.Tables,
		Records:    plan.Records,
		Force:      restoreForce,
	})
	if err != nil {
		return err
	}
	if !proceed {
		return confirmation.ErrCancelled
	}

	spinner := s.printer.StartSpinner(fmt.Sprintf("Restoring %d table(s) from %s", len(plan.Tables), backupID))
	resp := s.vault.RestoreBackup(cmd.Context(), application.RestoreBackupRequest{
		BackupID:     backupID,
		RestoreName:  restoreName,
		ForceRestore: restoreForce,
	})
	spinner.Stop("")

	return emitRestore(s, resp)
}

func runRollback(cmd *cobra.Command, args []string) error {
	restoreID := args[0]

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	op := s.vault.GetRestore(cmd.Context(), restoreID)
	if err := op.Err(); err != nil {
		return err
	}
	if !op.RollbackAvailable {
		return &application.ResponseError{
			Type:    string(backup.BackupErrorTypeNoRecoveryPoint),
			Message: fmt.Sprintf("restore %s (%s) has no recovery point to roll back to", op.ID, op.Status),
		}
	}

	proceed, err := s.confirm.ConfirmRollback(confirmation.RollbackSummary{
		RestoreID:         op.ID,
		RestoreStatus:     string(op.Status),
		EmergencyBackupID: op.EmergencyBackupID,
	})
	if err != nil {
		return err
	}
	if !proceed {
		return confirmation.ErrCancelled
	}

	spinner := s.printer.StartSpinner(fmt.Sprintf("Rolling back %s from %s", op.ID, op.EmergencyBackupID))
	resp := s.vault.RollbackRestore(cmd.Context(), restoreID)
	spinner.Stop("")

	return emitRestore(s, resp)
}

// emitRestore prints a restore outcome. A failed restore still shows what was recorded.
func emitRestore(s *session, resp *application.RestoreResponse) error {
	if !resp.Success && resp.ID != "" && !s.printer.Structured() {
		renderRestoreResult(s.printer, resp)
	}
	return emit(s.printer, resp, resp.Response, func() { renderRestoreResult(s.printer, resp) })
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter, err := buildRestoreFilter(time.Now())
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var resp *application.RestoreListResponse
	if historyRecoverable {
		resp = s.vault.RecoveryPoints(cmd.Context(), filter.Limit)
	} else {
		resp = s.vault.ListRestores(cmd.Context(), filter)
	}
	return emit(s.printer, resp, resp.Response, func() { renderRestoreList(s.printer, resp.Restores) })
}

// buildRestoreFilter turns the history flags into a ledger filter
func buildRestoreFilter(now time.Time) (backup.RestoreFilter, error) {
	filter := backup.RestoreFilter{BackupID: historyBackupID, Limit: historyLimit}
	if historyLimit < 0 {
		return filter, fmt.Errorf("--limit cannot be negative")
	}

	switch st := backup.RestoreStatus(historyStatus); st {
	case "", backup.RestoreStatusRequested, backup.RestoreStatusEmergencyTaken, backup.RestoreStatusRestoring,
		backup.RestoreStatusCompleted, backup.RestoreStatusFailed:
		filter.Status = st
	default:
		return filter, fmt.Errorf("invalid --status %q", historyStatus)
	}

	since, err := parseSince(historySince, now)
	if err != nil {
		return filter, err
	}
	filter.CreatedAfter = since
	return filter, nil
}
