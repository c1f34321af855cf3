package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dbvault/internal/application"
	"dbvault/internal/backup"

	"github.com/spf13/cobra"
)

var (
	// Backup creation flags
	backupName  string
	backupType  string
	backupNotes string

	// Backup listing flags
	listType   string
	listStatus string
	listSince  string
	listLimit  int

	// Export flags
	exportAs     string
	exportOutput string
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage database backups",
	Long: `Create, list, inspect and export backups of the target database.

A backup captures the rows of every user table (data_only and full) or of the critical
tables only (schema_only). full backups also record the catalog: views, functions,
triggers, indexes, policies and enum types.

Examples:
  # Create a full backup
  dbvault backup create --name pre-release

  # List the backups of the last day
  dbvault backup list --since 24h

  # Show what a backup captured
  dbvault backup show 01J9Z6M3QK4W2T7Y8V5N0R1B3C

  # Export a backup as SQL statements
  dbvault backup export 01J9Z6M3QK4W2T7Y8V5N0R1B3C --as sql --output backup.sql`,
}

// backupCreateCmd creates a new backup
var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new database backup",
	Long: `Create a new backup of the target database.

Rows beyond engine.row_cap are not captured; the manifest marks such tables as truncated.
A table that cannot be read is recorded with its error and the backup continues.

Examples:
  dbvault backup create
  dbvault backup create --type schema_only --name before-migration
  dbvault backup create --type data_only --notes "ticket 4711"`,
	Args: cobra.NoArgs,
	RunE: runBackupCreate,
}

// backupListCmd lists existing backups
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List existing backups",
	Long: `List backups recorded in the ledger, newest first.

Examples:
  dbvault backup list
  dbvault backup list --type full --status completed
  dbvault backup list --since 2026-01-01T00:00:00Z --format json`,
	Args: cobra.NoArgs,
	RunE: runBackupList,
}

var backupShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show a backup and the tables it captured",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupShow,
}

var backupExportCmd = &cobra.Command{
	Use:   "export <backup-id>",
	Short: "Export the artifact of a backup as JSON or SQL",
	Long: `Write the decoded artifact of a backup as a JSON document or as SQL INSERT statements.

Examples:
  dbvault backup export 01J9Z6M3QK4W2T7Y8V5N0R1B3C > artifact.json
  dbvault backup export 01J9Z6M3QK4W2T7Y8V5N0R1B3C --as sql --output artifact.sql`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupExport,
}

var backupDumpCmd = &cobra.Command{
	Use:   "dump-table <table>",
	Short: "Stream every row of one table as JSON lines",
	Long: `Stream every row of one table as JSON lines, without the row cap that applies to
backups. Nothing is recorded in the ledger.

Examples:
  dbvault backup dump-table orders > orders.jsonl
  dbvault backup dump-table orders --output orders.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupDump,
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "backup name (default is generated)")
	backupCreateCmd.Flags().StringVar(&backupType, "type", string(backup.BackupTypeFull), "backup type (data_only, schema_only, full)")
	backupCreateCmd.Flags().StringVar(&backupNotes, "notes", "", "free-form notes stored with the backup")

	backupListCmd.Flags().StringVar(&listType, "type", "", "only backups of this type")
	backupListCmd.Flags().StringVar(&listStatus, "status", "", "only backups in this status (in_progress, completed, failed)")
	backupListCmd.Flags().StringVar(&listSince, "since", "", "only backups newer than a duration (24h) or an RFC3339 time")
	backupListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of backups; 0 lists all")

	backupExportCmd.Flags().StringVar(&exportAs, "as", application.ExportFormatJSON, "artifact format (json, sql)")
	backupExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")
	backupDumpCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupShowCmd, backupExportCmd, backupDumpCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	spinner := s.printer.StartSpinner(fmt.Sprintf("Capturing %s backup", backupType))
	resp := s.vault.CreateBackup(cmd.Context(), application.CreateBackupRequest{
		Name:  backupName,
		Type:  backupType,
		Notes: backupNotes,
	})
	spinner.Stop("")

	if !resp.Success && resp.ID != "" && !s.printer.Structured() {
		renderBackupResult(s.printer, resp)
	}
	return emit(s.printer, resp, resp.Response, func() { renderBackupResult(s.printer, resp) })
}

func runBackupList(cmd *cobra.Command, args []string) error {
	filter, err := buildBackupFilter(time.Now())
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resp := s.vault.ListBackups(cmd.Context(), filter)
	return emit(s.printer, resp, resp.Response, func() { renderBackupList(s.printer, resp.Backups) })
}

// buildBackupFilter turns the list flags into a ledger filter
func buildBackupFilter(now time.Time) (backup.BackupFilter, error) {
	filter := backup.BackupFilter{Limit: listLimit}
	if listLimit < 0 {
		return filter, fmt.Errorf("--limit cannot be negative")
	}

	switch t := backup.BackupType(listType); t {
	case "", backup.BackupTypeDataOnly, backup.BackupTypeSchemaOnly, backup.BackupTypeFull, backup.BackupTypeEmergency:
		filter.Type = t
	default:
		return filter, fmt.Errorf("invalid --type %q", listType)
	}

	switch st := backup.BackupStatus(listStatus); st {
	case "", backup.BackupStatusInProgress, backup.BackupStatusCompleted, backup.BackupStatusFailed:
		filter.Status = st
	default:
		return filter, fmt.Errorf("invalid --status %q", listStatus)
	}

	since, err := parseSince(listSince, now)
	if err != nil {
		return filter, err
	}
	filter.CreatedAfter = since
	return filter, nil
}

// parseSince accepts a duration back from now or an RFC3339 time
func parseSince(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return nil, fmt.Errorf("invalid --since %q: duration cannot be negative", value)
		}
		t := now.Add(-d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --since %q: use a duration like 24h or an RFC3339 time", value)
	}
	return &t, nil
}

func runBackupShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resp := s.vault.GetBackup(cmd.Context(), args[0])
	return emit(s.printer, resp, resp.Response, func() { renderBackupDetail(s.printer, resp) })
}

func runBackupExport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(exportAs)
	if format != application.ExportFormatJSON && format != application.ExportFormatSQL {
		return fmt.Errorf("invalid --as %q: must be json or sql", exportAs)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resp := s.vault.ExportArtifact(cmd.Context(), args[0], format)
	if err := resp.Err(); err != nil {
		return err
	}
	if exportOutput == "" {
		_, err := cmd.OutOrStdout().Write(resp.Data)
		return err
	}
	if err := writeOutputFile(exportOutput, func(w io.Writer) error {
		_, err := w.Write(resp.Data)
		return err
	}); err != nil {
		return err
	}
	s.printer.Success("Exported backup %s to %s (%s)", args[0], exportOutput, formatBytes(int64(len(resp.Data))))
	return nil
}

func runBackupDump(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var resp *application.DumpResponse
	if exportOutput == "" {
		resp = s.vault.DumpTable(cmd.Context(), args[0], cmd.OutOrStdout())
	} else if err := writeOutputFile(exportOutput, func(w io.Writer) error {
		resp = s.vault.DumpTable(cmd.Context(), args[0], w)
		return nil
	}); err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}

	if exportOutput == "" {
		s.logger.WithField("table", resp.Table).Infof("Dumped %d rows", resp.Rows)
		return nil
	}
	s.printer.Success("Dumped %d rows of %s to %s", resp.Rows, resp.Table, exportOutput)
	return nil
}

// writeOutputFile creates path readable only by its owner and hands it to write
func writeOutputFile(path string, write func(io.Writer) error) error {
	f, err := appFs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
