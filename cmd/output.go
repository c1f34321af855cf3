package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dbvault/internal/application"
	"dbvault/internal/backup"
	"dbvault/internal/display"
)

func renderBackupResult(p *display.Printer, resp *application.BackupResponse) {
	if resp.Success {
		p.Success("Backup %s completed in %s", resp.ID, formatDuration(resp.ExecutionTime))
	}
	p.Field("ID", resp.ID)
	p.Field("Type", resp.Type)
	p.Field("Status", resp.Status)
	renderCounts(p, resp.Counts)
	if len(resp.ProtectedTables) > 0 {
		p.Field("Protected tables", strings.Join(resp.ProtectedTables, ", "))
	}

	if len(resp.TableErrors) > 0 {
		p.Header("Tables not captured")
		renderTableErrors(p, resp.TableErrors)
	}
	for _, w := range resp.Warnings {
		p.Warning("%s: %s", w.Class, w.Message)
	}
}

func renderCounts(p *display.Printer, c backup.ObjectCounts) {
	p.Field("Tables", c.Tables)
	p.Field("Records", c.Records)
	if c.Views+c.Functions+c.Triggers+c.Indexes+c.Policies+c.EnumTypes > 0 {
		p.Field("Catalog", fmt.Sprintf("%d views, %d functions, %d triggers, %d indexes, %d policies, %d enum types",
			c.Views, c.Functions, c.Triggers, c.Indexes, c.Policies, c.EnumTypes))
	}
}

func renderTableErrors(p *display.Printer, errs []backup.TableError) {
	table := display.NewTable("TABLE", "ERROR")
	for _, e := range errs {
		table.AddRow(e.Table, e.Error)
	}
	p.Table(table)
}

func renderBackupList(p *display.Printer, records []*backup.BackupRecord) {
	if len(records) == 0 {
		p.Info("No backups found")
		return
	}

	table := display.NewTable("ID", "NAME", "TYPE", "STATUS", "TABLES", "RECORDS", "CREATED")
	for _, r := range records {
		table.AddRow(r.ID, r.Name, string(r.Type), string(r.Status),
			strconv.Itoa(r.Counts.Tables), strconv.FormatInt(r.Counts.Records, 10), formatTime(r.CreatedAt))
	}
	p.Table(table)
	p.Info("%d backup(s)", len(records))
}

func renderBackupDetail(p *display.Printer, resp *application.BackupDetailResponse) {
	r := resp.Backup
	p.Header("Backup " + r.ID)
	p.Field("Name", r.Name)
	p.Field("Type", r.Type)
	if r.Scope != "" && r.Scope != r.Type {
		p.Field("Scope", r.Scope)
	}
	p.Field("Status", r.Status)
	renderCounts(p, r.Counts)
	p.Field("Created", formatTime(r.CreatedAt))
	p.Field("Execution time", formatDuration(r.ExecutionTime))
	if r.CreatedBy != "" {
		p.Field("Created by", r.CreatedBy)
	}
	if r.Notes != "" {
		p.Field("Notes", r.Notes)
	}
	if r.ArtifactLocation != "" {
		p.Field("Artifact", r.ArtifactLocation)
	}
	if r.Error != "" {
		p.Error("%s", r.Error)
	}

	if resp.Manifest == nil || len(resp.Manifest.Tables) == 0 {
		return
	}
	p.Header("Tables")
	table := display.NewTable("TABLE", "ROWS", "TRUNCATED", "ERROR")
	for _, t := range resp.Manifest.Tables {
		truncated := ""
		if t.Truncated {
			truncated = fmt.Sprintf("yes (%d total)", t.RowCount)
		}
		table.AddRow(t.Name, strconv.Itoa(t.Rows), truncated, t.Error)
	}
	p.Table(table)
}

func renderRestoreResult(p *display.Printer, resp *application.RestoreResponse) {
	verb := "Restore"
	if resp.RollbackOf != "" {
		verb = "Rollback"
	}
	if resp.Success {
		p.Success("%s %s %s", verb, resp.ID, resp.Status)
	}

	p.Field("ID", resp.ID)
	p.Field("Backup", resp.BackupID)
	if resp.RollbackOf != "" {
		p.Field("Rollback of", resp.RollbackOf)
	}
	p.Field("Status", resp.Status)
	p.Field("Tables restored", resp.TablesRestored)
	p.Field("Records restored", resp.RecordsRestored)
	if resp.EmergencyBackupID != "" {
		p.Field("Emergency backup", resp.EmergencyBackupID)
	}
	if resp.RestoreError != "" && resp.Success {
		p.Warning("%s", resp.RestoreError)
	}

	if len(resp.SkippedTables) > 0 {
		p.Header("Skipped tables")
		renderTableErrors(p, resp.SkippedTables)
	}

	switch {
	case resp.RollbackAvailable:
		p.Info("Undo with: dbvault rollback %s", resp.ID)
	case resp.Forced:
		p.Warning("Forced restore: no emergency backup was taken")
	}
}

func renderRestoreList(p *display.Printer, ops []*backup.RestoreOperation) {
	if len(ops) == 0 {
		p.Info("No restores found")
		return
	}

	table := display.NewTable("ID", "BACKUP", "STATUS", "TABLES", "RECORDS", "EMERGENCY BACKUP", "ROLLBACK OF", "CREATED")
	for _, op := range ops {
		table.AddRow(op.ID, op.BackupID, string(op.Status),
			strconv.Itoa(op.TablesRestored), strconv.FormatInt(op.RecordsRestored, 10),
			deref(op.EmergencyBackupID), deref(op.RollbackOf), formatTime(op.CreatedAt))
	}
	p.Table(table)
	p.Info("%d restore(s)", len(ops))
}

func renderDiscover(p *display.Printer, resp *application.DiscoverResponse) {
	p.Header(fmt.Sprintf("%s %s (%s)", resp.Dialect, resp.Namespace, resp.ServerVersion))

	table := display.NewTable("TABLE", "ROWS", "CRITICAL")
	for _, t := range resp.Tables {
		critical := ""
		if t.Critical {
			critical = "yes"
		}
		table.AddRow(t.Name, strconv.FormatInt(t.RowCount, 10), critical)
	}
	p.Table(table)

	c := resp.Counts
	p.Field("Tables", c.Tables)
	p.Field("Views", c.Views)
	p.Field("Functions", c.Functions)
	p.Field("Triggers", c.Triggers)
	p.Field("Indexes", c.Indexes)
	p.Field("Policies", c.Policies)
	p.Field("Enum types", c.EnumTypes)

	for _, w := range resp.Warnings {
		p.Warning("%s: %s", w.Class, w.Message)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
