// Package restore replaces table contents with the rows of a stored backup artifact.
//
// Every restore is tracked as a RestoreOperation in the ledger and, unless forced, is
// preceded by an emergency backup of the current state so it can be rolled back.
package restore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	"dbvault/internal/lease"
	"dbvault/internal/logging"
	"dbvault/internal/schema"

	"github.com/oklog/ulid/v2"
)

// Ledger is the subset of the operation ledger used by restores
type Ledger interface {
	GetBackup(ctx context.Context, id string) (*backup.BackupRecord, error)
	CreateRestore(ctx context.Context, op *backup.RestoreOperation) error
	UpdateRestore(ctx context.Context, op *backup.RestoreOperation) error
	GetRestore(ctx context.Context, id string) (*backup.RestoreOperation, error)
	ListRestores(ctx context.Context, filter backup.RestoreFilter) ([]*backup.RestoreOperation, error)
}

// ArtifactReader loads stored artifacts
type ArtifactReader interface {
	Fetch(ctx context.Context, id string) (*backup.Artifact, error)
}

// EmergencyBackuper takes the pre-restore backup
type EmergencyBackuper interface {
	Build(ctx context.Context, req backup.BuildRequest) (*backup.BuildResult, error)
	CriticalTables() backup.CriticalTableSet
}

// TxBeginner opens the per-table transactions
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Config bounds restore execution
type Config struct {
	Namespace        string
	TableTimeout     time.Duration
	OperationTimeout time.Duration
	// FinalizeTimeout bounds the ledger write of a terminal state after ctx has ended
	FinalizeTimeout time.Duration
	// MaxRowsPerStatement caps a multi-row INSERT; the dialect's bind limit caps it further
	MaxRowsPerStatement int
}

func (c *Config) setDefaults() {
	if c.TableTimeout <= 0 {
		c.TableTimeout = 5 * time.Minute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Minute
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 30 * time.Second
	}
	if c.MaxRowsPerStatement <= 0 {
		c.MaxRowsPerStatement = 500
	}
}

// Request describes one restore
type Request struct {
	BackupID string
	Name     string
	// Force skips the emergency backup
	Force bool
	// RollbackOf links a rollback to the operation it undoes
	RollbackOf string
}

// Result is the outcome of a restore, returned on success and on failure once an
// operation exists
type Result struct {
	Operation         *backup.RestoreOperation `json:"operation"`
	RollbackAvailable bool                     `json:"rollback_available"`
	SkippedTables     []backup.TableError      `json:"skipped_tables,omitempty"`
}

// Orchestrator runs restores and rollbacks
type Orchestrator struct {
	db        TxBeginner
	dialect   database.Dialect
	ledger    Ledger
	artifacts ArtifactReader
	builder   EmergencyBackuper
	inspector backup.Discoverer
	leases    *lease.Manager
	config    Config
	logger    *logging.Logger
}

// NewOrchestrator creates a restore orchestrator. The lease manager must be the one shared
// with the backup builder.
func NewOrchestrator(db TxBeginner, dialect database.Dialect, ledger Ledger, artifacts ArtifactReader,
	builder EmergencyBackuper, inspector backup.Discoverer, leases *lease.Manager, config Config,
	logger *logging.Logger) *Orchestrator {
	config.setDefaults()
	if leases == nil {
		leases = lease.NewManager()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		db:        db,
		dialect:   dialect,
		ledger:    ledger,
		artifacts: artifacts,
		builder:   builder,
		inspector: inspector,
		leases:    leases,
		config:    config,
		logger:    logger,
	}
}

// NewRestoreID returns a time-ordered restore operation id
func NewRestoreID() string {
	return "restore-" + ulid.Make().String()
}

// Restore replaces the tables of a backup artifact. Pre-check failures (unknown or
// incomplete backup, unreadable artifact) return before any operation is recorded.
func (o *Orchestrator) Restore(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.BackupID) == "" {
		return nil, backup.NewValidationError("backup id is required", nil)
	}

	record, err := o.ledger.GetBackup(ctx, req.BackupID)
	if err != nil {
		return nil, err
	}
	if record.Status != backup.BackupStatusCompleted {
		return nil, backup.NewValidationError(
			fmt.Sprintf("backup %s is %s; only completed backups can be restored", record.ID, record.Status), nil).
			WithContext("backup_id", record.ID)
	}
	artifact, err := o.artifacts.Fetch(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.OperationTimeout)
	defer cancel()

	start := time.Now()
	now := start.UTC()
	op := &backup.RestoreOperation{
		ID:        NewRestoreID(),
		BackupID:  record.ID,
		Name:      strings.TrimSpace(req.Name),
		Type:      record.Type,
		Status:    backup.RestoreStatusRequested,
		Forced:    req.Force,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if op.Name == "" {
		op.Name = "restore of " + record.ID
	}
	if req.RollbackOf != "" {
		rollbackOf := req.RollbackOf
		op.RollbackOf = &rollbackOf
	}
	if err := o.ledger.CreateRestore(ctx, op); err != nil {
		return nil, backup.NewPersistError("failed to record restore operation", err)
	}
	result := &Result{Operation: op}

	scope := record.Scope
	if scope == "" {
		scope = record.Type
	}

	targets, skipped := o.targets(artifact, scope)
	result.SkippedTables = skipped
	if err := refuseTruncated(targets); err != nil {
		return result, o.fail(ctx, result, start, err)
	}

	if !req.Force {
		emergency, err := o.builder.Build(ctx, backup.BuildRequest{
			Type:  backup.BackupTypeEmergency,
			Scope: scope,
			Name:  "emergency before " + op.ID,
			Notes: "taken before restoring " + record.ID,
		})
		if err != nil {
			return result, o.fail(ctx, result, start, backup.NewPersistError("emergency backup failed; nothing was restored", err))
		}
		emergencyID := emergency.Record.ID
		op.EmergencyBackupID = &emergencyID
		if err := o.advance(ctx, op, backup.RestoreStatusEmergencyTaken); err != nil {
			return result, o.fail(ctx, result, start, err)
		}
	}

	if err := o.checkTargets(ctx, targets); err != nil {
		return result, o.fail(ctx, result, start, err)
	}

	keys := make([]string, 0, len(targets)+1)
	keys = append(keys, lease.BackupKey(record.ID))
	for _, t := range targets {
		keys = append(keys, lease.TableKey(t.Name))
	}
	held, err := o.leases.Acquire(ctx, lease.Exclusive, keys...)
	if err != nil {
		return result, o.fail(ctx, result, start, backup.NewConflictError("could not lock tables for restore", err))
	}
	defer held.Release()

	if err := o.advance(ctx, op, backup.RestoreStatusRestoring); err != nil {
		return result, o.fail(ctx, result, start, err)
	}

	for i, table := range targets {
		if err := ctx.Err(); err != nil {
			return result, o.fail(ctx, result, start,
				backup.NewRestoreTableError(table.Name, i+1, fmt.Errorf("restore stopped before table: %w", err)))
		}
		records, err := o.restoreTable(ctx, artifact.Namespace, table)
		if err != nil {
			return result, o.fail(ctx, result, start, backup.NewRestoreTableError(table.Name, i+1, err))
		}
		op.TablesRestored++
		op.RecordsRestored += records
		o.logger.WithFields(map[string]interface{}{
			"restore_id": op.ID,
			"table":      table.Name,
			"records":    records,
		}).Debug("Table restored")
	}

	completed := time.Now().UTC()
	op.Status = backup.RestoreStatusCompleted
	op.UpdatedAt = completed
	op.CompletedAt = &completed
	if err := o.ledger.UpdateRestore(ctx, op); err != nil {
		return result, o.fail(ctx, result, start, backup.NewPersistError("failed to record restore completion", err))
	}

	result.RollbackAvailable = op.HasRecoveryPoint()
	o.logger.LogRestore(op.ID, op.BackupID, string(op.Status), op.TablesRestored, op.RecordsRestored,
		emergencyID(op), time.Since(start), nil)
	return result, nil
}

// targets selects the artifact tables to write, in artifact order. schema_only restores
// are limited to the critical tables; snapshots that failed to capture are skipped.
func (o *Orchestrator) targets(artifact *backup.Artifact, scope backup.BackupType) ([]*backup.TableSnapshot, []backup.TableError) {
	critical := o.builder.CriticalTables()
	targets := []*backup.TableSnapshot{}
	var skipped []backup.TableError
	for i := range artifact.Tables {
		table := &artifact.Tables[i]
		if scope == backup.BackupTypeSchemaOnly && !critical.Contains(table.Name) {
			continue
		}
		if !table.Captured() {
			skipped = append(skipped, backup.TableError{Table: table.Name, Error: table.Error})
			continue
		}
		targets = append(targets, table)
	}
	return targets, skipped
}

// refuseTruncated rejects snapshots cut short by the row cap. Restoring one would delete
// every row beyond the cap.
func refuseTruncated(targets []*backup.TableSnapshot) error {
	var truncated []string
	for _, t := range targets {
		if t.Truncated {
			truncated = append(truncated, t.Name)
		}
	}
	if len(truncated) == 0 {
		return nil
	}
	sort.Strings(truncated)
	return backup.NewValidationError("artifact holds truncated snapshots and cannot be restored: "+
		strings.Join(truncated, ", "), nil).WithContext("tables", truncated)
}

// checkTargets verifies every target against a fresh discovery so only known tables are
// ever named in a statement
func (o *Orchestrator) checkTargets(ctx context.Context, targets []*backup.TableSnapshot) error {
	catalog, err := o.inspector.Discover(ctx)
	if err != nil {
		return backup.NewValidationError("could not discover tables to restore into", err)
	}
	if catalog.Failed(schema.ClassTables) {
		return backup.NewValidationError("table discovery failed; refusing to restore", nil)
	}

	var unknown []string
	for _, t := range targets {
		if _, ok := catalog.Table(t.Name); !ok {
			unknown = append(unknown, t.Name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return backup.NewValidationError("artifact tables not present in database: "+strings.Join(unknown, ", "), nil).
			WithContext("tables", unknown)
	}
	return nil
}

// restoreTable replaces one table in a single transaction. It runs detached from caller
// cancellation so a started table is never abandoned halfway; TableTimeout bounds it.
func (o *Orchestrator) restoreTable(ctx context.Context, namespace string, table *backup.TableSnapshot) (int64, error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.TableTimeout)
	defer cancel()

	tx, err := o.db.BeginTx(tctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	qualified := o.dialect.QuoteIdentifier(namespace, table.Name)
	if _, err := tx.ExecContext(tctx, "DELETE FROM "+qualified); err != nil {
		return 0, fmt.Errorf("clear table: %w", err)
	}

	columns := backup.SnapshotColumns(table)
	if len(table.Rows) > 0 && len(columns) > 0 {
		batch := o.batchSize(len(columns))
		for start := 0; start < len(table.Rows); start += batch {
			end := min(start+batch, len(table.Rows))
			query, args, err := o.insertStatement(qualified, columns, table.Rows[start:end])
			if err != nil {
				return 0, err
			}
			if _, err := tx.ExecContext(tctx, query, args...); err != nil {
				return 0, fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return int64(len(table.Rows)), nil
}

func (o *Orchestrator) batchSize(columns int) int {
	batch := o.dialect.MaxBindParameters() / columns
	if batch > o.config.MaxRowsPerStatement {
		batch = o.config.MaxRowsPerStatement
	}
	if batch < 1 {
		batch = 1
	}
	return batch
}

func (o *Orchestrator) insertStatement(qualified string, columns []string, rows []map[string]any) (string, []any, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = o.dialect.QuoteIdentifier(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", qualified, strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	for r, row := range rows {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c, col := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			value, err := backup.BindValue(row[col])
			if err != nil {
				return "", nil, fmt.Errorf("bind %s: %w", col, err)
			}
			args = append(args, value)
			sb.WriteString(o.dialect.Placeholder(len(args)))
		}
		sb.WriteString(")")
	}
	return sb.String(), args, nil
}

// advance moves the operation to the next non-terminal status
func (o *Orchestrator) advance(ctx context.Context, op *backup.RestoreOperation, status backup.RestoreStatus) error {
	op.Status = status
	op.UpdatedAt = time.Now().UTC()
	if err := o.ledger.UpdateRestore(ctx, op); err != nil {
		return backup.NewPersistError(fmt.Sprintf("failed to record restore status %s", status), err)
	}
	return nil
}

// fail records the failed terminal state on a context detached from ctx, so cancelled and
// timed out restores are still written to the ledger
func (o *Orchestrator) fail(ctx context.Context, result *Result, start time.Time, cause error) error {
	op := result.Operation
	completed := time.Now().UTC()
	op.Status = backup.RestoreStatusFailed
	op.Error = cause.Error()
	op.UpdatedAt = completed
	op.CompletedAt = &completed
	result.RollbackAvailable = op.HasRecoveryPoint()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.FinalizeTimeout)
	defer cancel()
	if err := o.ledger.UpdateRestore(fctx, op); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"restore_id": op.ID,
			"error":      err.Error(),
		}).Error("Failed to record restore failure in ledger")
	}

	o.logger.LogRestore(op.ID, op.BackupID, string(op.Status), op.TablesRestored, op.RecordsRestored,
		emergencyID(op), time.Since(start), cause)
	return cause
}

func emergencyID(op *backup.RestoreOperation) string {
	if op.EmergencyBackupID == nil {
		return ""
	}
	return *op.EmergencyBackupID
}
