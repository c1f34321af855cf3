package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dbvault/internal/database"
	"dbvault/internal/lease"
	"dbvault/internal/logging"
	"dbvault/internal/schema"
)

// Discoverer produces the live catalog
type Discoverer interface {
	Discover(ctx context.Context) (*schema.Catalog, error)
}

// RecordWriter persists backup records in the operation ledger
type RecordWriter interface {
	CreateBackup(ctx context.Context, record *BackupRecord) error
	// FinalizeBackup moves an in_progress record to its terminal status
	FinalizeBackup(ctx context.Context, record *BackupRecord) error
}

// ArtifactWriter persists artifacts
type ArtifactWriter interface {
	Store(ctx context.Context, record *BackupRecord, artifact *Artifact) (string, error)
	Delete(ctx context.Context, id string) error
}

// BuilderConfig controls row capture
type BuilderConfig struct {
	Namespace      string
	RowCap         int // 0 means unbounded
	CriticalTables CriticalTableSet
	CreatedBy      string
	TableTimeout   time.Duration
	// FinalizeTimeout bounds the ledger write that records a failure after ctx has ended
	FinalizeTimeout time.Duration
}

// BuildRequest describes one backup
type BuildRequest struct {
	Type  BackupType
	Scope BackupType // capture scope of emergency backups; ignored otherwise
	Name  string
	Notes string
}

// TableError reports a table that could not be captured
type TableError struct {
	Table string `json:"table"`
	Error string `json:"error"`
}

// BuildResult is the outcome of one backup, returned on success and on failure
type BuildResult struct {
	Record          *BackupRecord    `json:"record"`
	ProtectedTables []string         `json:"protected_tables,omitempty"`
	TableErrors     []TableError     `json:"table_errors,omitempty"`
	Warnings        []schema.Warning `json:"warnings,omitempty"`
}

// Builder turns the live catalog into a backup record and artifact
type Builder struct {
	db        database.Querier
	dialect   database.Dialect
	inspector Discoverer
	ledger    RecordWriter
	store     ArtifactWriter
	leases    *lease.Manager
	config    BuilderConfig
	logger    *logging.Logger
}

// NewBuilder creates a backup builder
func NewBuilder(db database.Querier, dialect database.Dialect, inspector Discoverer, ledger RecordWriter,
	store ArtifactWriter, leases *lease.Manager, config BuilderConfig, logger *logging.Logger) *Builder {
	if leases == nil {
		leases = lease.NewManager()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if config.RowCap < 0 {
		config.RowCap = 0
	}
	if config.TableTimeout <= 0 {
		config.TableTimeout = 5 * time.Minute
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = 30 * time.Second
	}
	return &Builder{
		db:        db,
		dialect:   dialect,
		inspector: inspector,
		ledger:    ledger,
		store:     store,
		leases:    leases,
		config:    config,
		logger:    logger,
	}
}

// CriticalTables returns the protected table set
func (b *Builder) CriticalTables() CriticalTableSet {
	return b.config.CriticalTables
}

// Build runs one backup: ledger insert, discovery, capture, artifact store, ledger finalize.
// A failure after the ledger insert leaves the record failed with the error text; the
// returned BuildResult is non-nil whenever a record id was assigned.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	scope, err := resolveScope(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	now := start.UTC()

	id := GenerateBackupID()
	if req.Type == BackupTypeEmergency {
		id = GenerateBackupIDWithPrefix("emergency")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s backup %s", req.Type, now.Format("2006-01-02 15:04:05"))
	}

	record := &BackupRecord{
		ID:        id,
		Name:      name,
		Type:      req.Type,
		Scope:     scope,
		Status:    BackupStatusInProgress,
		Notes:     req.Notes,
		CreatedBy: b.config.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := &BuildResult{Record: record}

	if err := b.ledger.CreateBackup(ctx, record); err != nil {
		return result, b.failUnrecorded(ctx, record, start, NewPersistError("failed to record backup in ledger", err))
	}

	catalog, err := b.inspector.Discover(ctx)
	if err != nil {
		return result, b.fail(ctx, record, start, NewPersistError("schema discovery failed", err))
	}
	result.Warnings = catalog.Warnings
	if catalog.Failed(schema.ClassTables) {
		return result, b.fail(ctx, record, start, NewPersistError("table discovery failed", warningFor(catalog, schema.ClassTables)))
	}

	artifact := &Artifact{
		BackupID:  id,
		Type:      req.Type,
		Scope:     scope,
		Dialect:   b.dialect.Name(),
		Namespace: b.config.Namespace,
		CreatedAt: now,
		Tables:    []TableSnapshot{},
	}

	// recovery points are never capped
	rowCap := b.config.RowCap
	if req.Type == BackupTypeEmergency {
		rowCap = 0
	}

	for _, table := range catalog.Tables {
		if scope == BackupTypeSchemaOnly && !b.config.CriticalTables.Contains(table.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, b.fail(ctx, record, start, NewPersistError("backup cancelled", err))
		}

		snapshot := b.captureTable(ctx, table, rowCap)
		if !snapshot.Captured() {
			result.TableErrors = append(result.TableErrors, TableError{Table: table.Name, Error: snapshot.Error})
		} else if scope == BackupTypeSchemaOnly {
			result.ProtectedTables = append(result.ProtectedTables, table.Name)
		}
		artifact.Tables = append(artifact.Tables, snapshot)
	}

	if scope == BackupTypeFull {
		artifact.Schema = NewSchemaSnapshot(catalog)
	}

	record.Counts = countsFor(catalog, artifact)
	record.ProtectedTables = result.ProtectedTables
	record.Status = BackupStatusCompleted
	record.ExecutionTime = time.Since(start)
	record.UpdatedAt = time.Now().UTC()

	if _, err := b.store.Store(ctx, record, artifact); err != nil {
		return result, b.fail(ctx, record, start, NewPersistError("failed to store artifact", err))
	}

	record.ExecutionTime = time.Since(start)
	record.UpdatedAt = time.Now().UTC()
	if err := b.ledger.FinalizeBackup(ctx, record); err != nil {
		b.discardArtifact(ctx, record.ID)
		return result, b.fail(ctx, record, start, NewPersistError("failed to finalize backup in ledger", err))
	}

	b.logger.LogBackup(record.ID, string(record.Type), string(record.Status), record.Counts.Tables,
		record.Counts.Records, record.ExecutionTime, nil)
	return result, nil
}

// Export streams every row of one discovered table as JSON lines, without the row cap
func (b *Builder) Export(ctx context.Context, table string, w io.Writer) (int64, error) {
	catalog, err := b.inspector.Discover(ctx)
	if err != nil {
		return 0, err
	}
	t, ok := catalog.Table(table)
	if !ok {
		return 0, NewNotFoundError(fmt.Sprintf("table %s is not part of the discovered catalog", table), nil).
			WithContext("table", table)
	}

	held, err := b.leases.Acquire(ctx, lease.Shared, lease.TableKey(t.Name))
	if err != nil {
		return 0, err
	}
	defer held.Release()

	rows, err := b.db.QueryContext(ctx, b.selectQuery(t, 0))
	if err != nil {
		return 0, NewTableSnapshotError(t.Name, err)
	}
	defer rows.Close()

	encoder := json.NewEncoder(w)
	var written int64
	_, err = scanRows(rows, func(row map[string]any) error {
		written++
		return encoder.Encode(row)
	})
	if err != nil {
		return written, NewTableSnapshotError(t.Name, err)
	}
	return written, nil
}

// discardArtifact removes a stored artifact whose manifest says completed while the ledger
// record is about to be marked failed
func (b *Builder) discardArtifact(ctx context.Context, id string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.FinalizeTimeout)
	defer cancel()
	if err := b.store.Delete(dctx, id); err != nil {
		b.logger.WithFields(map[string]interface{}{
			"backup_id": id,
			"error":     err.Error(),
		}).Error("Failed to remove artifact of unfinalized backup")
	}
}

// captureTable snapshots one table under a shared lease, reading at most rowCap rows when
// rowCap is positive. Failures are recorded on the snapshot.
func (b *Builder) captureTable(ctx context.Context, table schema.Table, rowCap int) TableSnapshot {
	snapshot := TableSnapshot{
		Name:     table.Name,
		Columns:  []string{},
		RowCount: table.RowCount,
		Rows:     []map[string]any{},
	}

	held, err := b.leases.Acquire(ctx, lease.Shared, lease.TableKey(table.Name))
	if err != nil {
		return b.snapshotFailed(snapshot, err)
	}
	defer held.Release()

	tctx, cancel := context.WithTimeout(ctx, b.config.TableTimeout)
	defer cancel()

	limit := 0
	if rowCap > 0 {
		limit = rowCap + 1
	}

	rows, err := b.db.QueryContext(tctx, b.selectQuery(table, limit))
	if err != nil {
		return b.snapshotFailed(snapshot, err)
	}
	defer rows.Close()

	columns, err := scanRows(rows, func(row map[string]any) error {
		snapshot.Rows = append(snapshot.Rows, row)
		return nil
	})
	if err != nil {
		snapshot.Rows = []map[string]any{}
		return b.snapshotFailed(snapshot, err)
	}
	snapshot.Columns = columns

	if rowCap > 0 && len(snapshot.Rows) > rowCap {
		snapshot.Rows = snapshot.Rows[:rowCap]
		snapshot.Truncated = true
	}
	if snapshot.RowCount < 0 && !snapshot.Truncated {
		snapshot.RowCount = int64(len(snapshot.Rows))
	}
	return snapshot
}

func (b *Builder) snapshotFailed(snapshot TableSnapshot, err error) TableSnapshot {
	snapErr := NewTableSnapshotError(snapshot.Name, err)
	snapshot.Error = snapErr.Error()
	b.logger.WithFields(map[string]interface{}{
		"table": snapshot.Name,
		"error": err.Error(),
	}).Warn("Table capture failed, continuing")
	return snapshot
}

// selectQuery reads a table in primary key order so repeated captures are identical
func (b *Builder) selectQuery(table schema.Table, limit int) string {
	query := "SELECT * FROM " + b.dialect.QuoteIdentifier(b.config.Namespace, table.Name)
	if len(table.PrimaryKey) > 0 {
		cols := make([]string, len(table.PrimaryKey))
		for i, c := range table.PrimaryKey {
			cols[i] = b.dialect.QuoteIdentifier(c)
		}
		query += " ORDER BY " + strings.Join(cols, ", ")
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query
}

// fail finalizes the record as failed. The ledger write is detached from ctx so a
// cancelled backup is still recorded.
func (b *Builder) fail(ctx context.Context, record *BackupRecord, start time.Time, cause *BackupError) error {
	b.markFailed(record, start, cause)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.FinalizeTimeout)
	defer cancel()
	if err := b.ledger.FinalizeBackup(fctx, record); err != nil {
		b.logger.WithFields(map[string]interface{}{
			"backup_id": record.ID,
			"error":     err.Error(),
		}).Error("Failed to record backup failure in ledger")
	}

	b.logger.LogBackup(record.ID, string(record.Type), string(record.Status), record.Counts.Tables,
		record.Counts.Records, record.ExecutionTime, cause)
	return cause
}

// failUnrecorded retries the ledger insert with the record already marked failed
func (b *Builder) failUnrecorded(ctx context.Context, record *BackupRecord, start time.Time, cause *BackupError) error {
	b.markFailed(record, start, cause)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.config.FinalizeTimeout)
	defer cancel()
	if err := b.ledger.CreateBackup(fctx, record); err != nil {
		b.logger.WithFields(map[string]interface{}{
			"backup_id": record.ID,
			"error":     err.Error(),
		}).Error("Failed to record backup failure in ledger")
	}

	b.logger.LogBackup(record.ID, string(record.Type), string(record.Status), 0, 0, record.ExecutionTime, cause)
	return cause
}

func (b *Builder) markFailed(record *BackupRecord, start time.Time, cause error) {
	record.Status = BackupStatusFailed
	record.Error = cause.Error()
	record.ExecutionTime = time.Since(start)
	record.UpdatedAt = time.Now().UTC()
}

func resolveScope(req BuildRequest) (BackupType, error) {
	switch req.Type {
	case BackupTypeDataOnly, BackupTypeSchemaOnly, BackupTypeFull:
		return req.Type, nil
	case BackupTypeEmergency:
		switch req.Scope {
		case BackupTypeDataOnly, BackupTypeSchemaOnly, BackupTypeFull:
			return req.Scope, nil
		}
		return "", NewValidationError(fmt.Sprintf("invalid emergency backup scope: %q", req.Scope), nil)
	default:
		return "", NewValidationError(fmt.Sprintf("invalid backup type: %q", req.Type), nil)
	}
}

// countsFor counts every discovered table; schema object counts are recorded only when
// the artifact carries the schema snapshot
func countsFor(catalog *schema.Catalog, artifact *Artifact) ObjectCounts {
	counts := ObjectCounts{
		Tables:  len(catalog.Tables),
		Records: artifact.RecordCount(),
	}
	if s := artifact.Schema; s != nil {
		counts.Triggers = len(s.Triggers)
		counts.Indexes = len(s.Indexes)
		counts.Policies = len(s.Policies)
		counts.Functions = len(s.Functions)
		counts.EnumTypes = len(s.EnumTypes)
		counts.Views = len(s.Views)
	}
	return counts
}

func warningFor(catalog *schema.Catalog, class schema.ObjectClass) error {
	for _, w := range catalog.Warnings {
		if w.Class == class {
			return errors.New(w.Message)
		}
	}
	return fmt.Errorf("%s could not be enumerated", class)
}

// scanRows reads every row as a column map. Byte slices become strings so text columns
// survive JSON encoding.
func scanRows(rows *sql.Rows, fn func(map[string]any) error) ([]string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
			} else {
				row[col] = values[i]
			}
		}
		if err := fn(row); err != nil {
			return nil, err
		}
	}
	return columns, rows.Err()
}
