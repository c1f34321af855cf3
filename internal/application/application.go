// Package application is the service facade shared by the CLI and the HTTP layer. Every
// operation returns a response value; failures are reported in it, never as a bare error.
package application

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/database"
	appErrors "dbvault/internal/errors"
	"dbvault/internal/lease"
	"dbvault/internal/ledger"
	"dbvault/internal/logging"
	"dbvault/internal/restore"
	"dbvault/internal/schema"
)

// BackupEngine takes backups and streams single tables
type BackupEngine interface {
	Build(ctx context.Context, req backup.BuildRequest) (*backup.BuildResult, error)
	Export(ctx context.Context, table string, w io.Writer) (int64, error)
	CriticalTables() backup.CriticalTableSet
}

// Restorer runs restores and rollbacks and reads their history
type Restorer interface {
	Restore(ctx context.Context, req restore.Request) (*restore.Result, error)
	Rollback(ctx context.Context, restoreID string) (*restore.Result, error)
	Get(ctx context.Context, restoreID string) (*backup.RestoreOperation, error)
	History(ctx context.Context, filter backup.RestoreFilter) ([]*backup.RestoreOperation, error)
	RecoveryPoints(ctx context.Context, limit int) ([]*backup.RestoreOperation, error)
}

// Catalog discovers the live schema
type Catalog interface {
	Discover(ctx context.Context) (*schema.Catalog, error)
}

// Records reads backup records from the ledger
type Records interface {
	GetBackup(ctx context.Context, id string) (*backup.BackupRecord, error)
	ListBackups(ctx context.Context, filter backup.BackupFilter) ([]*backup.BackupRecord, error)
}

// Artifacts reads stored artifacts
type Artifacts interface {
	Fetch(ctx context.Context, id string) (*backup.Artifact, error)
	FetchSQL(ctx context.Context, id string) ([]byte, error)
	FetchManifest(ctx context.Context, id string) (*backup.Manifest, error)
	HealthCheck(ctx context.Context) error
}

// Components are the engine parts the facade drives
type Components struct {
	Engine    BackupEngine
	Restorer  Restorer
	Catalog   Catalog
	Records   Records
	Artifacts Artifacts
	// Ping checks the target database and returns its server version; nil skips the check
	Ping func(ctx context.Context) (string, error)
	// Close releases the database connection; nil means nothing to release
	Close func() error
}

// Application is the dbvault service facade
type Application struct {
	components Components
	classifier *appErrors.ErrorClassifier
	logger     *logging.Logger
}

// New creates a facade over already built components
func New(components Components, logger *logging.Logger) *Application {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Application{
		components: components,
		classifier: appErrors.NewErrorClassifier(),
		logger:     logger,
	}
}

// Open connects to the configured database and storage and wires the engine. The backup
// builder and the restore orchestrator share one lease manager.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	dialect, err := database.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	dbService := database.NewService(database.WithLogger(logger))
	db, err := dbService.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	app, err := wire(ctx, db, dialect, cfg, logger)
	if err != nil {
		_ = dbService.Close(db)
		return nil, err
	}
	app.components.Ping = func(ctx context.Context) (string, error) {
		if err := dbService.TestConnection(ctx, db); err != nil {
			return "", err
		}
		return dbService.GetVersion(ctx, db, dialect)
	}
	app.components.Close = func() error { return dbService.Close(db) }
	return app, nil
}

func wire(ctx context.Context, db *sql.DB, dialect database.Dialect, cfg *config.Config, logger *logging.Logger) (*Application, error) {
	provider, err := backup.NewStorageProviderFactory().CreateStorageProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	store := backup.NewStore(provider, backup.StoreOptions{
		Compression: cfg.Compression,
		Encryption:  cfg.Encryption,
	}, logger)

	ledgerConfig := cfg.Ledger
	if ledgerConfig.Namespace == "" {
		ledgerConfig.Namespace = cfg.Namespace()
	}
	records := ledger.New(db, dialect, ledgerConfig, logger)
	if err := records.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	inspector := schema.NewInspector(db, dialect, schema.Config{
		Namespace:        cfg.Namespace(),
		ExcludedPrefixes: cfg.ExcludedPrefixes(),
		QueryTimeout:     cfg.Engine.QueryTimeout,
	}, logger)

	leases := lease.NewManager()
	builder := backup.NewBuilder(db, dialect, inspector, records, store, leases, backup.BuilderConfig{
		Namespace:       cfg.Namespace(),
		RowCap:          cfg.Engine.RowCap,
		CriticalTables:  backup.NewCriticalTableSet(cfg.Engine.CriticalTables),
		CreatedBy:       cfg.Engine.CreatedBy,
		TableTimeout:    cfg.Engine.TableTimeout,
		FinalizeTimeout: cfg.Engine.FinalizeTimeout,
	}, logger)

	orchestrator := restore.NewOrchestrator(db, dialect, records, store, builder, inspector, leases, restore.Config{
		Namespace:           cfg.Namespace(),
		TableTimeout:        cfg.Engine.TableTimeout,
		OperationTimeout:    cfg.Engine.OperationTimeout,
		FinalizeTimeout:     cfg.Engine.FinalizeTimeout,
		MaxRowsPerStatement: cfg.Engine.MaxRowsPerStatement,
	}, logger)

	return New(Components{
		Engine:    builder,
		Restorer:  orchestrator,
		Catalog:   inspector,
		Records:   records,
		Artifacts: store,
	}, logger), nil
}

// Close releases the database connection
func (app *Application) Close() error {
	if app.components.Close == nil {
		return nil
	}
	return app.components.Close()
}

// CriticalTables returns the protected table names, sorted
func (app *Application) CriticalTables() []string {
	return app.components.Engine.CriticalTables().Names()
}

// Response carries the outcome shared by every facade response
type Response struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	// Retryable marks failures that may succeed if the same request is sent again
	Retryable bool `json:"retryable,omitempty"`
}

// Err returns the reported failure as an error, or nil on success
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return &ResponseError{Type: r.ErrorType, Message: r.Error, Retryable: r.Retryable}
}

// ResponseError is a failed response seen as an error
type ResponseError struct {
	Type      string
	Message   string
	Retryable bool
}

func (e *ResponseError) Error() string {
	return e.Message
}

func ok() Response {
	return Response{Success: true}
}

// failure turns an error into a response. Engine errors keep their taxonomy type; anything
// else is classified by the generic classifier.
func (app *Application) failure(err error) Response {
	if t := backup.ErrorTypeOf(err); t != "" {
		return Response{Error: err.Error(), ErrorType: string(t), Retryable: backup.IsRetryable(err)}
	}
	appErr := app.classifier.ClassifyError(err)
	return Response{Error: err.Error(), ErrorType: string(appErr.Type), Retryable: appErr.Recoverable}
}

// CreateBackupRequest asks for a new backup
type CreateBackupRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Notes string `json:"notes,omitempty"`
}

// BackupResponse is the outcome of CreateBackup
type BackupResponse struct {
	Response
	ID              string              `json:"id,omitempty"`
	Type            backup.BackupType   `json:"type,omitempty"`
	Status          backup.BackupStatus `json:"status,omitempty"`
	Counts          backup.ObjectCounts `json:"counts"`
	ExecutionTime   time.Duration       `json:"execution_time"`
	ProtectedTables []string            `json:"protected_tables,omitempty"`
	TableErrors     []backup.TableError `json:"table_errors,omitempty"`
	Warnings        []schema.Warning    `json:"warnings,omitempty"`
}

// CreateBackup takes a data_only, schema_only or full backup
func (app *Application) CreateBackup(ctx context.Context, req CreateBackupRequest) *BackupResponse {
	backupType, err := backup.ParseBackupType(req.Type)
	if err != nil {
		return &BackupResponse{Response: app.failure(err)}
	}

	result, err := app.components.Engine.Build(ctx, backup.BuildRequest{
		Type:  backupType,
		Name:  req.Name,
		Notes: req.Notes,
	})

	resp := &BackupResponse{Response: ok()}
	if err != nil {
		resp.Response = app.failure(err)
	}
	if result != nil && result.Record != nil {
		r := result.Record
		resp.ID = r.ID
		resp.Type = r.Type
		resp.Status = r.Status
		resp.Counts = r.Counts
		resp.ExecutionTime = r.ExecutionTime
		resp.ProtectedTables = result.ProtectedTables
		resp.TableErrors = result.TableErrors
		resp.Warnings = result.Warnings
	}
	return resp
}

// BackupDetailResponse holds one backup record and, when stored, its manifest
type BackupDetailResponse struct {
	Response
	Backup   *backup.BackupRecord `json:"backup,omitempty"`
	Manifest *backup.Manifest     `json:"manifest,omitempty"`
}

// GetBackup returns a backup record. A missing manifest is not an error: failed backups
// have no artifact.
func (app *Application) GetBackup(ctx context.Context, id string) *BackupDetailResponse {
	record, err := app.components.Records.GetBackup(ctx, id)
	if err != nil {
		return &BackupDetailResponse{Response: app.failure(err)}
	}
	resp := &BackupDetailResponse{Response: ok(), Backup: record}
	if record.Status == backup.BackupStatusCompleted {
		manifest, err := app.components.Artifacts.FetchManifest(ctx, id)
		if err != nil {
			app.logger.WithField("backup_id", id).Warnf("Manifest unavailable: %v", err)
		} else {
			resp.Manifest = manifest
		}
	}
	return resp
}

// BackupListResponse lists backup records, newest first
type BackupListResponse struct {
	Response
	Backups []*backup.BackupRecord `json:"backups"`
	Count   int                    `json:"count"`
}

// ListBackups lists backup records matching filter
func (app *Application) ListBackups(ctx context.Context, filter backup.BackupFilter) *BackupListResponse {
	records, err := app.components.Records.ListBackups(ctx, filter)
	if err != nil {
		return &BackupListResponse{Response: app.failure(err), Backups: []*backup.BackupRecord{}}
	}
	if records == nil {
		records = []*backup.BackupRecord{}
	}
	return &BackupListResponse{Response: ok(), Backups: records, Count: len(records)}
}

// ArtifactResponse holds the captured tables of a backup
type ArtifactResponse struct {
	Response
	BackupID string                 `json:"backup_id,omitempty"`
	Type     backup.BackupType      `json:"type,omitempty"`
	Tables   []backup.TableSnapshot `json:"tables"`
	Schema   *backup.SchemaSnapshot `json:"schema,omitempty"`
}

// GetArtifact returns the artifact of a backup
func (app *Application) GetArtifact(ctx context.Context, id string) *ArtifactResponse {
	artifact, err := app.components.Artifacts.Fetch(ctx, id)
	if err != nil {
		return &ArtifactResponse{Response: app.failure(err), Tables: []backup.TableSnapshot{}}
	}
	return &ArtifactResponse{
		Response: ok(),
		BackupID: artifact.BackupID,
		Type:     artifact.Type,
		Tables:   artifact.Tables,
		Schema:   artifact.Schema,
	}
}

const (
	ExportFormatJSON = "json"
	ExportFormatSQL  = "sql"
)

// ExportResponse carries an artifact rendered in one format. Data is written raw, not as JSON.
type ExportResponse struct {
	Response
	Format      string `json:"format,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// ExportArtifact renders the artifact of a backup as JSON or as SQL statements
func (app *Application) ExportArtifact(ctx context.Context, id, format string) *ExportResponse {
	switch format {
	case "", ExportFormatJSON:
		artifact, err := app.components.Artifacts.Fetch(ctx, id)
		if err != nil {
			return &ExportResponse{Response: app.failure(err)}
		}
		data, err := json.MarshalIndent(artifact, "", "  ")
		if err != nil {
			return &ExportResponse{Response: app.failure(fmt.Errorf("failed to encode artifact: %w", err))}
		}
		return &ExportResponse{Response: ok(), Format: ExportFormatJSON, ContentType: "application/json", Data: data}
	case ExportFormatSQL:
		data, err := app.components.Artifacts.FetchSQL(ctx, id)
		if err != nil {
			return &ExportResponse{Response: app.failure(err)}
		}
		return &ExportResponse{Response: ok(), Format: ExportFormatSQL, ContentType: "application/sql", Data: data}
	default:
		err := backup.NewValidationError("unsupported export format: "+format, nil)
		return &ExportResponse{Response: app.failure(err)}
	}
}

// DumpResponse reports a single-table export
type DumpResponse struct {
	Response
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// DumpTable streams every row of one table to w, without the row cap of backups
func (app *Application) DumpTable(ctx context.Context, table string, w io.Writer) *DumpResponse {
	rows, err := app.components.Engine.Export(ctx, table, w)
	if err != nil {
		return &DumpResponse{Response: app.failure(err), Table: table, Rows: rows}
	}
	return &DumpResponse{Response: ok(), Table: table, Rows: rows}
}

// RestoreBackupRequest asks for a restore
type RestoreBackupRequest struct {
	BackupID     string `json:"backup_id"`
	RestoreName  string `json:"restore_name,omitempty"`
	ForceRestore bool   `json:"force_restore,omitempty"`
}

// RestoreResponse is the outcome of a restore or rollback, and the view of a stored operation
type RestoreResponse struct {
	Response
	ID                string               `json:"id,omitempty"`
	BackupID          string               `json:"backup_id,omitempty"`
	Name              string               `json:"name,omitempty"`
	Status            backup.RestoreStatus `json:"status,omitempty"`
	Forced            bool                 `json:"forced"`
	TablesRestored    int                  `json:"tables_restored"`
	RecordsRestored   int64                `json:"records_restored"`
	EmergencyBackupID string               `json:"emergency_backup_id,omitempty"`
	RollbackOf        string               `json:"rollback_of,omitempty"`
	RollbackAvailable bool                 `json:"rollback_available"`
	SkippedTables     []backup.TableError  `json:"skipped_tables,omitempty"`
	RestoreError      string               `json:"restore_error,omitempty"`
	CreatedAt         *time.Time           `json:"created_at,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
}

func restoreResponse(op *backup.RestoreOperation) *RestoreResponse {
	resp := &RestoreResponse{
		Response:          ok(),
		ID:                op.ID,
		BackupID:          op.BackupID,
		Name:              op.Name,
		Status:            op.Status,
		Forced:            op.Forced,
		TablesRestored:    op.TablesRestored,
		RecordsRestored:   op.RecordsRestored,
		RollbackAvailable: op.HasRecoveryPoint() && op.Status.Terminal(),
		RestoreError:      op.Error,
		CompletedAt:       op.CompletedAt,
	}
	if !op.CreatedAt.IsZero() {
		created := op.CreatedAt
		resp.CreatedAt = &created
	}
	if op.EmergencyBackupID != nil {
		resp.EmergencyBackupID = *op.EmergencyBackupID
	}
	if op.RollbackOf != nil {
		resp.RollbackOf = *op.RollbackOf
	}
	return resp
}

func (app *Application) restoreOutcome(result *restore.Result, err error) *RestoreResponse {
	resp := &RestoreResponse{Response: ok()}
	if result != nil && result.Operation != nil {
		resp = restoreResponse(result.Operation)
		resp.RollbackAvailable = result.RollbackAvailable
		resp.SkippedTables = result.SkippedTables
	}
	if err != nil {
		resp.Response = app.failure(err)
	}
	return resp
}

// RestoreBackup replaces the contents of the tables captured by a backup
func (app *Application) RestoreBackup(ctx context.Context, req RestoreBackupRequest) *RestoreResponse {
	result, err := app.components.Restorer.Restore(ctx, restore.Request{
		BackupID: req.BackupID,
		Name:     req.RestoreName,
		Force:    req.ForceRestore,
	})
	return app.restoreOutcome(result, err)
}

// RollbackRestore restores the emergency backup taken by a restore
func (app *Application) RollbackRestore(ctx context.Context, restoreID string) *RestoreResponse {
	result, err := app.components.Restorer.Rollback(ctx, restoreID)
	return app.restoreOutcome(result, err)
}

// GetRestore returns one restore operation
func (app *Application) GetRestore(ctx context.Context, restoreID string) *RestoreResponse {
	op, err := app.components.Restorer.Get(ctx, restoreID)
	if err != nil {
		return &RestoreResponse{Response: app.failure(err)}
	}
	return restoreResponse(op)
}

// RestoreListResponse lists restore operations, newest first
type RestoreListResponse struct {
	Response
	Restores []*backup.RestoreOperation `json:"restores"`
	Count    int                        `json:"count"`
}

func (app *Application) restoreList(ops []*backup.RestoreOperation, err error) *RestoreListResponse {
	if err != nil {
		return &RestoreListResponse{Response: app.failure(err), Restores: []*backup.RestoreOperation{}}
	}
	if ops == nil {
		ops = []*backup.RestoreOperation{}
	}
	return &RestoreListResponse{Response: ok(), Restores: ops, Count: len(ops)}
}

// ListRestores lists restore operations matching filter
func (app *Application) ListRestores(ctx context.Context, filter backup.RestoreFilter) *RestoreListResponse {
	return app.restoreList(app.components.Restorer.History(ctx, filter))
}

// RecoveryPoints lists finished restores that can still be rolled back
func (app *Application) RecoveryPoints(ctx context.Context, limit int) *RestoreListResponse {
	return app.restoreList(app.components.Restorer.RecoveryPoints(ctx, limit))
}

// RestorePlan describes what a restore of a backup would replace
type RestorePlan struct {
	Response
	BackupID   string            `json:"backup_id,omitempty"`
	BackupType backup.BackupType `json:"backup_type,omitempty"`
	Tables     []string          `json:"tables"`
	Records    int64             `json:"records"`
}

// PlanRestore reads the manifest of a backup and lists the tables a restore would replace
func (app *Application) PlanRestore(ctx context.Context, backupID string) *RestorePlan {
	record, err := app.components.Records.GetBackup(ctx, backupID)
	if err != nil {
		return &RestorePlan{Response: app.failure(err), Tables: []string{}}
	}
	manifest, err := app.components.Artifacts.FetchManifest(ctx, backupID)
	if err != nil {
		return &RestorePlan{Response: app.failure(err), Tables: []string{}}
	}

	scope := record.Scope
	if scope == "" {
		scope = record.Type
	}
	critical := app.components.Engine.CriticalTables()

	plan := &RestorePlan{Response: ok(), BackupID: record.ID, BackupType: record.Type, Tables: []string{}}
	for _, t := range manifest.Tables {
		if t.Error != "" {
			continue
		}
		if scope == backup.BackupTypeSchemaOnly && !critical.Contains(t.Name) {
			continue
		}
		plan.Tables = append(plan.Tables, t.Name)
		plan.Records += int64(t.Rows)
	}
	return plan
}

// TableSummary is one discovered table
type TableSummary struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
	Critical bool   `json:"critical"`
}

// DiscoverResponse summarises the live catalog
type DiscoverResponse struct {
	Response
	Dialect       string              `json:"dialect,omitempty"`
	Namespace     string              `json:"namespace,omitempty"`
	ServerVersion string              `json:"server_version,omitempty"`
	Counts        schema.ObjectCounts `json:"counts"`
	Tables        []TableSummary      `json:"tables"`
	Warnings      []schema.Warning    `json:"warnings,omitempty"`
}

// Discover enumerates the live catalog
func (app *Application) Discover(ctx context.Context) *DiscoverResponse {
	catalog, err := app.components.Catalog.Discover(ctx)
	if err != nil {
		return &DiscoverResponse{Response: app.failure(err), Tables: []TableSummary{}}
	}

	critical := app.components.Engine.CriticalTables()
	tables := make([]TableSummary, 0, len(catalog.Tables))
	for _, t := range catalog.Tables {
		tables = append(tables, TableSummary{Name: t.Name, RowCount: t.RowCount, Critical: critical.Contains(t.Name)})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	return &DiscoverResponse{
		Response:      ok(),
		Dialect:       catalog.Dialect,
		Namespace:     catalog.Namespace,
		ServerVersion: catalog.ServerVersion,
		Counts:        catalog.Counts(),
		Tables:        tables,
		Warnings:      catalog.Warnings,
	}
}

// HealthResponse reports the reachability of the database and the artifact storage
type HealthResponse struct {
	Response
	Database      string `json:"database"`
	ServerVersion string `json:"server_version,omitempty"`
	Storage       string `json:"storage"`
}

// Health checks the database connection and the artifact storage
func (app *Application) Health(ctx context.Context) *HealthResponse {
	resp := &HealthResponse{Response: ok(), Database: "ok", Storage: "ok"}
	if app.components.Ping != nil {
		version, err := app.components.Ping(ctx)
		if err != nil {
			resp.Response = app.failure(err)
			resp.Database = "unavailable"
		}
		resp.ServerVersion = version
	}
	if err := app.components.Artifacts.HealthCheck(ctx); err != nil {
		if resp.Success {
			resp.Response = app.failure(err)
		}
		resp.Storage = "unavailable"
	}
	return resp
}
