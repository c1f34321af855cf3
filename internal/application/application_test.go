package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/backup"
	"dbvault/internal/restore"
	"dbvault/internal/schema"
)

type fakeEngine struct {
	result   *backup.BuildResult
	err      error
	requests []backup.BuildRequest
	critical backup.CriticalTableSet
	dump     string
}

func (e *fakeEngine) Build(_ context.Context, req backup.BuildRequest) (*backup.BuildResult, error) {
	e.requests = append(e.requests, req)
	return e.result, e.err
}

func (e *fakeEngine) Export(_ context.Context, table string, w io.Writer) (int64, error) {
	if e.dump == "" {
		return 0, backup.NewValidationError("unknown table: "+table, nil)
	}
	_, err := io.WriteString(w, e.dump)
	return 2, err
}

func (e *fakeEngine) CriticalTables() backup.CriticalTableSet { return e.critical }

type fakeRestorer struct {
	result *restore.Result
	err    error
	req    restore.Request
	ops    map[string]*backup.RestoreOperation
}

func (r *fakeRestorer) Restore(_ context.Context, req restore.Request) (*restore.Result, error) {
	r.req = req
	return r.result, r.err
}

func (r *fakeRestorer) Rollback(_ context.Context, id string) (*restore.Result, error) {
	r.req = restore.Request{RollbackOf: id}
	return r.result, r.err
}

func (r *fakeRestorer) Get(_ context.Context, id string) (*backup.RestoreOperation, error) {
	if op, ok := r.ops[id]; ok {
		return op, nil
	}
	return nil, backup.NewNotFoundError("restore operation not found: "+id, nil)
}

func (r *fakeRestorer) History(context.Context, backup.RestoreFilter) ([]*backup.RestoreOperation, error) {
	return nil, r.err
}

func (r *fakeRestorer) RecoveryPoints(context.Context, int) ([]*backup.RestoreOperation, error) {
	var out []*backup.RestoreOperation
	for _, op := range r.ops {
		if op.HasRecoveryPoint() {
			out = append(out, op)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	catalog *schema.Catalog
	err     error
}

func (c *fakeCatalog) Discover(context.Context) (*schema.Catalog, error) { return c.catalog, c.err }

type fakeRecords struct {
	backups map[string]*backup.BackupRecord
	err     error
}

func (r *fakeRecords) GetBackup(_ context.Context, id string) (*backup.BackupRecord, error) {
	if rec, ok := r.backups[id]; ok {
		return rec, nil
	}
	return nil, backup.NewNotFoundError("backup not found: "+id, nil)
}

func (r *fakeRecords) ListBackups(context.Context, backup.BackupFilter) ([]*backup.BackupRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*backup.BackupRecord
	for _, rec := range r.backups {
		out = append(out, rec)
	}
	return out, nil
}

type fakeArtifacts struct {
	artifacts map[string]*backup.Artifact
	manifests map[string]*backup.Manifest
	health    error
}

func (a *fakeArtifacts) Fetch(_ context.Context, id string) (*backup.Artifact, error) {
	if art, ok := a.artifacts[id]; ok {
		return art, nil
	}
	return nil, backup.NewNotFoundError("artifact not found: "+id, nil)
}

func (a *fakeArtifacts) FetchSQL(_ context.Context, id string) ([]byte, error) {
	if _, ok := a.artifacts[id]; !ok {
		return nil, backup.NewNotFoundError("artifact not found: "+id, nil)
	}
	return []byte("-- dbvault\n"), nil
}

func (a *fakeArtifacts) FetchManifest(_ context.Context, id string) (*backup.Manifest, error) {
	if m, ok := a.manifests[id]; ok {
		return m, nil
	}
	return nil, backup.NewNotFoundError("manifest not found: "+id, nil)
}

func (a *fakeArtifacts) HealthCheck(context.Context) error { return a.health }

type fixture struct {
	app       *Application
	engine    *fakeEngine
	restorer  *fakeRestorer
	catalog   *fakeCatalog
	records   *fakeRecords
	artifacts *fakeArtifacts
}

func newFixture() *fixture {
	f := &fixture{
		engine:    &fakeEngine{critical: backup.NewCriticalTableSet([]string{"system_settings", "admin_users"})},
		restorer:  &fakeRestorer{ops: map[string]*backup.RestoreOperation{}},
		catalog:   &fakeCatalog{},
		records:   &fakeRecords{backups: map[string]*backup.BackupRecord{}},
		artifacts: &fakeArtifacts{artifacts: map[string]*backup.Artifact{}, manifests: map[string]*backup.Manifest{}},
	}
	f.app = New(Components{
		Engine:    f.engine,
		Restorer:  f.restorer,
		Catalog:   f.catalog,
		Records:   f.records,
		Artifacts: f.artifacts,
	}, nil)
	return f
}

func strPtr(s string) *string { return &s }

func TestCreateBackup(t *testing.T) {
	f := newFixture()
	f.engine.result = &backup.BuildResult{
		Record: &backup.BackupRecord{
			ID:            "backup-1",
			Type:          backup.BackupTypeFull,
			Status:        backup.BackupStatusCompleted,
			Counts:        backup.ObjectCounts{Tables: 3, Records: 12},
			ExecutionTime: 2 * time.Second,
		},
		ProtectedTables: []string{"admin_users"},
		Warnings:        []schema.Warning{{Class: schema.ClassTables, Message: "slow"}},
	}

	resp := f.app.CreateBackup(context.Background(), CreateBackupRequest{Name: "nightly", Type: "full", Notes: "n"})

	require.True(t, resp.Success)
	assert.Equal(t, "backup-1", resp.ID)
	assert.Equal(t, backup.BackupStatusCompleted, resp.Status)
	assert.Equal(t, int64(12), resp.Counts.Records)
	assert.Equal(t, []string{"admin_users"}, resp.ProtectedTables)
	assert.Len(t, resp.Warnings, 1)
	require.Len(t, f.engine.requests, 1)
	assert.Equal(t, backup.BuildRequest{Type: backup.BackupTypeFull, Name: "nightly", Notes: "n"}, f.engine.requests[0])
}

func TestCreateBackup_Failures(t *testing.T) {
	tests := []struct {
		name     string
		reqType  string
		result   *backup.BuildResult
		err      error
		wantType string
		wantID   string
	}{
		{"emergency is reserved", "emergency", nil, nil, string(backup.BackupErrorTypeValidation), ""},
		{"unknown type", "weekly", nil, nil, string(backup.BackupErrorTypeValidation), ""},
		{
			"persist failure keeps the record id",
			"data_only",
			&backup.BuildResult{Record: &backup.BackupRecord{ID: "backup-2", Status: backup.BackupStatusFailed}},
			backup.NewPersistError("failed to store artifact", errors.New("disk full")),
			string(backup.BackupErrorTypePersist),
			"backup-2",
		},
		{"timeout is classified", "full", nil, fmt.Errorf("discover: %w", context.DeadlineExceeded), "timeout", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.engine.result = tt.result
			f.engine.err = tt.err

			resp := f.app.CreateBackup(context.Background(), CreateBackupRequest{Type: tt.reqType})

			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantType, resp.ErrorType)
			assert.Equal(t, tt.wantID, resp.ID)
		})
	}
}

func TestRestoreBackup(t *testing.T) {
	f := newFixture()
	f.restorer.result = &restore.Result{
		Operation: &backup.RestoreOperation{
			ID:                "restore-1",
			BackupID:          "backup-1",
			Status:            backup.RestoreStatusCompleted,
			TablesRestored:    4,
			RecordsRestored:   40,
			EmergencyBackupID: strPtr("emergency-1"),
		},
		RollbackAvailable: true,
		SkippedTables:     []backup.TableError{{Table: "audit", Error: "permission denied"}},
	}

	resp := f.app.RestoreBackup(context.Background(), RestoreBackupRequest{BackupID: "backup-1", RestoreName: "r"})

	require.True(t, resp.Success)
	assert.Equal(t, restore.Request{BackupID: "backup-1", Name: "r"}, f.restorer.req)
	assert.Equal(t, "restore-1", resp.ID)
	assert.Equal(t, 4, resp.TablesRestored)
	assert.Equal(t, int64(40), resp.RecordsRestored)
	assert.Equal(t, "emergency-1", resp.EmergencyBackupID)
	assert.True(t, resp.RollbackAvailable)
	assert.Len(t, resp.SkippedTables, 1)
}

func TestRestoreBackup_FailureKeepsOperation(t *testing.T) {
	f := newFixture()
	f.restorer.result = &restore.Result{
		Operation: &backup.RestoreOperation{
			ID:                "restore-2",
			Status:            backup.RestoreStatusFailed,
			TablesRestored:    2,
			EmergencyBackupID: strPtr("emergency-2"),
			Error:             "payments: duplicate key",
		},
		RollbackAvailable: true,
	}
	f.restorer.err = backup.NewRestoreTableError("payments", 3, errors.New("duplicate key"))

	resp := f.app.RestoreBackup(context.Background(), RestoreBackupRequest{BackupID: "backup-1"})

	assert.False(t, resp.Success)
	assert.Equal(t, string(backup.BackupErrorTypeRestoreTable), resp.ErrorType)
	assert.Equal(t, "restore-2", resp.ID)
	assert.Equal(t, backup.RestoreStatusFailed, resp.Status)
	assert.Equal(t, 2, resp.TablesRestored)
	assert.True(t, resp.RollbackAvailable)
}

func TestRollbackRestore_NoRecoveryPoint(t *testing.T) {
	f := newFixture()
	f.restorer.err = backup.NewNoRecoveryPointError("restore-3")

	resp := f.app.RollbackRestore(context.Background(), "restore-3")

	assert.False(t, resp.Success)
	assert.Equal(t, string(backup.BackupErrorTypeNoRecoveryPoint), resp.ErrorType)
	assert.Equal(t, "restore-3", f.restorer.req.RollbackOf)
	assert.Error(t, resp.Err())
}

func TestGetRestore(t *testing.T) {
	f := newFixture()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.restorer.ops["restore-4"] = &backup.RestoreOperation{
		ID:                "restore-4",
		Status:            backup.RestoreStatusRestoring,
		EmergencyBackupID: strPtr("emergency-4"),
		RollbackOf:        strPtr("restore-0"),
		CreatedAt:         created,
	}

	resp := f.app.GetRestore(context.Background(), "restore-4")
	require.True(t, resp.Success)
	assert.Equal(t, "restore-0", resp.RollbackOf)
	assert.False(t, resp.RollbackAvailable, "a running restore cannot be rolled back yet")
	require.NotNil(t, resp.CreatedAt)
	assert.Equal(t, created, *resp.CreatedAt)

	missing := f.app.GetRestore(context.Background(), "restore-x")
	assert.False(t, missing.Success)
	assert.Equal(t, string(backup.BackupErrorTypeNotFound), missing.ErrorType)
}

func TestListResponses_NeverNil(t *testing.T) {
	f := newFixture()

	backups := f.app.ListBackups(context.Background(), backup.BackupFilter{})
	require.True(t, backups.Success)
	assert.NotNil(t, backups.Backups)
	assert.Zero(t, backups.Count)

	restores := f.app.ListRestores(context.Background(), backup.RestoreFilter{})
	require.True(t, restores.Success)
	assert.NotNil(t, restores.Restores)

	f.records.err = errors.New("connection refused")
	failed := f.app.ListBackups(context.Background(), backup.BackupFilter{})
	assert.False(t, failed.Success)
	assert.NotNil(t, failed.Backups)
}

func TestExportArtifact(t *testing.T) {
	f := newFixture()
	f.artifacts.artifacts["backup-1"] = &backup.Artifact{BackupID: "backup-1", Type: backup.BackupTypeDataOnly}

	tests := []struct {
		format      string
		success     bool
		contentType string
		errorType   string
	}{
		{"json", true, "application/json", ""},
		{"", true, "application/json", ""},
		{"sql", true, "application/sql", ""},
		{"xml", false, "", string(backup.BackupErrorTypeValidation)},
	}

	for _, tt := range tests {
		t.Run("format "+tt.format, func(t *testing.T) {
			resp := f.app.ExportArtifact(context.Background(), "backup-1", tt.format)
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.contentType, resp.ContentType)
			assert.Equal(t, tt.errorType, resp.ErrorType)
			if tt.success {
				assert.NotEmpty(t, resp.Data)
			}
		})
	}

	missing := f.app.ExportArtifact(context.Background(), "backup-x", "sql")
	assert.Equal(t, string(backup.BackupErrorTypeNotFound), missing.ErrorType)
}

func TestPlanRestore(t *testing.T) {
	f := newFixture()
	f.records.backups["backup-s"] = &backup.BackupRecord{ID: "backup-s", Type: backup.BackupTypeSchemaOnly}
	f.records.backups["backup-f"] = &backup.BackupRecord{ID: "backup-f", Type: backup.BackupTypeFull}
	tables := []backup.TableSummary{
		{Name: "admin_users", Rows: 2},
		{Name: "orders", Rows: 10},
		{Name: "audit", Error: "permission denied"},
	}
	f.artifacts.manifests["backup-s"] = &backup.Manifest{Tables: tables}
	f.artifacts.manifests["backup-f"] = &backup.Manifest{Tables: tables}

	schemaOnly := f.app.PlanRestore(context.Background(), "backup-s")
	require.True(t, schemaOnly.Success)
	assert.Equal(t, []string{"admin_users"}, schemaOnly.Tables)
	assert.Equal(t, int64(2), schemaOnly.Records)

	full := f.app.PlanRestore(context.Background(), "backup-f")
	require.True(t, full.Success)
	assert.Equal(t, []string{"admin_users", "orders"}, full.Tables)
	assert.Equal(t, int64(12), full.Records)

	missing := f.app.PlanRestore(context.Background(), "backup-x")
	assert.False(t, missing.Success)
}

func TestDiscover(t *testing.T) {
	f := newFixture()
	f.catalog.catalog = &schema.Catalog{
		Dialect:   "postgres",
		Namespace: "public",
		Tables:    []schema.Table{{Name: "orders", RowCount: 5}, {Name: "admin_users", RowCount: 1}},
		Warnings:  []schema.Warning{{Class: schema.ClassTables, Message: "x"}},
	}

	resp := f.app.Discover(context.Background())

	require.True(t, resp.Success)
	assert.Equal(t, 2, resp.Counts.Tables)
	require.Len(t, resp.Tables, 2)
	assert.Equal(t, TableSummary{Name: "admin_users", RowCount: 1, Critical: true}, resp.Tables[0])
	assert.Equal(t, TableSummary{Name: "orders", RowCount: 5}, resp.Tables[1])
	assert.Len(t, resp.Warnings, 1)
}

func TestDumpTable(t *testing.T) {
	f := newFixture()
	f.engine.dump = "{\"id\":1}\n{\"id\":2}\n"

	var out bytes.Buffer
	resp := f.app.DumpTable(context.Background(), "orders", &out)
	require.True(t, resp.Success)
	assert.Equal(t, int64(2), resp.Rows)
	assert.Equal(t, f.engine.dump, out.String())
}

func TestHealth(t *testing.T) {
	f := newFixture()
	assert.True(t, f.app.Health(context.Background()).Success)

	f.app.components.Ping = func(context.Context) (string, error) { return "16.2", nil }
	healthy := f.app.Health(context.Background())
	assert.True(t, healthy.Success)
	assert.Equal(t, "16.2", healthy.ServerVersion)

	f.app.components.Ping = func(context.Context) (string, error) { return "", errors.New("connection refused") }
	f.artifacts.health = errors.New("bucket missing")

	resp := f.app.Health(context.Background())
	assert.False(t, resp.Success)
	assert.Equal(t, "unavailable", resp.Database)
	assert.Equal(t, "unavailable", resp.Storage)
	assert.Contains(t, resp.Error, "connection refused")
}
