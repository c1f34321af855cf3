package restore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	"dbvault/internal/lease"
	"dbvault/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLedger struct {
	mu       sync.Mutex
	backups  map[string]*backup.BackupRecord
	restores map[string]*backup.RestoreOperation
	statuses map[string][]backup.RestoreStatus
}

func newMemLedger() *memLedger {
	return &memLedger{
		backups:  map[string]*backup.BackupRecord{},
		restores: map[string]*backup.RestoreOperation{},
		statuses: map[string][]backup.RestoreStatus{},
	}
}

func (m *memLedger) GetBackup(_ context.Context, id string) (*backup.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.backups[id]
	if !ok {
		return nil, backup.NewNotFoundError("backup "+id+" not found", nil)
	}
	cp := *r
	return &cp, nil
}

func (m *memLedger) CreateRestore(_ context.Context, op *backup.RestoreOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *op
	m.restores[op.ID] = &cp
	m.statuses[op.ID] = append(m.statuses[op.ID], op.Status)
	return nil
}

func (m *memLedger) UpdateRestore(_ context.Context, op *backup.RestoreOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.restores[op.ID]
	if !ok || current.Status.Terminal() {
		return backup.NewConflictError("restore operation "+op.ID+" is missing or already finished", nil)
	}
	cp := *op
	m.restores[op.ID] = &cp
	m.statuses[op.ID] = append(m.statuses[op.ID], op.Status)
	return nil
}

func (m *memLedger) GetRestore(_ context.Context, id string) (*backup.RestoreOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.restores[id]
	if !ok {
		return nil, backup.NewNotFoundError("restore operation "+id+" not found", nil)
	}
	cp := *op
	return &cp, nil
}

func (m *memLedger) ListRestores(_ context.Context, filter backup.RestoreFilter) ([]*backup.RestoreOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := []*backup.RestoreOperation{}
	for _, op := range m.restores {
		if filter.WithEmergencyBackupOnly && !op.HasRecoveryPoint() {
			continue
		}
		cp := *op
		ops = append(ops, &cp)
	}
	return ops, nil
}

type memArtifacts map[string]*backup.Artifact

func (m memArtifacts) Fetch(_ context.Context, id string) (*backup.Artifact, error) {
	a, ok := m[id]
	if !ok {
		return nil, backup.NewNotFoundError("artifact "+id+" not found", nil)
	}
	return a, nil
}

// fakeBuilder records emergency backups into the ledger and artifact store
type fakeBuilder struct {
	ledger    *memLedger
	artifacts memArtifacts
	snapshot  []backup.TableSnapshot
	err       error
	requests  []backup.BuildRequest
}

func (f *fakeBuilder) CriticalTables() backup.CriticalTableSet {
	return backup.NewCriticalTableSet(backup.DefaultCriticalTables)
}

func (f *fakeBuilder) Build(_ context.Context, req backup.BuildRequest) (*backup.BuildResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return &backup.BuildResult{Record: &backup.BackupRecord{ID: "emergency-failed", Status: backup.BackupStatusFailed}},
			backup.NewPersistError("failed to store artifact", f.err)
	}
	id := "emergency-" + strconv.Itoa(len(f.requests))
	record := &backup.BackupRecord{ID: id, Type: req.Type, Scope: req.Scope, Status: backup.BackupStatusCompleted}
	f.ledger.backups[id] = record
	f.artifacts[id] = &backup.Artifact{BackupID: id, Type: req.Type, Scope: req.Scope, Namespace: "public", Tables: f.snapshot}
	return &backup.BuildResult{Record: record}, nil
}

type fakeDiscoverer struct {
	tables []string
}

func (f *fakeDiscoverer) Discover(context.Context) (*schema.Catalog, error) {
	catalog := &schema.Catalog{Namespace: "public"}
	for _, t := range f.tables {
		catalog.Tables = append(catalog.Tables, schema.Table{Name: t})
	}
	return catalog, nil
}

type harness struct {
	orch      *Orchestrator
	mock      sqlmock.Sqlmock
	ledger    *memLedger
	artifacts memArtifacts
	builder   *fakeBuilder
	leases    *lease.Manager
}

func newHarness(t *testing.T, tables ...string) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := newMemLedger()
	artifacts := memArtifacts{}
	builder := &fakeBuilder{ledger: ledger, artifacts: artifacts}
	leases := lease.NewManager()

	orch := NewOrchestrator(db, database.Postgres{}, ledger, artifacts, builder,
		&fakeDiscoverer{tables: tables}, leases, Config{Namespace: "public"}, nil)
	return &harness{orch: orch, mock: mock, ledger: ledger, artifacts: artifacts, builder: builder, leases: leases}
}

func (h *harness) addBackup(id string, typ backup.BackupType, tables ...backup.TableSnapshot) {
	h.ledger.backups[id] = &backup.BackupRecord{ID: id, Type: typ, Scope: typ, Status: backup.BackupStatusCompleted}
	h.artifacts[id] = &backup.Artifact{BackupID: id, Type: typ, Scope: typ, Dialect: "postgres", Namespace: "public", Tables: tables}
}

func snapshot(name string, ids ...int) backup.TableSnapshot {
	rows := make([]map[string]any, len(ids))
	for i, id := range ids {
		rows[i] = map[string]any{"id": json.Number(strconv.Itoa(id)), "label": name}
	}
	return backup.TableSnapshot{Name: name, Columns: []string{"id", "label"}, RowCount: int64(len(ids)), Rows: rows}
}

func expectTable(mock sqlmock.Sqlmock, s backup.TableSnapshot) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."` + s.Name + `"`)).WillReturnResult(sqlmock.NewResult(0, 3))
	if len(s.Rows) > 0 {
		args := []driver.Value{}
		for _, row := range s.Rows {
			args = append(args, row["id"].(json.Number).String(), row["label"])
		}
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."` + s.Name + `" ("id", "label") VALUES ($1, $2)`)).
			WithArgs(args...).
			WillReturnResult(sqlmock.NewResult(0, int64(len(s.Rows))))
	}
	mock.ExpectCommit()
}

func TestRestore_FullBackupTakesEmergencyBackupThenRollsBack(t *testing.T) {
	h := newHarness(t, "students", "companies")
	students := snapshot("students", 1, 2)
	companies := snapshot("companies", 10)
	h.addBackup("backup-B", backup.BackupTypeFull, students, companies)

	current := snapshot("students", 1, 2, 3)
	h.builder.snapshot = []backup.TableSnapshot{current, snapshot("companies")}

	expectTable(h.mock, students)
	expectTable(h.mock, companies)

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-B", Name: "restore B"})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	op := result.Operation
	assert.Equal(t, backup.RestoreStatusCompleted, op.Status)
	assert.Equal(t, 2, op.TablesRestored)
	assert.Equal(t, int64(3), op.RecordsRestored)
	assert.Equal(t, backup.BackupTypeFull, op.Type)
	require.NotNil(t, op.EmergencyBackupID)
	assert.True(t, result.RollbackAvailable)
	assert.NotNil(t, op.CompletedAt)
	assert.True(t, strings.HasPrefix(op.ID, "restore-"))

	require.Len(t, h.builder.requests, 1)
	assert.Equal(t, backup.BackupTypeEmergency, h.builder.requests[0].Type)
	assert.Equal(t, backup.BackupTypeFull, h.builder.requests[0].Scope)
	emergencyID := *op.EmergencyBackupID
	assert.Equal(t, backup.BackupTypeEmergency, h.ledger.backups[emergencyID].Type)

	assert.Equal(t, []backup.RestoreStatus{
		backup.RestoreStatusRequested,
		backup.RestoreStatusEmergencyTaken,
		backup.RestoreStatusRestoring,
		backup.RestoreStatusCompleted,
	}, h.ledger.statuses[op.ID])

	// rollback restores the emergency backup without taking another one
	expectTable(h.mock, current)
	expectTable(h.mock, snapshot("companies"))

	rolled, err := h.orch.Rollback(context.Background(), op.ID)
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	assert.Len(t, h.builder.requests, 1)
	assert.Equal(t, backup.RestoreStatusCompleted, rolled.Operation.Status)
	assert.Equal(t, emergencyID, rolled.Operation.BackupID)
	assert.Equal(t, int64(3), rolled.Operation.RecordsRestored)
	assert.True(t, rolled.Operation.Forced)
	require.NotNil(t, rolled.Operation.RollbackOf)
	assert.Equal(t, op.ID, *rolled.Operation.RollbackOf)
	assert.Nil(t, rolled.Operation.EmergencyBackupID)
	assert.False(t, rolled.RollbackAvailable)
}

func TestRestore_FailFastReportsCompletedTables(t *testing.T) {
	names := []string{"users", "orders", "payments", "invoices", "refunds"}
	h := newHarness(t, names...)

	tables := make([]backup.TableSnapshot, len(names))
	for i, n := range names {
		tables[i] = snapshot(n, i+1)
	}
	h.addBackup("backup-C", backup.BackupTypeDataOnly, tables...)

	expectTable(h.mock, tables[0])
	expectTable(h.mock, tables[1])
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."payments"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."payments"`)).WillReturnError(errors.New(`null value in column "amount" violates not-null constraint`))
	h.mock.ExpectRollback()

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-C"})
	require.Error(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet(), "tables after the failing one are never attempted")

	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeRestoreTable))
	assert.Contains(t, err.Error(), "payments")

	op := result.Operation
	assert.Equal(t, backup.RestoreStatusFailed, op.Status)
	assert.Equal(t, 2, op.TablesRestored)
	assert.Equal(t, int64(2), op.RecordsRestored)
	assert.Contains(t, op.Error, "not-null constraint")
	assert.True(t, result.RollbackAvailable)
	require.NotNil(t, op.EmergencyBackupID)

	stored, err := h.ledger.GetRestore(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.TablesRestored)
}

func TestRestore_SchemaOnlyTouchesCriticalTablesOnly(t *testing.T) {
	h := newHarness(t, "admin_users", "students")
	admins := snapshot("admin_users", 1)
	h.addBackup("backup-S", backup.BackupTypeSchemaOnly, admins, snapshot("students", 1, 2))

	expectTable(h.mock, admins)

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-S"})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	assert.Equal(t, 1, result.Operation.TablesRestored)
	assert.Equal(t, backup.BackupTypeSchemaOnly, h.builder.requests[0].Scope)
}

func TestRestore_SkipsUncapturedTables(t *testing.T) {
	h := newHarness(t, "students", "audit")
	students := snapshot("students", 1)
	broken := backup.TableSnapshot{Name: "audit", Error: "TABLE_SNAPSHOT_FAILURE: failed to capture table audit"}
	h.addBackup("backup-K", backup.BackupTypeDataOnly, broken, students)

	expectTable(h.mock, students)

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-K", Force: true})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	assert.Equal(t, 1, result.Operation.TablesRestored)
	require.Len(t, result.SkippedTables, 1)
	assert.Equal(t, "audit", result.SkippedTables[0].Table)
	assert.Empty(t, h.builder.requests, "forced restores take no emergency backup")
	assert.False(t, result.RollbackAvailable)
}

func TestRestore_UnknownTableFailsBeforeWriting(t *testing.T) {
	h := newHarness(t, "students")
	h.addBackup("backup-U", backup.BackupTypeDataOnly, snapshot("students", 1), snapshot("dropped_table", 1))

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-U"})
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
	assert.Contains(t, err.Error(), "dropped_table")
	require.NoError(t, h.mock.ExpectationsWereMet())

	assert.Equal(t, backup.RestoreStatusFailed, result.Operation.Status)
	assert.Equal(t, 0, result.Operation.TablesRestored)
	assert.True(t, result.RollbackAvailable)
}

func TestRestore_RefusesTruncatedSnapshots(t *testing.T) {
	h := newHarness(t, "students", "events")
	events := snapshot("events", 1, 2)
	events.RowCount = 3
	events.Truncated = true
	h.addBackup("backup-T", backup.BackupTypeDataOnly, snapshot("students", 1), events)

	for _, force := range []bool{false, true} {
		result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-T", Force: force})
		require.Error(t, err)
		assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
		assert.Contains(t, err.Error(), "events")
		assert.Equal(t, backup.RestoreStatusFailed, result.Operation.Status)
		assert.Equal(t, 0, result.Operation.TablesRestored)
	}
	assert.Empty(t, h.builder.requests, "no emergency backup is taken for an unrestorable artifact")
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRestore_TableTimeoutFailsTheTable(t *testing.T) {
	h := newHarness(t, "users", "orders", "payments")
	h.orch.config.TableTimeout = 50 * time.Millisecond
	users, orders, payments := snapshot("users", 1), snapshot("orders", 2), snapshot("payments", 3)
	h.addBackup("backup-slow", backup.BackupTypeDataOnly, users, orders, payments)

	expectTable(h.mock, users)
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."orders"`)).
		WillDelayFor(time.Second).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectRollback()

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-slow"})
	require.Error(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet(), "payments is never attempted")

	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeRestoreTable))
	assert.Contains(t, err.Error(), "orders")
	assert.Equal(t, backup.RestoreStatusFailed, result.Operation.Status)
	assert.Equal(t, 1, result.Operation.TablesRestored)
	assert.True(t, result.RollbackAvailable)
}

func TestRestore_CancelLetsStartedTableCommit(t *testing.T) {
	h := newHarness(t, "users", "orders")
	users, orders := snapshot("users", 1), snapshot("orders", 2)
	h.addBackup("backup-X", backup.BackupTypeDataOnly, users, orders)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."users"`)).
		WillDelayFor(200 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."users"`)).
		WithArgs("1", "users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	time.AfterFunc(20*time.Millisecond, cancel)
	result, err := h.orch.Restore(ctx, Request{BackupID: "backup-X", Force: true})
	require.Error(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet(), "users commits and orders is never started")

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "orders")
	assert.Equal(t, backup.RestoreStatusFailed, result.Operation.Status)
	assert.Equal(t, 1, result.Operation.TablesRestored)
	assert.Equal(t, int64(1), result.Operation.RecordsRestored)

	stored, err := h.ledger.GetRestore(context.Background(), result.Operation.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusFailed, stored.Status)
}

func TestRestore_EmergencyBackupFailureAborts(t *testing.T) {
	h := newHarness(t, "students")
	h.addBackup("backup-E", backup.BackupTypeFull, snapshot("students", 1))
	h.builder.err = errors.New("bucket unreachable")

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-E"})
	require.Error(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet(), "no table is touched")

	assert.Equal(t, backup.RestoreStatusFailed, result.Operation.Status)
	assert.Nil(t, result.Operation.EmergencyBackupID)
	assert.False(t, result.RollbackAvailable)
	assert.Contains(t, result.Operation.Error, "bucket unreachable")
	assert.Equal(t, []backup.RestoreStatus{backup.RestoreStatusRequested, backup.RestoreStatusFailed},
		h.ledger.statuses[result.Operation.ID])
}

func TestRestore_PreChecksCreateNoOperation(t *testing.T) {
	h := newHarness(t, "students")
	h.ledger.backups["backup-running"] = &backup.BackupRecord{ID: "backup-running", Type: backup.BackupTypeFull, Status: backup.BackupStatusInProgress}
	h.ledger.backups["backup-no-artifact"] = &backup.BackupRecord{ID: "backup-no-artifact", Type: backup.BackupTypeFull, Status: backup.BackupStatusCompleted}

	tests := []struct {
		name     string
		backupID string
		errType  backup.BackupErrorType
	}{
		{"empty id", "", backup.BackupErrorTypeValidation},
		{"unknown backup", "backup-missing", backup.BackupErrorTypeNotFound},
		{"backup not completed", "backup-running", backup.BackupErrorTypeValidation},
		{"artifact missing", "backup-no-artifact", backup.BackupErrorTypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.orch.Restore(context.Background(), Request{BackupID: tt.backupID})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, backup.IsErrorType(err, tt.errType))
		})
	}
	assert.Empty(t, h.ledger.restores)
	assert.Empty(t, h.builder.requests)
}

func TestRestore_WaitsForConflictingLease(t *testing.T) {
	h := newHarness(t, "students")
	h.orch.config.OperationTimeout = 50 * time.Millisecond
	h.addBackup("backup-L", backup.BackupTypeDataOnly, snapshot("students", 1))

	held, err := h.leases.Acquire(context.Background(), lease.Shared, lease.TableKey("students"))
	require.NoError(t, err)
	defer held.Release()

	result, err := h.orch.Restore(context.Background(), Request{BackupID: "backup-L", Force: true})
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeConflict))
	assert.Equal(t, backup.RestoreStatusFailed, result.Operation.Status)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestInsertStatement_Batches(t *testing.T) {
	h := newHarness(t)
	h.orch.config.MaxRowsPerStatement = 2

	table := snapshot("students", 1, 2, 3)
	h.mock.ExpectBegin()
	h.mock.ExpectExec("DELETE").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2), ($3, $4)`)).WithArgs("1", "students", "2", "students").WillReturnResult(sqlmock.NewResult(0, 2))
	h.mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2)`)).WithArgs("3", "students").WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	n, err := h.orch.restoreTable(context.Background(), "public", &table)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestBatchSize_RespectsBindLimit(t *testing.T) {
	h := newHarness(t)
	h.orch.config.MaxRowsPerStatement = 100000

	assert.Equal(t, 65535/10, h.orch.batchSize(10))
	assert.Equal(t, 1, h.orch.batchSize(70000))
}
