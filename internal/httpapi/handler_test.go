package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/application"
	"dbvault/internal/backup"
)

type stubService struct {
	backupReq    application.CreateBackupRequest
	backupResp   *application.BackupResponse
	restoreReq   application.RestoreBackupRequest
	restoreResp  *application.RestoreResponse
	rollbackID   string
	backupFilter backup.BackupFilter
	restoreFilt  backup.RestoreFilter
	recoverLimit int
	export       *application.ExportResponse
	health       *application.HealthResponse
}

func failed(errorType, msg string) application.Response {
	return application.Response{Error: msg, ErrorType: errorType}
}

func success() application.Response { return application.Response{Success: true} }

func (s *stubService) CreateBackup(_ context.Context, req application.CreateBackupRequest) *application.BackupResponse {
	s.backupReq = req
	return s.backupResp
}

func (s *stubService) ListBackups(_ context.Context, f backup.BackupFilter) *application.BackupListResponse {
	s.backupFilter = f
	return &application.BackupListResponse{Response: success(), Backups: []*backup.BackupRecord{}}
}

func (s *stubService) GetBackup(_ context.Context, id string) *application.BackupDetailResponse {
	if id != "backup-1" {
		return &application.BackupDetailResponse{Response: failed(string(backup.BackupErrorTypeNotFound), "backup not found")}
	}
	return &application.BackupDetailResponse{Response: success(), Backup: &backup.BackupRecord{ID: id}}
}

func (s *stubService) GetArtifact(_ context.Context, id string) *application.ArtifactResponse {
	return &application.ArtifactResponse{Response: success(), BackupID: id, Tables: []backup.TableSnapshot{}}
}

func (s *stubService) ExportArtifact(_ context.Context, id, format string) *application.ExportResponse {
	return s.export
}

func (s *stubService) RestoreBackup(_ context.Context, req application.RestoreBackupRequest) *application.RestoreResponse {
	s.restoreReq = req
	return s.restoreResp
}

func (s *stubService) RollbackRestore(_ context.Context, id string) *application.RestoreResponse {
	s.rollbackID = id
	return s.restoreResp
}

func (s *stubService) GetRestore(_ context.Context, id string) *application.RestoreResponse {
	return &application.RestoreResponse{Response: success(), ID: id}
}

func (s *stubService) ListRestores(_ context.Context, f backup.RestoreFilter) *application.RestoreListResponse {
	s.restoreFilt = f
	return &application.RestoreListResponse{Response: success(), Restores: []*backup.RestoreOperation{}}
}

func (s *stubService) RecoveryPoints(_ context.Context, limit int) *application.RestoreListResponse {
	s.recoverLimit = limit
	return &application.RestoreListResponse{Response: success(), Restores: []*backup.RestoreOperation{}}
}

func (s *stubService) Discover(context.Context) *application.DiscoverResponse {
	return &application.DiscoverResponse{Response: success(), Namespace: "public", Tables: []application.TableSummary{}}
}

func (s *stubService) Health(context.Context) *application.HealthResponse {
	return s.health
}

func serve(t *testing.T, svc Service, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	New(svc, nil).Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateBackup(t *testing.T) {
	svc := &stubService{backupResp: &application.BackupResponse{Response: success(), ID: "backup-1", Status: backup.BackupStatusCompleted}}

	rec := serve(t, svc, http.MethodPost, "/backups", `{"name":"nightly","type":"full"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, application.CreateBackupRequest{Name: "nightly", Type: "full"}, svc.backupReq)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "backup-1", body["id"])
}

func TestCreateBackup_InvalidBody(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodPost, "/backups", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(backup.BackupErrorTypeValidation), body["error_type"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		errorType string
		want      int
	}{
		{string(backup.BackupErrorTypeValidation), http.StatusBadRequest},
		{string(backup.BackupErrorTypeNotFound), http.StatusNotFound},
		{string(backup.BackupErrorTypeConflict), http.StatusConflict},
		{string(backup.BackupErrorTypeNoRecoveryPoint), http.StatusConflict},
		{string(backup.BackupErrorTypeRestoreTable), http.StatusInternalServerError},
		{string(backup.BackupErrorTypePersist), http.StatusInternalServerError},
		{"timeout", http.StatusGatewayTimeout},
		{"connection", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.errorType, func(t *testing.T) {
			svc := &stubService{restoreResp: &application.RestoreResponse{Response: failed(tt.errorType, "boom"), ID: "restore-1"}}

			rec := serve(t, svc, http.MethodPost, "/restores/restore-1/rollback", "")

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "restore-1", svc.rollbackID)
			body := decode(t, rec)
			assert.Equal(t, tt.errorType, body["error_type"])
			assert.Equal(t, "restore-1", body["id"])
		})
	}
}

func TestErrorStatusMapping_Retryable(t *testing.T) {
	resp := failed(string(backup.BackupErrorTypeStorage), "bucket unreachable")
	resp.Retryable = true
	svc := &stubService{restoreResp: &application.RestoreResponse{Response: resp, ID: "restore-1"}}

	rec := serve(t, svc, http.MethodPost, "/restores/restore-1/rollback", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, true, decode(t, rec)["retryable"])
}

func TestRestoreBackup_UsesPathID(t *testing.T) {
	svc := &stubService{restoreResp: &application.RestoreResponse{Response: success(), ID: "restore-9", RollbackAvailable: true}}

	rec := serve(t, svc, http.MethodPost, "/backups/backup-7/restore", `{"backup_id":"ignored","force_restore":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, application.RestoreBackupRequest{BackupID: "backup-7", ForceRestore: true}, svc.restoreReq)
	assert.Equal(t, true, decode(t, rec)["rollback_available"])

	// an empty body is a plain restore
	rec = serve(t, svc, http.MethodPost, "/backups/backup-8/restore", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, application.RestoreBackupRequest{BackupID: "backup-8"}, svc.restoreReq)
}

func TestListBackups_Filters(t *testing.T) {
	svc := &stubService{}

	rec := serve(t, svc, http.MethodGet, "/backups?type=full&status=completed&limit=5&created_after=2026-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backup.BackupTypeFull, svc.backupFilter.Type)
	assert.Equal(t, backup.BackupStatusCompleted, svc.backupFilter.Status)
	assert.Equal(t, 5, svc.backupFilter.Limit)
	require.NotNil(t, svc.backupFilter.CreatedAfter)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), svc.backupFilter.CreatedAfter.UTC())

	for _, bad := range []string{"/backups?limit=-1", "/backups?limit=x", "/backups?created_before=yesterday"} {
		rec := serve(t, svc, http.MethodGet, bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestListRestores(t *testing.T) {
	svc := &stubService{}

	rec := serve(t, svc, http.MethodGet, "/restores?backup_id=backup-1&status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backup-1", svc.restoreFilt.BackupID)
	assert.Equal(t, backup.RestoreStatusFailed, svc.restoreFilt.Status)

	rec = serve(t, svc, http.MethodGet, "/restores?recoverable=true&limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, svc.recoverLimit)
}

func TestGetBackupAndRestore(t *testing.T) {
	svc := &stubService{}

	assert.Equal(t, http.StatusOK, serve(t, svc, http.MethodGet, "/backups/backup-1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, svc, http.MethodGet, "/backups/backup-2", "").Code)

	rec := serve(t, svc, http.MethodGet, "/restores/restore-5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "restore-5", decode(t, rec)["id"])
}

func TestArtifactSQL(t *testing.T) {
	svc := &stubService{export: &application.ExportResponse{
		Response:    success(),
		ContentType: "application/sql",
		Data:        []byte("INSERT INTO \"t\" VALUES (1);\n"),
	}}

	rec := serve(t, svc, http.MethodGet, "/backups/backup-1/artifact.sql", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/sql", rec.Header().Get("Content-Type"))
	assert.Equal(t, "INSERT INTO \"t\" VALUES (1);\n", rec.Body.String())

	svc.export = &application.ExportResponse{Response: failed(string(backup.BackupErrorTypeNotFound), "artifact not found")}
	rec = serve(t, svc, http.MethodGet, "/backups/backup-1/artifact.sql", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "artifact not found", decode(t, rec)["error"])
}

func TestArtifactJSON(t *testing.T) {
	rec := serve(t, &stubService{}, http.MethodGet, "/backups/backup-3/artifact", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backup-3", decode(t, rec)["backup_id"])
}

func TestHealthz(t *testing.T) {
	svc := &stubService{health: &application.HealthResponse{Response: success(), Database: "ok", Storage: "ok"}}
	assert.Equal(t, http.StatusOK, serve(t, svc, http.MethodGet, "/healthz", "").Code)

	svc.health = &application.HealthResponse{Response: failed("connection", "refused"), Database: "unavailable", Storage: "ok"}
	rec := serve(t, svc, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["database"])
}

func TestServer_ShutsDownWhenContextEnds(t *testing.T) {
	svc := &stubService{health: &application.HealthResponse{Response: success(), Database: "ok", Storage: "ok"}}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(New(svc, nil), ServerOptions{ShutdownTimeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
