// Package httpapi exposes the application facade over HTTP with chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dbvault/internal/application"
	"dbvault/internal/backup"
	"dbvault/internal/logging"
)

// Service is the subset of the application facade served over HTTP
type Service interface {
	CreateBackup(ctx context.Context, req application.CreateBackupRequest) *application.BackupResponse
	ListBackups(ctx context.Context, filter backup.BackupFilter) *application.BackupListResponse
	GetBackup(ctx context.Context, id string) *application.BackupDetailResponse
	GetArtifact(ctx context.Context, id string) *application.ArtifactResponse
	ExportArtifact(ctx context.Context, id, format string) *application.ExportResponse
	RestoreBackup(ctx context.Context, req application.RestoreBackupRequest) *application.RestoreResponse
	RollbackRestore(ctx context.Context, restoreID string) *application.RestoreResponse
	GetRestore(ctx context.Context, restoreID string) *application.RestoreResponse
	ListRestores(ctx context.Context, filter backup.RestoreFilter) *application.RestoreListResponse
	RecoveryPoints(ctx context.Context, limit int) *application.RestoreListResponse
	Discover(ctx context.Context) *application.DiscoverResponse
	Health(ctx context.Context) *application.HealthResponse
}

// Handler bundles the service and logger behind the dbvault routes
type Handler struct {
	service Service
	logger  *logging.Logger
}

// New constructs a handler
func New(service Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handler{service: service, logger: logger}
}

// Router wires every route into a chi router
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/discover", h.discover)

	r.Route("/backups", func(r chi.Router) {
		r.Post("/", h.createBackup)
		r.Get("/", h.listBackups)
		r.Get("/{id}", h.getBackup)
		r.Get("/{id}/artifact", h.getArtifact)
		r.Get("/{id}/artifact.sql", h.getArtifactSQL)
		r.Post("/{id}/restore", h.restoreBackup)
	})

	r.Route("/restores", func(r chi.Router) {
		r.Get("/", h.listRestores)
		r.Get("/{id}", h.getRestore)
		r.Post("/{id}/rollback", h.rollbackRestore)
	})
	return r
}

// requestLogger tags the request context with the chi request id and logs each request
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.CreateContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		h.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

// statusFor maps a failed response to an HTTP status
func statusFor(resp application.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch backup.BackupErrorType(resp.ErrorType) {
	case backup.BackupErrorTypeValidation:
		return http.StatusBadRequest
	case backup.BackupErrorTypeNotFound:
		return http.StatusNotFound
	case backup.BackupErrorTypeConflict, backup.BackupErrorTypeNoRecoveryPoint:
		return http.StatusConflict
	}
	if resp.ErrorType == "timeout" {
		return http.StatusGatewayTimeout
	}
	if resp.Retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, application.Response{Error: message, ErrorType: errorType})
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Health(r.Context())
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Discover(r.Context())
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) createBackup(w http.ResponseWriter, r *http.Request) {
	var req application.CreateBackupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(backup.BackupErrorTypeValidation), "invalid JSON body: "+err.Error())
		return
	}
	resp := h.service.CreateBackup(r.Context(), req)
	status := statusFor(resp.Response)
	if resp.Success {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (h *Handler) listBackups(w http.ResponseWriter, r *http.Request) {
	filter, err := backupFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(backup.BackupErrorTypeValidation), err.Error())
		return
	}
	resp := h.service.ListBackups(r.Context(), filter)
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) getBackup(w http.ResponseWriter, r *http.Request) {
	resp := h.service.GetBackup(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) getArtifact(w http.ResponseWriter, r *http.Request) {
	resp := h.service.GetArtifact(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) getArtifactSQL(w http.ResponseWriter, r *http.Request) {
	resp := h.service.ExportArtifact(r.Context(), chi.URLParam(r, "id"), application.ExportFormatSQL)
	if !resp.Success {
		writeJSON(w, statusFor(resp.Response), resp)
		return
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Data)
}

func (h *Handler) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var req application.RestoreBackupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(backup.BackupErrorTypeValidation), "invalid JSON body: "+err.Error())
		return
	}
	req.BackupID = chi.URLParam(r, "id")
	resp := h.service.RestoreBackup(r.Context(), req)
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) listRestores(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(backup.BackupErrorTypeValidation), err.Error())
		return
	}
	if r.URL.Query().Get("recoverable") == "true" {
		resp := h.service.RecoveryPoints(r.Context(), limit)
		writeJSON(w, statusFor(resp.Response), resp)
		return
	}

	filter := backup.RestoreFilter{
		BackupID: r.URL.Query().Get("backup_id"),
		Status:   backup.RestoreStatus(r.URL.Query().Get("status")),
		Limit:    limit,
	}
	if filter.CreatedAfter, err = queryTime(r, "created_after"); err != nil {
		writeError(w, http.StatusBadRequest, string(backup.BackupErrorTypeValidation), err.Error())
		return
	}
	if filter.CreatedBefore, err = queryTime(r, "created_before"); err != nil {
		writeError(w, http.StatusBadRequest, string(backup.BackupErrorTypeValidation), err.Error())
		return
	}
	resp := h.service.ListRestores(r.Context(), filter)
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) getRestore(w http.ResponseWriter, r *http.Request) {
	resp := h.service.GetRestore(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, statusFor(resp.Response), resp)
}

func (h *Handler) rollbackRestore(w http.ResponseWriter, r *http.Request) {
	resp := h.service.RollbackRestore(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, statusFor(resp.Response), resp)
}

func backupFilter(r *http.Request) (backup.BackupFilter, error) {
	q := r.URL.Query()
	filter := backup.BackupFilter{
		Type:   backup.BackupType(q.Get("type")),
		Status: backup.BackupStatus(q.Get("status")),
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.CreatedAfter, err = queryTime(r, "created_after"); err != nil {
		return filter, err
	}
	if filter.CreatedBefore, err = queryTime(r, "created_before"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New(key + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}
