package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// maxImportBody caps uploaded backup archives.
const maxImportBody = 1 << 30

// backupManager is the catalog backup service. service.BackupService
// implements it.
type backupManager interface {
	CreateBackup(ctx context.Context) (*models.BackupMetadata, error)
	ListBackups(ctx context.Context) ([]*models.BackupMetadata, error)
	GetBackup(ctx context.Context, filename string) (*models.BackupMetadata, error)
	DeleteBackup(ctx context.Context, filename string) error
	OpenBackupFile(ctx context.Context, filename string) (*os.File, error)
	RestoreBackup(ctx context.Context, filename string) error
	ImportBackup(ctx context.Context, reader io.Reader, originalFilename string) (*models.BackupMetadata, error)
	GetScheduleInfo() models.BackupScheduleInfo
}

// BackupHandler exposes catalog backup management.
type BackupHandler struct {
	backups backupManager
	logger  *slog.Logger
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(backups backupManager) *BackupHandler {
	return &BackupHandler{backups: backups, logger: slog.Default()}
}

// WithLogger sets the logger for the handler.
func (h *BackupHandler) WithLogger(logger *slog.Logger) *BackupHandler {
	h.logger = logger
	return h
}

// Register registers the backup routes with the API.
func (h *BackupHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBackups",
		Method:      "GET",
		Path:        "/api/v1/backups",
		Summary:     "List backups",
		Tags:        []string{"Backups"},
	}, h.ListBackups)

	huma.Register(api, huma.Operation{
		OperationID:   "createBackup",
		Method:        "POST",
		Path:          "/api/v1/backups",
		Summary:       "Create a backup now",
		Tags:          []string{"Backups"},
		DefaultStatus: 201,
	}, h.CreateBackup)

	huma.Register(api, huma.Operation{
		OperationID: "getBackupSchedule",
		Method:      "GET",
		Path:        "/api/v1/backups/schedule",
		Summary:     "Get the backup schedule",
		Tags:        []string{"Backups"},
	}, h.GetSchedule)

	huma.Register(api, huma.Operation{
		OperationID: "getBackup",
		Method:      "GET",
		Path:        "/api/v1/backups/{filename}",
		Summary:     "Get backup metadata",
		Tags:        []string{"Backups"},
	}, h.GetBackup)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteBackup",
		Method:        "DELETE",
		Path:          "/api/v1/backups/{filename}",
		Summary:       "Delete a backup",
		Tags:          []string{"Backups"},
		DefaultStatus: 204,
	}, h.DeleteBackup)

	huma.Register(api, huma.Operation{
		OperationID: "restoreBackup",
		Method:      "POST",
		Path:        "/api/v1/backups/{filename}/restore",
		Summary:     "Restore the catalog from a backup",
		Description: "Takes a pre-restore backup first. The service should be restarted after a successful restore.",
		Tags:        []string{"Backups"},
	}, h.RestoreBackup)
}

// RegisterRaw registers the routes that stream raw bytes and cannot go
// through the typed API layer.
func (h *BackupHandler) RegisterRaw(r chi.Router) {
	r.Get("/api/v1/backups/{filename}/download", h.Download)
	r.Post("/api/v1/backups/import", h.Import)
}

// BackupOutput wraps a single backup's metadata.
type BackupOutput struct {
	Body models.BackupMetadata
}

// ListBackupsOutput is the newest-first backup inventory.
type ListBackupsOutput struct {
	Body struct {
		Backups []*models.BackupMetadata `json:"backups"`
		Count   int                      `json:"count"`
	}
}

// BackupFilenameInput addresses one backup by filename.
type BackupFilenameInput struct {
	Filename string `path:"filename" doc:"Backup filename"`
}

// ListBackups returns all backups on disk.
func (h *BackupHandler) ListBackups(ctx context.Context, _ *struct{}) (*ListBackupsOutput, error) {
	backups, err := h.backups.ListBackups(ctx)
	if err != nil {
		h.logger.Error("failed to list backups", "error", err)
		return nil, huma.Error500InternalServerError("failed to list backups")
	}
	out := &ListBackupsOutput{}
	out.Body.Backups = backups
	out.Body.Count = len(backups)
	return out, nil
}

// CreateBackup runs an immediate backup.
func (h *BackupHandler) CreateBackup(ctx context.Context, _ *struct{}) (*BackupOutput, error) {
	meta, err := h.backups.CreateBackup(ctx)
	if err != nil {
		h.logger.Error("backup failed", "error", err)
		return nil, huma.Error500InternalServerError("backup failed", err)
	}
	return &BackupOutput{Body: *meta}, nil
}

// GetBackup returns metadata for one backup.
func (h *BackupHandler) GetBackup(ctx context.Context, input *BackupFilenameInput) (*BackupOutput, error) {
	meta, err := h.backups.GetBackup(ctx, input.Filename)
	if err != nil {
		return nil, backupError(err)
	}
	return &BackupOutput{Body: *meta}, nil
}

// DeleteBackup removes a backup from disk.
func (h *BackupHandler) DeleteBackup(ctx context.Context, input *BackupFilenameInput) (*struct{}, error) {
	if err := h.backups.DeleteBackup(ctx, input.Filename); err != nil {
		return nil, backupError(err)
	}
	return nil, nil
}

// RestoreOutput reports a completed restore.
type RestoreOutput struct {
	Body struct {
		Restored string `json:"restored"`
		Message  string `json:"message"`
	}
}

// RestoreBackup swaps the live catalog for the named backup.
func (h *BackupHandler) RestoreBackup(ctx context.Context, input *BackupFilenameInput) (*RestoreOutput, error) {
	if err := h.backups.RestoreBackup(ctx, input.Filename); err != nil {
		h.logger.Error("restore failed", "filename", input.Filename, "error", err)
		return nil, backupError(err)
	}
	h.logger.Info("catalog restored from backup", "filename", input.Filename)
	out := &RestoreOutput{}
	out.Body.Restored = input.Filename
	out.Body.Message = "catalog restored, restart the service to pick up the new database"
	return out, nil
}

// ScheduleOutput wraps the configured backup cadence.
type ScheduleOutput struct {
	Body models.BackupScheduleInfo
}

// GetSchedule reports the configured backup cadence.
func (h *BackupHandler) GetSchedule(_ context.Context, _ *struct{}) (*ScheduleOutput, error) {
	return &ScheduleOutput{Body: h.backups.GetScheduleInfo()}, nil
}

// Download streams a backup archive to the client.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	f, err := h.backups.OpenBackupFile(r.Context(), filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "backup not found", http.StatusNotFound)
			return
		}
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Debug("backup download interrupted", "filename", filename, "error", err)
	}
}

// Import accepts an uploaded backup archive. The filename comes from
// the X-Filename header or a filename query parameter.
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	filename := r.Header.Get("X-Filename")
	if filename == "" {
		filename = r.URL.Query().Get("filename")
	}
	if filename == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxImportBody)
	meta, err := h.backups.ImportBackup(r.Context(), body, filename)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if strings.Contains(err.Error(), "already exists") {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	h.logger.Info("backup imported", "filename", meta.Filename)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, meta)
}

// backupError maps service failures to API statuses.
func backupError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return huma.Error404NotFound("backup not found")
	case strings.Contains(err.Error(), "invalid filename"):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
