package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/service"
)

// PlaylistImporter runs an M3U import for one library.
type PlaylistImporter interface {
	Import(ctx context.Context, libraryID models.ULID) (*service.PlaylistImportResult, error)
}

// LibraryCacheInvalidator drops cached library rows after a mutation.
// The resolver caches libraries at startup, so every write through this
// handler must invalidate or stale credentials serve until restart.
type LibraryCacheInvalidator interface {
	InvalidateLibraries()
}

// LibraryHandler exposes library CRUD and the playlist import surface.
type LibraryHandler struct {
	libraries   repository.LibraryRepository
	importer    PlaylistImporter
	invalidator LibraryCacheInvalidator
	logger      *slog.Logger
}

// NewLibraryHandler creates a new library handler.
func NewLibraryHandler(libraries repository.LibraryRepository, importer PlaylistImporter, invalidator LibraryCacheInvalidator) *LibraryHandler {
	return &LibraryHandler{
		libraries:   libraries,
		importer:    importer,
		invalidator: invalidator,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *LibraryHandler) WithLogger(logger *slog.Logger) *LibraryHandler {
	h.logger = logger
	return h
}

// Register registers the library routes with the API.
func (h *LibraryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listLibraries",
		Method:      "GET",
		Path:        "/api/v1/libraries",
		Summary:     "List libraries",
		Tags:        []string{"Libraries"},
	}, h.ListLibraries)

	huma.Register(api, huma.Operation{
		OperationID:   "createLibrary",
		Method:        "POST",
		Path:          "/api/v1/libraries",
		Summary:       "Create a library",
		Tags:          []string{"Libraries"},
		DefaultStatus: 201,
	}, h.CreateLibrary)

	huma.Register(api, huma.Operation{
		OperationID: "getLibrary",
		Method:      "GET",
		Path:        "/api/v1/libraries/{id}",
		Summary:     "Get library by ID",
		Tags:        []string{"Libraries"},
	}, h.GetLibrary)

	huma.Register(api, huma.Operation{
		OperationID: "updateLibrary",
		Method:      "PUT",
		Path:        "/api/v1/libraries/{id}",
		Summary:     "Update a library",
		Tags:        []string{"Libraries"},
	}, h.UpdateLibrary)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteLibrary",
		Method:        "DELETE",
		Path:          "/api/v1/libraries/{id}",
		Summary:       "Delete a library",
		Tags:          []string{"Libraries"},
		DefaultStatus: 204,
	}, h.DeleteLibrary)

	huma.Register(api, huma.Operation{
		OperationID: "importLibrary",
		Method:      "POST",
		Path:        "/api/v1/libraries/{id}/import",
		Summary:     "Import an M3U playlist library",
		Description: "Fetches the library's playlist and upserts its entries into the catalog. Only m3u libraries can be imported.",
		Tags:        []string{"Libraries"},
	}, h.ImportLibrary)
}

// libraryID resolves a path ULID to a library, mapping absence to 404.
func (h *LibraryHandler) libraryID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error404NotFound("library not found")
	}
	return id, nil
}

// LibraryBody is the writable subset of a library.
type LibraryBody struct {
	Name       string `json:"name"`
	SourceType string `json:"source_type" enum:"plex,jellyfin,emby,m3u,local"`
	BaseURL    string `json:"base_url"`
	Token      string `json:"token,omitempty"`
	SectionKey string `json:"section_key,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

func (b *LibraryBody) apply(lib *models.Library) {
	lib.Name = b.Name
	lib.SourceType = models.SourceType(b.SourceType)
	lib.BaseURL = b.BaseURL
	if b.Token != "" {
		lib.Token = b.Token
	}
	lib.SectionKey = b.SectionKey
	if b.Enabled != nil {
		lib.Enabled = b.Enabled
	}
}

// ListLibrariesOutput is the output for listing libraries.
type ListLibrariesOutput struct {
	Body struct {
		Items []*models.Library `json:"items"`
		Total int               `json:"total"`
	}
}

// ListLibraries returns all configured libraries.
func (h *LibraryHandler) ListLibraries(ctx context.Context, _ *struct{}) (*ListLibrariesOutput, error) {
	libs, err := h.libraries.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list libraries")
	}
	out := &ListLibrariesOutput{}
	out.Body.Items = libs
	out.Body.Total = len(libs)
	return out, nil
}

// CreateLibraryInput is the input for creating a library.
type CreateLibraryInput struct {
	Body LibraryBody
}

// LibraryOutput wraps a single library.
type LibraryOutput struct {
	Body *models.Library
}

// CreateLibrary registers a media source.
func (h *LibraryHandler) CreateLibrary(ctx context.Context, input *CreateLibraryInput) (*LibraryOutput, error) {
	lib := &models.Library{}
	input.Body.apply(lib)
	if err := lib.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.libraries.Create(ctx, lib); err != nil {
		h.logger.Error("library create failed", "name", lib.Name, "error", err)
		return nil, huma.Error500InternalServerError("failed to create library")
	}
	h.invalidator.InvalidateLibraries()
	h.logger.Info("library created", "name", lib.Name, "source", lib.SourceType, "id", lib.ID)
	return &LibraryOutput{Body: lib}, nil
}

// GetLibraryInput addresses a library by ID.
type GetLibraryInput struct {
	ID string `path:"id"`
}

// GetLibrary returns one library.
func (h *LibraryHandler) GetLibrary(ctx context.Context, input *GetLibraryInput) (*LibraryOutput, error) {
	id, err := h.libraryID(input.ID)
	if err != nil {
		return nil, err
	}
	lib, err := h.libraries.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to fetch library")
	}
	if lib == nil {
		return nil, huma.Error404NotFound("library not found")
	}
	return &LibraryOutput{Body: lib}, nil
}

// UpdateLibraryInput carries the replacement library document.
type UpdateLibraryInput struct {
	ID   string `path:"id"`
	Body LibraryBody
}

// UpdateLibrary replaces a library's writable fields. An empty token in the
// body keeps the stored credential.
func (h *LibraryHandler) UpdateLibrary(ctx context.Context, input *UpdateLibraryInput) (*LibraryOutput, error) {
	id, err := h.libraryID(input.ID)
	if err != nil {
		return nil, err
	}
	lib, err := h.libraries.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to fetch library")
	}
	if lib == nil {
		return nil, huma.Error404NotFound("library not found")
	}
	input.Body.apply(lib)
	if err := lib.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.libraries.Update(ctx, lib); err != nil {
		h.logger.Error("library update failed", "id", id, "error", err)
		return nil, huma.Error500InternalServerError("failed to update library")
	}
	h.invalidator.InvalidateLibraries()
	return &LibraryOutput{Body: lib}, nil
}

// DeleteLibraryInput addresses a library by ID.
type DeleteLibraryInput struct {
	ID string `path:"id"`
}

// DeleteLibrary removes a library.
func (h *LibraryHandler) DeleteLibrary(ctx context.Context, input *DeleteLibraryInput) (*struct{}, error) {
	id, err := h.libraryID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.libraries.Delete(ctx, id); err != nil {
		h.logger.Error("library delete failed", "id", id, "error", err)
		return nil, huma.Error500InternalServerError("failed to delete library")
	}
	h.invalidator.InvalidateLibraries()
	return nil, nil
}

// ImportLibraryInput addresses a library by ID.
type ImportLibraryInput struct {
	ID string `path:"id"`
}

// ImportLibraryOutput reports what the import run did.
type ImportLibraryOutput struct {
	Body *service.PlaylistImportResult
}

// ImportLibrary runs a synchronous playlist import for an m3u library.
func (h *LibraryHandler) ImportLibrary(ctx context.Context, input *ImportLibraryInput) (*ImportLibraryOutput, error) {
	id, err := h.libraryID(input.ID)
	if err != nil {
		return nil, err
	}
	result, err := h.importer.Import(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrLibraryNotFound) {
			return nil, huma.Error404NotFound("library not found")
		}
		if errors.Is(err, service.ErrNotPlaylistLibrary) || errors.Is(err, service.ErrLibraryDisabled) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		h.logger.Error("playlist import failed", "library", id, "error", err)
		return nil, huma.Error502BadGateway("playlist import failed")
	}
	return &ImportLibraryOutput{Body: result}, nil
}
