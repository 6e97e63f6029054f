package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
	"github.com/exstreamtv/exstreamtv/pkg/m3u"
)

// importBatchSize bounds one INSERT during playlist import.
const importBatchSize = 200

var (
	// ErrLibraryNotFound reports that the requested library does not exist.
	ErrLibraryNotFound = errors.New("library not found")
	// ErrLibraryDisabled reports that the library is switched off.
	ErrLibraryDisabled = errors.New("library is disabled")
	// ErrNotPlaylistLibrary reports a source type other than m3u.
	ErrNotPlaylistLibrary = errors.New("not an m3u playlist library")
)

// PlaylistImportResult summarizes one import run.
type PlaylistImportResult struct {
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// PlaylistImportService imports M3U playlist libraries into the catalog:
// every playlist entry becomes an m3u media item keyed by its stream URL,
// so re-imports update in place instead of duplicating.
type PlaylistImportService struct {
	libraries repository.LibraryRepository
	items     repository.MediaItemRepository
	client    *httpclient.Client
	logger    *slog.Logger
}

// NewPlaylistImportService creates the import service. The factory supplies
// the client so the m3u breaker profile and decompression apply.
func NewPlaylistImportService(
	libraries repository.LibraryRepository,
	items repository.MediaItemRepository,
	factory *httpclient.ClientFactory,
	logger *slog.Logger,
) *PlaylistImportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistImportService{
		libraries: libraries,
		items:     items,
		client:    factory.CreateClientForService("m3u"),
		logger:    logger.With("component", "playlist-import"),
	}
}

// Import fetches the library's playlist and upserts its entries.
func (s *PlaylistImportService) Import(ctx context.Context, libraryID models.ULID) (*PlaylistImportResult, error) {
	lib, err := s.libraries.GetByID(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("loading library: %w", err)
	}
	if lib == nil {
		return nil, ErrLibraryNotFound
	}
	if lib.SourceType != models.SourceTypeM3U {
		return nil, fmt.Errorf("library %q is %s: %w", lib.Name, lib.SourceType, ErrNotPlaylistLibrary)
	}
	if !lib.IsEnabled() {
		return nil, fmt.Errorf("library %q: %w", lib.Name, ErrLibraryDisabled)
	}

	resp, err := s.client.Get(ctx, lib.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetching playlist: upstream returned %d", resp.StatusCode)
	}

	result := &PlaylistImportResult{}
	var batch []*models.MediaItem

	parser := &m3u.Parser{
		OnEntry: func(e *m3u.Entry) error {
			result.Scanned++
			item, ok := s.entryToItem(lib, e)
			if !ok {
				result.Skipped++
				return nil
			}

			existing, err := s.items.GetBySourceKey(ctx, lib.ID, item.SourceKey)
			if err != nil {
				return err
			}
			if existing == nil {
				batch = append(batch, item)
				if len(batch) >= importBatchSize {
					if err := s.items.CreateInBatches(ctx, batch, importBatchSize); err != nil {
						return fmt.Errorf("inserting items: %w", err)
					}
					result.Created += len(batch)
					batch = batch[:0]
				}
				return nil
			}
			if s.refresh(existing, item) {
				if err := s.items.Update(ctx, existing); err != nil {
					return fmt.Errorf("updating item %s: %w", existing.ID, err)
				}
				result.Updated++
			}
			return nil
		},
		OnError: func(line int, err error) {
			s.logger.Warn("skipping malformed playlist line",
				"library", lib.Name, "line", line, "error", err)
		},
	}

	if err := parser.ParseCompressed(resp.Body); err != nil {
		return nil, fmt.Errorf("parsing playlist for %q: %w", lib.Name, err)
	}
	if len(batch) > 0 {
		if err := s.items.CreateInBatches(ctx, batch, importBatchSize); err != nil {
			return nil, fmt.Errorf("inserting items: %w", err)
		}
		result.Created += len(batch)
	}

	s.logger.Info("playlist import finished",
		"library", lib.Name,
		"scanned", result.Scanned,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped)
	return result, nil
}

// entryToItem maps one playlist entry onto a catalog item. Entries without
// an http(s) URL are skipped.
func (s *PlaylistImportService) entryToItem(lib *models.Library, e *m3u.Entry) (*models.MediaItem, bool) {
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}

	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = strings.TrimSpace(e.TvgName)
	}
	if title == "" {
		return nil, false
	}

	item := &models.MediaItem{
		Title:      title,
		MediaType:  models.MediaTypeClip,
		SourceType: models.SourceTypeM3U,
		SourceKey:  e.URL,
		LibraryID:  &lib.ID,
		Genres:     e.GroupTitle,
	}
	if e.Duration > 0 {
		item.DurationMs = int64(e.Duration) * 1000
	}
	return item, true
}

// refresh copies changed playlist metadata onto the stored item, reporting
// whether anything changed.
func (s *PlaylistImportService) refresh(existing, incoming *models.MediaItem) bool {
	changed := false
	if existing.Title != incoming.Title {
		existing.Title = incoming.Title
		changed = true
	}
	if existing.DurationMs != incoming.DurationMs {
		existing.DurationMs = incoming.DurationMs
		changed = true
	}
	if existing.Genres != incoming.Genres {
		existing.Genres = incoming.Genres
		changed = true
	}
	return changed
}
