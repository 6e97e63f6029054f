package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
)

// LibraryCache keeps Library rows in memory so resolution never touches the
// database on the playout hot path. It is warmed once at startup and
// invalidated when the catalog changes; a miss falls through to a single
// read-through load, which covers libraries created after boot.
type LibraryCache struct {
	repo   repository.LibraryRepository
	logger *slog.Logger

	mu        sync.RWMutex
	libraries map[models.ULID]*models.Library
	warmed    bool
}

// NewLibraryCache creates an unwarmed cache over the given repository.
func NewLibraryCache(repo repository.LibraryRepository, logger *slog.Logger) *LibraryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryCache{
		repo:      repo,
		logger:    logger.With("component", "library-cache"),
		libraries: make(map[models.ULID]*models.Library),
	}
}

// Warm loads every library row. Called once at startup and again after
// Invalidate from the catalog change feed.
func (c *LibraryCache) Warm(ctx context.Context) error {
	rows, err := c.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("warming library cache: %w", err)
	}

	fresh := make(map[models.ULID]*models.Library, len(rows))
	for _, lib := range rows {
		fresh[lib.ID] = lib
	}

	c.mu.Lock()
	c.libraries = fresh
	c.warmed = true
	c.mu.Unlock()

	c.logger.Debug("library cache warmed", "libraries", len(rows))
	return nil
}

// Get returns the library row for id. A miss after warming triggers one
// read-through load so rows created since the last Warm are still found.
func (c *LibraryCache) Get(ctx context.Context, id models.ULID) (*models.Library, error) {
	c.mu.RLock()
	lib, ok := c.libraries[id]
	warmed := c.warmed
	c.mu.RUnlock()

	if ok {
		return lib, nil
	}
	if !warmed {
		if err := c.Warm(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		lib, ok = c.libraries[id]
		c.mu.RUnlock()
		if ok {
			return lib, nil
		}
	}

	// Read-through for rows created after the last warm.
	lib, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading library %s: %w", id, err)
	}
	if lib == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.libraries[lib.ID] = lib
	c.mu.Unlock()
	return lib, nil
}

// Invalidate drops the cached rows. The next Get or Warm reloads.
func (c *LibraryCache) Invalidate() {
	c.mu.Lock()
	c.libraries = make(map[models.ULID]*models.Library)
	c.warmed = false
	c.mu.Unlock()
	c.logger.Debug("library cache invalidated")
}

// Len returns the number of cached rows.
func (c *LibraryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.libraries)
}
