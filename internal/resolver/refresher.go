package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
)

// unavailableAfterFailures is how many consecutive not_found refreshes it
// takes before an item is pulled from enumeration.
const unavailableAfterFailures = 3

// Refresher re-resolves expired item URLs in the background so the channel
// loop never blocks on a slow extractor. Work is bounded by a worker limit
// and deduplicated per item: scheduling an item already in flight is a
// no-op.
type Refresher struct {
	registry *Registry
	items    repository.MediaItemRepository
	logger   *slog.Logger
	group    *errgroup.Group
	ctx      context.Context
	onDone   func(models.ULID) // test hook, may be nil

	mu       sync.Mutex
	inFlight map[models.ULID]struct{}
}

// NewRefresher creates a refresher running at most workers concurrent
// refreshes. The context bounds the lifetime of all background work.
func NewRefresher(ctx context.Context, registry *Registry, items repository.MediaItemRepository, workers int, logger *slog.Logger) *Refresher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	return &Refresher{
		registry: registry,
		items:    items,
		logger:   logger.With("component", "url-refresher"),
		group:    group,
		ctx:      ctx,
		inFlight: make(map[models.ULID]struct{}),
	}
}

// Schedule queues a background refresh for the item. Returns false when the
// item is already being refreshed.
func (f *Refresher) Schedule(item *models.MediaItem) bool {
	f.mu.Lock()
	if _, busy := f.inFlight[item.ID]; busy {
		f.mu.Unlock()
		return false
	}
	f.inFlight[item.ID] = struct{}{}
	f.mu.Unlock()

	// Copy what the worker needs; the caller may mutate the item.
	snapshot := *item

	f.group.Go(func() error {
		defer func() {
			f.mu.Lock()
			delete(f.inFlight, snapshot.ID)
			f.mu.Unlock()
			if f.onDone != nil {
				f.onDone(snapshot.ID)
			}
		}()
		f.refresh(&snapshot)
		return nil
	})
	return true
}

// Wait blocks until all scheduled refreshes finish. Used in shutdown and
// tests.
func (f *Refresher) Wait() {
	_ = f.group.Wait() //nolint:errcheck // workers never return errors
}

// refresh re-resolves one item and persists the outcome.
func (f *Refresher) refresh(item *models.MediaItem) {
	strategy, err := f.registry.Get(item.SourceType)
	if err != nil {
		f.logger.Warn("refresh skipped", "item_id", item.ID, "error", err)
		return
	}

	res, err := strategy.Resolve(f.ctx, item)
	if err != nil {
		f.recordFailure(item, err)
		return
	}
	if !res.Expiring() {
		// Nothing worth caching; the source resolves instantly.
		return
	}

	if err := f.items.UpdateURL(f.ctx, item.ID, res.URL, res.ExpiresAt); err != nil {
		f.logger.Error("persisting refreshed URL", "item_id", item.ID, "error", err)
		return
	}
	f.logger.Info("item URL refreshed",
		"item_id", item.ID,
		"source_type", item.SourceType,
		"expires_at", res.ExpiresAt)
}

// recordFailure bumps the failure counter and retires items that keep
// reporting not_found.
func (f *Refresher) recordFailure(item *models.MediaItem, cause error) {
	f.logger.Warn("refresh failed", "item_id", item.ID, "error", cause)

	var resErr *models.ResolverError
	if !errors.As(cause, &resErr) || resErr.Kind != models.UnresolvableNotFound {
		return
	}

	count, err := f.items.IncrementFailureCount(f.ctx, item.ID)
	if err != nil {
		f.logger.Error("bumping failure count", "item_id", item.ID, "error", err)
		return
	}
	if count >= unavailableAfterFailures {
		if err := f.items.SetAvailability(f.ctx, item.ID, false); err != nil {
			f.logger.Error("retiring item", "item_id", item.ID, "error", err)
			return
		}
		f.logger.Warn("item retired after repeated not_found",
			"item_id", item.ID,
			"failures", count)
	}
}
