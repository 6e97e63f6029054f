package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/storage"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

// slowSources need a network round trip or a subprocess to resolve. When
// their cached URL goes stale the loop gets an expired error and advances;
// the refresher re-resolves in the background.
var slowSources = map[models.SourceType]bool{
	models.SourceTypeYouTube:    true,
	models.SourceTypeArchiveOrg: true,
}

// Service is the resolution entry point the channel loops call. It fronts
// the per-source strategies with the provisional URL cache and hands stale
// slow-source items to the background refresher.
type Service struct {
	registry  *Registry
	libraries *LibraryCache
	items     repository.MediaItemRepository
	refresher *Refresher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New wires the full strategy set. ctx bounds background refresh work; the
// factory supplies the archive.org client so its breaker profile applies.
func New(
	ctx context.Context,
	cfg config.ResolverConfig,
	libraries repository.LibraryRepository,
	items repository.MediaItemRepository,
	roots *storage.MediaRoots,
	factory *httpclient.ClientFactory,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	cache := NewLibraryCache(libraries, logger)

	registry := NewRegistry()
	registry.Register(NewPlexResolver(cache))
	registry.Register(NewJellyfinResolver(cache))
	registry.Register(NewEmbyResolver(cache))
	registry.Register(NewLocalResolver(roots))
	registry.Register(NewArchiveOrgResolver(factory.CreateClientForService("archive_org")).WithLogger(logger))
	registry.Register(NewYouTubeResolver(cfg.YouTubeExtractor, cfg.YouTubeCookieJar, cfg.ExtractTimeout).WithLogger(logger))
	registry.Register(NewM3UResolver())

	return &Service{
		registry:  registry,
		libraries: cache,
		items:     items,
		refresher: NewRefresher(ctx, registry, items, cfg.RefreshWorkers, logger),
		metrics:   metrics,
		logger:    logger.With("component", "resolver"),
		now:       time.Now,
	}
}

// Warm preloads the library cache. Call once at startup before the channel
// loops start pulling items.
func (s *Service) Warm(ctx context.Context) error {
	return s.libraries.Warm(ctx)
}

// InvalidateLibraries drops cached library rows. Wired to the catalog
// change feed so credential edits take effect without a restart.
func (s *Service) InvalidateLibraries() {
	s.libraries.Invalidate()
}

// Registry exposes the strategy registry, mainly for diagnostics.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Close waits for in-flight background refreshes.
func (s *Service) Close() {
	s.refresher.Wait()
}

// Resolve maps an item to a playable URL.
//
// A fresh provisional URL short-circuits everything. A stale URL on a slow
// source returns an expired classification immediately and schedules a
// background refresh, so one dead YouTube link never stalls the channel.
// Everything else resolves inline, and expiring results are persisted so
// restarts and sibling channels reuse them.
func (s *Service) Resolve(ctx context.Context, item *models.MediaItem) (Resolution, error) {
	now := s.now()

	if item.URLFresh(now) {
		s.count(item, "cached")
		return Resolution{URL: item.ProvisionalURL, ExpiresAt: *item.URLExpiresAt}, nil
	}

	strategy, err := s.registry.Get(item.SourceType)
	if err != nil {
		s.count(item, string(models.UnresolvableInvalid))
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid, err)
	}

	if slowSources[item.SourceType] && item.ProvisionalURL != "" {
		scheduled := s.refresher.Schedule(item)
		s.count(item, string(models.UnresolvableExpired))
		s.logger.Info("stale URL, refreshing in background",
			"item_id", item.ID,
			"source_type", item.SourceType,
			"scheduled", scheduled)
		return Resolution{}, unresolvable(item, models.UnresolvableExpired,
			fmt.Errorf("cached URL expired, refresh scheduled"))
	}

	res, err := strategy.Resolve(ctx, item)
	if err != nil {
		s.count(item, outcomeFor(err))
		return Resolution{}, err
	}

	if res.Expiring() {
		if err := s.items.UpdateURL(ctx, item.ID, res.URL, res.ExpiresAt); err != nil {
			// Resolution succeeded; a failed cache write only costs us a
			// repeat resolve later.
			s.logger.Warn("persisting provisional URL", "item_id", item.ID, "error", err)
		}
	}

	s.count(item, "ok")
	return res, nil
}

// count records a resolution outcome.
func (s *Service) count(item *models.MediaItem, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ResolutionsTotal.WithLabelValues(string(item.SourceType), outcome).Inc()
	if outcome == string(models.UnresolvableExpired) {
		s.metrics.URLRefreshes.Inc()
	}
}

// outcomeFor converts a resolution error into a metric label.
func outcomeFor(err error) string {
	var resErr *models.ResolverError
	if errors.As(err, &resErr) {
		return string(resErr.Kind)
	}
	return "error"
}
