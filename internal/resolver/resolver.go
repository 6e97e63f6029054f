// Package resolver turns catalog media items into streamable URLs.
//
// Each source type has its own strategy: plex, jellyfin and emby build
// credentialed server URLs from cached Library rows, local maps paths under
// the configured media roots, archive_org asks the archive.org metadata API
// for the canonical file location, youtube shells out to an external
// extractor, and m3u items carry their URL verbatim. Failures are classified
// as models.ResolverError so the channel loop can pick a recovery action
// instead of parsing error strings.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// Resolution is a playable location for a media item.
type Resolution struct {
	// URL is handed to FFmpeg as the input. It may be an http(s) URL or a
	// file URI for local items.
	URL string

	// Headers are extra request headers FFmpeg must send, when the source
	// needs them. Nil for most sources.
	Headers map[string]string

	// ExpiresAt is when the URL stops being trustworthy. Zero means the URL
	// is token-lived or permanent and never needs a background refresh.
	ExpiresAt time.Time

	// Live marks unbounded sources (IPTV streams without a known runtime)
	// that must not be paced with -re.
	Live bool
}

// Expiring reports whether the resolution carries an expiry.
func (r Resolution) Expiring() bool {
	return !r.ExpiresAt.IsZero()
}

// Resolver resolves items of a single source type.
type Resolver interface {
	// Type returns the source type this resolver handles.
	Type() models.SourceType

	// Resolve maps the item to a streamable URL. Failures are returned as
	// *models.ResolverError carrying the unresolvable classification.
	Resolve(ctx context.Context, item *models.MediaItem) (Resolution, error)
}

// Registry maps source types to their resolver strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[models.SourceType]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[models.SourceType]Resolver)}
}

// Register adds a strategy, replacing any previous one for the same type.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[res.Type()] = res
}

// Get returns the strategy for the given source type.
func (r *Registry) Get(sourceType models.SourceType) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.strategies[sourceType]
	if !ok {
		return nil, fmt.Errorf("no resolver registered for source type: %s", sourceType)
	}
	return res, nil
}

// SupportedTypes returns all registered source types, sorted.
func (r *Registry) SupportedTypes() []models.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.SourceType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// unresolvable wraps a failure in the classification the channel loop acts on.
func unresolvable(item *models.MediaItem, kind models.UnresolvableKind, err error) error {
	return &models.ResolverError{Kind: kind, ItemID: item.ID, Err: err}
}

// classifyStatus maps an upstream HTTP status to an unresolvable kind.
func classifyStatus(status int) models.UnresolvableKind {
	switch {
	case status == 401 || status == 403:
		return models.UnresolvableAuth
	case status == 404 || status == 410:
		return models.UnresolvableNotFound
	case status >= 500 || status == 429:
		return models.UnresolvableUpstreamDown
	default:
		return models.UnresolvableInvalid
	}
}

// credentialedLibrary fetches and vets the Library row a plex/jellyfin/emby
// item points at. Database failures come back unclassified; everything wrong
// with the row itself is a ResolverError.
func credentialedLibrary(ctx context.Context, cache *LibraryCache, item *models.MediaItem) (*models.Library, error) {
	if item.LibraryID == nil {
		return nil, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("%s item has no library reference", item.SourceType))
	}

	lib, err := cache.Get(ctx, *item.LibraryID)
	if err != nil {
		return nil, err
	}
	if lib == nil {
		return nil, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("library %s not found", *item.LibraryID))
	}
	if !lib.IsEnabled() {
		return nil, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("library %q is disabled", lib.Name))
	}
	if lib.RequiresToken() && lib.Token == "" {
		return nil, unresolvable(item, models.UnresolvableAuth,
			fmt.Errorf("library %q has no access token", lib.Name))
	}
	return lib, nil
}
