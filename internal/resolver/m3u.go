package resolver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// M3UResolver passes through URLs captured during playlist ingestion. The
// upstream owns credentials and expiry, so the stored URL is opaque to us.
type M3UResolver struct{}

// NewM3UResolver creates the pass-through resolver for m3u items.
func NewM3UResolver() *M3UResolver {
	return &M3UResolver{}
}

// Type returns the source type this resolver handles.
func (r *M3UResolver) Type() models.SourceType {
	return models.SourceTypeM3U
}

// Resolve returns the stored URL. Items without a known runtime are marked
// live so the pipeline skips -re pacing.
func (r *M3UResolver) Resolve(_ context.Context, item *models.MediaItem) (Resolution, error) {
	u, err := url.Parse(item.SourceKey)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("stored URL %q is not http(s)", item.SourceKey))
	}

	return Resolution{URL: item.SourceKey, Live: item.DurationMs == 0}, nil
}

var _ Resolver = (*M3UResolver)(nil)
