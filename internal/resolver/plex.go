package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// PlexResolver builds direct part URLs against a Plex Media Server. The
// part key stored on the item addresses the media file itself, so playback
// needs no transcode session on the Plex side.
type PlexResolver struct {
	libraries *LibraryCache
}

// NewPlexResolver creates a resolver over the shared library cache.
func NewPlexResolver(libraries *LibraryCache) *PlexResolver {
	return &PlexResolver{libraries: libraries}
}

// Type returns the source type this resolver handles.
func (r *PlexResolver) Type() models.SourceType {
	return models.SourceTypePlex
}

// Resolve builds {base_url}/library/parts/{partKey}?X-Plex-Token=… from the
// cached library row. The URL lives as long as the token, so no expiry is
// set.
func (r *PlexResolver) Resolve(ctx context.Context, item *models.MediaItem) (Resolution, error) {
	lib, err := credentialedLibrary(ctx, r.libraries, item)
	if err != nil {
		return Resolution{}, err
	}

	base, err := url.Parse(lib.BaseURL)
	if err != nil || base.Host == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("library %q has unusable base URL %q", lib.Name, lib.BaseURL))
	}

	partKey := strings.TrimPrefix(item.SourceKey, "/")
	partKey = strings.TrimPrefix(partKey, "library/parts/")
	if partKey == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("empty part key"))
	}

	u := *base
	u.Path = path.Join(base.Path, "library", "parts", partKey)
	q := u.Query()
	q.Set("X-Plex-Token", lib.Token)
	u.RawQuery = q.Encode()

	return Resolution{URL: u.String()}, nil
}

var _ Resolver = (*PlexResolver)(nil)
