package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// jellyfinResolver builds direct video stream URLs for Jellyfin and Emby,
// which share the same API surface. One instance serves one source type.
type jellyfinResolver struct {
	sourceType models.SourceType
	libraries  *LibraryCache
}

// NewJellyfinResolver creates a resolver for Jellyfin libraries.
func NewJellyfinResolver(libraries *LibraryCache) Resolver {
	return &jellyfinResolver{sourceType: models.SourceTypeJellyfin, libraries: libraries}
}

// NewEmbyResolver creates a resolver for Emby libraries.
func NewEmbyResolver(libraries *LibraryCache) Resolver {
	return &jellyfinResolver{sourceType: models.SourceTypeEmby, libraries: libraries}
}

// Type returns the source type this resolver handles.
func (r *jellyfinResolver) Type() models.SourceType {
	return r.sourceType
}

// Resolve builds {base_url}/Videos/{id}/stream?api_key=… from the cached
// library row. Token-lived, so no expiry is set.
func (r *jellyfinResolver) Resolve(ctx context.Context, item *models.MediaItem) (Resolution, error) {
	lib, err := credentialedLibrary(ctx, r.libraries, item)
	if err != nil {
		return Resolution{}, err
	}

	base, err := url.Parse(lib.BaseURL)
	if err != nil || base.Host == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("library %q has unusable base URL %q", lib.Name, lib.BaseURL))
	}
	if item.SourceKey == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("empty item id"))
	}

	u := *base
	u.Path = path.Join(base.Path, "Videos", item.SourceKey, "stream")
	q := u.Query()
	q.Set("api_key", lib.Token)
	u.RawQuery = q.Encode()

	return Resolution{URL: u.String()}, nil
}

var _ Resolver = (*jellyfinResolver)(nil)
