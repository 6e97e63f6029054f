package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/storage"
)

// LocalResolver maps catalog paths to file URIs under the configured media
// roots. Paths that escape every root are refused as invalid rather than
// missing, so the catalog row gets flagged instead of retried.
type LocalResolver struct {
	roots *storage.MediaRoots
}

// NewLocalResolver creates a resolver over the configured media roots.
func NewLocalResolver(roots *storage.MediaRoots) *LocalResolver {
	return &LocalResolver{roots: roots}
}

// Type returns the source type this resolver handles.
func (r *LocalResolver) Type() models.SourceType {
	return models.SourceTypeLocal
}

// Resolve maps the item path to a file URI. No credentials, no expiry.
func (r *LocalResolver) Resolve(_ context.Context, item *models.MediaItem) (Resolution, error) {
	abs, err := r.roots.Resolve(item.SourceKey)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return Resolution{}, unresolvable(item, models.UnresolvableNotFound, err)
	case errors.Is(err, storage.ErrOutsideRoots), errors.Is(err, storage.ErrNoRoots):
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid, err)
	default:
		return Resolution{}, fmt.Errorf("resolving local path: %w", err)
	}

	uri := url.URL{Scheme: "file", Path: abs}
	return Resolution{URL: uri.String()}, nil
}

var _ Resolver = (*LocalResolver)(nil)
