package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	// Raster decoders for logo conversion.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"

	"github.com/exstreamtv/exstreamtv/internal/storage"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

// maxLogoBytes caps a single logo download.
const maxLogoBytes = 8 << 20

// LogoPruneOptions controls stale-logo cleanup during index load.
type LogoPruneOptions struct {
	// Prune enables deletion of cached logos whose LastSeenAt is older
	// than Threshold. Uploaded logos are never pruned.
	Prune     bool
	Threshold time.Duration
}

// LogoLoadResult summarizes an index load.
type LogoLoadResult struct {
	TotalLoaded    int
	CachedLoaded   int
	UploadedLoaded int
	PrunedCount    int
	PrunedSize     int64
}

// LogoStats summarizes the cache contents.
type LogoStats struct {
	TotalLogos    int
	TotalSize     int64
	CachedLogos   int
	UploadedLogos int
	CachedSize    int64
	UploadedSize  int64
}

// LogoService fetches channel logos, normalizes raster formats to PNG,
// and serves them from the disk cache. The in-memory index keyed by
// logo id and source URL makes lookups cheap on the guide path; the
// same URL always maps to the same cache entry so logos shared across
// channels download once.
type LogoService struct {
	cache  *storage.LogoCache
	client *httpclient.Client
	logger *slog.Logger

	mu    sync.RWMutex
	byID  map[string]*storage.CachedLogoMetadata
	byURL map[string]*storage.CachedLogoMetadata
}

// NewLogoService creates a logo service backed by the given cache.
func NewLogoService(cache *storage.LogoCache, factory *httpclient.ClientFactory) *LogoService {
	return &LogoService{
		cache:  cache,
		client: factory.CreateClientForService("logo"),
		logger: slog.Default(),
		byID:   make(map[string]*storage.CachedLogoMetadata),
		byURL:  make(map[string]*storage.CachedLogoMetadata),
	}
}

// WithLogger sets the logger for the service.
func (s *LogoService) WithLogger(logger *slog.Logger) *LogoService {
	s.logger = logger.With("component", "logo")
	return s
}

// LoadIndex scans the cache directory into the in-memory index,
// optionally pruning stale cached logos on the way. Call on startup.
func (s *LogoService) LoadIndex(ctx context.Context, opts LogoPruneOptions) (*LogoLoadResult, error) {
	logos, err := s.cache.ScanLogos()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]*storage.CachedLogoMetadata, len(logos))
	s.byURL = make(map[string]*storage.CachedLogoMetadata, len(logos))

	result := &LogoLoadResult{}
	cutoff := time.Now().Add(-opts.Threshold)
	prune := opts.Prune && opts.Threshold > 0

	for _, meta := range logos {
		if prune && meta.IsPrunable() && logoStale(meta, cutoff) {
			if err := s.cache.DeleteWithMetadata(meta.GetID(), meta.ContentType); err != nil {
				s.logger.Warn("pruning stale logo failed",
					"id", meta.GetID(), "error", err)
			} else {
				result.PrunedCount++
				result.PrunedSize += meta.FileSize
			}
			continue
		}

		s.indexLocked(meta)
		result.TotalLoaded++
		if meta.IsPrunable() {
			result.CachedLoaded++
		} else {
			result.UploadedLoaded++
		}
	}

	s.logger.Info("logo index loaded",
		"total", result.TotalLoaded,
		"pruned", result.PrunedCount,
		"pruned_bytes", result.PrunedSize)
	return result, nil
}

// CacheLogo ensures the logo at logoURL is cached and returns its
// metadata. Cached hits just refresh LastSeenAt.
func (s *LogoService) CacheLogo(ctx context.Context, logoURL string) (*storage.CachedLogoMetadata, error) {
	if existing := s.lookup(logoURL); existing != nil {
		if err := s.cache.TouchMetadata(existing); err != nil {
			s.logger.Warn("touching logo failed", "url", logoURL, "error", err)
		}
		s.remember(logoURL, existing)
		return existing, nil
	}

	meta, err := s.download(ctx, logoURL)
	if err != nil {
		return nil, fmt.Errorf("caching logo: %w", err)
	}

	s.mu.Lock()
	s.indexLocked(meta)
	s.mu.Unlock()

	s.logger.Debug("logo cached", "url", logoURL, "id", meta.GetID())
	return meta, nil
}

// GetByURL returns cached metadata for a source URL, nil when absent.
func (s *LogoService) GetByURL(logoURL string) *storage.CachedLogoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byURL[logoURL]
}

// GetByID returns cached metadata by logo id, nil when absent.
func (s *LogoService) GetByID(id string) *storage.CachedLogoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Contains reports whether a URL is already cached.
func (s *LogoService) Contains(logoURL string) bool {
	return s.lookup(logoURL) != nil
}

// Open opens the stored image file for streaming to a client.
func (s *LogoService) Open(meta *storage.CachedLogoMetadata) (io.ReadCloser, error) {
	return s.cache.Get(meta.RelativeImagePath())
}

// Delete removes a logo from the cache and the index.
func (s *LogoService) Delete(id string) error {
	s.mu.Lock()
	meta, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		if meta.OriginalURL != "" {
			delete(s.byURL, meta.OriginalURL)
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.cache.DeleteWithMetadata(meta.GetID(), meta.ContentType); err != nil {
		return fmt.Errorf("deleting logo files: %w", err)
	}
	return nil
}

// All returns every indexed logo.
func (s *LogoService) All() []*storage.CachedLogoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.CachedLogoMetadata, 0, len(s.byID))
	for _, meta := range s.byID {
		out = append(out, meta)
	}
	return out
}

// Stats summarizes the index.
func (s *LogoService) Stats() LogoStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := LogoStats{}
	for _, meta := range s.byID {
		stats.TotalLogos++
		stats.TotalSize += meta.FileSize
		if meta.IsPrunable() {
			stats.CachedLogos++
			stats.CachedSize += meta.FileSize
		} else {
			stats.UploadedLogos++
			stats.UploadedSize += meta.FileSize
		}
	}
	return stats
}

// Count returns the number of indexed logos.
func (s *LogoService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// lookup finds an entry by URL, falling back to the normalized-URL id so
// slightly different URL spellings hit the same cached file.
func (s *LogoService) lookup(logoURL string) *storage.CachedLogoMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if meta := s.byURL[logoURL]; meta != nil {
		return meta
	}
	return s.byID[storage.NewCachedLogoMetadata(logoURL).GetID()]
}

// remember indexes an extra URL spelling for an existing entry.
func (s *LogoService) remember(logoURL string, meta *storage.CachedLogoMetadata) {
	s.mu.Lock()
	s.byURL[logoURL] = meta
	s.mu.Unlock()
}

func (s *LogoService) indexLocked(meta *storage.CachedLogoMetadata) {
	s.byID[meta.GetID()] = meta
	if meta.OriginalURL != "" {
		s.byURL[meta.OriginalURL] = meta
	}
}

// download fetches a logo and stores it. Raster formats are re-encoded
// to PNG so the cache and the guide only ever hand out one raster type;
// SVG passes through untouched.
func (s *LogoService) download(ctx context.Context, logoURL string) (*storage.CachedLogoMetadata, error) {
	resp, err := s.client.Get(ctx, logoURL)
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLogoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(body) > maxLogoBytes {
		return nil, fmt.Errorf("logo exceeds %d byte limit", maxLogoBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	meta := storage.NewCachedLogoMetadata(logoURL)

	if isSVG(contentType) {
		meta.ContentType = contentType
	} else {
		converted, err := convertToPNG(body)
		if err != nil {
			return nil, err
		}
		body = converted
		meta.ContentType = "image/png"
	}

	if err := s.cache.StoreWithMetadata(meta, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("storing logo: %w", err)
	}
	return meta, nil
}

// convertToPNG decodes any registered raster format and re-encodes as
// PNG. Decoding also validates that upstream actually sent an image.
func convertToPNG(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image (format=%q): %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

func isSVG(contentType string) bool {
	return strings.HasPrefix(contentType, "image/svg")
}

func logoStale(meta *storage.CachedLogoMetadata, cutoff time.Time) bool {
	if !meta.LastSeenAt.IsZero() {
		return meta.LastSeenAt.Before(cutoff)
	}
	if !meta.CreatedAt.IsZero() {
		return meta.CreatedAt.Before(cutoff)
	}
	return false
}
