package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

const (
	// defaultArchiveBaseURL is the archive.org API root.
	defaultArchiveBaseURL = "https://archive.org"

	// archiveURLTTL bounds how long a resolved datanode URL is trusted.
	// Items migrate between datanodes, so stale URLs eventually 404; a day
	// keeps metadata API traffic down without trusting URLs forever.
	archiveURLTTL = 24 * time.Hour
)

// videoExtensions are the file extensions the picker treats as playable.
var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".m4v": true, ".mov": true,
	".mpg": true, ".mpeg": true, ".webm": true, ".ogv": true, ".ts": true,
}

// ArchiveOrgResolver resolves items through the archive.org metadata API.
// The source key is "identifier" or "identifier/filename"; without a
// filename the picker prefers the original video upload over derivatives.
type ArchiveOrgResolver struct {
	client  *httpclient.Client
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiveOrgResolver creates a resolver using the given upstream client.
// Pass the factory client for the "archive_org" service so the breaker
// profile that tolerates per-item 404s applies.
func NewArchiveOrgResolver(client *httpclient.Client) *ArchiveOrgResolver {
	return &ArchiveOrgResolver{
		client:  client,
		baseURL: defaultArchiveBaseURL,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithBaseURL points the resolver at a different API root.
func (r *ArchiveOrgResolver) WithBaseURL(base string) *ArchiveOrgResolver {
	r.baseURL = strings.TrimRight(base, "/")
	return r
}

// WithLogger sets a structured logger for the resolver.
func (r *ArchiveOrgResolver) WithLogger(logger *slog.Logger) *ArchiveOrgResolver {
	r.logger = logger
	return r
}

// Type returns the source type this resolver handles.
func (r *ArchiveOrgResolver) Type() models.SourceType {
	return models.SourceTypeArchiveOrg
}

// archiveMetadata is the subset of the metadata API response we read.
// Missing identifiers come back as an empty object with HTTP 200.
type archiveMetadata struct {
	Server string        `json:"server"`
	Dir    string        `json:"dir"`
	Files  []archiveFile `json:"files"`
}

type archiveFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Source string `json:"source"`
}

// Resolve asks the metadata API where the item's file lives and builds the
// canonical datanode URL. Anonymous access; URLs rot when items migrate, so
// the resolution carries a TTL and failures refresh via the identifier.
func (r *ArchiveOrgResolver) Resolve(ctx context.Context, item *models.MediaItem) (Resolution, error) {
	identifier, filename, _ := strings.Cut(item.SourceKey, "/")
	if identifier == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("empty archive.org identifier"))
	}

	meta, err := r.fetchMetadata(ctx, item, identifier)
	if err != nil {
		return Resolution{}, err
	}

	file, ok := r.selectFile(meta.Files, filename)
	if !ok {
		kind := models.UnresolvableNotFound
		if filename == "" {
			// The item exists but has nothing playable; retrying won't help.
			kind = models.UnresolvableInvalid
		}
		return Resolution{}, unresolvable(item, kind,
			fmt.Errorf("no playable file in archive.org item %q", identifier))
	}

	u := url.URL{
		Scheme: "https",
		Host:   meta.Server,
		Path:   path.Join(meta.Dir, file.Name),
	}
	return Resolution{URL: u.String(), ExpiresAt: r.now().Add(archiveURLTTL)}, nil
}

// fetchMetadata calls /metadata/{identifier} and classifies failures.
func (r *ArchiveOrgResolver) fetchMetadata(ctx context.Context, item *models.MediaItem, identifier string) (*archiveMetadata, error) {
	endpoint := r.baseURL + "/metadata/" + url.PathEscape(identifier)

	resp, err := r.client.Get(ctx, endpoint)
	if err != nil {
		return nil, unresolvable(item, models.UnresolvableUpstreamDown,
			fmt.Errorf("metadata fetch: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, unresolvable(item, classifyStatus(resp.StatusCode),
			fmt.Errorf("metadata fetch: status %d", resp.StatusCode))
	}

	var meta archiveMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, unresolvable(item, models.UnresolvableUpstreamDown,
			fmt.Errorf("decoding metadata: %w", err))
	}

	// The API answers 200 with an empty object for unknown identifiers.
	if meta.Server == "" || meta.Dir == "" {
		return nil, unresolvable(item, models.UnresolvableNotFound,
			fmt.Errorf("archive.org item %q does not exist", identifier))
	}
	return &meta, nil
}

// selectFile picks the named file, or the best playable one: the original
// upload wins over derivative encodes.
func (r *ArchiveOrgResolver) selectFile(files []archiveFile, filename string) (archiveFile, bool) {
	if filename != "" {
		for _, f := range files {
			if f.Name == filename {
				return f, true
			}
		}
		return archiveFile{}, false
	}

	var derivative *archiveFile
	for i := range files {
		if !videoExtensions[strings.ToLower(path.Ext(files[i].Name))] {
			continue
		}
		if files[i].Source == "original" {
			return files[i], true
		}
		if derivative == nil {
			derivative = &files[i]
		}
	}
	if derivative != nil {
		return *derivative, true
	}
	return archiveFile{}, false
}

var _ Resolver = (*ArchiveOrgResolver)(nil)
