package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// youtubeWatchURL is the page URL built for bare video ids.
const youtubeWatchURL = "https://www.youtube.com/watch?v="

// youtubeFallbackTTL is used when the extracted URL carries no expire
// parameter. Extracted URLs live seconds to hours, so err short.
const youtubeFallbackTTL = 30 * time.Minute

// YouTubeResolver shells out to an external extractor (yt-dlp or
// compatible) for a direct stream URL. Extraction is slow and the URLs
// expire quickly, so resolutions always carry an expiry and stale items are
// refreshed in the background rather than blocking the channel loop.
type YouTubeResolver struct {
	extractor string
	cookieJar string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewYouTubeResolver creates a resolver running the given extractor binary.
// cookieJar may be empty; it is passed through for age-gated content.
func NewYouTubeResolver(extractor, cookieJar string, timeout time.Duration) *YouTubeResolver {
	return &YouTubeResolver{
		extractor: extractor,
		cookieJar: cookieJar,
		timeout:   timeout,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets a structured logger for the resolver.
func (r *YouTubeResolver) WithLogger(logger *slog.Logger) *YouTubeResolver {
	r.logger = logger
	return r
}

// Type returns the source type this resolver handles.
func (r *YouTubeResolver) Type() models.SourceType {
	return models.SourceTypeYouTube
}

// Resolve runs the extractor and returns the first printed URL. The format
// selector asks for the best muxed file so FFmpeg gets a single input.
func (r *YouTubeResolver) Resolve(ctx context.Context, item *models.MediaItem) (Resolution, error) {
	target := r.target(item.SourceKey)
	if target == "" {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("empty video id"))
	}

	args := []string{"--no-warnings", "--no-playlist", "--get-url", "--format", "b"}
	if r.cookieJar != "" {
		args = append(args, "--cookies", r.cookieJar)
	}
	args = append(args, target)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	out, err := exec.CommandContext(ctx, r.extractor, args...).Output()
	if err != nil {
		return Resolution{}, r.classifyRunError(ctx, item, err)
	}
	r.logger.Debug("extractor finished",
		"item_id", item.ID,
		"duration", time.Since(start))

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "http") {
		return Resolution{}, unresolvable(item, models.UnresolvableInvalid,
			fmt.Errorf("extractor printed no URL"))
	}

	return Resolution{URL: line, ExpiresAt: r.expiry(line)}, nil
}

// target maps a source key to an extractor argument: full URLs pass
// through, anything else is treated as a video id.
func (r *YouTubeResolver) target(sourceKey string) string {
	key := strings.TrimSpace(sourceKey)
	if key == "" {
		return ""
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	return youtubeWatchURL + key
}

// expiry reads the expire unix-seconds parameter stream URLs carry, falling
// back to a short TTL when absent.
func (r *YouTubeResolver) expiry(streamURL string) time.Time {
	if u, err := url.Parse(streamURL); err == nil {
		if raw := u.Query().Get("expire"); raw != "" {
			if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
				return time.Unix(secs, 0)
			}
		}
	}
	return r.now().Add(youtubeFallbackTTL)
}

// classifyRunError maps extractor failures onto unresolvable kinds using
// the stderr tail the exit error carries.
func (r *YouTubeResolver) classifyRunError(ctx context.Context, item *models.MediaItem, err error) error {
	if ctx.Err() != nil {
		return unresolvable(item, models.UnresolvableUpstreamDown,
			fmt.Errorf("extractor timed out after %s", r.timeout))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		r.logger.Debug("extractor failed", "item_id", item.ID, "stderr", stderr)
		return unresolvable(item, classifyExtractorOutput(stderr),
			fmt.Errorf("extractor: %s", firstLine(stderr)))
	}

	// Binary missing or not executable.
	return unresolvable(item, models.UnresolvableInvalid,
		fmt.Errorf("running extractor: %w", err))
}

// classifyExtractorOutput maps yt-dlp stderr text to an unresolvable kind.
func classifyExtractorOutput(stderr string) models.UnresolvableKind {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "video unavailable"),
		strings.Contains(s, "has been removed"),
		strings.Contains(s, "no longer available"),
		strings.Contains(s, "404"):
		return models.UnresolvableNotFound
	case strings.Contains(s, "private video"),
		strings.Contains(s, "sign in"),
		strings.Contains(s, "login required"),
		strings.Contains(s, "members-only"),
		strings.Contains(s, "confirm your age"):
		return models.UnresolvableAuth
	case strings.Contains(s, "unable to download"),
		strings.Contains(s, "timed out"),
		strings.Contains(s, "connection"),
		strings.Contains(s, "http error 5"):
		return models.UnresolvableUpstreamDown
	default:
		return models.UnresolvableInvalid
	}
}

// firstLine trims multi-line extractor output for error messages.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

var _ Resolver = (*YouTubeResolver)(nil)
