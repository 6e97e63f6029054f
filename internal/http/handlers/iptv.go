package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/go-chi/chi/v5"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/epg"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
	"github.com/exstreamtv/exstreamtv/internal/storage"
	"github.com/exstreamtv/exstreamtv/pkg/m3u"
)

// guideSource serves the XMLTV document. The EPG generator implements it.
type guideSource interface {
	Guide(ctx context.Context) (*epg.Guide, error)
	Cached() *epg.Guide
}

// logoProvider fetches and serves cached channel logos.
type logoProvider interface {
	CacheLogo(ctx context.Context, logoURL string) (*storage.CachedLogoMetadata, error)
	Open(meta *storage.CachedLogoMetadata) (io.ReadCloser, error)
}

// itemResolver turns a media item into a playable URL.
type itemResolver interface {
	Resolve(ctx context.Context, item *models.MediaItem) (resolver.Resolution, error)
}

// containmentReader reports whether the self-heal controller has engaged
// containment. The guide endpoint degrades to its cache under it.
type containmentReader interface {
	Contained() bool
}

// IPTVHandler serves the player-facing surface: channel streams, the M3U
// playlist, the XMLTV guide, cached logos, and direct item passthrough.
type IPTVHandler struct {
	server   config.ServerConfig
	throttle config.StreamThrottleConfig
	channels repository.ChannelRepository
	items    repository.MediaItemRepository
	streamer ChannelStreamer
	guide    guideSource
	logos    logoProvider
	resolver itemResolver
	health   containmentReader
	logger   *slog.Logger
}

// NewIPTVHandler creates the IPTV surface handler. health and resolver
// may be nil; the corresponding behaviors degrade gracefully.
func NewIPTVHandler(server config.ServerConfig, throttle config.StreamThrottleConfig, channels repository.ChannelRepository, items repository.MediaItemRepository, streamer ChannelStreamer, guide guideSource, logos logoProvider, res itemResolver, health containmentReader) *IPTVHandler {
	return &IPTVHandler{
		server:   server,
		throttle: throttle,
		channels: channels,
		items:    items,
		streamer: streamer,
		guide:    guide,
		logos:    logos,
		resolver: res,
		health:   health,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *IPTVHandler) WithLogger(logger *slog.Logger) *IPTVHandler {
	h.logger = logger
	return h
}

// RegisterRoutes mounts the IPTV endpoints on the router.
func (h *IPTVHandler) RegisterRoutes(r chi.Router) {
	r.Get("/iptv/channel/{number}.ts", h.ChannelStream)
	r.Get("/iptv/channel/{number}.m3u8", h.ChannelHLS)
	r.Get("/iptv/channels.m3u", h.Playlist)
	r.Get("/iptv/xmltv.xml", h.Guide)
	r.Get("/iptv/logo/{id}.png", h.Logo)
	r.Get("/iptv/stream/{mediaID}", h.ItemPassthrough)
}

// ChannelStream tunes a channel by guide number and writes MPEG-TS.
func (h *IPTVHandler) ChannelStream(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	sess, err := h.streamer.GetStreamByNumber(r.Context(), number, r.RemoteAddr, r.UserAgent())
	if err != nil {
		writeStreamError(w, err)
		return
	}
	serveTS(w, r, h.streamer, sess, h.throttle, h.logger)
}

// ChannelHLS serves a single-variant multivariant playlist pointing at
// the channel's .ts endpoint, for players that only speak HLS.
func (h *IPTVHandler) ChannelHLS(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	ch, err := h.channels.GetByNumber(r.Context(), number)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if ch == nil || !ch.IsEnabled() {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	bandwidth := h.throttle.TargetBitrateBPS
	if bandwidth <= 0 {
		bandwidth = 8_000_000
	}
	mv := &playlist.Multivariant{
		Version:             3,
		IndependentSegments: true,
		Variants: []*playlist.MultivariantVariant{{
			Bandwidth: bandwidth,
			URI:       fmt.Sprintf("%s/iptv/channel/%s.ts", h.server.BaseURL(), ch.Number),
		}},
	}
	data, err := mv.Marshal()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write(data)
}

// Playlist serves the lineup as an extended M3U with guide attributes.
func (h *IPTVHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.GetEnabled(r.Context())
	if err != nil {
		h.logger.Error("playlist query failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	base := h.server.BaseURL()
	var buf bytes.Buffer
	mw := m3u.NewWriter(&buf)
	mw.EPGURL = base + "/iptv/xmltv.xml"

	for _, ch := range channels {
		entry := &m3u.Entry{
			TvgID:         epg.ChannelID(ch.ID),
			ChannelNumber: ch.Number,
			TvgName:       ch.Name,
			GroupTitle:    ch.Group,
			Title:         ch.Name,
			URL:           fmt.Sprintf("%s/iptv/channel/%s.ts", base, ch.Number),
		}
		if ch.LogoURL != "" {
			entry.TvgLogo = fmt.Sprintf("%s/iptv/logo/%s.png", base, ch.ID)
		}
		if err := mw.WriteEntry(entry); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	if err := mw.WriteHeader(); err != nil { // empty lineup still gets #EXTM3U
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="exstreamtv.m3u"`)
	w.Write(buf.Bytes())
}

// Guide serves the XMLTV document. Under containment the last good
// build is served; with nothing cached, or on a failed build, the
// client gets 503 with a Retry-After rather than a corrupt guide.
func (h *IPTVHandler) Guide(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && h.health.Contained() {
		if cached := h.guide.Cached(); cached != nil {
			writeGuide(w, cached.Data)
			return
		}
		guideUnavailable(w)
		return
	}

	count, err := h.channels.CountEnabled(r.Context())
	if err == nil && count == 0 {
		h.logger.Warn("guide requested with empty lineup")
		guideUnavailable(w)
		return
	}

	guide, err := h.guide.Guide(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrXMLTVInvalid) || errors.Is(err, models.ErrLineupInvalid) {
			guideUnavailable(w)
			return
		}
		h.logger.Error("guide build failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeGuide(w, guide.Data)
}

func writeGuide(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write(data)
}

func guideUnavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", retryAfterSeconds)
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

// Logo serves a channel's cached logo, fetching it on first request.
func (h *IPTVHandler) Logo(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	ch, err := h.channels.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if ch == nil || ch.LogoURL == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	meta, err := h.logos.CacheLogo(r.Context(), ch.LogoURL)
	if err != nil {
		h.logger.Warn("logo fetch failed", "channel", ch.Number, "url", ch.LogoURL, "error", err)
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	rc, err := h.logos.Open(meta)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	io.Copy(w, rc)
}

// ItemPassthrough resolves a single media item and hands the client the
// bytes directly, outside any channel timeline. Remote sources redirect;
// local files are served from disk.
func (h *IPTVHandler) ItemPassthrough(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	id, err := models.ParseULID(chi.URLParam(r, "mediaID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	item, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if item == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), item)
	if err != nil {
		h.logger.Warn("passthrough resolution failed", "media_id", id, "error", err)
		w.Header().Set("Retry-After", retryAfterSeconds)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	if strings.HasPrefix(res.URL, "file://") {
		http.ServeFile(w, r, strings.TrimPrefix(res.URL, "file://"))
		return
	}
	http.Redirect(w, r, res.URL, http.StatusFound)
}
