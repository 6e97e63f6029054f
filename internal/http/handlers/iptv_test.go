package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/broadcast"
	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/epg"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
	"github.com/exstreamtv/exstreamtv/internal/storage"
)

type fakeGuide struct {
	guide  *epg.Guide
	err    error
	cached *epg.Guide
}

func (f *fakeGuide) Guide(ctx context.Context) (*epg.Guide, error) { return f.guide, f.err }
func (f *fakeGuide) Cached() *epg.Guide                            { return f.cached }

type fakeLogos struct {
	meta *storage.CachedLogoMetadata
	data []byte
	err  error
}

func (f *fakeLogos) CacheLogo(ctx context.Context, logoURL string) (*storage.CachedLogoMetadata, error) {
	return f.meta, f.err
}

func (f *fakeLogos) Open(meta *storage.CachedLogoMetadata) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type fakeResolver struct {
	res resolver.Resolution
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, item *models.MediaItem) (resolver.Resolution, error) {
	return f.res, f.err
}

type fakeContainment struct{ contained bool }

func (f *fakeContainment) Contained() bool { return f.contained }

type fakeItemRepo struct {
	repository.MediaItemRepository
	items map[models.ULID]*models.MediaItem
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error) {
	return f.items[id], nil
}

type iptvFixture struct {
	repo     *fakeChannelRepo
	streamer *fakeStreamer
	guide    *fakeGuide
	logos    *fakeLogos
	resolver *fakeResolver
	health   *fakeContainment
	items    *fakeItemRepo
	router   *chi.Mux
}

func newIPTVFixture(t *testing.T) *iptvFixture {
	t.Helper()
	f := &iptvFixture{
		repo:     &fakeChannelRepo{},
		streamer: &fakeStreamer{},
		guide:    &fakeGuide{},
		logos:    &fakeLogos{},
		resolver: &fakeResolver{},
		health:   &fakeContainment{},
		items:    &fakeItemRepo{items: map[models.ULID]*models.MediaItem{}},
	}
	h := NewIPTVHandler(
		config.ServerConfig{Host: "0.0.0.0", Port: 8411, TunerCount: 4},
		config.StreamThrottleConfig{Mode: "disabled"},
		f.repo, f.items, f.streamer, f.guide, f.logos, f.resolver, f.health,
	).WithLogger(testLogger())
	f.router = chi.NewRouter()
	h.RegisterRoutes(f.router)
	return f
}

func (f *iptvFixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPlaylist(t *testing.T) {
	f := newIPTVFixture(t)
	movies := lineupChannel("2", "Classic Movies")
	movies.Group = "Movies"
	movies.LogoURL = "http://upstream.example/logo.png"
	toons := lineupChannel("2.1", "Cartoons")
	f.repo.channels = []*models.Channel{movies, toons}

	w := f.get("/iptv/channels.m3u")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/x-mpegurl", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "exstreamtv.m3u")

	body := w.Body.String()
	assert.Contains(t, body, `#EXTM3U url-tvg="http://127.0.0.1:8411/iptv/xmltv.xml"`)
	assert.Contains(t, body, fmt.Sprintf(`tvg-id="exstream-%s"`, movies.ID))
	assert.Contains(t, body, `tvg-chno="2"`)
	assert.Contains(t, body, `group-title="Movies"`)
	assert.Contains(t, body, fmt.Sprintf(`tvg-logo="http://127.0.0.1:8411/iptv/logo/%s.png"`, movies.ID))
	assert.Contains(t, body, "http://127.0.0.1:8411/iptv/channel/2.ts\n")
	assert.Contains(t, body, "http://127.0.0.1:8411/iptv/channel/2.1.ts\n")
	// Channel without a logo gets no tvg-logo attribute.
	assert.NotContains(t, body, fmt.Sprintf("%s.png", toons.ID))
}

func TestPlaylistEmptyLineup(t *testing.T) {
	f := newIPTVFixture(t)

	w := f.get("/iptv/channels.m3u")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "#EXTM3U")
	assert.NotContains(t, w.Body.String(), "#EXTINF")
}

func TestChannelHLS(t *testing.T) {
	f := newIPTVFixture(t)
	f.repo.channels = []*models.Channel{lineupChannel("2", "Classic Movies")}

	w := f.get("/iptv/channel/2.m3u8")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "#EXTM3U")
	assert.Contains(t, body, "#EXT-X-STREAM-INF")
	assert.Contains(t, body, "BANDWIDTH=8000000")
	assert.Contains(t, body, "http://127.0.0.1:8411/iptv/channel/2.ts")
}

func TestChannelHLSUnknownChannel(t *testing.T) {
	f := newIPTVFixture(t)
	w := f.get("/iptv/channel/99.m3u8")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChannelStreamDeliversPayload(t *testing.T) {
	f := newIPTVFixture(t)
	sess, payload := streamSession(t)
	f.streamer.sessions = map[string]*broadcast.Session{"2": sess}

	w := f.get("/iptv/channel/2.ts")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasSuffix(w.Body.Bytes(), payload))
	require.Len(t, f.streamer.released, 1)
}

func TestGuide(t *testing.T) {
	doc := []byte(`<?xml version="1.0"?><tv></tv>`)

	t.Run("serves fresh guide", func(t *testing.T) {
		f := newIPTVFixture(t)
		f.repo.channels = []*models.Channel{lineupChannel("2", "Classic Movies")}
		f.guide.guide = &epg.Guide{Data: doc}

		w := f.get("/iptv/xmltv.xml")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/xml; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, doc, w.Body.Bytes())
	})

	t.Run("empty lineup gets 503", func(t *testing.T) {
		f := newIPTVFixture(t)

		w := f.get("/iptv/xmltv.xml")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
	})

	t.Run("invalid build gets 503", func(t *testing.T) {
		f := newIPTVFixture(t)
		f.repo.channels = []*models.Channel{lineupChannel("2", "Classic Movies")}
		f.guide.err = models.ErrXMLTVInvalid

		w := f.get("/iptv/xmltv.xml")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
	})

	t.Run("containment serves cache", func(t *testing.T) {
		f := newIPTVFixture(t)
		f.health.contained = true
		f.guide.cached = &epg.Guide{Data: doc}

		w := f.get("/iptv/xmltv.xml")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, doc, w.Body.Bytes())
	})

	t.Run("containment without cache gets 503", func(t *testing.T) {
		f := newIPTVFixture(t)
		f.health.contained = true

		w := f.get("/iptv/xmltv.xml")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
	})
}

func TestLogo(t *testing.T) {
	t.Run("serves cached logo", func(t *testing.T) {
		f := newIPTVFixture(t)
		ch := lineupChannel("2", "Classic Movies")
		ch.LogoURL = "http://upstream.example/logo.png"
		f.repo.channels = []*models.Channel{ch}
		f.logos.meta = &storage.CachedLogoMetadata{ContentType: "image/png"}
		f.logos.data = []byte("png-bytes")

		w := f.get(fmt.Sprintf("/iptv/logo/%s.png", ch.ID))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=86400", w.Header().Get("Cache-Control"))
		assert.Equal(t, "png-bytes", w.Body.String())
	})

	t.Run("malformed id gets 404", func(t *testing.T) {
		f := newIPTVFixture(t)
		w := f.get("/iptv/logo/not-a-ulid.png")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("channel without logo gets 404", func(t *testing.T) {
		f := newIPTVFixture(t)
		ch := lineupChannel("2", "Classic Movies")
		f.repo.channels = []*models.Channel{ch}

		w := f.get(fmt.Sprintf("/iptv/logo/%s.png", ch.ID))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestItemPassthrough(t *testing.T) {
	t.Run("remote source redirects", func(t *testing.T) {
		f := newIPTVFixture(t)
		item := &models.MediaItem{BaseModel: models.BaseModel{ID: models.NewULID()}, Title: "Casablanca"}
		f.items.items[item.ID] = item
		f.resolver.res = resolver.Resolution{URL: "http://cdn.example/casablanca.mp4"}

		w := f.get(fmt.Sprintf("/iptv/stream/%s", item.ID))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "http://cdn.example/casablanca.mp4", w.Header().Get("Location"))
	})

	t.Run("local file is served from disk", func(t *testing.T) {
		f := newIPTVFixture(t)
		path := filepath.Join(t.TempDir(), "casablanca.mp4")
		require.NoError(t, os.WriteFile(path, []byte("mp4-bytes"), 0o644))

		item := &models.MediaItem{BaseModel: models.BaseModel{ID: models.NewULID()}, Title: "Casablanca"}
		f.items.items[item.ID] = item
		f.resolver.res = resolver.Resolution{URL: "file://" + path}

		w := f.get(fmt.Sprintf("/iptv/stream/%s", item.ID))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "mp4-bytes", w.Body.String())
	})

	t.Run("resolution failure gets 503", func(t *testing.T) {
		f := newIPTVFixture(t)
		item := &models.MediaItem{BaseModel: models.BaseModel{ID: models.NewULID()}, Title: "Casablanca"}
		f.items.items[item.ID] = item
		f.resolver.err = fmt.Errorf("upstream gone")

		w := f.get(fmt.Sprintf("/iptv/stream/%s", item.ID))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
	})

	t.Run("unknown item gets 404", func(t *testing.T) {
		f := newIPTVFixture(t)
		w := f.get(fmt.Sprintf("/iptv/stream/%s", models.NewULID()))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
