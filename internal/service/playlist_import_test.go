package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

func importTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeLibraryRepo serves one canned library; anything else panics through
// the embedded nil interface.
type fakeLibraryRepo struct {
	repository.LibraryRepository
	lib *models.Library
}

func (f *fakeLibraryRepo) GetByID(_ context.Context, _ models.ULID) (*models.Library, error) {
	return f.lib, nil
}

// fakeCatalog tracks created and updated items keyed by source URL.
type fakeCatalog struct {
	repository.MediaItemRepository
	mu      sync.Mutex
	bySrc   map[string]*models.MediaItem
	updated int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{bySrc: make(map[string]*models.MediaItem)}
}

func (f *fakeCatalog) GetBySourceKey(_ context.Context, _ models.ULID, key string) (*models.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySrc[key], nil
}

func (f *fakeCatalog) CreateInBatches(_ context.Context, items []*models.MediaItem, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		f.bySrc[item.SourceKey] = item
	}
	return nil
}

func (f *fakeCatalog) Update(_ context.Context, item *models.MediaItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bySrc[item.SourceKey] = item
	f.updated++
	return nil
}

func testFactory() *httpclient.ClientFactory {
	return httpclient.NewClientFactory(httpclient.NewCircuitBreakerManager(nil))
}

func m3uLibrary(baseURL string) *models.Library {
	return &models.Library{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		Name:       "iptv-upstream",
		SourceType: models.SourceTypeM3U,
		BaseURL:    baseURL,
		Enabled:    models.BoolPtr(true),
	}
}

const upstreamPlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="one" group-title="News",News One
http://upstream.example/news.ts
#EXTINF:5400 group-title="Movies",Friday Feature
http://upstream.example/feature.mp4
#EXTINF:-1,Broken Entry
rtsp://upstream.example/legacy
`

func TestPlaylistImportCreatesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(upstreamPlaylist))
	}))
	defer srv.Close()

	lib := m3uLibrary(srv.URL)
	catalog := newFakeCatalog()
	svc := NewPlaylistImportService(&fakeLibraryRepo{lib: lib}, catalog, testFactory(), importTestLogger())

	result, err := svc.Import(context.Background(), lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, result.Skipped, "non-http entries are skipped")

	news := catalog.bySrc["http://upstream.example/news.ts"]
	require.NotNil(t, news)
	assert.Equal(t, "News One", news.Title)
	assert.Equal(t, models.SourceTypeM3U, news.SourceType)
	assert.Equal(t, "News", news.Genres)
	assert.Equal(t, lib.ID, *news.LibraryID)
	assert.Zero(t, news.DurationMs, "live entries carry no runtime")

	feature := catalog.bySrc["http://upstream.example/feature.mp4"]
	require.NotNil(t, feature)
	assert.Equal(t, int64(5400_000), feature.DurationMs)
}

func TestPlaylistImportUpdatesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:-1 group-title=\"Sports\",Match Day HD\nhttp://upstream.example/match.ts\n"))
	}))
	defer srv.Close()

	lib := m3uLibrary(srv.URL)
	catalog := newFakeCatalog()
	catalog.bySrc["http://upstream.example/match.ts"] = &models.MediaItem{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		Title:      "Match Day",
		SourceType: models.SourceTypeM3U,
		SourceKey:  "http://upstream.example/match.ts",
		LibraryID:  &lib.ID,
	}
	svc := NewPlaylistImportService(&fakeLibraryRepo{lib: lib}, catalog, testFactory(), importTestLogger())

	result, err := svc.Import(context.Background(), lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "Match Day HD", catalog.bySrc["http://upstream.example/match.ts"].Title)
	assert.Equal(t, "Sports", catalog.bySrc["http://upstream.example/match.ts"].Genres)

	// Re-importing the same content is a no-op.
	result, err = svc.Import(context.Background(), lib.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
}

func TestPlaylistImportRejectsWrongSourceType(t *testing.T) {
	lib := m3uLibrary("http://example.com/list.m3u")
	lib.SourceType = models.SourceTypePlex
	svc := NewPlaylistImportService(&fakeLibraryRepo{lib: lib}, newFakeCatalog(), testFactory(), importTestLogger())

	_, err := svc.Import(context.Background(), lib.ID)
	assert.ErrorIs(t, err, ErrNotPlaylistLibrary)
}

func TestPlaylistImportRejectsDisabledLibrary(t *testing.T) {
	lib := m3uLibrary("http://example.com/list.m3u")
	lib.Enabled = models.BoolPtr(false)
	svc := NewPlaylistImportService(&fakeLibraryRepo{lib: lib}, newFakeCatalog(), testFactory(), importTestLogger())

	_, err := svc.Import(context.Background(), lib.ID)
	assert.ErrorIs(t, err, ErrLibraryDisabled)
}

func TestPlaylistImportAbsentLibrary(t *testing.T) {
	svc := NewPlaylistImportService(&fakeLibraryRepo{}, newFakeCatalog(), testFactory(), importTestLogger())

	_, err := svc.Import(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}
