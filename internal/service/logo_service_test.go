package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/storage"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))
	return buf.Bytes()
}

func newLogoTestService(t *testing.T) *LogoService {
	t.Helper()
	cache, err := storage.NewLogoCache(t.TempDir())
	require.NoError(t, err)
	factory := httpclient.NewClientFactory(httpclient.NewCircuitBreakerManager(nil))
	return NewLogoService(cache, factory).WithLogger(importTestLogger())
}

func logoServer(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCacheLogoStoresPNG(t *testing.T) {
	s := newLogoTestService(t)
	srv := logoServer(t, "image/png", pngBytes(t))

	meta, err := s.CacheLogo(context.Background(), srv.URL+"/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.NotEmpty(t, meta.GetID())

	f, err := s.Open(meta)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestCacheLogoConvertsJPEGToPNG(t *testing.T) {
	s := newLogoTestService(t)
	srv := logoServer(t, "image/jpeg", jpegBytes(t))

	meta, err := s.CacheLogo(context.Background(), srv.URL+"/logo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType, "raster formats normalize to PNG")

	f, err := s.Open(meta)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestCacheLogoPassesSVGThrough(t *testing.T) {
	s := newLogoTestService(t)
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect width="8" height="8"/></svg>`)
	srv := logoServer(t, "image/svg+xml", svg)

	meta, err := s.CacheLogo(context.Background(), srv.URL+"/logo.svg")
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", meta.ContentType)

	f, err := s.Open(meta)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, svg, data, "vector content is not re-encoded")
}

func TestCacheLogoRejectsNonImage(t *testing.T) {
	s := newLogoTestService(t)
	srv := logoServer(t, "text/html", []byte("<html>not a logo</html>"))

	_, err := s.CacheLogo(context.Background(), srv.URL+"/logo.png")
	require.Error(t, err)
	assert.Equal(t, 0, s.Count())
}

func TestCacheLogoDeduplicates(t *testing.T) {
	s := newLogoTestService(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes(t))
	}))
	defer srv.Close()

	url := srv.URL + "/shared.png"
	first, err := s.CacheLogo(context.Background(), url)
	require.NoError(t, err)
	second, err := s.CacheLogo(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, first.GetID(), second.GetID())
	assert.Equal(t, 1, hits, "second call served from cache")
	assert.True(t, s.Contains(url))
	assert.Equal(t, 1, s.Count())
}

func TestLoadIndexRebuildsAndPrunes(t *testing.T) {
	dir := t.TempDir()
	cache, err := storage.NewLogoCache(dir)
	require.NoError(t, err)
	factory := httpclient.NewClientFactory(httpclient.NewCircuitBreakerManager(nil))
	s := NewLogoService(cache, factory).WithLogger(importTestLogger())

	srv := logoServer(t, "image/png", pngBytes(t))
	fresh, err := s.CacheLogo(context.Background(), srv.URL+"/fresh.png")
	require.NoError(t, err)

	// A stale entry written directly into the cache.
	stale := storage.NewCachedLogoMetadata(srv.URL + "/stale.png")
	stale.ContentType = "image/png"
	stale.LastSeenAt = time.Now().Add(-90 * 24 * time.Hour)
	require.NoError(t, cache.StoreWithMetadata(stale, bytes.NewReader(pngBytes(t))))

	// A fresh service instance simulates restart.
	s2 := NewLogoService(cache, factory).WithLogger(importTestLogger())
	result, err := s2.LoadIndex(context.Background(), LogoPruneOptions{
		Prune:     true,
		Threshold: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalLoaded)
	assert.Equal(t, 1, result.PrunedCount)
	assert.NotZero(t, result.PrunedSize)

	assert.NotNil(t, s2.GetByID(fresh.GetID()))
	assert.Nil(t, s2.GetByID(stale.GetID()), "stale logo pruned on load")
}

func TestDeleteLogo(t *testing.T) {
	s := newLogoTestService(t)
	srv := logoServer(t, "image/png", pngBytes(t))

	meta, err := s.CacheLogo(context.Background(), srv.URL+"/logo.png")
	require.NoError(t, err)

	require.NoError(t, s.Delete(meta.GetID()))
	assert.Nil(t, s.GetByID(meta.GetID()))
	assert.Equal(t, 0, s.Count())

	_, err = s.Open(meta)
	assert.Error(t, err, "file removed from disk")

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(meta.GetID()))
}

func TestLogoStats(t *testing.T) {
	s := newLogoTestService(t)
	srv := logoServer(t, "image/png", pngBytes(t))

	_, err := s.CacheLogo(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	_, err = s.CacheLogo(context.Background(), srv.URL+"/b.png")
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalLogos)
	assert.Equal(t, 2, stats.CachedLogos)
	assert.Zero(t, stats.UploadedLogos)
	assert.NotZero(t, stats.TotalSize)
}
