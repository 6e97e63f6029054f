package epg

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

func plexTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// plexTestClient disables retries so error-path tests do not sleep
// through backoff delays.
func plexTestClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.Timeout = 5 * time.Second
	cfg.Logger = plexTestLogger()
	return httpclient.New(cfg)
}

func TestPlexNotifyReloadsEveryDVR(t *testing.T) {
	var reloads atomic.Int32
	var gotToken atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/livetv/dvrs":
			gotToken.Store(r.Header.Get("X-Plex-Token"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"MediaContainer":{"Dvr":[{"key":"3"},{"key":"7"}]}}`))
		case "/livetv/dvrs/3/reloadGuide", "/livetv/dvrs/7/reloadGuide":
			require.Equal(t, http.MethodPost, r.Method)
			reloads.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n := NewPlexNotifier(config.PlexConfig{
		BaseURL: srv.URL,
		Token:   "secret-token",
	}, plexTestClient(), plexTestLogger())

	require.NoError(t, n.Notify(context.Background()))
	assert.Equal(t, int32(2), reloads.Load())
	assert.Equal(t, "secret-token", gotToken.Load())
}

func TestPlexNotifyDebounces(t *testing.T) {
	var listings atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/livetv/dvrs" {
			listings.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"MediaContainer":{"Dvr":[]}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n := NewPlexNotifier(config.PlexConfig{
		BaseURL:             srv.URL,
		GuideReloadDebounce: time.Hour,
	}, plexTestClient(), plexTestLogger())

	require.NoError(t, n.Notify(context.Background()))
	require.NoError(t, n.Notify(context.Background()))
	assert.Equal(t, int32(1), listings.Load(), "second call inside the debounce window should be dropped")
}

func TestPlexNotifyNoDVRs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"MediaContainer":{}}`))
	}))
	defer srv.Close()

	n := NewPlexNotifier(config.PlexConfig{BaseURL: srv.URL}, plexTestClient(), plexTestLogger())
	assert.NoError(t, n.Notify(context.Background()))
}

func TestPlexNotifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewPlexNotifier(config.PlexConfig{BaseURL: srv.URL}, plexTestClient(), plexTestLogger())
	assert.Error(t, n.Notify(context.Background()))
}
