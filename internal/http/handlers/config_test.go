package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/config"
)

func newConfigRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store, err := config.NewStore(filepath.Join(t.TempDir(), "config.yaml"), config.Default(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r := chi.NewRouter()
	NewConfigHandler(store).WithLogger(testLogger()).RegisterRoutes(r)
	return r
}

func TestGetConfig(t *testing.T) {
	r := newConfigRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "server:")
	assert.Contains(t, w.Body.String(), "playout:")
}

func TestPutConfigRoundTrip(t *testing.T) {
	r := newConfigRouter(t)

	// GET output must be accepted verbatim by PUT.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	put := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(w.Body.String()))
	pw := httptest.NewRecorder()
	r.ServeHTTP(pw, put)

	require.Equal(t, http.StatusOK, pw.Code)
	assert.Contains(t, pw.Body.String(), "server:")
}

func TestPutConfigPartialDocument(t *testing.T) {
	r := newConfigRouter(t)

	body := "server:\n  port: 9000\n"
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Omitted fields come from defaults, so a fragment is a valid document.
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "port: 9000")
}

func TestPutConfigRejectsInvalid(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		r := newConfigRouter(t)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader("{not yaml"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("out of range value", func(t *testing.T) {
		r := newConfigRouter(t)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader("server:\n  tuner_count: 0\n"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
