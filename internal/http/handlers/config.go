package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/exstreamtv/exstreamtv/internal/config"
)

// maxConfigBody bounds PUT bodies; the document is a few KiB of YAML.
const maxConfigBody = 1 << 20

// ConfigHandler serves the persisted configuration document. The wire
// format is the document's native YAML, not JSON, so GET output can be
// round-tripped straight back into PUT or onto disk.
type ConfigHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store *config.Store) *ConfigHandler {
	return &ConfigHandler{store: store, logger: slog.Default()}
}

// WithLogger sets the logger for the handler.
func (h *ConfigHandler) WithLogger(logger *slog.Logger) *ConfigHandler {
	h.logger = logger
	return h
}

// RegisterRoutes mounts the config endpoints. These stay off the huma
// layer because the body is YAML.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/config", h.GetConfig)
	r.Put("/api/v1/config", h.PutConfig)
}

// GetConfig returns the defaults-filled document.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.store.Get()

	w.Header().Set("Content-Type", "application/yaml")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		h.logger.Error("encoding config response", "error", err)
	}
	enc.Close()
}

// PutConfig validates and atomically replaces the whole document.
// Partial documents are filled from defaults. A document that fails
// validation gets 422 and the file on disk is untouched.
func (h *ConfigHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	next := config.Default()
	if err := yaml.Unmarshal(body, next); err != nil {
		http.Error(w, "invalid YAML: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	applied, err := h.store.Replace(r.Context(), next)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("config replace failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("config document replaced via API")
	w.Header().Set("Content-Type", "application/yaml")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(applied); err != nil {
		h.logger.Error("encoding config response", "error", err)
	}
	enc.Close()
}
