package handlers

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/version"
)

// HDHomeRun device constants. Clients match on the model string family,
// not exact firmware, so these stay stable across releases.
const (
	hdhrFriendlyName = "EXStreamTV"
	hdhrModelNumber  = "HDTC-2US"
	hdhrFirmware     = "hdhomerun_atsc"
	hdhrDeviceAuth   = "exstreamtv"
)

// HDHomeRunHandler emulates the HDHomeRun device HTTP surface: discovery,
// lineup, and per-tuner streams.
type HDHomeRunHandler struct {
	server   config.ServerConfig
	throttle config.StreamThrottleConfig
	channels repository.ChannelRepository
	streamer ChannelStreamer
	logger   *slog.Logger
}

// NewHDHomeRunHandler creates the device emulation handler.
func NewHDHomeRunHandler(server config.ServerConfig, throttle config.StreamThrottleConfig, channels repository.ChannelRepository, streamer ChannelStreamer) *HDHomeRunHandler {
	return &HDHomeRunHandler{
		server:   server,
		throttle: throttle,
		channels: channels,
		streamer: streamer,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *HDHomeRunHandler) WithLogger(logger *slog.Logger) *HDHomeRunHandler {
	h.logger = logger
	return h
}

// RegisterRoutes mounts the device endpoints on the router. These are
// raw chi routes: tuner streams are long-lived chunked responses the
// huma layer cannot carry.
func (h *HDHomeRunHandler) RegisterRoutes(r chi.Router) {
	r.Get("/hdhomerun/discover.json", h.Discover)
	r.Get("/hdhomerun/lineup.json", h.Lineup)
	r.Get("/hdhomerun/lineup_status.json", h.LineupStatus)
	r.Get("/hdhomerun/tuner{tuner}/stream", h.TunerStream)
	r.Get("/hdhomerun/auto/v{number}", h.AutoStream)

	// Plex and some DVRs probe the device root before the /hdhomerun
	// prefix. 307 preserves the method.
	r.Get("/discover.json", redirectTo("/hdhomerun/discover.json"))
	r.Get("/lineup.json", redirectTo("/hdhomerun/lineup.json"))
	r.Get("/lineup_status.json", redirectTo("/hdhomerun/lineup_status.json"))
}

func redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}

// deviceID derives a stable 8-hex-digit device ID from the advertised
// base URL, so re-deploys on the same address keep their DVR pairing.
func (h *HDHomeRunHandler) deviceID() string {
	return fmt.Sprintf("%08X", crc32.ChecksumIEEE([]byte(h.server.BaseURL())))
}

type discoverResponse struct {
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

// Discover serves the device description clients use to pair.
func (h *HDHomeRunHandler) Discover(w http.ResponseWriter, r *http.Request) {
	base := h.server.BaseURL()
	writeJSON(w, discoverResponse{
		FriendlyName:    hdhrFriendlyName,
		ModelNumber:     hdhrModelNumber,
		FirmwareName:    hdhrFirmware,
		FirmwareVersion: version.Version,
		DeviceID:        h.deviceID(),
		DeviceAuth:      hdhrDeviceAuth,
		BaseURL:         base,
		LineupURL:       base + "/hdhomerun/lineup.json",
		TunerCount:      h.server.TunerCount,
	})
}

type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
	HD          int    `json:"HD"`
}

// Lineup serves the scannable channel list.
func (h *HDHomeRunHandler) Lineup(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.GetEnabled(r.Context())
	if err != nil {
		h.logger.Error("lineup query failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	base := h.server.BaseURL()
	lineup := make([]lineupEntry, 0, len(channels))
	for _, ch := range channels {
		lineup = append(lineup, lineupEntry{
			GuideNumber: ch.Number,
			GuideName:   ch.Name,
			URL:         fmt.Sprintf("%s/hdhomerun/auto/v%s", base, ch.Number),
			HD:          1,
		})
	}
	writeJSON(w, lineup)
}

type lineupStatusResponse struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// LineupStatus reports a never-scanning cable source; the lineup is
// always current because it comes from the catalog.
func (h *HDHomeRunHandler) LineupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, lineupStatusResponse{
		ScanInProgress: 0,
		ScanPossible:   1,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
	})
}

// TunerStream handles /hdhomerun/tuner{N}/stream?channel=auto:v{num}
// (or ?url=…). The tuner index is accepted but not allocated; capacity
// is governed by the session caps, not per-tuner state.
func (h *HDHomeRunHandler) TunerStream(w http.ResponseWriter, r *http.Request) {
	number := parseTunerChannel(r)
	if number == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	h.streamByNumber(w, r, number)
}

// AutoStream handles the lineup URL form /hdhomerun/auto/v{num}.
func (h *HDHomeRunHandler) AutoStream(w http.ResponseWriter, r *http.Request) {
	h.streamByNumber(w, r, chi.URLParam(r, "number"))
}

func (h *HDHomeRunHandler) streamByNumber(w http.ResponseWriter, r *http.Request, number string) {
	sess, err := h.streamer.GetStreamByNumber(r.Context(), number, r.RemoteAddr, r.UserAgent())
	if err != nil {
		writeStreamError(w, err)
		return
	}
	serveTS(w, r, h.streamer, sess, h.throttle, h.logger)
}

// parseTunerChannel extracts the guide number from ?channel=auto:v{num},
// falling back to the trailing v{num} segment of ?url=.
func parseTunerChannel(r *http.Request) string {
	if ch := r.URL.Query().Get("channel"); ch != "" {
		return strings.TrimPrefix(strings.TrimPrefix(ch, "auto:"), "v")
	}
	raw := r.URL.Query().Get("url")
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := strings.TrimSuffix(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	return strings.TrimPrefix(strings.TrimSuffix(path, ".ts"), "v")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but note it.
		slog.Default().Debug("encoding response", "error", err)
	}
}
