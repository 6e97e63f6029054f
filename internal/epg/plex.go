package epg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

// PlexNotifier asks a Plex server to reload its DVR guide after the
// XMLTV document changes. Plex polls the guide on its own schedule;
// without a nudge a rebuilt lineup can take hours to show up.
type PlexNotifier struct {
	cfg    config.PlexConfig
	client *httpclient.Client
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewPlexNotifier creates a notifier for the configured Plex server.
func NewPlexNotifier(cfg config.PlexConfig, client *httpclient.Client, logger *slog.Logger) *PlexNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlexNotifier{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "plex-notify"),
	}
}

// plexDVRList mirrors the MediaContainer envelope Plex wraps every
// response in.
type plexDVRList struct {
	MediaContainer struct {
		Dvr []struct {
			Key string `json:"key"`
		} `json:"Dvr"`
	} `json:"MediaContainer"`
}

// Notify triggers a guide reload on every DVR the Plex server reports.
// Calls inside the configured debounce window are dropped, so a burst of
// rebuilds produces one reload.
func (n *PlexNotifier) Notify(ctx context.Context) error {
	n.mu.Lock()
	if debounce := n.cfg.GuideReloadDebounce; debounce > 0 && time.Since(n.last) < debounce {
		n.mu.Unlock()
		return nil
	}
	n.last = time.Now()
	n.mu.Unlock()

	keys, err := n.dvrKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing plex dvrs: %w", err)
	}
	if len(keys) == 0 {
		n.logger.Debug("plex reports no dvrs; nothing to reload")
		return nil
	}

	for _, key := range keys {
		if err := n.reloadGuide(ctx, key); err != nil {
			return fmt.Errorf("reloading guide for dvr %s: %w", key, err)
		}
	}
	n.logger.Info("plex guide reload triggered", "dvrs", len(keys))
	return nil
}

func (n *PlexNotifier) dvrKeys(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+"/livetv/dvrs", nil)
	if err != nil {
		return nil, err
	}
	n.decorate(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list plexDVRList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding dvr list: %w", err)
	}

	keys := make([]string, 0, len(list.MediaContainer.Dvr))
	for _, dvr := range list.MediaContainer.Dvr {
		if dvr.Key != "" {
			keys = append(keys, dvr.Key)
		}
	}
	return keys, nil
}

func (n *PlexNotifier) reloadGuide(ctx context.Context, key string) error {
	url := fmt.Sprintf("%s/livetv/dvrs/%s/reloadGuide", n.cfg.BaseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	n.decorate(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (n *PlexNotifier) decorate(req *http.Request) {
	req.Header.Set("X-Plex-Token", n.cfg.Token)
	req.Header.Set("Accept", "application/json")
}
