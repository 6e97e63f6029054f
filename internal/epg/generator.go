// Package epg builds the XMLTV guide from playout projections. The guide
// is never hand-assembled from schedules: it is the same enumeration the
// channels will actually play, so the two cannot drift apart.
package epg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/pkg/xmltv"
)

// ChannelIDPrefix namespaces XMLTV channel ids so guide consumers can tell
// our channels from merged external guides.
const ChannelIDPrefix = "exstream-"

// maxGap is the largest hole tolerated between consecutive programmes on
// one channel before the guide is declared invalid.
const maxGap = time.Second

// fillerTitle replaces blank titles on filler entries.
const fillerTitle = "Station Break"

// ChannelID renders a channel's XMLTV id.
func ChannelID(id models.ULID) string {
	return ChannelIDPrefix + id.String()
}

// projector is the slice of the playout engine the generator uses.
type projector interface {
	Project(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error)
}

// Guide is one built XMLTV document.
type Guide struct {
	Data    []byte
	BuiltAt time.Time
}

// Generator builds and caches the guide. Build validates every channel's
// projection before returning; an invalid guide is never handed out.
type Generator struct {
	channels repository.ChannelRepository
	proj     projector
	cfg      config.PlayoutConfig
	baseURL  string
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu     sync.RWMutex
	cached *Guide

	now func() time.Time
}

// NewGenerator wires the guide generator. baseURL is the public base used
// for channel and logo URLs inside the document.
func NewGenerator(
	channels repository.ChannelRepository,
	proj projector,
	cfg config.PlayoutConfig,
	baseURL string,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		channels: channels,
		proj:     proj,
		cfg:      cfg,
		baseURL:  strings.TrimRight(baseURL, "/"),
		metrics:  metrics,
		logger:   logger.With("component", "epg"),
		now:      time.Now,
	}
}

// Window returns the guide horizon: now through now plus build_days.
func (g *Generator) Window() (time.Time, time.Time) {
	days := g.cfg.BuildDays
	if days < 1 {
		days = 3
	}
	from := g.now().Truncate(time.Minute)
	return from, from.Add(time.Duration(days) * 24 * time.Hour)
}

// Build projects every enabled channel over the guide window, validates the
// result, and renders the document. A validation failure on any channel
// fails the whole build; serving a guide that disagrees with playout is
// worse than serving none.
func (g *Generator) Build(ctx context.Context) (*Guide, error) {
	from, to := g.Window()

	channels, err := g.channels.GetEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	projections := make([][]*models.PlayoutItem, len(channels))
	for i, ch := range channels {
		items, err := g.proj.Project(ctx, ch.ID, from, to)
		if err != nil {
			return nil, fmt.Errorf("projecting channel %s: %w", ch.Number, err)
		}
		substituteTitles(items)
		if err := validateTimeline(ch, items); err != nil {
			if g.metrics != nil {
				g.metrics.XMLTVValidationFailures.Inc()
			}
			g.logger.Error("guide validation failed",
				"channel", ch.Number, "error", err)
			return nil, err
		}
		projections[i] = items
	}

	var buf bytes.Buffer
	w := xmltv.NewWriter(&buf)
	for _, ch := range channels {
		if err := w.WriteChannel(g.xmltvChannel(ch)); err != nil {
			return nil, fmt.Errorf("writing channel %s: %w", ch.Number, err)
		}
	}
	for i, ch := range channels {
		id := ChannelID(ch.ID)
		for _, item := range projections[i] {
			if err := w.WriteProgramme(g.programme(id, item)); err != nil {
				return nil, fmt.Errorf("writing programme for channel %s: %w", ch.Number, err)
			}
		}
	}
	if err := w.WriteFooter(); err != nil {
		return nil, err
	}

	guide := &Guide{Data: buf.Bytes(), BuiltAt: g.now()}
	g.mu.Lock()
	g.cached = guide
	g.mu.Unlock()
	return guide, nil
}

// Cached returns the last successful build, nil before the first one.
func (g *Generator) Cached() *Guide {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cached
}

// Guide returns the cached document, building on first use.
func (g *Generator) Guide(ctx context.Context) (*Guide, error) {
	if cached := g.Cached(); cached != nil {
		return cached, nil
	}
	return g.Build(ctx)
}

func (g *Generator) xmltvChannel(ch *models.Channel) *xmltv.Channel {
	out := &xmltv.Channel{
		ID:          ChannelID(ch.ID),
		DisplayName: fmt.Sprintf("%s %s", ch.Number, ch.Name),
	}
	if ch.LogoURL != "" && g.baseURL != "" {
		out.Icon = fmt.Sprintf("%s/iptv/logo/%s.png", g.baseURL, ch.ID)
	}
	if g.baseURL != "" {
		out.URL = fmt.Sprintf("%s/iptv/channel/%s.ts", g.baseURL, ch.Number)
	}
	return out
}

func (g *Generator) programme(channelID string, item *models.PlayoutItem) *xmltv.Programme {
	prog := &xmltv.Programme{
		Start:   item.StartTime,
		Stop:    item.StopTime,
		Channel: channelID,
		Title:   item.Title,
	}
	if item.IsFiller {
		prog.Category = "Filler"
	}
	return prog
}

// substituteTitles fills blank titles on filler entries. Blank titles on
// real programming stay blank and fail validation.
func substituteTitles(items []*models.PlayoutItem) {
	for _, item := range items {
		if item.IsFiller && strings.TrimSpace(item.Title) == "" {
			item.Title = fillerTitle
		}
	}
}

// validateTimeline enforces the guide contract for one channel: positive
// durations, monotonic starts, no overlaps, gaps of at most maxGap, and
// non-empty titles.
func validateTimeline(ch *models.Channel, items []*models.PlayoutItem) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: channel %s: %s", models.ErrXMLTVInvalid, ch.Number,
			fmt.Sprintf(format, args...))
	}

	var prev *models.PlayoutItem
	for i, item := range items {
		if strings.TrimSpace(item.Title) == "" {
			return invalid("entry %d has no title", i)
		}
		if !item.StopTime.After(item.StartTime) {
			return invalid("entry %d (%s) has non-positive duration", i, item.Title)
		}
		if prev != nil {
			if item.StartTime.Before(prev.StartTime) {
				return invalid("entry %d (%s) starts before its predecessor", i, item.Title)
			}
			if item.StartTime.Before(prev.StopTime) {
				return invalid("entry %d (%s) overlaps its predecessor", i, item.Title)
			}
			if gap := item.StartTime.Sub(prev.StopTime); gap > maxGap {
				return invalid("gap of %s before entry %d (%s)", gap, i, item.Title)
			}
		}
		prev = item
	}
	return nil
}
