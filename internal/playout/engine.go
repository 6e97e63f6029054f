package playout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/repository"
)

// Repositories bundles the stores the engine reads programming from.
type Repositories struct {
	Playouts    repository.PlayoutRepository
	Channels    repository.ChannelRepository
	Fillers     repository.FillerRepository
	Collections repository.CollectionRepository
	Playlists   repository.PlaylistRepository
	Items       repository.MediaItemRepository
}

// Engine opens channel playheads and projects future timelines. It owns no
// goroutines; the channel loop drives a Playhead, the EPG generator calls
// Project.
type Engine struct {
	repos   Repositories
	cfg     config.PlayoutConfig
	loc     *time.Location
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a playout engine. Broadcast days follow the server's
// local time zone.
func NewEngine(repos Repositories, cfg config.PlayoutConfig, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repos:   repos,
		cfg:     cfg,
		loc:     time.Local,
		metrics: metrics,
		logger:  logger.With("component", "playout"),
		now:     time.Now,
	}
}

// Open positions a playhead for the channel: resuming the persisted state
// when the loop was down for less than the resume threshold, otherwise
// re-anchoring at now. The future timeline is rewritten from the playhead's
// first entry.
func (e *Engine) Open(ctx context.Context, channelID models.ULID) (*Playhead, error) {
	now := e.now()
	seq, state, err := e.sequenceFor(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var (
		sl     *slot
		idx    int
		offset int64
		prior  map[string]*cursor
	)
	if cs := e.decodeState(state, now); cs != nil {
		// A failed resume walk mutates the cursors, so keep a pristine
		// copy for the re-anchor fallback.
		prior = cs.clone().Blocks
		sl, idx, offset, err = e.locate(ctx, seq, cs, state, now)
		if err != nil {
			return nil, err
		}
	}
	if sl == nil {
		seq.anchor(now, prior)
		sl, err = seq.nextSlot(ctx)
		if err != nil {
			return nil, err
		}
		idx, offset = 0, 0
		if e.metrics != nil {
			e.metrics.PlayoutRebuilds.Inc()
		}
		e.logger.Info("playout anchored",
			"channel_id", channelID,
			"slot", sl.key,
			"start", sl.entries[0].Start)
	} else {
		e.logger.Info("playout resumed",
			"channel_id", channelID,
			"slot", sl.key,
			"entry", idx,
			"offset_ms", offset)
	}

	sl.entries[idx].OffsetMs = offset
	ph := &Playhead{engine: e, playout: seq.playout, seq: seq, slot: sl, idx: idx}

	first := sl.entries[idx]
	if err := e.repos.Playouts.ReplaceTimelineFrom(ctx, channelID, first.Start, rowsFrom(channelID, sl.entries[idx:])); err != nil {
		e.logger.Warn("rewriting timeline", "channel_id", channelID, "error", err)
	}
	if err := ph.persist(ctx, offset); err != nil {
		e.logger.Warn("persisting playout state", "channel_id", channelID, "error", err)
	}
	return ph, nil
}

// sequenceFor loads a channel's programming and builds its walker.
func (e *Engine) sequenceFor(ctx context.Context, channelID models.ULID) (*sequence, *models.PlayoutState, error) {
	ch, err := e.repos.Channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading channel: %w", err)
	}
	if ch == nil {
		return nil, nil, models.ErrChannelNotFound
	}
	if !ch.IsEnabled() {
		return nil, nil, models.ErrChannelDisabled
	}

	po, err := e.repos.Playouts.GetByChannelID(ctx, channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading playout: %w", err)
	}
	if po == nil {
		return nil, nil, models.ErrEmptySchedule
	}

	var fs *fillerSource
	if ch.FillerPresetID != nil && !ch.FillerPresetID.IsZero() {
		preset, err := e.repos.Fillers.GetByID(ctx, *ch.FillerPresetID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading filler preset: %w", err)
		}
		fs = newFillerSource(preset)
	}

	expander := NewExpander(e.repos.Collections, e.repos.Playlists, e.repos.Items)
	seq := newSequence(channelID, po, fs, expander, e.cfg.OvershootTolerance, e.loc)

	state, err := e.repos.Playouts.GetState(ctx, po.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading playout state: %w", err)
	}
	return seq, state, nil
}

// decodeState returns the persisted cursor set when it is usable for a
// resume at now, nil when the loop should re-anchor instead. The cursor
// set's block positions survive either way.
func (e *Engine) decodeState(state *models.PlayoutState, now time.Time) *cursorSet {
	if state == nil || state.CurrentItemID == nil {
		return nil
	}
	cs := decodeCursorSet(state.EnumeratorState)
	if cs == nil {
		return nil
	}
	if downtime := now.Sub(state.UpdatedAt); downtime > e.cfg.ResumeThreshold {
		e.logger.Info("resume threshold exceeded, re-anchoring",
			"downtime", downtime.Round(time.Second),
			"threshold", e.cfg.ResumeThreshold)
		cs.SlotKey = "" // keep block cursors, drop the slot
		return cs
	}
	return cs
}

// locate regenerates the persisted slot and walks forward to the entry
// covering at. A nil slot with nil error means the snapshot no longer
// reproduces the persisted item (programming changed underneath it) and the
// caller re-anchors.
func (e *Engine) locate(ctx context.Context, seq *sequence, cs *cursorSet, state *models.PlayoutState, at time.Time) (*slot, int, int64, error) {
	if cs.SlotKey == "" {
		return nil, 0, 0, nil
	}
	if err := seq.restore(cs); err != nil {
		e.logger.Info("restoring playout state", "reason", err)
		return nil, 0, 0, nil
	}
	sl, err := seq.nextSlot(ctx)
	if err != nil {
		if errors.Is(err, models.ErrEmptySchedule) || errors.Is(err, models.ErrNoPlayableItems) {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, err
	}
	if sl.key != cs.SlotKey || cs.SlotSeq < 0 || cs.SlotSeq >= len(sl.entries) {
		return nil, 0, 0, nil
	}
	ent := sl.entries[cs.SlotSeq]
	if ent.Item.ID != *state.CurrentItemID || !ent.Start.Equal(state.AnchorTime) {
		return nil, 0, 0, nil
	}

	// The snapshot reproduces. Walk to the entry covering at.
	idx := cs.SlotSeq
	for {
		for idx < len(sl.entries) {
			ent := sl.entries[idx]
			if at.Before(ent.Stop) {
				var offset int64
				if at.After(ent.Start) {
					offset = at.Sub(ent.Start).Milliseconds()
				}
				return sl, idx, offset, nil
			}
			idx++
		}
		sl, err = seq.nextSlot(ctx)
		if err != nil {
			if errors.Is(err, models.ErrEmptySchedule) || errors.Is(err, models.ErrNoPlayableItems) {
				return nil, 0, 0, nil
			}
			return nil, 0, 0, err
		}
		idx = 0
	}
}

// NowPlaying returns the timeline entry covering now, nil when the channel
// has no materialized timeline there.
func (e *Engine) NowPlaying(ctx context.Context, channelID models.ULID) (*models.PlayoutItem, error) {
	return e.repos.Playouts.GetTimelineAt(ctx, channelID, e.now())
}

// TrimTimeline drops materialized entries older than keep across all
// channels and reports how many rows went.
func (e *Engine) TrimTimeline(ctx context.Context, keep time.Duration) (int64, error) {
	channels, err := e.repos.Channels.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := e.now().Add(-keep)
	var total int64
	for _, ch := range channels {
		n, err := e.repos.Playouts.DeleteTimelineBefore(ctx, ch.ID, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Playhead is a positioned cursor into one channel's sequence. The channel
// loop reads Current, plays it, then calls Advance; Checkpoint persists
// mid-item progress for crash resume. Not safe for concurrent use.
type Playhead struct {
	engine  *Engine
	playout *models.Playout
	seq     *sequence
	slot    *slot
	idx     int
}

// Channel returns the owning channel ID.
func (p *Playhead) Channel() models.ULID {
	return p.seq.channelID
}

// Current returns the entry under the playhead. Its Start is in the future
// when the schedule is waiting for a block boundary.
func (p *Playhead) Current() *Entry {
	return p.slot.entries[p.idx]
}

// Advance moves past the current entry, generating and persisting the next
// slot at slot boundaries. State persistence failures are logged, not
// fatal: the loop keeps airing and the next boundary retries.
func (p *Playhead) Advance(ctx context.Context) (*Entry, error) {
	p.idx++
	if p.idx < len(p.slot.entries) {
		if err := p.persist(ctx, 0); err != nil {
			p.engine.logger.Warn("persisting playout state",
				"channel_id", p.seq.channelID, "error", err)
		}
		return p.Current(), nil
	}

	sl, err := p.seq.nextSlot(ctx)
	if err != nil {
		return nil, err
	}
	p.slot = sl
	p.idx = 0
	if err := p.engine.repos.Playouts.AppendTimeline(ctx, rowsFrom(p.seq.channelID, sl.entries)); err != nil {
		p.engine.logger.Warn("appending timeline",
			"channel_id", p.seq.channelID, "error", err)
	}
	if err := p.persist(ctx, 0); err != nil {
		p.engine.logger.Warn("persisting playout state",
			"channel_id", p.seq.channelID, "error", err)
	}
	return p.Current(), nil
}

// Checkpoint persists playback progress inside the current entry.
func (p *Playhead) Checkpoint(ctx context.Context, offsetMs int64) error {
	if offsetMs < 0 {
		offsetMs = 0
	}
	if span := p.Current().Duration().Milliseconds(); offsetMs >= span && span > 0 {
		offsetMs = span - 1
	}
	return p.persist(ctx, offsetMs)
}

// persist writes the slot snapshot with the playhead's position. The
// snapshot regenerates the whole slot; only the sequence number moves
// between entries.
func (p *Playhead) persist(ctx context.Context, offsetMs int64) error {
	ent := p.Current()
	itemID := ent.Item.ID
	p.slot.snap.SlotSeq = p.idx
	return p.engine.repos.Playouts.SaveState(ctx, &models.PlayoutState{
		PlayoutID:       p.playout.ID,
		CurrentItemID:   &itemID,
		OffsetMs:        offsetMs,
		EnumeratorState: p.slot.snap.encode(),
		AnchorTime:      ent.Start,
	})
}

func rowsFrom(channelID models.ULID, entries []*Entry) []*models.PlayoutItem {
	rows := make([]*models.PlayoutItem, 0, len(entries))
	for _, ent := range entries {
		rows = append(rows, ent.row(channelID))
	}
	return rows
}
