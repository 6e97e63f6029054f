package selfheal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
)

// Remediation budgets. A remediation pass can never exceed stepBudget
// actions or wallBudget wall-clock time, and a given channel is touched
// at most once per targetCooldown.
const (
	stepBudget     = 5
	wallBudget     = 60 * time.Second
	targetCooldown = 5 * time.Minute

	// regressionLimit suspends a target after this many worsening
	// attempts; suspendFor is the suspension length.
	regressionLimit = 3
	suspendFor      = time.Hour

	// confidenceThreshold gates action on a target from its pattern
	// history; fresh targets start at full confidence.
	confidenceThreshold = 0.5

	// metadataRatioTrigger is the failure ratio above which the metadata
	// self-resolution cadence does work.
	metadataRatioTrigger = 0.2

	// metadataBatchSize bounds how many unavailable items one
	// self-resolution run re-examines.
	metadataBatchSize = 25
)

// Restarter is the single tool remediation may use against a stream.
// *broadcast.Manager satisfies it, which routes every action through the
// breaker, cooldown, and storm throttle.
type Restarter interface {
	RequestChannelRestart(ctx context.Context, id models.ULID, reason string) error
}

// itemResolver re-resolves a media item. *resolver.Service satisfies it.
type itemResolver interface {
	Resolve(ctx context.Context, item *models.MediaItem) (resolver.Resolution, error)
}

// targetHistory is what the remediator remembers about one channel.
type targetHistory struct {
	attempts       int
	worsening      int
	lastAttempt    time.Time
	suspendedUntil time.Time
	// wasOpen records whether the breaker was still not closed at the
	// previous attempt, the regression signal.
	wasOpen bool
}

// Remediator is the bounded remediation loop. Each pass walks the open
// breakers and restarts the most promising targets inside hard step and
// wall-clock budgets; a separate cadence re-resolves unavailable items
// when the metadata failure ratio climbs.
type Remediator struct {
	cfg        config.AIAgentConfig
	controller *Controller
	restarter  Restarter
	items      repository.MediaItemRepository
	resolve    itemResolver
	logger     *slog.Logger

	mu      sync.Mutex
	history map[models.ULID]*targetHistory

	// metadataRunning is the recursion guard on the self-resolution
	// cadence; lastMetadataRun gates its cooldown.
	metadataRunning atomic.Bool
	lastMetadataRun atomic.Int64

	now func() time.Time
}

// NewRemediator wires the remediator. It acts only through restarter.
func NewRemediator(cfg config.AIAgentConfig, controller *Controller, restarter Restarter, items repository.MediaItemRepository, resolve itemResolver, logger *slog.Logger) *Remediator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remediator{
		cfg:        cfg,
		controller: controller,
		restarter:  restarter,
		items:      items,
		resolve:    resolve,
		logger:     logger.With("component", "remediation"),
		history:    make(map[models.ULID]*targetHistory),
		now:        time.Now,
	}
}

// Remediate runs one bounded pass. Returns the number of actions taken.
func (r *Remediator) Remediate(ctx context.Context) int {
	if !r.cfg.BoundedAgentEnabled {
		return 0
	}
	if r.controller.Contained() {
		r.logger.Debug("remediation skipped, containment active")
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, wallBudget)
	defer cancel()

	steps := 0
	for _, id := range r.controller.Breakers().OpenChannels() {
		if ctx.Err() != nil || steps >= stepBudget {
			break
		}
		// Containment can engage mid-pass; every step rechecks.
		if r.controller.Contained() {
			break
		}
		if !r.admitTarget(id) {
			continue
		}

		err := r.restarter.RequestChannelRestart(ctx, id, ReasonRemediation)
		steps++
		if err != nil {
			r.logger.Warn("remediation restart refused", "channel_id", id, "error", err)
			continue
		}
		r.logger.Info("remediation restarted channel", "channel_id", id)
	}
	return steps
}

// admitTarget applies per-target cooldown, suspension, regression
// tracking, and the confidence gate. It mutates history for admitted
// targets.
func (r *Remediator) admitTarget(id models.ULID) bool {
	now := r.now()
	open := r.controller.Breakers().For(id).State() != StateClosed

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[id]
	if !ok {
		h = &targetHistory{}
		r.history[id] = h
	}
	if now.Before(h.suspendedUntil) {
		return false
	}
	if !h.lastAttempt.IsZero() && now.Sub(h.lastAttempt) < targetCooldown {
		return false
	}

	// A target still open at the next attempt regressed; enough of those
	// in a row suspends it.
	if h.attempts > 0 && h.wasOpen && open {
		h.worsening++
		if h.worsening >= regressionLimit {
			h.suspendedUntil = now.Add(suspendFor)
			h.worsening = 0
			r.logger.Warn("remediation target suspended",
				"channel_id", id, "suspended_until", h.suspendedUntil)
			return false
		}
	} else if !open {
		h.worsening = 0
	}

	confidence := 1.0 - float64(h.worsening)/float64(regressionLimit)
	if confidence < confidenceThreshold {
		return false
	}

	h.attempts++
	h.lastAttempt = now
	h.wasOpen = open
	return true
}

// ResolveMetadata runs one metadata self-resolution pass: re-resolve a
// batch of unavailable items and restore the ones that come back.
// Recursion-guarded, cooldown-gated, ratio-gated, and disabled under
// containment. Returns how many items were restored.
func (r *Remediator) ResolveMetadata(ctx context.Context) int {
	if !r.cfg.MetadataSelfResolutionEnabled && !r.cfg.ForceMetadataResolution {
		return 0
	}
	if r.controller.Contained() {
		return 0
	}
	if !r.metadataRunning.CompareAndSwap(false, true) {
		return 0
	}
	defer r.metadataRunning.Store(false)

	now := r.now()
	if last := r.lastMetadataRun.Load(); last != 0 && !r.cfg.ForceMetadataResolution {
		if now.Sub(time.Unix(last, 0)) < r.cfg.MetadataCooldown() {
			return 0
		}
	}
	if !r.cfg.ForceMetadataResolution && r.controller.MetadataFailureRatio() <= metadataRatioTrigger {
		return 0
	}
	r.lastMetadataRun.Store(now.Unix())

	ctx, cancel := context.WithTimeout(ctx, wallBudget)
	defer cancel()

	items, err := r.items.GetUnavailable(ctx, metadataBatchSize)
	if err != nil {
		r.logger.Warn("listing unavailable items", "error", err)
		r.controller.noteMetadataRun(false)
		return 0
	}
	if len(items) == 0 {
		r.controller.noteMetadataRun(true)
		return 0
	}

	restored := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		// A stale provisional URL would short-circuit the resolve.
		if err := r.items.ClearURL(ctx, item.ID); err != nil {
			r.logger.Warn("clearing provisional url", "media_item_id", item.ID, "error", err)
			continue
		}
		item.ProvisionalURL = ""
		if _, err := r.resolve.Resolve(ctx, item); err != nil {
			r.logger.Debug("item still unresolvable", "media_item_id", item.ID, "error", err)
			continue
		}
		if err := r.items.SetAvailability(ctx, item.ID, true); err != nil {
			r.logger.Warn("restoring item availability", "media_item_id", item.ID, "error", err)
			continue
		}
		restored++
	}

	r.controller.noteMetadataRun(restored > 0)
	r.logger.Info("metadata self-resolution pass finished",
		"examined", len(items), "restored", restored)
	return restored
}
