package selfheal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
)

// Restart reasons recognized across the recovery surface. Manual restarts
// are the only ones containment lets through.
const (
	ReasonManual      = "manual"
	ReasonRemediation = "remediation"
)

// Containment entry reasons, exported through Status for the health API.
const (
	containmentReasonStorm    = "restart_storm"
	containmentReasonPressure = "pool_pressure"
	containmentReasonMetadata = "metadata_failures"
)

// Controller timing. The sampling tick drives every sustained-condition
// window, so those windows are accurate to one tick.
const (
	sampleTick = 5 * time.Second

	// stormSustain is how long the storm throttle must stay saturated
	// before containment engages.
	stormSustain = 120 * time.Second

	// pressureSustain is how long pool pressure must hold above the
	// threshold before containment engages.
	pressureSustain = 60 * time.Second

	// containmentClearAfter is how long every entry condition must stay
	// absent before containment lifts.
	containmentClearAfter = 120 * time.Second

	// metadataWindow is the sliding window behind the metadata failure
	// ratio gauge.
	metadataWindow = 5 * time.Minute

	// metadataRunFailures is how many consecutive failed self-resolution
	// runs count as a metadata-subsystem failure for containment.
	metadataRunFailures = 3
)

// poolPressure is the containment trigger's view of the process pool.
// *procpool.Pool satisfies it.
type poolPressure interface {
	Pressure() float64
}

// metadataEvent is one resolution outcome inside the sliding ratio window.
type metadataEvent struct {
	at time.Time
	ok bool
}

// Controller is the self-healing mediator. It implements the channel
// manager's Guard, owns the breakers and the storm throttle, and decides
// containment. It never touches a stream directly.
type Controller struct {
	cfg      config.AIAgentConfig
	breakers *BreakerRegistry
	storm    *StormThrottle
	pool     poolPressure
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu sync.Mutex

	contained       bool
	containedReason string
	containedAt     time.Time
	// clearSince is when every entry condition was last seen absent.
	clearSince time.Time

	pressureHighSince time.Time

	metadataEvents []metadataEvent
	// metadataRunFails counts consecutive failed self-resolution runs.
	metadataRunFails int

	now func() time.Time
}

// NewController wires the controller from config.
func NewController(cfg config.AIAgentConfig, pool poolPressure, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.ContainmentRestartStormThreshold
	if threshold <= 0 {
		threshold = 10
	}
	window := cfg.StormWindow()
	if window <= 0 {
		window = time.Minute
	}
	return &Controller{
		cfg:      cfg,
		breakers: NewBreakerRegistry(metrics),
		storm:    NewStormThrottle(threshold, window),
		pool:     pool,
		metrics:  metrics,
		logger:   logger.With("component", "selfheal"),
		now:      time.Now,
	}
}

// Breakers exposes the registry for the remediation loop and tests.
func (c *Controller) Breakers() *BreakerRegistry {
	return c.breakers
}

// AdmitSession implements broadcast.Guard. Containment refuses cold
// tunes; an open breaker refuses sessions so a failing channel does not
// accumulate viewers it cannot serve.
func (c *Controller) AdmitSession(channelID models.ULID) error {
	if c.Contained() {
		return fmt.Errorf("%w: containment mode", models.ErrAdmissionDenied)
	}
	if c.breakers.For(channelID).State() == StateOpen {
		return models.ErrCircuitOpen
	}
	return nil
}

// AllowRestart implements broadcast.Guard: containment (manual excepted),
// then the storm throttle, then the breaker. The breaker runs last so a
// half-open probe is only consumed when nothing else refuses.
func (c *Controller) AllowRestart(channelID models.ULID, reason string) error {
	if reason != ReasonManual && c.Contained() {
		return models.ErrContainmentActive
	}
	if err := c.storm.Allow(); err != nil {
		return err
	}
	return c.breakers.For(channelID).Allow()
}

// RecordFailure implements broadcast.Guard. Every failure feeds the
// channel breaker; resolver failures additionally feed the metadata
// failure ratio.
func (c *Controller) RecordFailure(channelID models.ULID, err error) {
	c.breakers.For(channelID).RecordFailure()

	var rerr *models.ResolverError
	if errors.As(err, &rerr) {
		c.recordMetadata(false)
	}
}

// RecordSuccess implements broadcast.Guard.
func (c *Controller) RecordSuccess(channelID models.ULID) {
	c.breakers.For(channelID).RecordSuccess()
	c.recordMetadata(true)
}

// RecordRestart implements broadcast.Guard, feeding the storm window.
func (c *Controller) RecordRestart(channelID models.ULID, reason string) {
	c.storm.Record()
	if c.metrics != nil {
		c.metrics.RestartRate.Set(float64(c.storm.Rate()))
	}
}

// Contained reports whether containment mode is engaged.
func (c *Controller) Contained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contained
}

// Status is the health API's view of the controller.
type Status struct {
	Contained        bool      `json:"contained"`
	ContainedReason  string    `json:"contained_reason,omitempty"`
	ContainedSince   time.Time `json:"contained_since,omitzero"`
	RestartsLastMin  int       `json:"restarts_last_minute"`
	MetadataFailureR float64   `json:"metadata_failure_ratio"`
	OpenBreakers     int       `json:"open_breakers"`
}

// Snapshot returns the controller's current status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	contained := c.contained
	reason := c.containedReason
	since := c.containedAt
	ratio := c.metadataRatioLocked(c.now())
	c.mu.Unlock()
	return Status{
		Contained:        contained,
		ContainedReason:  reason,
		ContainedSince:   since,
		RestartsLastMin:  c.storm.Rate(),
		MetadataFailureR: ratio,
		OpenBreakers:     len(c.breakers.OpenChannels()),
	}
}

// MetadataFailureRatio returns the failing fraction of recent resolutions.
func (c *Controller) MetadataFailureRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadataRatioLocked(c.now())
}

func (c *Controller) recordMetadata(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadataEvents = append(c.metadataEvents, metadataEvent{at: c.now(), ok: ok})
}

func (c *Controller) metadataRatioLocked(now time.Time) float64 {
	cutoff := now.Add(-metadataWindow)
	i := 0
	for i < len(c.metadataEvents) && c.metadataEvents[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.metadataEvents = append(c.metadataEvents[:0], c.metadataEvents[i:]...)
	}
	if len(c.metadataEvents) == 0 {
		return 0
	}
	fails := 0
	for _, e := range c.metadataEvents {
		if !e.ok {
			fails++
		}
	}
	return float64(fails) / float64(len(c.metadataEvents))
}

// noteMetadataRun records a self-resolution run's outcome; a streak of
// failures is a containment entry condition.
func (c *Controller) noteMetadataRun(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.metadataRunFails = 0
		return
	}
	c.metadataRunFails++
}

// Run drives the sampling loop until ctx ends: breaker gauge refresh,
// restart rate, pressure windows, containment transitions.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(sampleTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sample()
		}
	}
}

// sample is one controller tick.
func (c *Controller) sample() {
	now := c.now()
	c.breakers.Publish()
	if c.metrics != nil {
		c.metrics.RestartRate.Set(float64(c.storm.Rate()))
	}

	pressure := 0.0
	if c.pool != nil {
		pressure = c.pool.Pressure()
	}
	stormFor := c.storm.SaturatedFor()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.MetadataFailureRatio.Set(c.metadataRatioLocked(now))
	}

	threshold := c.cfg.PoolPressureThreshold()
	if pressure >= threshold {
		if c.pressureHighSince.IsZero() {
			c.pressureHighSince = now
		}
	} else {
		c.pressureHighSince = time.Time{}
	}

	reason := ""
	switch {
	case stormFor >= stormSustain:
		reason = containmentReasonStorm
	case !c.pressureHighSince.IsZero() && now.Sub(c.pressureHighSince) >= pressureSustain:
		reason = containmentReasonPressure
	case c.metadataRunFails >= metadataRunFailures:
		reason = containmentReasonMetadata
	}

	if reason != "" {
		c.clearSince = time.Time{}
		if !c.contained {
			c.contained = true
			c.containedReason = reason
			c.containedAt = now
			if c.metrics != nil {
				c.metrics.ContainmentActive.Set(1)
			}
			c.logger.Error("containment mode engaged",
				"reason", reason,
				"pool_pressure", fmt.Sprintf("%.2f", pressure),
				"storm_saturated", stormFor.Truncate(time.Second))
		}
		return
	}

	if !c.contained {
		return
	}
	if c.clearSince.IsZero() {
		c.clearSince = now
		return
	}
	if now.Sub(c.clearSince) >= containmentClearAfter {
		c.contained = false
		c.containedReason = ""
		c.clearSince = time.Time{}
		c.metadataRunFails = 0
		if c.metrics != nil {
			c.metrics.ContainmentActive.Set(0)
		}
		c.logger.Info("containment mode lifted",
			"engaged_for", now.Sub(c.containedAt).Truncate(time.Second))
	}
}
