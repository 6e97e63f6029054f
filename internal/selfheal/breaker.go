// Package selfheal watches channel health and guards every automated
// recovery path: per-channel circuit breakers, the global restart-storm
// throttle, containment mode, and the bounded remediation loop. It acts
// on streams only through the channel manager's restart entry point.
package selfheal

import (
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
)

// Breaker defaults. A channel trips after breakerThreshold failures
// inside breakerWindow and stays open for breakerCooldown before a
// single half-open probe is allowed through.
const (
	breakerThreshold = 5
	breakerWindow    = 300 * time.Second
	breakerCooldown  = 120 * time.Second
)

// BreakerState is a channel breaker's position.
type BreakerState int

const (
	// StateClosed passes restarts and sessions normally.
	StateClosed BreakerState = iota
	// StateOpen refuses restarts until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits exactly one probe restart.
	StateHalfOpen
)

// String returns the lower-case state name.
func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is one channel's circuit breaker: a count-within-sliding-window
// trip condition, a fixed open cooldown, and a single-probe half-open.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures []time.Time
	openedAt time.Time
	probing  bool

	threshold int
	window    time.Duration
	cooldown  time.Duration

	// now is swapped by tests.
	now func() time.Time
}

// NewBreaker builds a closed breaker with the default thresholds.
func NewBreaker() *Breaker {
	return &Breaker{
		threshold: breakerThreshold,
		window:    breakerWindow,
		cooldown:  breakerCooldown,
		now:       time.Now,
	}
}

// State returns the breaker's position, advancing OPEN to HALF_OPEN when
// the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(b.now())
}

func (b *Breaker) stateLocked(now time.Time) BreakerState {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// Allow reports whether a restart may proceed. In HALF_OPEN exactly one
// caller gets through; the outcome of that probe decides the next state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked(b.now()) {
	case StateOpen:
		return models.ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return models.ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// RecordFailure feeds one failure into the sliding window. The breaker
// opens on the failure that fills the window, and a half-open probe
// failure re-opens with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	switch b.stateLocked(now) {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.failures = nil
		return
	case StateOpen:
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
		b.failures = nil
	}
}

// RecordSuccess closes a half-open breaker and lets the window decay
// otherwise.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.stateLocked(now) == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.failures = nil
		return
	}
	b.pruneLocked(now)
}

// FailureCount returns the live failures inside the window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return len(b.failures)
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

// BreakerRegistry hands out one breaker per channel and mirrors each
// state change into the breaker-state gauge.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[models.ULID]*Breaker
	metrics  *observability.Metrics
}

// NewBreakerRegistry builds an empty registry.
func NewBreakerRegistry(metrics *observability.Metrics) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[models.ULID]*Breaker),
		metrics:  metrics,
	}
}

// For returns the channel's breaker, creating it closed on first use.
func (r *BreakerRegistry) For(id models.ULID) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[id]
	if !ok {
		b = NewBreaker()
		r.breakers[id] = b
	}
	return b
}

// Publish pushes every breaker's current state into the gauge. Called on
// the controller's sampling tick so cooldown expiries show up without an
// explicit event.
func (r *BreakerRegistry) Publish() {
	if r.metrics == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.breakers {
		r.metrics.BreakerState.WithLabelValues(id.String()).Set(float64(b.State()))
	}
}

// OpenChannels lists channels whose breaker is not closed, the
// remediation loop's candidate set.
func (r *BreakerRegistry) OpenChannels() []models.ULID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ULID
	for id, b := range r.breakers {
		if b.State() != StateClosed {
			out = append(out, id)
		}
	}
	return out
}
