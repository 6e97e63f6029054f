package selfheal

import (
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// StormThrottle is the global restart rate limit: once threshold restarts
// land inside the window, further restarts are deferred until the oldest
// timestamp ages out.
type StormThrottle struct {
	mu         sync.Mutex
	timestamps []time.Time
	threshold  int
	window     time.Duration

	// saturatedSince is when the current run of refusals began, zero
	// while the throttle is open. Containment entry watches this.
	saturatedSince time.Time
	// lastRefusal keeps the saturation run alive: a storm shows up as a
	// stream of refused attempts even while old restarts age out of the
	// window.
	lastRefusal time.Time

	now func() time.Time
}

// NewStormThrottle builds a throttle allowing threshold restarts per
// window.
func NewStormThrottle(threshold int, window time.Duration) *StormThrottle {
	return &StormThrottle{
		threshold:  threshold,
		window:     window,
		timestamps: make([]time.Time, 0, threshold+1),
		now:        time.Now,
	}
}

// Allow reports whether another restart fits inside the window.
func (t *StormThrottle) Allow() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	if len(t.timestamps) >= t.threshold {
		if t.saturatedSince.IsZero() {
			t.saturatedSince = now
		}
		t.lastRefusal = now
		return models.ErrRestartThrottled
	}
	return nil
}

// Record registers an executed restart.
func (t *StormThrottle) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	t.timestamps = append(t.timestamps, now)
}

// Rate returns restarts observed in the trailing minute, feeding the
// restart-rate gauge.
func (t *StormThrottle) Rate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	cutoff := now.Add(-time.Minute)
	n := 0
	for _, ts := range t.timestamps {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// SaturatedFor returns how long the throttle has been continuously
// refusing restarts, zero when it is open. The run survives old restarts
// aging out of the window as long as refusals keep arriving; a full
// window with no refusal ends it.
func (t *StormThrottle) SaturatedFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	if t.saturatedSince.IsZero() {
		return 0
	}
	if len(t.timestamps) < t.threshold && now.Sub(t.lastRefusal) >= t.window {
		t.saturatedSince = time.Time{}
		return 0
	}
	return now.Sub(t.saturatedSince)
}

func (t *StormThrottle) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.timestamps) && t.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		t.timestamps = append(t.timestamps[:0], t.timestamps[i:]...)
	}
}
