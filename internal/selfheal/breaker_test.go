package selfheal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// fakeClock advances manually.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *Breaker {
	b := NewBreaker()
	b.now = clock.Now
	return b
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < breakerThreshold-1; i++ {
		b.RecordFailure()
		clock.Advance(time.Second)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
	assert.Equal(t, breakerThreshold-1, b.FailureCount())
}

func TestBreakerTripsOnFillingFailure(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), models.ErrCircuitOpen)
}

func TestBreakerWindowExpiresOldFailures(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	// Four failures, then wait until they age out of the window.
	for i := 0; i < breakerThreshold-1; i++ {
		b.RecordFailure()
	}
	clock.Advance(breakerWindow + time.Second)

	// A fresh failure is now the only one in the window.
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.FailureCount())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), models.ErrCircuitOpen)

	clock.Advance(breakerCooldown)
	assert.Equal(t, StateHalfOpen, b.State())

	// Exactly one probe gets through.
	assert.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), models.ErrCircuitOpen)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(breakerCooldown)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreakerProbeFailureReopensWithFreshCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(breakerCooldown)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarts from the probe failure.
	clock.Advance(breakerCooldown - time.Second)
	assert.Equal(t, StateOpen, b.State())
	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerRegistryPerChannel(t *testing.T) {
	reg := NewBreakerRegistry(nil)
	a := models.NewULID()
	bID := models.NewULID()

	for i := 0; i < breakerThreshold; i++ {
		reg.For(a).RecordFailure()
	}
	assert.Equal(t, StateOpen, reg.For(a).State())
	assert.Equal(t, StateClosed, reg.For(bID).State())

	open := reg.OpenChannels()
	require.Len(t, open, 1)
	assert.Equal(t, a, open[0])

	// Same channel resolves to the same breaker.
	assert.Same(t, reg.For(a), reg.For(a))
}
