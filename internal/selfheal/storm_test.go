package selfheal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

func newTestStorm(clock *fakeClock) *StormThrottle {
	t := NewStormThrottle(10, time.Minute)
	t.now = clock.Now
	return t
}

func TestStormThrottleDefersBeyondThreshold(t *testing.T) {
	clock := newFakeClock()
	storm := newTestStorm(clock)

	for i := 0; i < 10; i++ {
		require.NoError(t, storm.Allow())
		storm.Record()
		clock.Advance(time.Second)
	}

	// The eleventh restart inside the window is deferred.
	assert.ErrorIs(t, storm.Allow(), models.ErrRestartThrottled)
}

func TestStormThrottleReopensAsWindowSlides(t *testing.T) {
	clock := newFakeClock()
	storm := newTestStorm(clock)

	for i := 0; i < 10; i++ {
		storm.Record()
	}
	require.ErrorIs(t, storm.Allow(), models.ErrRestartThrottled)

	// Once the oldest restart ages out, one slot frees up.
	clock.Advance(time.Minute + time.Second)
	assert.NoError(t, storm.Allow())
}

func TestStormThrottleSaturatedFor(t *testing.T) {
	clock := newFakeClock()
	storm := newTestStorm(clock)

	assert.Zero(t, storm.SaturatedFor())

	for i := 0; i < 10; i++ {
		storm.Record()
	}
	require.Error(t, storm.Allow())
	clock.Advance(30 * time.Second)
	assert.Equal(t, 30*time.Second, storm.SaturatedFor())

	// Saturation clears when the window slides past the burst.
	clock.Advance(time.Minute)
	assert.Zero(t, storm.SaturatedFor())
}

func TestStormThrottleRate(t *testing.T) {
	clock := newFakeClock()
	storm := NewStormThrottle(100, 5*time.Minute)
	storm.now = clock.Now

	storm.Record()
	storm.Record()
	clock.Advance(2 * time.Minute)
	storm.Record()

	// Only the restart inside the trailing minute counts.
	assert.Equal(t, 1, storm.Rate())
}
