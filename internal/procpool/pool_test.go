package procpool

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	"github.com/exstreamtv/exstreamtv/internal/observability"
)

func testPoolConfig(size int) config.ProcessPoolConfig {
	return config.ProcessPoolConfig{
		Size:           size,
		AcquireTimeout: 5 * time.Second,
		SpawnAttempts:  5,
		HealthInterval: 5 * time.Second,
		RSSSoftLimit:   768 << 20,
		RSSGrace:       30 * time.Second,
		ShutdownGrace:  5 * time.Second,
	}
}

// healthyProbe never reports resource pressure, so admission checks in
// tests only fail when a test injects a failing probe on purpose.
func healthyProbe() resourceProbe {
	return resourceProbe{
		memAvailable: func(context.Context) (uint64, error) { return 8 << 30, nil },
		fdUsage:      func(context.Context) (uint64, uint64, error) { return 128, 65536, nil },
	}
}

func newTestPool(t *testing.T, cfg config.ProcessPoolConfig) *Pool {
	t.Helper()
	p := New(cfg, 0, observability.NewMetrics(), nil)
	p.probe = healthyProbe()
	t.Cleanup(p.Close)
	return p
}

func TestAutoSize(t *testing.T) {
	tests := []struct {
		name      string
		channels  int
		cpus      int
		available uint64
		want      int
	}{
		{"channel bound", 4, 16, 32 << 30, 6},
		{"cpu bound", 20, 8, 32 << 30, 8},
		{"memory bound", 20, 16, 2 << 30, 5},
		{"floor of two", 0, 1, 256 << 20, 2},
		{"tiny box", 1, 2, 1 << 30, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AutoSize(tt.channels, tt.cpus, tt.available))
		})
	}
}

func TestAcquireAndRelease(t *testing.T) {
	p := newTestPool(t, testPoolConfig(2))

	lease, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)
	assert.Equal(t, 1, p.InUse())
	assert.InDelta(t, 0.5, p.Pressure(), 0.001)

	lease.Release()
	assert.Equal(t, 0, p.InUse())
	assert.Zero(t, p.Pressure())
}

func TestReleaseIdempotent(t *testing.T) {
	p := newTestPool(t, testPoolConfig(2))

	lease, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)

	lease.Release()
	lease.Release()
	assert.Equal(t, 0, p.InUse())
}

func TestBackgroundPriorityKeepsHeadroom(t *testing.T) {
	p := newTestPool(t, testPoolConfig(2))

	bg, ok := p.tryAcquire(PriorityBackground)
	require.True(t, ok)

	// The last slot is reserved for viewers.
	_, ok = p.tryAcquire(PriorityBackground)
	assert.False(t, ok)

	viewer, ok := p.tryAcquire(PriorityViewer)
	require.True(t, ok)
	assert.Equal(t, 2, p.InUse())

	_, ok = p.tryAcquire(PriorityViewer)
	assert.False(t, ok)

	bg.Release()
	viewer.Release()
}

func TestAcquireCapacityExceeded(t *testing.T) {
	cfg := testPoolConfig(1)
	cfg.SpawnAttempts = 1
	p := newTestPool(t, cfg)

	held, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)
	defer held.Release()

	_, err = p.Acquire(context.Background(), PriorityViewer)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.True(t, Retryable(err))
}

func TestAcquireDeadline(t *testing.T) {
	cfg := testPoolConfig(1)
	cfg.AcquireTimeout = 50 * time.Millisecond
	p := newTestPool(t, cfg)

	held, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background(), PriorityViewer)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.True(t, Retryable(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.FFmpegSpawnTimeouts))
}

func TestAcquireWakesOnRelease(t *testing.T) {
	p := newTestPool(t, testPoolConfig(1))

	held, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		held.Release()
	}()

	// The first backoff step is two seconds; the release wakes the
	// waiter long before that.
	start := time.Now()
	lease, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)
	defer lease.Release()
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireFailsFastOnMemoryPressure(t *testing.T) {
	p := newTestPool(t, testPoolConfig(4))
	p.probe.memAvailable = func(context.Context) (uint64, error) {
		return 128 << 20, nil
	}

	start := time.Now()
	_, err := p.Acquire(context.Background(), PriorityViewer)
	assert.ErrorIs(t, err, ErrMemoryExhausted)
	assert.False(t, Retryable(err))
	assert.Less(t, time.Since(start), time.Second, "exhaustion must not back off and retry")
}

func TestAcquireFailsFastOnFdPressure(t *testing.T) {
	p := newTestPool(t, testPoolConfig(4))
	p.probe.fdUsage = func(context.Context) (uint64, uint64, error) {
		return 980, 1024, nil
	}

	_, err := p.Acquire(context.Background(), PriorityViewer)
	assert.ErrorIs(t, err, ErrFdExhausted)
	assert.False(t, Retryable(err))
}

func TestAcquireProbeErrorsAreNotFatal(t *testing.T) {
	p := newTestPool(t, testPoolConfig(2))
	p.probe.memAvailable = func(context.Context) (uint64, error) {
		return 0, assert.AnError
	}
	p.probe.fdUsage = func(context.Context) (uint64, uint64, error) {
		return 0, 0, assert.AnError
	}

	lease, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)
	lease.Release()
}

func TestAcquireAfterClose(t *testing.T) {
	p := newTestPool(t, testPoolConfig(2))
	p.Close()

	_, err := p.Acquire(context.Background(), PriorityViewer)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestCloseIdempotent(t *testing.T) {
	p := New(testPoolConfig(2), 0, observability.NewMetrics(), nil)
	p.Close()
	p.Close()
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffDelay(1))
	assert.Equal(t, 4*time.Second, backoffDelay(2))
	assert.Equal(t, 32*time.Second, backoffDelay(5))
	assert.Equal(t, 32*time.Second, backoffDelay(9))
}

func TestObserveRSSGrace(t *testing.T) {
	lease := &Lease{}
	const limit = uint64(768 << 20)
	grace := 30 * time.Second
	base := time.Now()

	over := func(at time.Time) *ffmpeg.ProcessStats {
		return &ffmpeg.ProcessStats{RSSBytes: limit + 1, SampledAt: at}
	}
	// First sample over the line only starts the clock.
	assert.False(t, lease.observeRSS(over(base), limit, grace))
	assert.False(t, lease.Unhealthy())

	// Still inside the grace window.
	assert.False(t, lease.observeRSS(over(base.Add(10*time.Second)), limit, grace))
	assert.False(t, lease.Unhealthy())

	// Grace expired: flagged exactly once.
	assert.True(t, lease.observeRSS(over(base.Add(31*time.Second)), limit, grace))
	assert.True(t, lease.Unhealthy())
	assert.False(t, lease.observeRSS(over(base.Add(40*time.Second)), limit, grace))
	assert.True(t, lease.Unhealthy())
}

func TestObserveRSSSpikeForgiven(t *testing.T) {
	lease := &Lease{}
	const limit = uint64(768 << 20)
	grace := 30 * time.Second
	base := time.Now()

	assert.False(t, lease.observeRSS(&ffmpeg.ProcessStats{RSSBytes: limit + 1, SampledAt: base}, limit, grace))
	// Dropping back under the limit resets the clock.
	assert.False(t, lease.observeRSS(&ffmpeg.ProcessStats{RSSBytes: limit - 1, SampledAt: base.Add(5 * time.Second)}, limit, grace))
	// A later excursion starts over and stays within grace.
	assert.False(t, lease.observeRSS(&ffmpeg.ProcessStats{RSSBytes: limit + 1, SampledAt: base.Add(10 * time.Second)}, limit, grace))
	assert.False(t, lease.observeRSS(&ffmpeg.ProcessStats{RSSBytes: limit + 1, SampledAt: base.Add(35 * time.Second)}, limit, grace))
	assert.False(t, lease.Unhealthy())
}

func TestBindResetsBudgetClock(t *testing.T) {
	lease := &Lease{}
	const limit = uint64(768 << 20)
	base := time.Now()

	assert.False(t, lease.observeRSS(&ffmpeg.ProcessStats{RSSBytes: limit + 1, SampledAt: base}, limit, 30*time.Second))
	lease.Bind(nil)
	// The respawned process gets a fresh window.
	assert.False(t, lease.observeRSS(&ffmpeg.ProcessStats{RSSBytes: limit + 1, SampledAt: base.Add(31 * time.Second)}, limit, 30*time.Second))
	assert.False(t, lease.Unhealthy())
}

func TestSweepSkipsUnboundLeases(t *testing.T) {
	p := newTestPool(t, testPoolConfig(2))

	lease, err := p.Acquire(context.Background(), PriorityViewer)
	require.NoError(t, err)
	defer lease.Release()

	// No command bound yet: the sweep must not panic or flag anything.
	p.sweep(context.Background())
	assert.False(t, lease.Unhealthy())
}

func TestPressure(t *testing.T) {
	p := newTestPool(t, testPoolConfig(4))

	var leases []*Lease
	for i := 0; i < 3; i++ {
		l, err := p.Acquire(context.Background(), PriorityViewer)
		require.NoError(t, err)
		leases = append(leases, l)
	}
	assert.InDelta(t, 0.75, p.Pressure(), 0.001)

	for _, l := range leases {
		l.Release()
	}
	assert.Zero(t, p.Pressure())
}
