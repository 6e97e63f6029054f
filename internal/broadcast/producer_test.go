package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/playout"
	"github.com/exstreamtv/exstreamtv/internal/procpool"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

// fakeResolver satisfies urlResolver with canned outcomes.
type fakeResolver struct {
	res   resolver.Resolution
	err   error
	calls atomic.Int32
}

func (f *fakeResolver) Resolve(_ context.Context, _ *models.MediaItem) (resolver.Resolution, error) {
	f.calls.Add(1)
	if f.err != nil {
		return resolver.Resolution{}, f.err
	}
	return f.res, nil
}

// fakeProc satisfies streamProc without running anything.
type fakeProc struct {
	payload []byte
	exitErr error
	block   bool
	class   ffmpeg.StderrClass
	tail    string

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
}

func newFakeProc() *fakeProc {
	return &fakeProc{stopCh: make(chan struct{})}
}

func (f *fakeProc) StreamTo(ctx context.Context, w io.Writer) error {
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return err
		}
	}
	if f.block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stopCh:
			return errors.New("fake process killed")
		}
	}
	return f.exitErr
}

func (f *fakeProc) Stop(time.Duration) {
	f.stopped.Store(true)
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *fakeProc) FailureClass() ffmpeg.StderrClass { return f.class }
func (f *fakeProc) StderrTail() string               { return f.tail }
func (f *fakeProc) Monitor() *ffmpeg.ProcessMonitor  { return nil }
func (f *fakeProc) String() string                   { return "fake ffmpeg" }

// fakeItems overrides the two repository calls the loop makes; anything
// else panics through the embedded nil interface.
type fakeItems struct {
	repository.MediaItemRepository
	mu          sync.Mutex
	failures    map[models.ULID]int
	unavailable map[models.ULID]bool
}

func newFakeItems() *fakeItems {
	return &fakeItems{
		failures:    make(map[models.ULID]int),
		unavailable: make(map[models.ULID]bool),
	}
}

func (f *fakeItems) IncrementFailureCount(_ context.Context, id models.ULID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id]++
	return f.failures[id], nil
}

func (f *fakeItems) SetAvailability(_ context.Context, id models.ULID, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable[id] = !available
	return nil
}

func (f *fakeItems) failureCount(id models.ULID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[id]
}

func (f *fakeItems) isUnavailable(id models.ULID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unavailable[id]
}

// fakeGuard counts what the loop reports.
type fakeGuard struct {
	mu         sync.Mutex
	admitErr   error
	restartErr error
	failures   int
	successes  int
	restarts   []string
}

func (g *fakeGuard) AdmitSession(models.ULID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitErr
}

func (g *fakeGuard) AllowRestart(models.ULID, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.restartErr
}

func (g *fakeGuard) RecordFailure(models.ULID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
}

func (g *fakeGuard) RecordSuccess(models.ULID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
}

func (g *fakeGuard) RecordRestart(_ models.ULID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restarts = append(g.restarts, reason)
}

func (g *fakeGuard) failureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

func testProcPool(size int) *procpool.Pool {
	return procpool.New(config.ProcessPoolConfig{
		Size:           size,
		AcquireTimeout: 200 * time.Millisecond,
		SpawnAttempts:  2,
		HealthInterval: time.Hour,
		RSSSoftLimit:   1 << 30,
		RSSGrace:       time.Minute,
		ShutdownGrace:  100 * time.Millisecond,
	}, 0, observability.NewMetrics(), nil)
}

// loopEnv wires a producer loop with fakes everywhere a real
// dependency would spawn a process or hit the network.
type loopEnv struct {
	lp       *loop
	resolver *fakeResolver
	items    *fakeItems
	guard    *fakeGuard
	spawned  []*fakeProc
	requests []ffmpeg.StreamRequest
	spawnMu  sync.Mutex
	nextProc func() *fakeProc
}

func newLoopEnv(t *testing.T) *loopEnv {
	t.Helper()

	env := &loopEnv{
		resolver: &fakeResolver{res: resolver.Resolution{URL: "http://origin/item.mp4"}},
		items:    newFakeItems(),
		guard:    &fakeGuard{},
	}
	env.nextProc = newFakeProc

	ctx, cancel := context.WithCancel(context.Background())
	lp := &loop{
		channel: &models.Channel{
			BaseModel: models.BaseModel{ID: models.NewULID()},
			Number:    "2",
			Name:      "Test Pattern",
		},
		profile:   ffmpeg.DefaultProfile(),
		resolve:   env.resolver,
		items:     env.items,
		pool:      testProcPool(2),
		guard:     env.guard,
		logger:    slog.Default(),
		stopGrace: 50 * time.Millisecond,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	lp.buf = newTestBuffer(1<<20, 64, 0)
	lp.chunker = NewChunker(lp, mpegts.PacketSize, nil)
	lp.spawn = func(req ffmpeg.StreamRequest) streamProc {
		env.spawnMu.Lock()
		defer env.spawnMu.Unlock()
		p := env.nextProc()
		env.spawned = append(env.spawned, p)
		env.requests = append(env.requests, req)
		return p
	}

	env.lp = lp
	t.Cleanup(func() {
		cancel()
		lp.buf.Close()
	})
	return env
}

func testEntry(d time.Duration) *playout.Entry {
	now := time.Now()
	return &playout.Entry{
		Item: &models.MediaItem{
			BaseModel:  models.BaseModel{ID: models.NewULID()},
			Title:      "Some Movie",
			SourceType: models.SourceTypeLocal,
			DurationMs: d.Milliseconds(),
		},
		Start: now,
		Stop:  now.Add(d),
	}
}

func TestPlayEntryCleanExit(t *testing.T) {
	env := newLoopEnv(t)

	pat := mpegts.PAT(0)
	pmt := mpegts.PMT(0)
	var payload []byte
	payload = append(payload, pat[:]...)
	payload = append(payload, pmt[:]...)
	payload = append(payload, tsPacket(mpegts.PIDVideo, true, 0)...)
	env.nextProc = func() *fakeProc {
		p := newFakeProc()
		p.payload = payload
		return p
	}

	entry := testEntry(10 * time.Minute)
	outcome := env.lp.playEntry(nil, entry, false)

	assert.Equal(t, playDone, outcome)
	require.Len(t, env.spawned, 1)
	assert.Equal(t, "http://origin/item.mp4", env.requests[0].URL)
	assert.False(t, env.requests[0].ForbidHWDecode)

	// The stream reached the ring, and the splice shim followed it.
	st := env.lp.buf.Stats()
	assert.Greater(t, st.Chunks, 0)
	assert.NotNil(t, env.lp.chunker.Program())

	// The lease went back to the pool.
	assert.Zero(t, env.lp.pool.Pressure())
}

func TestPlayEntryHWAccelFallsBackToSoftware(t *testing.T) {
	env := newLoopEnv(t)
	env.nextProc = func() *fakeProc {
		p := newFakeProc()
		p.exitErr = errors.New("exit status 1")
		p.class = ffmpeg.StderrClassHWAccel
		return p
	}

	entry := testEntry(10 * time.Minute)
	outcome := env.lp.playEntry(nil, entry, false)
	assert.Equal(t, playRetrySoftware, outcome)

	// The respawn carries the software-decode override.
	outcome = env.lp.playEntry(nil, entry, true)
	require.Len(t, env.requests, 2)
	assert.True(t, env.requests[1].ForbidHWDecode)
	// Still dying in software is a skip, not an endless retry.
	assert.Equal(t, playSkip, outcome)
}

func TestPlayEntryAuthFailurePullsItem(t *testing.T) {
	env := newLoopEnv(t)
	env.nextProc = func() *fakeProc {
		p := newFakeProc()
		p.exitErr = errors.New("exit status 1")
		p.class = ffmpeg.StderrClassHTTP4xx
		p.tail = "HTTP error 403 Forbidden"
		return p
	}

	entry := testEntry(10 * time.Minute)
	for i := 0; i < unavailableAfter; i++ {
		assert.Equal(t, playSkip, env.lp.playEntry(nil, entry, false))
	}

	assert.Equal(t, unavailableAfter, env.items.failureCount(entry.Item.ID))
	assert.True(t, env.items.isUnavailable(entry.Item.ID))
}

func TestPlayEntryResolveOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.UnresolvableKind
		want     playOutcome
		failures int
	}{
		{"not found skips and counts", models.UnresolvableNotFound, playSkip, 1},
		{"invalid skips and counts", models.UnresolvableInvalid, playSkip, 1},
		{"auth skips and counts", models.UnresolvableAuth, playSkip, 1},
		{"upstream down retries", models.UnresolvableUpstreamDown, playRetry, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newLoopEnv(t)
			entry := testEntry(10 * time.Minute)
			env.resolver.err = &models.ResolverError{
				Kind:   tt.kind,
				ItemID: entry.Item.ID,
				Err:    errors.New("upstream said no"),
			}

			assert.Equal(t, tt.want, env.lp.playEntry(nil, entry, false))
			assert.Equal(t, tt.failures, env.items.failureCount(entry.Item.ID))
			assert.Empty(t, env.spawned)
			assert.Equal(t, 1, env.guard.failureCount())
		})
	}
}

func TestPlayEntryTransientResolveRetries(t *testing.T) {
	env := newLoopEnv(t)
	env.resolver.err = errors.New("dial tcp: connection refused")

	entry := testEntry(10 * time.Minute)
	assert.Equal(t, playRetry, env.lp.playEntry(nil, entry, false))
	assert.Zero(t, env.items.failureCount(entry.Item.ID))
}

func TestPlayEntryPoolBusyRetries(t *testing.T) {
	env := newLoopEnv(t)

	// Drain the pool so the acquire times out.
	held1, err := env.lp.pool.Acquire(context.Background(), procpool.PriorityViewer)
	require.NoError(t, err)
	defer held1.Release()
	held2, err := env.lp.pool.Acquire(context.Background(), procpool.PriorityViewer)
	require.NoError(t, err)
	defer held2.Release()

	entry := testEntry(10 * time.Minute)
	outcome := env.lp.playEntry(nil, entry, false)
	assert.Equal(t, playRetry, outcome)
	assert.Empty(t, env.spawned)
	assert.Equal(t, 1, env.guard.failureCount())
}

func TestPlayEntryStoppedMidStream(t *testing.T) {
	env := newLoopEnv(t)
	env.nextProc = func() *fakeProc {
		p := newFakeProc()
		p.block = true
		return p
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		env.lp.cancel()
	}()

	entry := testEntry(10 * time.Minute)
	outcome := env.lp.playEntry(nil, entry, false)
	assert.Equal(t, playStopped, outcome)
}

func TestClassifyStreamOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ffmpeg.StderrClass
		want  playOutcome
	}{
		{"over budget skips", errProcessUnhealthy, ffmpeg.StderrClassNone, playSkip},
		{"runaway skips", errRunaway, ffmpeg.StderrClassNone, playSkip},
		{"stall retries", errUpstreamStall, ffmpeg.StderrClassNone, playRetry},
		{"dns retries", errors.New("exit status 1"), ffmpeg.StderrClassDNS, playRetry},
		{"tls retries", errors.New("exit status 1"), ffmpeg.StderrClassTLS, playRetry},
		{"5xx retries", errors.New("exit status 1"), ffmpeg.StderrClassHTTP5xx, playRetry},
		{"hwaccel goes software", errors.New("exit status 1"), ffmpeg.StderrClassHWAccel, playRetrySoftware},
		{"4xx skips", errors.New("exit status 1"), ffmpeg.StderrClassHTTP4xx, playSkip},
		{"drm skips", errors.New("exit status 1"), ffmpeg.StderrClassDRM, playSkip},
		{"decode skips", errors.New("exit status 1"), ffmpeg.StderrClassDecode, playSkip},
		{"unclassified retries", errors.New("exit status 1"), ffmpeg.StderrClassNone, playRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newLoopEnv(t)
			proc := newFakeProc()
			proc.class = tt.class
			entry := testEntry(time.Minute)

			assert.Equal(t, tt.want, env.lp.classifyStream(entry, proc, tt.err))
		})
	}
}

func TestSuperviseReturnsProcessError(t *testing.T) {
	env := newLoopEnv(t)
	boom := errors.New("exit status 187")
	proc := newFakeProc()
	proc.exitErr = boom

	lease, err := env.lp.pool.Acquire(context.Background(), procpool.PriorityViewer)
	require.NoError(t, err)
	defer lease.Release()

	err = env.lp.supervise(nil, testEntry(time.Minute), false, lease, proc)
	assert.ErrorIs(t, err, boom)
}

func TestNowPlayingProjection(t *testing.T) {
	env := newLoopEnv(t)
	assert.Nil(t, env.lp.nowPlaying())

	entry := testEntry(10 * time.Minute)
	env.lp.current.Store(entry)

	item := env.lp.nowPlaying()
	require.NotNil(t, item)
	assert.Equal(t, env.lp.channel.ID, item.ChannelID)
	assert.Equal(t, entry.Item.ID, item.MediaItemID)
	assert.Equal(t, "Some Movie", item.Title)
	assert.True(t, item.StartTime.Equal(entry.Start))
	assert.True(t, item.StopTime.Equal(entry.Stop))
}
