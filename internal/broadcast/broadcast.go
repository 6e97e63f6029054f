package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exstreamtv/exstreamtv/internal/codec"
	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/playout"
	"github.com/exstreamtv/exstreamtv/internal/procpool"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
)

const (
	// idleStopDelay is how long an unwatched channel keeps airing after
	// its last session detaches, so a zapping viewer gets an instant
	// rejoin instead of a cold start.
	idleStopDelay = 60 * time.Second

	// restartCooldown is the per-channel floor between restarts,
	// whatever their source.
	restartCooldown = 30 * time.Second

	reapInterval = 5 * time.Second

	prewarmParallelism = 4
)

// ErrManagerClosed is returned for work submitted after shutdown began.
var ErrManagerClosed = errors.New("broadcast: manager closed")

// Guard is the safety layer consulted around restarts and admissions and
// fed with per-item outcomes. The self-heal controller implements it. A
// nil Guard means unguarded operation.
type Guard interface {
	// AdmitSession vetoes new sessions: models.ErrAdmissionDenied under
	// containment, models.ErrCircuitOpen while the channel breaker is open.
	AdmitSession(channelID models.ULID) error
	// AllowRestart vetoes restarts: breaker, containment, or the global
	// restart-storm throttle (models.ErrRestartThrottled). The reason lets
	// a manual admin restart pass containment, which otherwise blocks all
	// automated restarts.
	AllowRestart(channelID models.ULID, reason string) error
	// RecordFailure feeds a per-item or per-acquire failure to the breaker.
	RecordFailure(channelID models.ULID, err error)
	// RecordSuccess feeds a cleanly finished item to the breaker.
	RecordSuccess(channelID models.ULID)
	// RecordRestart feeds an executed restart to the storm tracker.
	RecordRestart(channelID models.ULID, reason string)
}

// Deps are the collaborators a Manager needs. Guard, Watermark and
// Prober are optional.
type Deps struct {
	Config    *config.Config
	Channels  repository.ChannelRepository
	Items     repository.MediaItemRepository
	Engine    *playout.Engine
	Resolver  *resolver.Service
	Pool      *procpool.Pool
	Prober    *ffmpeg.Prober
	Slate     *SlateGenerator
	Guard     Guard
	Watermark WatermarkFunc

	// FFmpegPath and the hardware pick come from boot-time detection,
	// not raw config.
	FFmpegPath string
	HW         codec.HWAccel
	HWDevice   string

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Manager owns every producer loop and hands sessions to the HTTP layer.
// One exists per process.
type Manager struct {
	cfg        *config.Config
	channels   repository.ChannelRepository
	items      repository.MediaItemRepository
	engine     *playout.Engine
	resolver   urlResolver
	pool       *procpool.Pool
	prober     *ffmpeg.Prober
	slate      *SlateGenerator
	guard      Guard
	watermark  WatermarkFunc
	ffmpegPath string
	hw         codec.HWAccel
	hwDevice   string
	metrics    *observability.Metrics
	logger     *slog.Logger

	// spawn is swapped by tests to avoid real processes.
	spawn func(pipe *ffmpeg.Pipeline, req ffmpeg.StreamRequest) streamProc
	// idleStop is how long an unwatched loop lingers; the constant,
	// except in tests.
	idleStop time.Duration

	mu          sync.Mutex
	loops       map[models.ULID]*loop
	lastRestart map[models.ULID]time.Time
	closed      bool

	total atomic.Int64 // attached sessions across all channels
}

// NewManager wires a manager from its dependencies.
func NewManager(d Deps) *Manager {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:         d.Config,
		channels:    d.Channels,
		items:       d.Items,
		engine:      d.Engine,
		resolver:    d.Resolver,
		pool:        d.Pool,
		prober:      d.Prober,
		slate:       d.Slate,
		guard:       d.Guard,
		watermark:   d.Watermark,
		ffmpegPath:  d.FFmpegPath,
		hw:          d.HW,
		hwDevice:    d.HWDevice,
		metrics:     d.Metrics,
		logger:      logger.With("component", "broadcast"),
		idleStop:    idleStopDelay,
		loops:       make(map[models.ULID]*loop),
		lastRestart: make(map[models.ULID]time.Time),
	}
	m.spawn = func(pipe *ffmpeg.Pipeline, req ffmpeg.StreamRequest) streamProc {
		return pipe.Command(req)
	}
	return m
}

// GetStream admits a new viewer session on a channel, starting its
// producer loop if needed.
func (m *Manager) GetStream(ctx context.Context, channelID models.ULID, remoteAddr, userAgent string) (*Session, error) {
	ch, err := m.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, models.ErrChannelNotFound
	}
	return m.admit(ctx, ch, remoteAddr, userAgent)
}

// GetStreamByNumber is GetStream addressed by guide number, for the
// tuner-facing endpoints.
func (m *Manager) GetStreamByNumber(ctx context.Context, number, remoteAddr, userAgent string) (*Session, error) {
	ch, err := m.channels.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, models.ErrChannelNotFound
	}
	return m.admit(ctx, ch, remoteAddr, userAgent)
}

// admit runs the admission chain: enabled, guard, pool pressure for cold
// channels, global cap, then the per-channel cap inside Attach.
func (m *Manager) admit(ctx context.Context, ch *models.Channel, remoteAddr, userAgent string) (*Session, error) {
	if !ch.IsEnabled() {
		return nil, models.ErrChannelDisabled
	}
	if !m.running(ch.ID) {
		// Cold tunes start a loop; the guard refuses those under
		// containment or an open breaker. Channels already on air keep
		// accepting viewers regardless.
		if m.guard != nil {
			if err := m.guard.AdmitSession(ch.ID); err != nil {
				return nil, err
			}
		}
		// Starting a loop costs a process slot; refuse cold tunes when
		// the pool is near saturation instead of degrading every stream.
		threshold := m.cfg.AIAgent.ContainmentPoolPressureThreshold
		if threshold <= 0 {
			threshold = 0.9
		}
		if p := m.pool.Pressure(); p >= threshold {
			return nil, fmt.Errorf("%w: pool pressure %.2f", models.ErrAdmissionDenied, p)
		}
	}
	if max := m.cfg.Server.MaxConnections; max > 0 && m.total.Load() >= int64(max) {
		return nil, fmt.Errorf("%w: server connection cap %d reached", models.ErrAdmissionDenied, max)
	}

	// A loop stopping between lookup and attach surfaces as a closed
	// buffer; one retry re-resolves the loop.
	for attempt := 0; ; attempt++ {
		lp, err := m.ensureLoop(ch, false)
		if err != nil {
			return nil, err
		}
		sess, err := lp.buf.Attach(remoteAddr, userAgent)
		if errors.Is(err, ErrBufferClosed) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		sess.ChannelID = ch.ID

		m.total.Add(1)
		m.metrics.ActiveSessions.Inc()
		m.mu.Lock()
		if cur, ok := m.loops[ch.ID]; ok && cur.idleTimer != nil {
			cur.idleTimer.Stop()
			cur.idleTimer = nil
		}
		m.mu.Unlock()

		m.logger.Info("session attached",
			"channel", ch.Number,
			"session_id", sess.ID,
			"remote_addr", remoteAddr)
		return sess, nil
	}
}

// Release detaches a session and accounts for why it ended. Idempotent.
func (m *Manager) Release(s *Session) {
	if s == nil || !s.buf.Detach(s) {
		return
	}
	reason := s.DropReason()
	if reason == "" {
		if s.buf.isClosed() {
			reason = observability.DropReasonStop
		} else {
			reason = observability.DropReasonClient
		}
	}
	m.metrics.SessionsDropped.WithLabelValues(reason).Inc()
	m.metrics.ActiveSessions.Dec()
	m.total.Add(-1)

	m.mu.Lock()
	if lp, ok := m.loops[s.ChannelID]; ok && !lp.pinned && lp.buf.SessionCount() == 0 {
		m.scheduleIdleStopLocked(lp)
	}
	m.mu.Unlock()

	m.logger.Info("session released",
		"session_id", s.ID,
		"reason", reason,
		"bytes_sent", s.BytesSent())
}

// scheduleIdleStopLocked arms the unwatched-channel timer. Re-arming
// replaces any previous timer.
func (m *Manager) scheduleIdleStopLocked(lp *loop) {
	if lp.idleTimer != nil {
		lp.idleTimer.Stop()
	}
	id := lp.channel.ID
	lp.idleTimer = time.AfterFunc(m.idleStop, func() {
		m.mu.Lock()
		cur, ok := m.loops[id]
		idle := ok && cur == lp && !lp.pinned && lp.buf.SessionCount() == 0
		m.mu.Unlock()
		if idle {
			m.logger.Info("stopping idle channel", "channel", lp.channel.Number)
			m.stopLoop(id)
		}
	})
}

// running reports whether a producer loop exists for the channel.
func (m *Manager) running(id models.ULID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// ensureLoop returns the channel's loop, starting one when absent.
// pinned loops survive with zero sessions.
func (m *Manager) ensureLoop(ch *models.Channel, pinned bool) (*loop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if lp, ok := m.loops[ch.ID]; ok {
		if pinned {
			lp.pinned = true
		}
		return lp, nil
	}

	lp := m.newLoop(ch, pinned)
	m.loops[ch.ID] = lp
	m.metrics.ActiveChannels.Inc()
	go lp.run()
	m.logger.Info("channel loop started", "channel", ch.Number, "pinned", pinned)
	return lp, nil
}

func (m *Manager) newLoop(ch *models.Channel, pinned bool) *loop {
	logger := m.logger.With("channel", ch.Number)

	profileName := ch.FFmpegProfile
	if profileName == "" {
		profileName = m.cfg.FFmpeg.TargetProfile
	}
	profile, err := ffmpeg.ParseProfile(profileName)
	if err != nil {
		logger.Warn("bad channel profile, using default", "profile", profileName, "error", err)
		profile = ffmpeg.DefaultProfile()
	}

	pipe := ffmpeg.NewPipeline(m.ffmpegPath, m.hw, m.hwDevice, profile,
		m.cfg.FFmpeg.VideoBitrate, m.cfg.FFmpeg.AudioBitrate)

	ctx, cancel := context.WithCancel(context.Background())
	lp := &loop{
		channel:    ch,
		profile:    profile,
		engine:     m.engine,
		resolve:    m.resolver,
		items:      m.items,
		pool:       m.pool,
		prober:     m.prober,
		slate:      m.slate,
		guard:      m.guard,
		logger:     logger,
		extraInput: m.cfg.FFmpeg.ExtraInputArgs,
		stopGrace:  m.cfg.ProcessPool.ShutdownGrace,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		pinned:     pinned,
	}
	lp.buf = NewBuffer(
		int(m.cfg.Streaming.BufferSize),
		m.cfg.Streaming.SessionBacklog,
		m.cfg.Streaming.MaxSessionsPerChan,
		m.metrics, logger)
	lp.chunker = NewChunker(lp, int(m.cfg.Streaming.ReadSize), logger)
	lp.spawn = func(req ffmpeg.StreamRequest) streamProc {
		return m.spawn(pipe, req)
	}

	if ch.WatermarkURL != "" && m.watermark != nil {
		wmCtx, wmCancel := context.WithTimeout(ctx, 10*time.Second)
		path, err := m.watermark(wmCtx, ch.WatermarkURL)
		wmCancel()
		if err != nil {
			logger.Warn("watermark unavailable", "url", ch.WatermarkURL, "error", err)
		} else {
			lp.watermarkPath = path
		}
	}
	return lp
}

// stopLoop cancels a loop and waits for it to drain. Reports whether a
// loop was running.
func (m *Manager) stopLoop(id models.ULID) bool {
	m.mu.Lock()
	lp, ok := m.loops[id]
	if ok {
		delete(m.loops, id)
		if lp.idleTimer != nil {
			lp.idleTimer.Stop()
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	lp.cancel()
	<-lp.done
	m.metrics.ActiveChannels.Dec()
	m.logger.Info("channel loop stopped", "channel", lp.channel.Number)
	return true
}

// StartChannel starts a channel's loop pinned, without a client.
func (m *Manager) StartChannel(ctx context.Context, id models.ULID) error {
	ch, err := m.channels.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return models.ErrChannelNotFound
	}
	if !ch.IsEnabled() {
		return models.ErrChannelDisabled
	}
	_, err = m.ensureLoop(ch, true)
	return err
}

// StopChannel stops a channel's loop. Attached sessions drain and end.
// Reports whether anything was running.
func (m *Manager) StopChannel(id models.ULID) bool {
	return m.stopLoop(id)
}

// RequestChannelRestart is the single entry point for channel restarts,
// manual or automated. Order matters: the guard's breaker and storm
// throttle run before the per-channel cooldown so a deferred restart
// does not consume the cooldown window.
func (m *Manager) RequestChannelRestart(ctx context.Context, id models.ULID, reason string) error {
	if m.guard != nil {
		if err := m.guard.AllowRestart(id, reason); err != nil {
			if errors.Is(err, models.ErrRestartThrottled) {
				m.metrics.RestartsTotal.WithLabelValues("restart_storm").Inc()
			}
			return err
		}
	}

	ch, err := m.channels.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return models.ErrChannelNotFound
	}

	m.mu.Lock()
	if last, ok := m.lastRestart[id]; ok && time.Since(last) < restartCooldown {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s left", models.ErrRestartCooldown,
			(restartCooldown - time.Since(last)).Truncate(time.Second))
	}
	m.lastRestart[id] = time.Now()
	lp := m.loops[id]
	pinned := lp != nil && lp.pinned
	m.mu.Unlock()

	m.stopLoop(id)
	if _, err := m.ensureLoop(ch, pinned); err != nil {
		return err
	}

	m.metrics.RestartsTotal.WithLabelValues(reason).Inc()
	if m.guard != nil {
		m.guard.RecordRestart(id, reason)
	}
	m.logger.Info("channel restarted", "channel", ch.Number, "reason", reason)
	return nil
}

// Prewarm starts pinned loops for the configured channel numbers.
// Unknown or disabled numbers log and are skipped.
func (m *Manager) Prewarm(ctx context.Context) error {
	numbers := m.cfg.Playout.PrewarmChannels
	if len(numbers) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prewarmParallelism)
	for _, number := range numbers {
		g.Go(func() error {
			ch, err := m.channels.GetByNumber(ctx, number)
			if err != nil {
				return err
			}
			if ch == nil || !ch.IsEnabled() {
				m.logger.Warn("prewarm channel unavailable", "number", number)
				return nil
			}
			_, err = m.ensureLoop(ch, true)
			return err
		})
	}
	return g.Wait()
}

// NowPlaying returns the entry on air: the live loop's view when the
// channel runs, the persisted timeline otherwise.
func (m *Manager) NowPlaying(ctx context.Context, id models.ULID) (*models.PlayoutItem, error) {
	m.mu.Lock()
	lp := m.loops[id]
	m.mu.Unlock()
	if lp != nil {
		if item := lp.nowPlaying(); item != nil {
			return item, nil
		}
	}
	return m.engine.NowPlaying(ctx, id)
}

// ChannelStatus is the admin view of one running channel.
type ChannelStatus struct {
	ChannelID  models.ULID         `json:"channel_id"`
	Number     string              `json:"number"`
	Name       string              `json:"name"`
	Pinned     bool                `json:"pinned"`
	Program    *ProgramInfo        `json:"program,omitempty"`
	Buffer     BufferStats         `json:"buffer"`
	NowPlaying *models.PlayoutItem `json:"now_playing,omitempty"`
}

// ActiveChannels snapshots every running loop.
func (m *Manager) ActiveChannels() []ChannelStatus {
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, lp := range m.loops {
		loops = append(loops, lp)
	}
	m.mu.Unlock()

	out := make([]ChannelStatus, 0, len(loops))
	for _, lp := range loops {
		out = append(out, ChannelStatus{
			ChannelID:  lp.channel.ID,
			Number:     lp.channel.Number,
			Name:       lp.channel.Name,
			Pinned:     lp.pinned,
			Program:    lp.chunker.Program(),
			Buffer:     lp.buf.Stats(),
			NowPlaying: lp.nowPlaying(),
		})
	}
	return out
}

// Sessions returns the total attached session count.
func (m *Manager) Sessions() int {
	return int(m.total.Load())
}

// Run drives the idle-session reaper until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

// reapIdleSessions fails sessions whose sockets stopped taking bytes.
// The write path acknowledges progress via Touch; silence past the
// configured timeout means the client is gone but the conn never closed.
func (m *Manager) reapIdleSessions() {
	timeout := m.cfg.Streaming.IdleSessionTimeout
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, lp := range m.loops {
		loops = append(loops, lp)
	}
	m.mu.Unlock()

	for _, lp := range loops {
		for _, s := range lp.buf.snapshotSessions() {
			if s.IdleFor() > timeout && !s.failed() {
				s.fail(errSessionIdle, observability.DropReasonIdle)
				m.logger.Info("reaping idle session",
					"channel", lp.channel.Number,
					"session_id", s.ID,
					"idle", s.IdleFor().Truncate(time.Second))
			}
		}
	}
}

// Close stops every loop. New work is refused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]models.ULID, 0, len(m.loops))
	for id := range m.loops {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.stopLoop(id)
	}
}
