package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/playout"
	"github.com/exstreamtv/exstreamtv/internal/procpool"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
)

// Producer loop timing. The watchdog ticks coarsely; everything it
// guards tolerates seconds of slack.
const (
	watchTick          = 5 * time.Second
	checkpointInterval = 15 * time.Second
	stallTimeout       = 30 * time.Second
	runawayGrace       = 60 * time.Second
	probeTimeout       = 10 * time.Second
	transientBackoff   = 5 * time.Second
	exhaustedBackoff   = 15 * time.Second
	advanceRetryDelay  = 30 * time.Second
	futureStartSlack   = 500 * time.Millisecond

	// unavailableAfter is how many consecutive failures it takes before
	// an item is pulled from rotation.
	unavailableAfter = 3
)

// Watchdog verdicts. Each maps to a recovery action in the outcome
// classifier.
var (
	errProcessUnhealthy = errors.New("broadcast: process exceeded its memory budget")
	errUpstreamStall    = errors.New("broadcast: upstream stalled")
	errRunaway          = errors.New("broadcast: item overran its slot")
	errSessionIdle      = errors.New("broadcast: session idle")
)

// streamProc is the running-process surface the loop drives.
// *ffmpeg.Command satisfies it; tests substitute a fake.
type streamProc interface {
	StreamTo(ctx context.Context, w io.Writer) error
	Stop(grace time.Duration)
	FailureClass() ffmpeg.StderrClass
	StderrTail() string
	Monitor() *ffmpeg.ProcessMonitor
	String() string
}

// spawnFunc builds the process for one item's request.
type spawnFunc func(req ffmpeg.StreamRequest) streamProc

// urlResolver is the resolution surface the loop uses.
// *resolver.Service satisfies it.
type urlResolver interface {
	Resolve(ctx context.Context, item *models.MediaItem) (resolver.Resolution, error)
}

// WatermarkFunc localizes a channel's watermark URL to a file path the
// filter graph can read.
type WatermarkFunc func(ctx context.Context, url string) (string, error)

// loop is one channel's producer: it walks the playout sequence and
// keeps the ring buffer fed, regardless of how many sessions watch.
type loop struct {
	channel *models.Channel
	profile ffmpeg.Profile

	engine   *playout.Engine
	resolve  urlResolver
	items    repository.MediaItemRepository
	pool     *procpool.Pool
	prober   *ffmpeg.Prober
	slate    *SlateGenerator
	guard    Guard
	spawn    spawnFunc
	logger   *slog.Logger
	buf      *Buffer
	chunker  *Chunker

	watermarkPath string
	extraInput    []string
	stopGrace     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// pinned loops (prewarm, explicit StartChannel) ignore the idle-stop
	// timer.
	pinned bool

	current  atomic.Pointer[playout.Entry]
	lastByte atomic.Int64 // unix nanos of the last producer byte

	slateData  []byte
	slateTried bool

	idleTimer *time.Timer // owned by the manager mutex
}

// Append implements chunkSink, stamping producer liveness on the way to
// the ring.
func (l *loop) Append(payload []byte, aligned bool) error {
	l.lastByte.Store(time.Now().UnixNano())
	return l.buf.Append(payload, aligned)
}

// SetPSI implements chunkSink.
func (l *loop) SetPSI(pat, pmt []byte) {
	l.buf.SetPSI(pat, pmt)
}

// run is the loop body. It exits only when the loop context ends; every
// failure inside an iteration degrades to slate and recovery, because a
// linear channel that dies on one bad item is worse than one that skips
// it.
func (l *loop) run() {
	defer close(l.done)
	defer l.buf.Close()

	head, err := l.engine.Open(l.ctx, l.channel.ID)
	if err != nil {
		l.logger.Error("opening playout", "error", err)
		l.guardFailure(err)
		l.standby()
		return
	}

	retriedSame := false // one transient retry per item
	hwFallback := false  // software-decode retry after a hwaccel death

	for l.ctx.Err() == nil {
		entry := head.Current()
		l.current.Store(entry)

		// A future start means a schedule gap no filler covered. Hold the
		// card until the block begins.
		if wait := time.Until(entry.Start); wait > futureStartSlack {
			l.logger.Info("waiting for block start",
				"title", entry.Item.Title, "starts_in", wait.Truncate(time.Second))
			if !l.standbyFor(wait) {
				return
			}
		}

		outcome := l.playEntry(head, entry, hwFallback)
		switch outcome {
		case playDone:
			retriedSame, hwFallback = false, false
			l.guardSuccess()
		case playRetry:
			if retriedSame {
				outcome = playSkip
			} else {
				retriedSame = true
				if !l.standbyFor(transientBackoff) {
					return
				}
				continue
			}
		case playRetrySoftware:
			if !hwFallback {
				hwFallback = true
				continue
			}
			outcome = playSkip
		case playBackoff:
			if !l.standbyFor(exhaustedBackoff) {
				return
			}
			continue
		case playStopped:
			return
		}

		if outcome == playSkip {
			retriedSame, hwFallback = false, false
		}

		// Advance, holding the card while the next slot cannot generate.
		// Current is not safe to read again until Advance succeeds.
		for {
			_, err := head.Advance(l.ctx)
			if err == nil {
				break
			}
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("advancing playout", "error", err)
			l.guardFailure(err)
			if !l.standbyFor(advanceRetryDelay) {
				return
			}
		}
	}
}

// playOutcome tells run what to do after one entry attempt.
type playOutcome int

const (
	playDone          playOutcome = iota // clean exit, advance
	playSkip                             // unrecoverable for this item, advance
	playRetry                            // transient, retry the same item once
	playRetrySoftware                    // respawn the same item with software decode
	playBackoff                          // resource exhaustion, longer hold then retry
	playStopped                          // loop context ended
)

// playEntry runs one sequence entry through resolve, probe, pool, spawn
// and the watchdog, and classifies how it ended.
func (l *loop) playEntry(head *playout.Playhead, entry *playout.Entry, forbidHW bool) playOutcome {
	res, err := l.resolve.Resolve(l.ctx, entry.Item)
	if err != nil {
		return l.classifyResolve(entry, err)
	}

	var info *ffmpeg.StreamInfo
	if l.prober != nil && !res.Live {
		probeCtx, cancel := context.WithTimeout(l.ctx, probeTimeout)
		info, err = l.prober.ProbeSimple(probeCtx, res.URL, res.Headers)
		cancel()
		if err != nil {
			// The pipeline plans from catalog metadata instead.
			l.logger.Debug("probe failed", "title", entry.Item.Title, "error", err)
			info = nil
		}
	}

	req := ffmpeg.StreamRequest{
		URL:            res.URL,
		Headers:        res.Headers,
		Live:           res.Live,
		SourceType:     entry.Item.SourceType,
		OffsetMs:       entry.OffsetMs,
		DurationMs:     entry.CutMs(),
		Mode:           l.channel.StreamingMode,
		ChannelName:    l.channel.Name,
		WatermarkPath:  l.watermarkPath,
		ForbidHWDecode: forbidHW,
		Probe:          info,
		Container:      entry.Item.Container,
		VideoCodec:     entry.Item.VideoCodec,
		AudioCodec:     entry.Item.AudioCodec,
		ExtraInputArgs: l.extraInput,
	}

	prio := procpool.PriorityBackground
	if l.buf.SessionCount() > 0 {
		prio = procpool.PriorityViewer
	}
	lease, err := l.pool.Acquire(l.ctx, prio)
	if err != nil {
		if l.ctx.Err() != nil {
			return playStopped
		}
		l.guardFailure(err)
		l.logger.Warn("acquiring process slot", "error", err)
		if procpool.Retryable(err) {
			return playRetry
		}
		return playBackoff
	}
	defer lease.Release()

	proc := l.spawn(req)
	lease.Bind(proc)
	l.logger.Info("airing item",
		"title", entry.Item.Title,
		"offset_ms", entry.OffsetMs,
		"cut_ms", entry.CutMs(),
		"filler", entry.IsFiller)

	err = l.supervise(head, entry, res.Live, lease, proc)
	if l.ctx.Err() != nil {
		return playStopped
	}
	// Whatever follows this process starts a fresh timestamp domain, so
	// the splice shim goes in on every exit path.
	if serr := l.chunker.Splice(); serr != nil {
		return playStopped
	}
	if err == nil {
		return playDone
	}
	return l.classifyStream(entry, proc, err)
}

// supervise pumps the process into the chunker and watches it: progress
// checkpoints, memory-budget teardown, upstream stall, slot overrun. A
// nil return is a clean item end.
func (l *loop) supervise(head *playout.Playhead, entry *playout.Entry, live bool, lease *procpool.Lease, proc streamProc) error {
	streamCtx, cancel := context.WithCancel(l.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- proc.StreamTo(streamCtx, l.chunker)
	}()

	started := time.Now()
	l.lastByte.Store(started.UnixNano())

	var deadline time.Time
	if !live {
		if span := entry.Duration(); span > 0 {
			deadline = started.Add(span + runawayGrace)
		}
	}

	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()
	lastCheckpoint := started

	stop := func(reason error) error {
		proc.Stop(l.stopGrace)
		<-done
		return reason
	}

	for {
		select {
		case err := <-done:
			return err
		case now := <-ticker.C:
			if lease.Unhealthy() {
				l.logger.Warn("tearing down over-budget process", "cmd", proc.String())
				return stop(errProcessUnhealthy)
			}
			if now.Sub(time.Unix(0, l.lastByte.Load())) > stallTimeout {
				l.logger.Warn("upstream stalled", "title", entry.Item.Title,
					"stderr", proc.StderrTail())
				return stop(errUpstreamStall)
			}
			if !deadline.IsZero() && now.After(deadline) {
				l.logger.Warn("item overran its slot", "title", entry.Item.Title,
					"scheduled", entry.Duration())
				return stop(errRunaway)
			}
			if now.Sub(lastCheckpoint) >= checkpointInterval {
				lastCheckpoint = now
				// -re paces output at realtime, so elapsed wall time is
				// the playback offset.
				offset := entry.OffsetMs + now.Sub(started).Milliseconds()
				if err := head.Checkpoint(l.ctx, offset); err != nil {
					l.logger.Warn("checkpointing playhead", "error", err)
				}
			}
		}
	}
}

// classifyResolve maps a resolution failure to a recovery action.
// Unresolvable items are counted toward unavailability and skipped;
// anything else is treated as transient.
func (l *loop) classifyResolve(entry *playout.Entry, err error) playOutcome {
	if l.ctx.Err() != nil {
		return playStopped
	}
	l.guardFailure(err)

	var rerr *models.ResolverError
	if errors.As(err, &rerr) {
		l.logger.Warn("item unresolvable",
			"title", entry.Item.Title, "kind", string(rerr.Kind), "error", err)
		switch rerr.Kind {
		case models.UnresolvableNotFound, models.UnresolvableInvalid, models.UnresolvableAuth:
			l.recordItemFailure(entry.Item.ID)
			return playSkip
		case models.UnresolvableUpstreamDown:
			return playRetry
		default:
			return playSkip
		}
	}

	l.logger.Warn("resolving item", "title", entry.Item.Title, "error", err)
	return playRetry
}

// classifyStream maps a process death to a recovery action using the
// stderr failure class.
func (l *loop) classifyStream(entry *playout.Entry, proc streamProc, err error) playOutcome {
	l.guardFailure(err)

	switch {
	case errors.Is(err, errProcessUnhealthy), errors.Is(err, errRunaway):
		return playSkip
	case errors.Is(err, errUpstreamStall):
		return playRetry
	}

	class := proc.FailureClass()
	l.logger.Warn("item playback failed",
		"title", entry.Item.Title,
		"class", string(class),
		"error", err,
		"stderr", proc.StderrTail())

	switch class {
	case ffmpeg.StderrClassDNS, ffmpeg.StderrClassTLS, ffmpeg.StderrClassHTTP5xx:
		return playRetry
	case ffmpeg.StderrClassHWAccel:
		return playRetrySoftware
	case ffmpeg.StderrClassHTTP4xx, ffmpeg.StderrClassDRM:
		l.recordItemFailure(entry.Item.ID)
		return playSkip
	case ffmpeg.StderrClassDecode:
		return playSkip
	default:
		return playRetry
	}
}

// recordItemFailure bumps the item's failure count and pulls it from
// rotation once it keeps failing.
func (l *loop) recordItemFailure(id models.ULID) {
	n, err := l.items.IncrementFailureCount(l.ctx, id)
	if err != nil {
		l.logger.Warn("counting item failure", "media_item_id", id, "error", err)
		return
	}
	if n >= unavailableAfter {
		if err := l.items.SetAvailability(l.ctx, id, false); err != nil {
			l.logger.Warn("marking item unavailable", "media_item_id", id, "error", err)
			return
		}
		l.logger.Warn("item pulled from rotation", "media_item_id", id, "failures", n)
	}
}

// ensureSlate lazily renders the channel's standby card. Tried once; a
// channel without a card degrades to keepalive nulls from the handlers.
func (l *loop) ensureSlate() []byte {
	if l.slateTried {
		return l.slateData
	}
	l.slateTried = true
	if l.slate == nil {
		return nil
	}
	data, err := l.slate.Ensure(l.ctx, l.profile)
	if err != nil {
		l.logger.Warn("slate unavailable", "error", err)
		return nil
	}
	l.slateData = data
	return l.slateData
}

// standbyFor holds the card for d. Reports false when the loop context
// ended during the window.
func (l *loop) standbyFor(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(l.ctx, d)
	defer cancel()
	if data := l.ensureSlate(); len(data) > 0 {
		_ = PlaySlate(ctx, l.chunker, data, slateDuration)
	} else {
		<-ctx.Done()
	}
	return l.ctx.Err() == nil
}

// standby holds the card until the loop is stopped. Terminal state for
// channels whose schedule cannot play at all.
func (l *loop) standby() {
	if data := l.ensureSlate(); len(data) > 0 {
		_ = PlaySlate(l.ctx, l.chunker, data, slateDuration)
		return
	}
	<-l.ctx.Done()
}

func (l *loop) guardFailure(err error) {
	if l.guard != nil {
		l.guard.RecordFailure(l.channel.ID, err)
	}
}

func (l *loop) guardSuccess() {
	if l.guard != nil {
		l.guard.RecordSuccess(l.channel.ID)
	}
}

// nowPlaying projects the loop's live entry, nil when none aired yet.
func (l *loop) nowPlaying() *models.PlayoutItem {
	entry := l.current.Load()
	if entry == nil {
		return nil
	}
	return &models.PlayoutItem{
		ChannelID:   l.channel.ID,
		MediaItemID: entry.Item.ID,
		StartTime:   entry.Start,
		StopTime:    entry.Stop,
		Title:       entry.Item.Title,
		IsFiller:    entry.IsFiller,
	}
}
