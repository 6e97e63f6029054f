package broadcast

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/exstreamtv/exstreamtv/internal/config"
)

// Pacing floors. Adaptive mode never drops below minAdaptiveBps even
// when the producer is between items and the observed fill rate decays.
const (
	minAdaptiveBps   = 64 << 10
	defaultTargetBps = 8_000_000 // bits per second
	burstWindow      = 5 * time.Second
	retargetInterval = 2 * time.Second
	adaptiveHeadroom = 1.25
)

// Pacer shapes one session's egress. realtime caps delivery at the
// configured bitrate; burst grants an initial window's worth of credit
// and then behaves like realtime; adaptive follows the producer's
// observed fill rate with headroom; disabled writes as fast as the
// client reads.
type Pacer struct {
	mode    string
	limiter *rate.Limiter
	buf     *Buffer // adaptive reads the producer rate from here

	lastRetarget time.Time
}

// NewPacer builds a pacer for one session. buf may be nil for modes
// other than adaptive.
func NewPacer(cfg config.StreamThrottleConfig, buf *Buffer) *Pacer {
	p := &Pacer{mode: cfg.Mode, buf: buf}
	if cfg.Mode == "disabled" {
		return p
	}

	bps := cfg.TargetBitrateBPS
	if bps <= 0 {
		bps = defaultTargetBps
	}
	bytesPerSec := bps / 8

	switch cfg.Mode {
	case "burst":
		// A deep bucket lets player prebuffer fill at line speed before
		// steady-state pacing takes over.
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(burstWindow.Seconds())*bytesPerSec)
	case "adaptive":
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	default: // realtime
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	}
	return p
}

// Pacer builds the egress pacer for this session. Adaptive mode reads
// the producer fill rate from the session's ring.
func (s *Session) Pacer(cfg config.StreamThrottleConfig) *Pacer {
	return NewPacer(cfg, s.buf)
}

// Wait blocks until n bytes may be written. Batches larger than the
// bucket are split so WaitN never sees a request above its burst.
func (p *Pacer) Wait(ctx context.Context, n int) error {
	if p.limiter == nil || n <= 0 {
		return nil
	}
	if p.mode == "adaptive" {
		p.retarget()
	}
	for n > 0 {
		step := n
		if b := p.limiter.Burst(); step > b {
			step = b
		}
		if err := p.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// retarget follows the producer's fill rate so a transcode that settles
// below the configured bitrate does not leave clients waiting on credit
// that never comes.
func (p *Pacer) retarget() {
	if p.buf == nil {
		return
	}
	now := time.Now()
	if now.Sub(p.lastRetarget) < retargetInterval {
		return
	}
	p.lastRetarget = now

	fill := p.buf.FillRate() * adaptiveHeadroom
	if fill < minAdaptiveBps {
		fill = minAdaptiveBps
	}
	p.limiter.SetLimit(rate.Limit(fill))
	p.limiter.SetBurst(int(fill))
}
