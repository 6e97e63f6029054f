// Package procpool bounds how many FFmpeg processes run at once. Channel
// producers lease a slot before spawning and release it when the process
// exits; a health sweep samples every leased process and flags the ones
// that outgrow their memory budget.
package procpool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/observability"
)

// Acquisition failures. Capacity and timeout are worth retrying later;
// exhausted system resources are not; spawning anyway would take the
// whole host down with the pool.
var (
	ErrCapacityExceeded = errors.New("procpool: capacity exceeded")
	ErrAcquireTimeout   = errors.New("procpool: acquire deadline exceeded")
	ErrMemoryExhausted  = errors.New("procpool: system memory exhausted")
	ErrFdExhausted      = errors.New("procpool: file descriptors exhausted")
	ErrPoolClosed       = errors.New("procpool: pool closed")
)

// Retryable reports whether the caller may try the acquisition again.
func Retryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrAcquireTimeout)
}

// Priority orders admissions when slots run short.
type Priority int

const (
	// PriorityViewer spawns have a client waiting and may use every slot.
	PriorityViewer Priority = iota
	// PriorityBackground spawns (prewarm, maintenance) always leave one
	// slot free for a viewer.
	PriorityBackground
)

func (p Priority) headroom() int {
	if p == PriorityBackground {
		return 1
	}
	return 0
}

// sampleTimeout bounds one health sample; a process that cannot answer a
// /proc read this long counts as a missed sample.
const sampleTimeout = 2 * time.Second

// fdUsageLimit is the fraction of the descriptor rlimit beyond which
// spawning fails fast.
const fdUsageLimit = 0.9

// resourceProbe answers the fail-fast admission questions. The fields are
// swappable so tests can simulate exhaustion.
type resourceProbe struct {
	memAvailable func(ctx context.Context) (uint64, error)
	fdUsage      func(ctx context.Context) (used, soft uint64, err error)
}

func systemProbe() resourceProbe {
	self, _ := process.NewProcess(int32(os.Getpid()))
	return resourceProbe{
		memAvailable: func(ctx context.Context) (uint64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		fdUsage: func(ctx context.Context) (uint64, uint64, error) {
			if self == nil {
				return 0, 0, process.ErrorProcessNotRunning
			}
			limits, err := self.RlimitUsageWithContext(ctx, true)
			if err != nil {
				return 0, 0, err
			}
			for _, l := range limits {
				if l.Resource == process.RLIMIT_NOFILE {
					return l.Used, l.Soft, nil
				}
			}
			return 0, 0, nil
		},
	}
}

// Pool is the bounded FFmpeg process slot pool.
type Pool struct {
	cfg     config.ProcessPoolConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	probe   resourceProbe

	mu       sync.Mutex
	capacity int
	inUse    int
	leases   map[*Lease]struct{}
	closed   bool

	// releaseCh wakes one backoff waiter early when a slot frees up.
	releaseCh chan struct{}
	done      chan struct{}
}

// New builds a pool. When cfg.Size is zero the capacity is computed from
// the channel count and machine resources.
func New(cfg config.ProcessPoolConfig, channels int, metrics *observability.Metrics, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "procpool")

	probe := systemProbe()
	capacity := cfg.Size
	if capacity <= 0 {
		var avail uint64
		if a, err := probe.memAvailable(context.Background()); err == nil {
			avail = a
		}
		capacity = AutoSize(channels, runtime.NumCPU(), avail)
		logger.Info("pool capacity computed", "capacity", capacity, "channels", channels)
	}

	return &Pool{
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		probe:     probe,
		capacity:  capacity,
		leases:    make(map[*Lease]struct{}),
		releaseCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// AutoSize derives capacity from channel count, cores and available
// memory. A transcode saturates roughly one core and peaks near 384 MiB;
// copy-mode processes cost far less, so channels+2 is enough slack for
// one process per channel plus probe traffic.
func AutoSize(channels, cpus int, availableBytes uint64) int {
	n := channels + 2
	if cpus < n {
		n = cpus
	}
	if byMem := int(availableBytes / (384 << 20)); byMem < n {
		n = byMem
	}
	if n < 2 {
		n = 2
	}
	return n
}

// Capacity returns the slot count.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// InUse returns currently leased slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Pressure returns inUse/capacity; the self-healing controller enters
// containment when this stays at or above its threshold.
func (p *Pool) Pressure() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity == 0 {
		return 0
	}
	return float64(p.inUse) / float64(p.capacity)
}

// Acquire leases a slot. It loops over bounded attempts with exponential
// backoff rather than recursing, and every wait is cancellable. Capacity
// misses retry; resource exhaustion and the deadline do not.
func (p *Pool) Acquire(ctx context.Context, priority Priority) (*Lease, error) {
	start := time.Now()
	defer func() {
		p.metrics.PoolAcquisitionLatency.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	attempts := p.cfg.SpawnAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := p.admit(ctx); err != nil {
			return nil, err
		}
		if lease, ok := p.tryAcquire(priority); ok {
			return lease, nil
		}
		if attempt == attempts {
			break
		}

		// Wait out the backoff, but grab a freed slot the moment one
		// appears; an early wake that loses the race does not consume
		// the attempt.
		timer := time.NewTimer(backoffDelay(attempt))
	waiting:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				p.metrics.FFmpegSpawnTimeouts.Inc()
				return nil, ErrAcquireTimeout
			case <-p.done:
				timer.Stop()
				return nil, ErrPoolClosed
			case <-p.releaseCh:
				if lease, ok := p.tryAcquire(priority); ok {
					timer.Stop()
					return lease, nil
				}
			case <-timer.C:
				break waiting
			}
		}
	}
	return nil, ErrCapacityExceeded
}

// backoffDelay is min(2^attempt, 60) seconds.
func backoffDelay(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// admit runs the fail-fast resource checks.
func (p *Pool) admit(ctx context.Context) error {
	if avail, err := p.probe.memAvailable(ctx); err == nil {
		if avail < uint64(p.cfg.RSSSoftLimit) {
			return ErrMemoryExhausted
		}
	}
	if used, soft, err := p.probe.fdUsage(ctx); err == nil && soft > 0 {
		if float64(used) >= float64(soft)*fdUsageLimit {
			return ErrFdExhausted
		}
	}
	return nil
}

func (p *Pool) tryAcquire(priority Priority) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	if p.inUse+priority.headroom() >= p.capacity {
		return nil, false
	}
	p.inUse++
	lease := &Lease{pool: p, priority: priority, acquired: time.Now()}
	p.leases[lease] = struct{}{}
	p.metrics.PoolInUse.Set(float64(p.inUse))
	return lease, true
}

func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	if _, ok := p.leases[l]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leases, l)
	p.inUse--
	p.metrics.PoolInUse.Set(float64(p.inUse))
	p.mu.Unlock()

	select {
	case p.releaseCh <- struct{}{}:
	default:
	}
}

func (p *Pool) snapshotLeases() []*Lease {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Lease, 0, len(p.leases))
	for l := range p.leases {
		out = append(out, l)
	}
	return out
}

// Run drives the health sweep until ctx ends or the pool closes. All
// leased processes are sampled in one pass per interval.
func (p *Pool) Run(ctx context.Context) {
	interval := p.cfg.HealthInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	for _, l := range p.snapshotLeases() {
		mon := l.boundMonitor()
		if mon == nil {
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, sampleTimeout)
		stats, err := mon.Sample(sctx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			p.metrics.HealthTimeouts.Inc()
		case err != nil:
			// Process already exited; its owner observes that directly.
		default:
			if l.observeRSS(&stats, uint64(p.cfg.RSSSoftLimit), p.cfg.RSSGrace) {
				p.logger.Warn("process over memory budget, flagged for teardown",
					"pid", mon.Pid(),
					"rss_bytes", stats.RSSBytes,
					"soft_limit", int64(p.cfg.RSSSoftLimit))
			}
		}
	}
}

// Close rejects new acquisitions and stops the sweep. Existing leases
// stay valid until released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
}
