package procpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
)

// Process is the slice of a running command the health sweep needs.
// *ffmpeg.Command satisfies it.
type Process interface {
	Monitor() *ffmpeg.ProcessMonitor
}

// Lease is one held process slot. The owning producer binds the spawned
// command so the health sweep can sample it, polls Unhealthy at item
// boundaries, and releases the slot when the process exits.
type Lease struct {
	pool     *Pool
	priority Priority
	acquired time.Time

	mu        sync.Mutex
	proc      Process
	overSince time.Time

	unhealthy atomic.Bool
}

// Bind attaches the running command. Rebinding replaces the previous
// command and resets the memory-budget clock.
func (l *Lease) Bind(p Process) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proc = p
	l.overSince = time.Time{}
}

func (l *Lease) boundMonitor() *ffmpeg.ProcessMonitor {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proc == nil {
		return nil
	}
	return l.proc.Monitor()
}

// Unhealthy reports whether the sweep flagged the bound process for
// teardown. The flag is sticky; the producer acts on it at the next
// item boundary and rebinds after respawning.
func (l *Lease) Unhealthy() bool {
	return l.unhealthy.Load()
}

// Age returns how long the slot has been held.
func (l *Lease) Age() time.Duration {
	return time.Since(l.acquired)
}

// Release returns the slot. Safe to call more than once.
func (l *Lease) Release() {
	l.pool.release(l)
}

// observeRSS applies one health sample against the soft limit. A process
// must stay over the limit for the full grace period before it is
// flagged; a single spike is forgiven. Returns true on the transition
// to unhealthy.
func (l *Lease) observeRSS(stats *ffmpeg.ProcessStats, softLimit uint64, grace time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if stats.RSSBytes <= softLimit {
		l.overSince = time.Time{}
		return false
	}
	if l.overSince.IsZero() {
		l.overSince = stats.SampledAt
		return false
	}
	if stats.SampledAt.Sub(l.overSince) < grace {
		return false
	}
	return !l.unhealthy.Swap(true)
}
