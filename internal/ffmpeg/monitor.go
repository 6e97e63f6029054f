package ffmpeg

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is one resource sample of a running FFmpeg process.
type ProcessStats struct {
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	FDCount    int32     `json:"fd_count"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ProcessMonitor reads cpu%, rss and fd count for one pid. Sampling is
// pull-based: the pool health loop calls Sample on its cadence so all
// processes are read in one sweep.
type ProcessMonitor struct {
	pid  int32
	proc *process.Process

	mu   sync.RWMutex
	last ProcessStats
}

// NewProcessMonitor binds a monitor to a pid.
func NewProcessMonitor(pid int32) *ProcessMonitor {
	proc, _ := process.NewProcess(pid)
	return &ProcessMonitor{pid: pid, proc: proc}
}

// Sample takes a fresh reading. CPU percent is measured since the
// previous Sample call.
func (m *ProcessMonitor) Sample(ctx context.Context) (ProcessStats, error) {
	if m.proc == nil {
		return ProcessStats{}, process.ErrorProcessNotRunning
	}

	stats := ProcessStats{SampledAt: time.Now()}

	cpu, err := m.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return stats, err
	}
	stats.CPUPercent = cpu

	if mem, err := m.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	// NumFDs is unix-only; elsewhere the count stays zero.
	if fds, err := m.proc.NumFDsWithContext(ctx); err == nil {
		stats.FDCount = fds
	}

	m.mu.Lock()
	m.last = stats
	m.mu.Unlock()
	return stats, nil
}

// Last returns the most recent sample without touching the process.
func (m *ProcessMonitor) Last() ProcessStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Pid returns the monitored pid.
func (m *ProcessMonitor) Pid() int32 { return m.pid }

// CountingWriter wraps a writer and tracks delivered bytes plus the time
// of the last successful write; the session reaper uses both.
type CountingWriter struct {
	w         io.Writer
	bytes     atomic.Int64
	lastWrite atomic.Int64 // unix nanos
}

// NewCountingWriter wraps w.
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.bytes.Add(int64(n))
		cw.lastWrite.Store(time.Now().UnixNano())
	}
	return n, err
}

// Bytes returns total bytes written.
func (cw *CountingWriter) Bytes() int64 { return cw.bytes.Load() }

// LastWrite returns when the last byte went out, zero time before any.
func (cw *CountingWriter) LastWrite() time.Time {
	ns := cw.lastWrite.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
