package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// stderrRingSize bounds how much FFmpeg stderr is retained per process.
// The tail ends up in the log ring on failure, so it stays small.
const stderrRingSize = 64 * 1024

// defaultStopGrace is how long teardown waits between SIGTERM and SIGKILL.
const defaultStopGrace = 5 * time.Second

// StderrClass buckets fatal FFmpeg stderr output into the failure kinds
// the self-healing controller reasons about.
type StderrClass string

const (
	StderrClassNone    StderrClass = ""
	StderrClassDNS     StderrClass = "dns"
	StderrClassTLS     StderrClass = "tls"
	StderrClassHTTP4xx StderrClass = "http_4xx"
	StderrClassHTTP5xx StderrClass = "http_5xx"
	StderrClassDecode  StderrClass = "decode"
	StderrClassHWAccel StderrClass = "hwaccel"
	StderrClassDRM     StderrClass = "drm"
)

// stderrPatterns maps lowercase substrings to failure classes. First match
// wins within a line; later lines override earlier ones since FFmpeg
// prints the fatal error last.
var stderrPatterns = []struct {
	substr string
	class  StderrClass
}{
	{"failed to resolve hostname", StderrClassDNS},
	{"name or service not known", StderrClassDNS},
	{"temporary failure in name resolution", StderrClassDNS},
	{"tls handshake", StderrClassTLS},
	{"tls connection", StderrClassTLS},
	{"ssl error", StderrClassTLS},
	{"certificate", StderrClassTLS},
	{"server returned 4", StderrClassHTTP4xx},
	{"http error 4", StderrClassHTTP4xx},
	{"unauthorized", StderrClassHTTP4xx},
	{"forbidden", StderrClassHTTP4xx},
	{"server returned 5", StderrClassHTTP5xx},
	{"http error 5", StderrClassHTTP5xx},
	{"invalid data found when processing input", StderrClassDecode},
	{"error while decoding", StderrClassDecode},
	{"decode_slice_header error", StderrClassDecode},
	{"moov atom not found", StderrClassDecode},
	{"could not find codec parameters", StderrClassDecode},
	{"no device available", StderrClassHWAccel},
	{"failed to initialise vaapi", StderrClassHWAccel},
	{"cannot load nvcuda", StderrClassHWAccel},
	{"failed setup for format", StderrClassHWAccel},
	{"hwaccel initialisation returned error", StderrClassHWAccel},
	{"drm device", StderrClassHWAccel}, // render-node open failures, not content DRM
	{"drm protected", StderrClassDRM},
	{"sample encryption", StderrClassDRM},
	{"media is encrypted", StderrClassDRM},
	{"widevine", StderrClassDRM},
}

// ClassifyStderrLine buckets one stderr line.
func ClassifyStderrLine(line string) StderrClass {
	lower := strings.ToLower(line)
	for _, p := range stderrPatterns {
		if strings.Contains(lower, p.substr) {
			return p.class
		}
	}
	return StderrClassNone
}

// stderrRing keeps the most recent stderr bytes.
type stderrRing struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newStderrRing(max int) *stderrRing {
	return &stderrRing{max: max}
}

func (r *stderrRing) WriteLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, line...)
	r.buf = append(r.buf, '\n')
	if over := len(r.buf) - r.max; over > 0 {
		r.buf = r.buf[over:]
	}
}

func (r *stderrRing) Tail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// maxPendingLine flushes a line that never saw a terminator, so a
// misbehaving stderr stream cannot grow the buffer without bound.
const maxPendingLine = 8 * 1024

// lineWriter splits a stderr byte stream into lines for the ring and the
// classifier. FFmpeg terminates progress updates with \r, so both
// separators count.
type lineWriter struct {
	sink func(string)
	buf  []byte
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		i := bytes.IndexAny(lw.buf, "\r\n")
		if i < 0 {
			break
		}
		if line := string(lw.buf[:i]); line != "" {
			lw.sink(line)
		}
		lw.buf = lw.buf[i+1:]
	}
	if len(lw.buf) > maxPendingLine {
		lw.sink(string(lw.buf))
		lw.buf = lw.buf[:0]
	}
	return len(p), nil
}

// Command is one runnable FFmpeg invocation.
type Command struct {
	Binary string
	Args   []string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time
	monitor *ProcessMonitor
	counter *CountingWriter

	stderr      *stderrRing
	classMu     sync.Mutex
	stderrClass StderrClass
}

func newCommand(binary string, args []string) *Command {
	return &Command{
		Binary: binary,
		Args:   args,
		stderr: newStderrRing(stderrRingSize),
	}
}

// String renders the full command line for logging.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the process with stderr capture and resource monitoring.
// Use StreamTo instead when stdout must be copied to a writer.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("command already started")
	}

	cmd := c.newExecCmd(ctx)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.monitor = NewProcessMonitor(int32(cmd.Process.Pid))
	return nil
}

// newExecCmd prepares the exec.Cmd so context cancellation follows the
// teardown protocol: SIGTERM first, SIGKILL after the grace period.
// WaitDelay also force-closes the I/O pipes, so Wait cannot hang on a
// wedged process.
func (c *Command) newExecCmd(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = defaultStopGrace
	cmd.Stderr = &lineWriter{sink: c.consumeStderrLine}
	return cmd
}

func (c *Command) consumeStderrLine(line string) {
	c.stderr.WriteLine(line)
	if class := ClassifyStderrLine(line); class != StderrClassNone {
		c.classMu.Lock()
		c.stderrClass = class
		c.classMu.Unlock()
	}
}

// StreamTo launches the process and copies its stdout into w until the
// process exits or ctx is canceled. The returned error is the process
// exit error; a failed downstream writer stops the copy, which ends the
// process with EPIPE (the normal session-close path).
func (c *Command) StreamTo(ctx context.Context, w io.Writer) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return fmt.Errorf("command already started")
	}

	cmd := c.newExecCmd(ctx)
	counter := NewCountingWriter(w)
	cmd.Stdout = counter

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	c.cmd = cmd
	c.started = time.Now()
	c.monitor = NewProcessMonitor(int32(cmd.Process.Pid))
	c.counter = counter
	c.mu.Unlock()

	return cmd.Wait()
}

// Wait blocks until the process and its stderr copy loop finish.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()
	if cmd == nil {
		return fmt.Errorf("command not started")
	}
	return cmd.Wait()
}

// Stop tears the process down: SIGTERM, wait up to grace, then SIGKILL.
// Zero grace uses the default 5 s.
func (c *Command) Stop(grace time.Duration) {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if grace <= 0 {
		grace = defaultStopGrace
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}

	// The caller owns cmd.Wait, so aliveness is polled with signal 0
	// instead of touching ProcessState.
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if cmd.Process.Signal(syscall.Signal(0)) != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = cmd.Process.Kill()
}

// Kill force-terminates the process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// IsRunning reports whether the process is still alive. Signal 0 avoids
// racing a concurrent Wait on ProcessState.
func (c *Command) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	return c.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Pid returns the process id, 0 before Start.
func (c *Command) Pid() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Uptime returns how long the process has been running.
func (c *Command) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// StderrTail returns the retained stderr tail for the log ring.
func (c *Command) StderrTail() string {
	return c.stderr.Tail()
}

// FailureClass returns the classification of the last fatal-looking
// stderr line, StderrClassNone when nothing matched.
func (c *Command) FailureClass() StderrClass {
	c.classMu.Lock()
	defer c.classMu.Unlock()
	return c.stderrClass
}

// Monitor returns the resource monitor, nil before Start.
func (c *Command) Monitor() *ProcessMonitor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitor
}

// Counter returns the stdout byte counter, nil before StreamTo. The
// session reaper reads it to detect stalled output.
func (c *Command) Counter() *CountingWriter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counter
}
