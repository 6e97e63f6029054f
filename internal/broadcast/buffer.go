// Package broadcast runs the live core: one producer loop per active
// channel feeding a shared ring buffer, with every attached session
// reading the same bytes. The producer walks the playout sequence,
// resolves each item, runs it through an FFmpeg process from the bounded
// pool, and reframes the output into transport-aligned chunks so late
// joiners start on a clean frame edge.
package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

// ErrBufferClosed is returned for writes and attaches after the channel
// stopped.
var ErrBufferClosed = errors.New("broadcast: buffer closed")

// ErrStreamEnded is returned from Session.Next once the buffer is closed
// and the session has drained everything it was owed. Handlers treat it
// as a normal end of stream.
var ErrStreamEnded = errors.New("broadcast: stream ended")

// Chunk is one transport-aligned slice of the channel stream. Aligned
// chunks start at a payload-unit boundary on the program's video PID.
type Chunk struct {
	Seq     uint64
	Payload []byte
	Aligned bool
}

// Buffer is the single-producer multi-consumer ring between a channel's
// producer loop and its sessions. Chunks are evicted from the front once
// the byte budget is exceeded. A consumer that falls off the back, or
// lags more than the backlog allows, is failed with ErrSessionOverrun
// instead of being silently skipped forward: a gap in an MPEG-TS stream
// produces artifacts the viewer cannot recover from, a reconnect does.
type Buffer struct {
	maxBytes    int
	backlog     uint64
	maxSessions int
	metrics     *observability.Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	chunks   []Chunk // contiguous, ascending Seq
	nextSeq  uint64  // Seq of the most recently appended chunk
	size     int
	closed   bool
	sessions map[uuid.UUID]*Session

	// Retained program tables, replayed to new sessions so tuners lock
	// before the first live chunk. Nil until the producer has seen both.
	pat []byte
	pmt []byte
	psi *mpegts.PSI // synthetic fallback while pat/pmt are still unknown

	// Producer fill rate, fed to adaptive pacing.
	fillAt  time.Time
	fillBps float64
}

// NewBuffer creates a ring with the given byte budget, per-session chunk
// backlog and session cap. Zero maxSessions means uncapped.
func NewBuffer(maxBytes, backlog, maxSessions int, metrics *observability.Metrics, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes < mpegts.PacketSize {
		maxBytes = 1 << 20
	}
	if backlog < 1 {
		backlog = 64
	}
	return &Buffer{
		maxBytes:    maxBytes,
		backlog:     uint64(backlog),
		maxSessions: maxSessions,
		metrics:     metrics,
		logger:      logger,
		sessions:    make(map[uuid.UUID]*Session),
	}
}

// Append adds one chunk and wakes every session. The buffer takes
// ownership of payload.
func (b *Buffer) Append(payload []byte, aligned bool) error {
	if len(payload) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}

	b.nextSeq++
	b.chunks = append(b.chunks, Chunk{Seq: b.nextSeq, Payload: payload, Aligned: aligned})
	b.size += len(payload)
	b.observeFillLocked(len(payload))
	b.metrics.BroadcastBytes.Add(float64(len(payload)))
	b.evictLocked()
	b.markOverrunsLocked()

	waiters := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		waiters = append(waiters, s)
	}
	b.mu.Unlock()

	for _, s := range waiters {
		s.notify()
	}
	return nil
}

// evictLocked drops chunks from the front until the byte budget holds.
// The newest chunk always survives.
func (b *Buffer) evictLocked() {
	for b.size > b.maxBytes && len(b.chunks) > 1 {
		b.size -= len(b.chunks[0].Payload)
		b.chunks[0].Payload = nil
		b.chunks = b.chunks[1:]
	}
}

// markOverrunsLocked fails sessions that lost data to eviction or lag
// beyond the backlog. The session stays attached until its handler
// observes the failure and releases it.
func (b *Buffer) markOverrunsLocked() {
	if len(b.chunks) == 0 {
		return
	}
	oldest := b.chunks[0].Seq
	for _, s := range b.sessions {
		if s.failed() {
			continue
		}
		if s.pos+1 < oldest || b.nextSeq-s.pos > b.backlog {
			s.fail(models.ErrSessionOverrun, observability.DropReasonOverrun)
			b.logger.Warn("session overran its backlog",
				"session_id", s.ID,
				"remote_addr", s.RemoteAddr,
				"behind_chunks", b.nextSeq-s.pos)
		}
	}
}

// observeFillLocked maintains an exponentially weighted producer fill
// rate in bytes per second.
func (b *Buffer) observeFillLocked(n int) {
	now := time.Now()
	if b.fillAt.IsZero() {
		b.fillAt = now
		return
	}
	dt := now.Sub(b.fillAt).Seconds()
	if dt <= 0 {
		return
	}
	const alpha = 0.2
	sample := float64(n) / dt
	if b.fillBps == 0 {
		b.fillBps = sample
	} else {
		b.fillBps = alpha*sample + (1-alpha)*b.fillBps
	}
	b.fillAt = now
}

// FillRate returns the smoothed producer rate in bytes per second. Zero
// until enough samples exist.
func (b *Buffer) FillRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fillBps
}

// SetPSI retains the stream's current PAT and PMT packets for replay to
// new sessions. Both are copied.
func (b *Buffer) SetPSI(pat, pmt []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(pat) == mpegts.PacketSize {
		b.pat = append(b.pat[:0], pat...)
	}
	if len(pmt) == mpegts.PacketSize {
		b.pmt = append(b.pmt[:0], pmt...)
	}
}

// preludeLocked builds the bytes a fresh session receives before its
// first chunk. Falls back to a synthetic default-program pair when the
// producer has not emitted tables yet.
func (b *Buffer) preludeLocked() []byte {
	if len(b.pat) > 0 && len(b.pmt) > 0 {
		out := make([]byte, 0, len(b.pat)+len(b.pmt))
		out = append(out, b.pat...)
		return append(out, b.pmt...)
	}
	if b.psi == nil {
		b.psi = mpegts.NewPSI()
	}
	return b.psi.AppendPair(nil)
}

// Attach registers a new session reading from the head of the ring. The
// session sees only chunks appended after this call, and skips ahead to
// the first aligned one so it starts on a frame edge.
func (b *Buffer) Attach(remoteAddr, userAgent string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBufferClosed
	}
	if b.maxSessions > 0 && len(b.sessions) >= b.maxSessions {
		return nil, fmt.Errorf("%w: channel session cap %d reached", models.ErrAdmissionDenied, b.maxSessions)
	}
	s := newSession(b, remoteAddr, userAgent)
	s.pos = b.nextSeq
	s.awaitAligned = true
	s.prelude = b.preludeLocked()
	b.sessions[s.ID] = s
	return s, nil
}

// Detach removes a session. Reports whether it was still attached.
func (b *Buffer) Detach(s *Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[s.ID]; !ok {
		return false
	}
	delete(b.sessions, s.ID)
	return true
}

// consume hands s everything it is owed: all retained chunks past its
// cursor, concatenated, with the PSI prelude in front on first delivery.
func (b *Buffer) consume(s *Session) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := s.failure(); err != nil {
		return nil, err
	}
	if len(b.chunks) > 0 && s.pos+1 < b.chunks[0].Seq {
		// Evicted past the cursor between wakeups.
		s.fail(models.ErrSessionOverrun, observability.DropReasonOverrun)
		return nil, models.ErrSessionOverrun
	}

	var out []byte
	if len(b.chunks) > 0 && s.pos < b.nextSeq {
		idx := int(s.pos + 1 - b.chunks[0].Seq)
		for ; idx < len(b.chunks); idx++ {
			ch := b.chunks[idx]
			if s.awaitAligned {
				if !ch.Aligned {
					s.pos = ch.Seq
					continue
				}
				s.awaitAligned = false
			}
			out = append(out, ch.Payload...)
			s.pos = ch.Seq
		}
	}

	if len(out) > 0 && s.prelude != nil {
		out = append(s.prelude, out...)
		s.prelude = nil
	}
	if len(out) > 0 {
		s.sent.Add(int64(len(out)))
	}
	return out, nil
}

func (b *Buffer) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// SessionCount returns the number of attached sessions.
func (b *Buffer) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// snapshotSessions returns the attached sessions for iteration outside
// the lock.
func (b *Buffer) snapshotSessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}

// Close stops the ring. Attached sessions drain what is retained and
// then get ErrStreamEnded. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	waiters := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		waiters = append(waiters, s)
	}
	b.mu.Unlock()

	for _, s := range waiters {
		s.notify()
	}
}

// BufferStats is a point-in-time view for the admin surface.
type BufferStats struct {
	Chunks   int           `json:"chunks"`
	Bytes    int           `json:"bytes"`
	HeadSeq  uint64        `json:"head_seq"`
	FillBps  float64       `json:"fill_bps"`
	Sessions []SessionInfo `json:"sessions,omitempty"`
}

// Stats returns the current ring and session state.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BufferStats{
		Chunks:  len(b.chunks),
		Bytes:   b.size,
		HeadSeq: b.nextSeq,
		FillBps: b.fillBps,
	}
	for _, s := range b.sessions {
		st.Sessions = append(st.Sessions, s.info())
	}
	return st
}
