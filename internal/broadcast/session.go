package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

// Session is one client's view of a channel's ring buffer. Handlers pull
// batches with Next, write them to the wire, and Touch after every
// acknowledged write so the idle reaper can tell a stalled socket from a
// quiet one.
type Session struct {
	ID          uuid.UUID
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	// ChannelID is stamped by the manager at admission.
	ChannelID models.ULID

	buf *Buffer

	// Cursor state. Owned by the buffer lock.
	pos          uint64
	awaitAligned bool
	prelude      []byte

	notifyCh chan struct{}

	sent     atomic.Int64
	lastSend atomic.Int64 // unix nanos of the last acknowledged write

	failMu     sync.Mutex
	failErr    error
	dropReason string
}

func newSession(b *Buffer, remoteAddr, userAgent string) *Session {
	s := &Session{
		ID:          uuid.New(),
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		buf:         b,
		notifyCh:    make(chan struct{}, 1),
	}
	s.lastSend.Store(time.Now().UnixNano())
	return s
}

// notify wakes the session's waiter. Non-blocking; a pending wakeup
// covers any number of appends.
func (s *Session) notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// fail marks the session dead. The first reason wins; Next returns err
// from then on.
func (s *Session) fail(err error, reason string) {
	s.failMu.Lock()
	if s.failErr == nil {
		s.failErr = err
		s.dropReason = reason
	}
	s.failMu.Unlock()
	s.notify()
}

func (s *Session) failure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failErr
}

func (s *Session) failed() bool {
	return s.failure() != nil
}

// DropReason returns why the session was failed, or empty while healthy.
func (s *Session) DropReason() string {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.dropReason
}

// Next blocks until the session is owed bytes, the stream ends, or ctx
// is done. The returned slice is owned by the caller. After the buffer
// closes, remaining retained data is drained before ErrStreamEnded.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	for {
		out, err := s.buf.consume(s)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
		if s.buf.isClosed() {
			return nil, ErrStreamEnded
		}
		select {
		case <-s.notifyCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Touch records a successful client write. Only acknowledged bytes count
// toward liveness; a session whose socket stopped accepting writes goes
// idle and gets reaped.
func (s *Session) Touch() {
	s.lastSend.Store(time.Now().UnixNano())
}

// IdleFor returns the time since the last acknowledged write.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastSend.Load()))
}

// BytesSent returns the bytes consumed from the ring so far.
func (s *Session) BytesSent() int64 {
	return s.sent.Load()
}

// SessionInfo is the admin view of one session.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	BytesSent   int64     `json:"bytes_sent"`
	IdleMs      int64     `json:"idle_ms"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:          s.ID.String(),
		RemoteAddr:  s.RemoteAddr,
		UserAgent:   s.UserAgent,
		ConnectedAt: s.ConnectedAt,
		BytesSent:   s.sent.Load(),
		IdleMs:      s.IdleFor().Milliseconds(),
	}
}

// KeepaliveInterval is how long a streaming handler waits on Next before
// writing null packets to keep the client socket warm.
const KeepaliveInterval = 5 * time.Second

// keepalivePackets is sized near one network burst.
const keepalivePackets = 7

// KeepaliveBurst returns null transport packets for injection while the
// producer is between items. Decoders discard them.
func KeepaliveBurst() []byte {
	out := make([]byte, 0, keepalivePackets*mpegts.PacketSize)
	for i := 0; i < keepalivePackets; i++ {
		pkt := mpegts.NullPacket()
		out = append(out, pkt[:]...)
	}
	return out
}
