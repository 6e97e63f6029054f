// Package logs keeps a bounded in-process ring of recent log records.
// The runtime slog handler is wrapped so every record lands here as well
// as on its normal destination; the ring feeds the logs API and gives the
// remediation loop recent history to reason over.
package logs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// MinRingSize is the smallest ring the service will run with.
	MinRingSize = 10000
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 100
)

// Entry is one captured log record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Stats summarizes the ring contents.
type Stats struct {
	TotalLogs        int64            `json:"total_logs"`
	LogsByLevel      map[string]int64 `json:"logs_by_level"`
	LogsByComponent  map[string]int64 `json:"logs_by_component"`
	RecentErrors     []Entry          `json:"recent_errors"`
	LogRatePerMinute float64          `json:"log_rate_per_minute"`
	OldestTimestamp  *time.Time       `json:"oldest_timestamp,omitempty"`
	NewestTimestamp  *time.Time       `json:"newest_timestamp,omitempty"`
}

// Subscriber receives live entries until Done is closed.
type Subscriber struct {
	ID     string
	Events chan *Entry
	Done   chan struct{}
}

// Service is the ring plus live fanout. Safe for concurrent use.
type Service struct {
	mu          sync.RWMutex
	ring        []Entry
	head        int
	filled      bool
	size        int
	subscribers map[string]*Subscriber
	total       int64
	byLevel     map[string]int64
	byComponent map[string]int64
	errs        []Entry
	maxErrs     int
	startTime   time.Time
}

// New creates a logs service with the given ring capacity. Capacities
// below MinRingSize are raised to it.
func New(ringSize int) *Service {
	if ringSize < MinRingSize {
		ringSize = MinRingSize
	}
	return &Service{
		ring:        make([]Entry, ringSize),
		size:        ringSize,
		subscribers: make(map[string]*Subscriber),
		byLevel:     make(map[string]int64),
		byComponent: make(map[string]int64),
		maxErrs:     10,
		startTime:   time.Now(),
	}
}

// WrapHandler tees records through this service on their way to handler.
// Install once, around the process-wide handler, before slog.SetDefault.
func (s *Service) WrapHandler(handler slog.Handler) slog.Handler {
	return &teeHandler{service: s, wrapped: handler}
}

// Add records one entry and broadcasts it to live subscribers.
func (s *Service) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}

	s.total++
	s.byLevel[entry.Level]++
	if entry.Component != "" {
		s.byComponent[entry.Component]++
	}
	if entry.Level == "error" {
		s.errs = append(s.errs, entry)
		if len(s.errs) > s.maxErrs {
			s.errs = s.errs[1:]
		}
	}

	s.ring[s.head] = entry
	s.head++
	if s.head == s.size {
		s.head = 0
		s.filled = true
	}

	for _, sub := range s.subscribers {
		select {
		case sub.Events <- &entry:
		default:
			// Slow subscriber, drop rather than block logging.
		}
	}
}

// Subscribe registers a live-tail subscriber. It is removed when ctx ends
// or its Done channel closes.
func (s *Service) Subscribe(ctx context.Context) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Events: make(chan *Entry, DefaultBufferSize),
		Done:   make(chan struct{}),
	}
	s.subscribers[sub.ID] = sub

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done:
		}
		s.Unsubscribe(sub.ID)
	}()

	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.Events)
		delete(s.subscribers, id)
	}
}

// Query returns up to limit entries, newest last, filtered by level and
// component when those are non-empty. limit <= 0 means everything held.
func (s *Service) Query(level, component string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.orderedLocked()
	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if level != "" && !strings.EqualFold(e.Level, level) {
			continue
		}
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Recent returns the newest entries up to limit, oldest first.
func (s *Service) Recent(limit int) []Entry {
	return s.Query("", "", limit)
}

// GetStats summarizes ring contents and throughput.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalLogs:       s.total,
		LogsByLevel:     make(map[string]int64, len(s.byLevel)),
		LogsByComponent: make(map[string]int64, len(s.byComponent)),
		RecentErrors:    make([]Entry, len(s.errs)),
	}
	for level, n := range s.byLevel {
		stats.LogsByLevel[level] = n
	}
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if _, ok := stats.LogsByLevel[level]; !ok {
			stats.LogsByLevel[level] = 0
		}
	}
	for component, n := range s.byComponent {
		stats.LogsByComponent[component] = n
	}
	copy(stats.RecentErrors, s.errs)

	if elapsed := time.Since(s.startTime).Minutes(); elapsed > 0 {
		stats.LogRatePerMinute = float64(s.total) / elapsed
	}
	if ordered := s.orderedLocked(); len(ordered) > 0 {
		oldest := ordered[0].Timestamp
		newest := ordered[len(ordered)-1].Timestamp
		stats.OldestTimestamp = &oldest
		stats.NewestTimestamp = &newest
	}
	return stats
}

// SubscriberCount returns the number of live subscribers.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// orderedLocked flattens the ring oldest-first. Caller holds at least a
// read lock.
func (s *Service) orderedLocked() []Entry {
	if !s.filled {
		out := make([]Entry, s.head)
		copy(out, s.ring[:s.head])
		return out
	}
	out := make([]Entry, 0, s.size)
	out = append(out, s.ring[s.head:]...)
	out = append(out, s.ring[:s.head]...)
	return out
}

// teeHandler forwards records to the wrapped handler and captures a copy
// into the ring.
type teeHandler struct {
	service *Service
	wrapped slog.Handler
	attrs   []slog.Attr
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		ID:        ulid.Make().String(),
		Timestamp: r.Time,
		Level:     levelName(r.Level),
		Message:   r.Message,
		Fields:    make(map[string]any),
	}
	for _, attr := range h.attrs {
		addAttr(&entry, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(&entry, a)
		return true
	})
	h.service.Add(entry)
	return h.wrapped.Handle(ctx, r)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &teeHandler{
		service: h.service,
		wrapped: h.wrapped.WithAttrs(attrs),
		attrs:   merged,
	}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened for capture; the wrapped handler keeps them.
	return &teeHandler{
		service: h.service,
		wrapped: h.wrapped.WithGroup(name),
		attrs:   h.attrs,
	}
}

func addAttr(entry *Entry, attr slog.Attr) {
	switch attr.Key {
	case "component":
		if s, ok := attr.Value.Any().(string); ok {
			entry.Component = s
			return
		}
	}
	entry.Fields[attr.Key] = attr.Value.Any()
}

func levelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}
