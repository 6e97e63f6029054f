package logs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRaisesUndersizedRing(t *testing.T) {
	s := New(100)
	assert.Equal(t, MinRingSize, s.size)
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	s := New(MinRingSize)
	for i := 0; i < MinRingSize+5; i++ {
		s.Add(Entry{Level: "info", Message: fmt.Sprintf("msg-%d", i)})
	}

	entries := s.Recent(0)
	require.Len(t, entries, MinRingSize)
	assert.Equal(t, "msg-5", entries[0].Message, "oldest five evicted")
	assert.Equal(t, fmt.Sprintf("msg-%d", MinRingSize+4), entries[len(entries)-1].Message)
	assert.Equal(t, int64(MinRingSize+5), s.GetStats().TotalLogs)
}

func TestQueryFilters(t *testing.T) {
	s := New(MinRingSize)
	s.Add(Entry{Level: "info", Component: "playout", Message: "tick"})
	s.Add(Entry{Level: "error", Component: "playout", Message: "boom"})
	s.Add(Entry{Level: "error", Component: "resolver", Message: "gone"})
	s.Add(Entry{Level: "warn", Component: "resolver", Message: "slow"})

	errors := s.Query("error", "", 0)
	require.Len(t, errors, 2)
	assert.Equal(t, "boom", errors[0].Message)

	resolver := s.Query("", "resolver", 0)
	require.Len(t, resolver, 2)

	one := s.Query("error", "resolver", 0)
	require.Len(t, one, 1)
	assert.Equal(t, "gone", one[0].Message)

	limited := s.Query("", "", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "slow", limited[1].Message, "limit keeps the newest entries")
}

func TestStats(t *testing.T) {
	s := New(MinRingSize)
	s.Add(Entry{Level: "info", Component: "playout", Message: "a", Timestamp: time.Now()})
	s.Add(Entry{Level: "error", Component: "playout", Message: "b", Timestamp: time.Now()})

	stats := s.GetStats()
	assert.Equal(t, int64(2), stats.TotalLogs)
	assert.Equal(t, int64(1), stats.LogsByLevel["error"])
	assert.Equal(t, int64(0), stats.LogsByLevel["debug"], "known levels always present")
	assert.Equal(t, int64(2), stats.LogsByComponent["playout"])
	require.Len(t, stats.RecentErrors, 1)
	assert.Equal(t, "b", stats.RecentErrors[0].Message)
	require.NotNil(t, stats.OldestTimestamp)
	require.NotNil(t, stats.NewestTimestamp)
}

func TestSubscribeReceivesLiveEntries(t *testing.T) {
	s := New(MinRingSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := s.Subscribe(ctx)
	require.Equal(t, 1, s.SubscriberCount())

	s.Add(Entry{Level: "info", Message: "live"})
	select {
	case e := <-sub.Events:
		assert.Equal(t, "live", e.Message)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	close(sub.Done)
	require.Eventually(t, func() bool { return s.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New(MinRingSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := s.Subscribe(ctx)
	for i := 0; i < DefaultBufferSize+10; i++ {
		s.Add(Entry{Level: "info", Message: "flood"})
	}
	assert.Len(t, sub.Events, DefaultBufferSize)
	assert.Equal(t, int64(DefaultBufferSize+10), s.GetStats().TotalLogs)
}

func TestWrapHandlerTees(t *testing.T) {
	s := New(MinRingSize)
	var buf bytes.Buffer
	handler := s.WrapHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := slog.New(handler).With("component", "broadcast")

	logger.Warn("viewer dropped", "channel", "2")

	entries := s.Recent(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "viewer dropped", entries[0].Message)
	assert.Equal(t, "broadcast", entries[0].Component)
	assert.Equal(t, "2", entries[0].Fields["channel"])
	assert.Contains(t, buf.String(), "viewer dropped", "wrapped handler still writes")
}

func TestLevelNames(t *testing.T) {
	s := New(MinRingSize)
	var buf bytes.Buffer
	logger := slog.New(s.WrapHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := s.Recent(0)
	require.Len(t, entries, 4)
	assert.Equal(t, []string{"debug", "info", "warn", "error"},
		[]string{entries[0].Level, entries[1].Level, entries[2].Level, entries[3].Level})
}
