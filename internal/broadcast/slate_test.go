package broadcast

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

func TestSlateEnsureServesCachedCard(t *testing.T) {
	dir := t.TempDir()
	null := mpegts.NullPacket()
	card := bytes.Repeat(null[:], 8)
	path := filepath.Join(dir, "slate_1280x720.ts")
	require.NoError(t, os.WriteFile(path, card, 0o644))

	g := NewSlateGenerator("ffmpeg", dir, nil, nil)

	// Zero geometry falls back to 1280x720, which hits the disk cache
	// without touching the pool.
	data, err := g.Ensure(context.Background(), ffmpeg.Profile{})
	require.NoError(t, err)
	assert.Equal(t, card, data)

	// Second hit comes from memory even with the file gone.
	require.NoError(t, os.Remove(path))
	again, err := g.Ensure(context.Background(), ffmpeg.Profile{})
	require.NoError(t, err)
	assert.Equal(t, card, again)
}

func TestPlaySlateLoopsAndSplices(t *testing.T) {
	sink := &captureSink{}
	ck := NewChunker(sink, mpegts.PacketSize, nil)

	null := mpegts.NullPacket()
	card := bytes.Repeat(null[:], 4)

	// With duration equal to one tick the whole card plays per tick, so
	// a 500ms window covers two passes and two loop splices.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := PlaySlate(ctx, ck, card, 200*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var packets, shims int
	for _, p := range sink.payloads {
		for off := 0; off+mpegts.PacketSize <= len(p); off += mpegts.PacketSize {
			pkt := p[off : off+mpegts.PacketSize]
			packets++
			if pkt[4] == 183 && pkt[5]&0x80 != 0 {
				shims++
			}
		}
	}
	assert.GreaterOrEqual(t, packets, len(card)/mpegts.PacketSize)
	assert.GreaterOrEqual(t, shims, 1)
}

func TestPlaySlateRejectsEmptyCard(t *testing.T) {
	ck := NewChunker(&captureSink{}, mpegts.PacketSize, nil)
	err := PlaySlate(context.Background(), ck, nil, time.Second)
	assert.Error(t, err)
}
