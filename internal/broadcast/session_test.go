package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

func TestSessionNextHonorsContext(t *testing.T) {
	b := newTestBuffer(1<<20, 64, 0)
	defer b.Close()

	s, err := b.Attach("10.0.0.1:1", "a")
	require.NoError(t, err)
	defer b.Detach(s)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionFirstFailureWins(t *testing.T) {
	b := newTestBuffer(1<<20, 64, 0)
	defer b.Close()

	s, err := b.Attach("10.0.0.1:1", "a")
	require.NoError(t, err)
	defer b.Detach(s)

	s.fail(models.ErrSessionOverrun, observability.DropReasonOverrun)
	s.fail(errSessionIdle, observability.DropReasonIdle)

	assert.Equal(t, observability.DropReasonOverrun, s.DropReason())
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, models.ErrSessionOverrun)
}

func TestSessionTouchTracksLiveness(t *testing.T) {
	b := newTestBuffer(1<<20, 64, 0)
	defer b.Close()

	s, err := b.Attach("10.0.0.1:1", "a")
	require.NoError(t, err)
	defer b.Detach(s)

	time.Sleep(30 * time.Millisecond)
	assert.GreaterOrEqual(t, s.IdleFor(), 20*time.Millisecond)

	s.Touch()
	assert.Less(t, s.IdleFor(), 20*time.Millisecond)
}

func TestKeepaliveBurstIsNullPackets(t *testing.T) {
	burst := KeepaliveBurst()
	require.Equal(t, keepalivePackets*mpegts.PacketSize, len(burst))

	for off := 0; off < len(burst); off += mpegts.PacketSize {
		pkt := burst[off : off+mpegts.PacketSize]
		assert.EqualValues(t, mpegts.SyncByte, pkt[0])
		assert.Equal(t, uint16(mpegts.PIDNull), mpegts.PID(pkt))
	}
}
