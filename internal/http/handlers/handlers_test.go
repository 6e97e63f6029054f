package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/broadcast"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannelRepo struct {
	repository.ChannelRepository
	channels []*models.Channel
	err      error
}

func (f *fakeChannelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	return f.channels, f.err
}

func (f *fakeChannelRepo) GetEnabled(ctx context.Context) ([]*models.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Channel
	for _, ch := range f.channels {
		if ch.IsEnabled() {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) GetByNumber(ctx context.Context, number string) (*models.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, ch := range f.channels {
		if ch.Number == number {
			return ch, nil
		}
	}
	return nil, nil
}

func (f *fakeChannelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, ch := range f.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return nil, nil
}

func (f *fakeChannelRepo) CountEnabled(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, ch := range f.channels {
		if ch.IsEnabled() {
			n++
		}
	}
	return n, nil
}

func (f *fakeChannelRepo) Create(ctx context.Context, ch *models.Channel) error {
	if f.err != nil {
		return f.err
	}
	ch.ID = models.NewULID()
	f.channels = append(f.channels, ch)
	return nil
}

func (f *fakeChannelRepo) Update(ctx context.Context, ch *models.Channel) error {
	return f.err
}

func (f *fakeChannelRepo) Delete(ctx context.Context, id models.ULID) error {
	return f.err
}

// fakeStreamer hands out sessions keyed by guide number.
type fakeStreamer struct {
	sessions map[string]*broadcast.Session
	err      error
	released []*broadcast.Session
}

func (f *fakeStreamer) GetStream(ctx context.Context, id models.ULID, remoteAddr, userAgent string) (*broadcast.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, models.ErrChannelNotFound
}

func (f *fakeStreamer) GetStreamByNumber(ctx context.Context, number, remoteAddr, userAgent string) (*broadcast.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	sess, ok := f.sessions[number]
	if !ok {
		return nil, models.ErrChannelNotFound
	}
	return sess, nil
}

func (f *fakeStreamer) Release(s *broadcast.Session) {
	f.released = append(f.released, s)
}

// streamSession builds a session over a closed ring holding one aligned
// chunk, so a pump drains the payload and then sees the stream end.
func streamSession(t *testing.T) (*broadcast.Session, []byte) {
	t.Helper()
	buf := broadcast.NewBuffer(1<<20, 64, 8, observability.NewMetrics(), testLogger())
	sess, err := buf.Attach("10.0.0.1:51000", "test-agent")
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0x47, 0x1f, 0xff, 0x10}, 47)
	require.NoError(t, buf.Append(payload, true))
	buf.Close()
	return sess, payload
}

func lineupChannel(number, name string) *models.Channel {
	return &models.Channel{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Number:    number,
		Name:      name,
		Enabled:   models.BoolPtr(true),
	}
}
