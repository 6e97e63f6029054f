package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/broadcast"
	"github.com/exstreamtv/exstreamtv/internal/models"
)

type fakeController struct {
	restartErr error
	restarts   []models.ULID
	reasons    []string
	item       *models.PlayoutItem
	nowErr     error
	sessions   int
	active     []broadcast.ChannelStatus
}

func (f *fakeController) RequestChannelRestart(ctx context.Context, id models.ULID, reason string) error {
	f.restarts = append(f.restarts, id)
	f.reasons = append(f.reasons, reason)
	return f.restartErr
}

func (f *fakeController) NowPlaying(ctx context.Context, id models.ULID) (*models.PlayoutItem, error) {
	return f.item, f.nowErr
}

func (f *fakeController) ActiveChannels() []broadcast.ChannelStatus { return f.active }
func (f *fakeController) Sessions() int                             { return f.sessions }

// apiStatus unwraps the HTTP status a huma error carries.
func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func newChannelHandler(repo *fakeChannelRepo, ctrl *fakeController) *ChannelHandler {
	return NewChannelHandler(repo, ctrl).WithLogger(testLogger())
}

func TestCreateChannel(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		repo := &fakeChannelRepo{}
		h := newChannelHandler(repo, &fakeController{})

		out, err := h.CreateChannel(context.Background(), &CreateChannelInput{
			Body: ChannelBody{Number: "2", Name: "Classic Movies", Group: "Movies"},
		})
		require.NoError(t, err)
		assert.Equal(t, "2", out.Body.Number)
		assert.NotEqual(t, models.ULID{}, out.Body.ID)
		assert.Len(t, repo.channels, 1)
	})

	t.Run("bad guide number", func(t *testing.T) {
		h := newChannelHandler(&fakeChannelRepo{}, &fakeController{})

		_, err := h.CreateChannel(context.Background(), &CreateChannelInput{
			Body: ChannelBody{Number: "two", Name: "Classic Movies"},
		})
		assert.Equal(t, 422, apiStatus(t, err))
	})

	t.Run("missing name", func(t *testing.T) {
		h := newChannelHandler(&fakeChannelRepo{}, &fakeController{})

		_, err := h.CreateChannel(context.Background(), &CreateChannelInput{
			Body: ChannelBody{Number: "2"},
		})
		assert.Equal(t, 422, apiStatus(t, err))
	})

	t.Run("bad filler preset id", func(t *testing.T) {
		h := newChannelHandler(&fakeChannelRepo{}, &fakeController{})

		_, err := h.CreateChannel(context.Background(), &CreateChannelInput{
			Body: ChannelBody{Number: "2", Name: "Classic Movies", FillerPresetID: "nope"},
		})
		assert.Equal(t, 422, apiStatus(t, err))
	})
}

func TestGetChannel(t *testing.T) {
	ch := lineupChannel("2", "Classic Movies")
	repo := &fakeChannelRepo{channels: []*models.Channel{ch}}
	h := newChannelHandler(repo, &fakeController{})

	t.Run("found", func(t *testing.T) {
		out, err := h.GetChannel(context.Background(), &GetChannelInput{ID: ch.ID.String()})
		require.NoError(t, err)
		assert.Equal(t, ch.Number, out.Body.Number)
	})

	t.Run("absent", func(t *testing.T) {
		_, err := h.GetChannel(context.Background(), &GetChannelInput{ID: models.NewULID().String()})
		assert.Equal(t, 404, apiStatus(t, err))
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := h.GetChannel(context.Background(), &GetChannelInput{ID: "not-a-ulid"})
		assert.Equal(t, 404, apiStatus(t, err))
	})
}

func TestUpdateChannel(t *testing.T) {
	ch := lineupChannel("2", "Classic Movies")
	repo := &fakeChannelRepo{channels: []*models.Channel{ch}}
	h := newChannelHandler(repo, &fakeController{})

	out, err := h.UpdateChannel(context.Background(), &UpdateChannelInput{
		ID:   ch.ID.String(),
		Body: ChannelBody{Number: "2", Name: "Film Noir", Enabled: models.BoolPtr(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Film Noir", out.Body.Name)
	assert.False(t, out.Body.IsEnabled())
}

func TestRestartChannel(t *testing.T) {
	ch := lineupChannel("2", "Classic Movies")

	tests := []struct {
		name       string
		restartErr error
		wantStatus int
	}{
		{"ok", nil, 0},
		{"unknown channel", models.ErrChannelNotFound, 404},
		{"circuit open", models.ErrCircuitOpen, 503},
		{"storm throttled", models.ErrRestartThrottled, 429},
		{"cooldown", models.ErrRestartCooldown, 429},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{restartErr: tt.restartErr}
			h := newChannelHandler(&fakeChannelRepo{channels: []*models.Channel{ch}}, ctrl)

			out, err := h.RestartChannel(context.Background(), &RestartChannelInput{ID: ch.ID.String()})
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.True(t, out.Body.Restarted)
				require.Len(t, ctrl.reasons, 1)
				assert.Equal(t, "manual", ctrl.reasons[0])
				return
			}
			assert.Equal(t, tt.wantStatus, apiStatus(t, err))
		})
	}
}

func TestGetNowPlaying(t *testing.T) {
	ch := lineupChannel("2", "Classic Movies")
	ctrl := &fakeController{item: &models.PlayoutItem{Title: "Casablanca"}}
	h := newChannelHandler(&fakeChannelRepo{channels: []*models.Channel{ch}}, ctrl)

	out, err := h.GetNowPlaying(context.Background(), &NowPlayingInput{ID: ch.ID.String()})
	require.NoError(t, err)
	require.NotNil(t, out.Body.NowPlaying)
	assert.Equal(t, "Casablanca", out.Body.NowPlaying.Title)
}

func TestGetStatus(t *testing.T) {
	ctrl := &fakeController{sessions: 3, active: []broadcast.ChannelStatus{{Number: "2", Name: "Classic Movies"}}}
	h := newChannelHandler(&fakeChannelRepo{}, ctrl)

	out, err := h.GetStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Body.Sessions)
	require.Len(t, out.Body.Channels, 1)
	assert.Equal(t, "2", out.Body.Channels[0].Number)
}
