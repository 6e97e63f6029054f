package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/exstreamtv/exstreamtv/internal/broadcast"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/selfheal"
)

// ChannelController is the broadcast manager surface the admin API
// drives. Restarts route exclusively through RequestChannelRestart.
type ChannelController interface {
	RequestChannelRestart(ctx context.Context, id models.ULID, reason string) error
	NowPlaying(ctx context.Context, id models.ULID) (*models.PlayoutItem, error)
	ActiveChannels() []broadcast.ChannelStatus
	Sessions() int
}

// ChannelHandler exposes channel CRUD and the restart surface.
type ChannelHandler struct {
	channels   repository.ChannelRepository
	controller ChannelController
	logger     *slog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(channels repository.ChannelRepository, controller ChannelController) *ChannelHandler {
	return &ChannelHandler{
		channels:   channels,
		controller: controller,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *ChannelHandler) WithLogger(logger *slog.Logger) *ChannelHandler {
	h.logger = logger
	return h
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID:   "createChannel",
		Method:        "POST",
		Path:          "/api/v1/channels",
		Summary:       "Create a channel",
		Tags:          []string{"Channels"},
		DefaultStatus: 201,
	}, h.CreateChannel)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Get channel by ID",
		Tags:        []string{"Channels"},
	}, h.GetChannel)

	huma.Register(api, huma.Operation{
		OperationID: "updateChannel",
		Method:      "PUT",
		Path:        "/api/v1/channels/{id}",
		Summary:     "Update a channel",
		Tags:        []string{"Channels"},
	}, h.UpdateChannel)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteChannel",
		Method:        "DELETE",
		Path:          "/api/v1/channels/{id}",
		Summary:       "Delete a channel",
		Tags:          []string{"Channels"},
		DefaultStatus: 204,
	}, h.DeleteChannel)

	huma.Register(api, huma.Operation{
		OperationID: "restartChannel",
		Method:      "POST",
		Path:        "/api/v1/channels/{id}/restart",
		Summary:     "Restart a channel's stream loop",
		Description: "Manual restarts bypass containment but still honor the circuit breaker and storm throttle.",
		Tags:        []string{"Channels"},
	}, h.RestartChannel)

	huma.Register(api, huma.Operation{
		OperationID: "getNowPlaying",
		Method:      "GET",
		Path:        "/api/v1/channels/{id}/now_playing",
		Summary:     "Get the entry currently on air",
		Tags:        []string{"Channels"},
	}, h.GetNowPlaying)

	huma.Register(api, huma.Operation{
		OperationID: "getBroadcastStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Snapshot running channels and sessions",
		Tags:        []string{"Channels"},
	}, h.GetStatus)
}

// channelID resolves a path ULID to a channel, mapping absence to 404.
func (h *ChannelHandler) channelID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error404NotFound("channel not found")
	}
	return id, nil
}

// ChannelBody is the writable subset of a channel.
type ChannelBody struct {
	Number                 string `json:"number" doc:"Guide number, e.g. 2 or 1984.1"`
	Name                   string `json:"name"`
	Group                  string `json:"group,omitempty"`
	LogoURL                string `json:"logo_url,omitempty"`
	Enabled                *bool  `json:"enabled,omitempty"`
	StreamingMode          string `json:"streaming_mode,omitempty" enum:"copy,transcode,auto"`
	FFmpegProfile          string `json:"ffmpeg_profile,omitempty"`
	WatermarkURL           string `json:"watermark_url,omitempty"`
	FillerPresetID         string `json:"filler_preset_id,omitempty"`
	PreferredAudioLanguage string `json:"preferred_audio_language,omitempty"`
	SubtitlesEnabled       bool   `json:"subtitles_enabled,omitempty"`
}

func (b *ChannelBody) apply(ch *models.Channel) error {
	ch.Number = b.Number
	ch.Name = b.Name
	ch.Group = b.Group
	ch.LogoURL = b.LogoURL
	if b.Enabled != nil {
		ch.Enabled = b.Enabled
	}
	if b.StreamingMode != "" {
		ch.StreamingMode = models.StreamingMode(b.StreamingMode)
	}
	ch.FFmpegProfile = b.FFmpegProfile
	ch.WatermarkURL = b.WatermarkURL
	ch.PreferredAudioLanguage = b.PreferredAudioLanguage
	ch.SubtitlesEnabled = b.SubtitlesEnabled
	if b.FillerPresetID != "" {
		id, err := models.ParseULID(b.FillerPresetID)
		if err != nil {
			return huma.Error422UnprocessableEntity("invalid filler_preset_id")
		}
		ch.FillerPresetID = &id
	} else {
		ch.FillerPresetID = nil
	}
	return nil
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct {
	Enabled bool `query:"enabled" doc:"Only channels that may be tuned"`
}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Items []*models.Channel `json:"items"`
		Total int               `json:"total"`
	}
}

// ListChannels returns the lineup in guide order.
func (h *ChannelHandler) ListChannels(ctx context.Context, input *ListChannelsInput) (*ListChannelsOutput, error) {
	var (
		channels []*models.Channel
		err      error
	)
	if input.Enabled {
		channels, err = h.channels.GetEnabled(ctx)
	} else {
		channels, err = h.channels.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels")
	}

	out := &ListChannelsOutput{}
	out.Body.Items = channels
	out.Body.Total = len(channels)
	return out, nil
}

// CreateChannelInput is the input for creating a channel.
type CreateChannelInput struct {
	Body ChannelBody
}

// ChannelOutput wraps a single channel.
type ChannelOutput struct {
	Body *models.Channel
}

// CreateChannel adds a channel to the lineup.
func (h *ChannelHandler) CreateChannel(ctx context.Context, input *CreateChannelInput) (*ChannelOutput, error) {
	ch := &models.Channel{}
	if err := input.Body.apply(ch); err != nil {
		return nil, err
	}
	if err := ch.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.channels.Create(ctx, ch); err != nil {
		h.logger.Error("channel create failed", "number", ch.Number, "error", err)
		return nil, huma.Error500InternalServerError("failed to create channel")
	}
	h.logger.Info("channel created", "channel", ch.Number, "id", ch.ID)
	return &ChannelOutput{Body: ch}, nil
}

// GetChannelInput addresses a channel by ID.
type GetChannelInput struct {
	ID string `path:"id"`
}

// GetChannel returns one channel.
func (h *ChannelHandler) GetChannel(ctx context.Context, input *GetChannelInput) (*ChannelOutput, error) {
	id, err := h.channelID(input.ID)
	if err != nil {
		return nil, err
	}
	ch, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to fetch channel")
	}
	if ch == nil {
		return nil, huma.Error404NotFound("channel not found")
	}
	return &ChannelOutput{Body: ch}, nil
}

// UpdateChannelInput carries the replacement channel document.
type UpdateChannelInput struct {
	ID   string `path:"id"`
	Body ChannelBody
}

// UpdateChannel replaces a channel's writable fields.
func (h *ChannelHandler) UpdateChannel(ctx context.Context, input *UpdateChannelInput) (*ChannelOutput, error) {
	id, err := h.channelID(input.ID)
	if err != nil {
		return nil, err
	}
	ch, err := h.channels.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to fetch channel")
	}
	if ch == nil {
		return nil, huma.Error404NotFound("channel not found")
	}

	if err := input.Body.apply(ch); err != nil {
		return nil, err
	}
	if err := ch.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.channels.Update(ctx, ch); err != nil {
		return nil, huma.Error500InternalServerError("failed to update channel")
	}
	h.logger.Info("channel updated", "channel", ch.Number, "id", ch.ID)
	return &ChannelOutput{Body: ch}, nil
}

// DeleteChannelInput addresses a channel by ID.
type DeleteChannelInput struct {
	ID string `path:"id"`
}

// DeleteChannelOutput is an empty 204.
type DeleteChannelOutput struct{}

// DeleteChannel removes a channel from the lineup.
func (h *ChannelHandler) DeleteChannel(ctx context.Context, input *DeleteChannelInput) (*DeleteChannelOutput, error) {
	id, err := h.channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.channels.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete channel")
	}
	h.logger.Info("channel deleted", "id", id)
	return &DeleteChannelOutput{}, nil
}

// RestartChannelInput addresses a channel by ID.
type RestartChannelInput struct {
	ID string `path:"id"`
}

// RestartChannelOutput reports the restart outcome.
type RestartChannelOutput struct {
	Body struct {
		Restarted bool `json:"restarted"`
	}
}

// RestartChannel requests a manual restart of the channel's loop.
func (h *ChannelHandler) RestartChannel(ctx context.Context, input *RestartChannelInput) (*RestartChannelOutput, error) {
	id, err := h.channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.controller.RequestChannelRestart(ctx, id, selfheal.ReasonManual); err != nil {
		switch streamStatus(err) {
		case 404:
			return nil, huma.Error404NotFound("channel not found")
		case 503:
			return nil, huma.Error503ServiceUnavailable(err.Error())
		}
		if errorsIsAny(err, models.ErrRestartThrottled, models.ErrRestartCooldown) {
			return nil, huma.Error429TooManyRequests(err.Error())
		}
		h.logger.Error("channel restart failed", "id", id, "error", err)
		return nil, huma.Error500InternalServerError("restart failed")
	}
	out := &RestartChannelOutput{}
	out.Body.Restarted = true
	return out, nil
}

// NowPlayingInput addresses a channel by ID.
type NowPlayingInput struct {
	ID string `path:"id"`
}

// NowPlayingOutput is the entry on air, nil when the timeline is empty.
type NowPlayingOutput struct {
	Body struct {
		NowPlaying *models.PlayoutItem `json:"now_playing"`
	}
}

// GetNowPlaying reports what the channel is airing right now.
func (h *ChannelHandler) GetNowPlaying(ctx context.Context, input *NowPlayingInput) (*NowPlayingOutput, error) {
	id, err := h.channelID(input.ID)
	if err != nil {
		return nil, err
	}
	item, err := h.controller.NowPlaying(ctx, id)
	if err != nil {
		if streamStatus(err) == 404 {
			return nil, huma.Error404NotFound("channel not found")
		}
		return nil, huma.Error500InternalServerError("failed to resolve now playing")
	}
	out := &NowPlayingOutput{}
	out.Body.NowPlaying = item
	return out, nil
}

// StatusOutput snapshots the broadcast manager.
type StatusOutput struct {
	Body struct {
		Sessions int                       `json:"sessions"`
		Channels []broadcast.ChannelStatus `json:"channels"`
	}
}

// GetStatus lists running loops and the attached session count.
func (h *ChannelHandler) GetStatus(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
	out := &StatusOutput{}
	out.Body.Sessions = h.controller.Sessions()
	out.Body.Channels = h.controller.ActiveChannels()
	return out, nil
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
