package models

import (
	"regexp"

	"gorm.io/gorm"
)

// StreamingMode selects how a channel's items reach the wire.
type StreamingMode string

const (
	// StreamingModeCopy forces stream-copy; items whose codecs mismatch the
	// target are transcoded anyway.
	StreamingModeCopy StreamingMode = "copy"
	// StreamingModeTranscode forces a full re-encode for every item.
	StreamingModeTranscode StreamingMode = "transcode"
	// StreamingModeAuto decides per item from the codec/container probe.
	StreamingModeAuto StreamingMode = "auto"
)

// channelNumberPattern matches HDHomeRun-style guide numbers ("2", "1984.1").
var channelNumberPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Channel is a virtual linear TV channel presented to tuners.
type Channel struct {
	BaseModel

	// Number is the human guide number, e.g. "2" or "1984.1".
	// Unique across the lineup; this is what tuners address.
	Number string `gorm:"not null;size:32;uniqueIndex" json:"number"`

	// Name is the display name shown in lineups and the guide.
	Name string `gorm:"not null;size:512" json:"name"`

	// Group is an optional lineup group (maps to M3U group-title).
	// Stored as group_name since GROUP is reserved in SQL.
	Group string `gorm:"column:group_name;size:255;index" json:"group,omitempty"`

	// LogoURL is the upstream logo location; served via the logo cache.
	LogoURL string `gorm:"size:2048" json:"logo_url,omitempty"`

	// Enabled channels appear in the lineup and may be tuned.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// StreamingMode is the preferred delivery mode for this channel.
	StreamingMode StreamingMode `gorm:"not null;default:'auto';size:16" json:"streaming_mode"`

	// FFmpegProfile names the target encode profile (resolution, codecs,
	// bitrate) applied when transcoding. Empty selects the built-in default.
	FFmpegProfile string `gorm:"size:255" json:"ffmpeg_profile,omitempty"`

	// WatermarkURL is an optional overlay image composited during transcode.
	WatermarkURL string `gorm:"size:2048" json:"watermark_url,omitempty"`

	// FillerPresetID references the filler pool used for gap handling.
	FillerPresetID *ULID `gorm:"type:varchar(26);index" json:"filler_preset_id,omitempty"`

	// PreferredAudioLanguage selects the audio stream when several exist.
	PreferredAudioLanguage string `gorm:"size:16" json:"preferred_audio_language,omitempty"`

	// SubtitlesEnabled burns in subtitles when a matching track exists.
	SubtitlesEnabled bool `gorm:"default:false" json:"subtitles_enabled"`

	// FillerPreset is the relationship to the filler pool.
	FillerPreset *FillerPreset `gorm:"foreignKey:FillerPresetID" json:"filler_preset,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// IsEnabled reports whether the channel may be tuned.
func (c *Channel) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Number == "" {
		return ErrChannelNumberRequired
	}
	if !channelNumberPattern.MatchString(c.Number) {
		return ErrValidation{Field: "number", Message: "must be a guide number like '2' or '1984.1'"}
	}
	if c.Name == "" {
		return ErrNameRequired
	}
	switch c.StreamingMode {
	case StreamingModeCopy, StreamingModeTranscode, StreamingModeAuto:
	case "":
		c.StreamingMode = StreamingModeAuto
	default:
		return ErrInvalidStreamingMode
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates ULID.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
