package models

import (
	"time"

	"gorm.io/gorm"
)

// Playout binds a channel to its programming source: a weekly schedule or a
// raw playlist. At most one playout exists per channel.
type Playout struct {
	BaseModel

	ChannelID ULID `gorm:"type:varchar(26);not null;uniqueIndex" json:"channel_id"`

	// ScheduleID selects weekly block programming.
	ScheduleID *ULID `gorm:"type:varchar(26);index" json:"schedule_id,omitempty"`

	// PlaylistID selects continuous playlist programming; ignored when
	// ScheduleID is set.
	PlaylistID *ULID `gorm:"type:varchar(26);index" json:"playlist_id,omitempty"`

	Channel  *Channel      `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
	Schedule *Schedule     `gorm:"foreignKey:ScheduleID" json:"schedule,omitempty"`
	Playlist *Playlist     `gorm:"foreignKey:PlaylistID" json:"playlist,omitempty"`
	State    *PlayoutState `gorm:"foreignKey:PlayoutID" json:"state,omitempty"`
}

// TableName returns the table name for Playout.
func (Playout) TableName() string {
	return "playouts"
}

// Validate checks the playout references a programming source.
func (p *Playout) Validate() error {
	if p.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	hasSchedule := p.ScheduleID != nil && !p.ScheduleID.IsZero()
	hasPlaylist := p.PlaylistID != nil && !p.PlaylistID.IsZero()
	if !hasSchedule && !hasPlaylist {
		return ErrScheduleIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the playout and generates ULID.
func (p *Playout) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the playout before update.
func (p *Playout) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}

// PlayoutState is the persisted resume point for a channel loop: which item
// was playing, how far in, and the wall-clock anchor the timeline was built
// from. Written at item boundaries and on graceful shutdown; the channel
// loop is the only writer.
type PlayoutState struct {
	BaseModel

	PlayoutID ULID `gorm:"type:varchar(26);not null;uniqueIndex" json:"playout_id"`

	// CurrentItemID is the media item that was playing at OffsetMs.
	CurrentItemID *ULID `gorm:"type:varchar(26)" json:"current_item_id,omitempty"`

	// OffsetMs is the playback position inside the current item.
	// Invariant: 0 <= OffsetMs < item.DurationMs.
	OffsetMs int64 `gorm:"default:0" json:"offset_ms"`

	// EnumeratorState is the opaque serialized enumerator cursor (shuffle
	// position, recent-repeat window, group rotation).
	EnumeratorState string `gorm:"type:text" json:"enumerator_state,omitempty"`

	// AnchorTime is the wall clock at which CurrentItem began at offset 0.
	// Rebuilding the timeline from AnchorTime reproduces the same item
	// sequence up to CurrentItemID.
	AnchorTime time.Time `json:"anchor_time"`
}

// TableName returns the table name for PlayoutState.
func (PlayoutState) TableName() string {
	return "playout_states"
}

// PlayoutItem is one entry of a channel's materialized timeline. Entries
// never overlap and abut within a filled stretch. Program entries always
// span the item's full runtime; filler cut at a block boundary spans less.
// A schedule waiting for its next block with no filler configured leaves a
// gap, which airs as slate.
type PlayoutItem struct {
	BaseModel

	ChannelID   ULID `gorm:"type:varchar(26);not null;index:idx_timeline_channel_start" json:"channel_id"`
	MediaItemID ULID `gorm:"type:varchar(26);not null;index" json:"media_item_id"`

	StartTime time.Time `gorm:"not null;index:idx_timeline_channel_start" json:"start_time"`
	StopTime  time.Time `gorm:"not null" json:"stop_time"`

	// Title is denormalized for guide rendering.
	Title string `gorm:"not null;size:1024" json:"title"`

	// IsFiller marks gap-handling content that never advanced the enumerator.
	IsFiller bool `gorm:"default:false" json:"is_filler"`
}

// TableName returns the table name for PlayoutItem.
func (PlayoutItem) TableName() string {
	return "playout_items"
}

// Duration returns the scheduled runtime of the entry.
func (pi *PlayoutItem) Duration() time.Duration {
	return pi.StopTime.Sub(pi.StartTime)
}

// Covers reports whether t falls inside [StartTime, StopTime).
func (pi *PlayoutItem) Covers(t time.Time) bool {
	return !t.Before(pi.StartTime) && t.Before(pi.StopTime)
}

// Validate performs basic validation on the timeline entry.
func (pi *PlayoutItem) Validate() error {
	if pi.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if pi.MediaItemID.IsZero() {
		return ErrMediaItemIDRequired
	}
	if pi.Title == "" {
		return ErrTitleRequired
	}
	if !pi.StopTime.After(pi.StartTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the entry and generates ULID.
func (pi *PlayoutItem) BeforeCreate(tx *gorm.DB) error {
	if err := pi.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return pi.Validate()
}
