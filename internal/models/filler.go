package models

import (
	"gorm.io/gorm"
)

// FillerMode controls where filler content is inserted around items.
type FillerMode string

const (
	// FillerPreRoll inserts filler before each item.
	FillerPreRoll FillerMode = "pre_roll"
	// FillerMidRoll inserts filler every MidRollIntervalMs inside items.
	FillerMidRoll FillerMode = "mid_roll"
	// FillerPostRoll inserts filler after each item.
	FillerPostRoll FillerMode = "post_roll"
	// FillerTailOnly inserts filler only into trailing schedule gaps.
	FillerTailOnly FillerMode = "tail_only"
	// FillerPadToMinute fills so the next block starts on a minute boundary.
	FillerPadToMinute FillerMode = "pad_to_minute"
)

// Valid reports whether the mode is a known filler mode.
func (m FillerMode) Valid() bool {
	switch m {
	case FillerPreRoll, FillerMidRoll, FillerPostRoll, FillerTailOnly, FillerPadToMinute:
		return true
	}
	return false
}

// FillerPreset is a weighted pool of short content used to fill schedule
// gaps. Filler selections never advance a channel's enumerator cursor.
type FillerPreset struct {
	BaseModel

	// Name is a user-friendly label, unique across presets.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	// Mode controls insertion placement.
	Mode FillerMode `gorm:"not null;default:'tail_only';size:16" json:"mode"`

	// MidRollIntervalMs is the insertion interval for mode 'mid_roll'.
	MidRollIntervalMs int64 `gorm:"default:0" json:"mid_roll_interval_ms,omitempty"`

	// Items is the weighted selection pool.
	Items []FillerItem `gorm:"foreignKey:FillerPresetID" json:"items,omitempty"`
}

// TableName returns the table name for FillerPreset.
func (FillerPreset) TableName() string {
	return "filler_presets"
}

// Validate performs basic validation on the preset.
func (f *FillerPreset) Validate() error {
	if f.Name == "" {
		return ErrNameRequired
	}
	if f.Mode == "" {
		f.Mode = FillerTailOnly
	}
	if !f.Mode.Valid() {
		return ErrInvalidFillerMode
	}
	if f.Mode == FillerMidRoll && f.MidRollIntervalMs <= 0 {
		return ErrValidation{Field: "mid_roll_interval_ms", Message: "must be positive for mode 'mid_roll'"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the preset and generates ULID.
func (f *FillerPreset) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return f.Validate()
}

// BeforeUpdate is a GORM hook that validates the preset before update.
func (f *FillerPreset) BeforeUpdate(tx *gorm.DB) error {
	return f.Validate()
}

// FillerItem is one weighted member of a filler preset.
type FillerItem struct {
	BaseModel

	FillerPresetID ULID `gorm:"type:varchar(26);not null;index" json:"filler_preset_id"`
	MediaItemID    ULID `gorm:"type:varchar(26);not null;index" json:"media_item_id"`

	// Weight biases random selection; minimum effective weight is 1.
	Weight int `gorm:"default:1" json:"weight"`

	MediaItem *MediaItem `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
}

// TableName returns the table name for FillerItem.
func (FillerItem) TableName() string {
	return "filler_items"
}
