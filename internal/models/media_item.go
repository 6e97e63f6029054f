package models

import (
	"time"

	"gorm.io/gorm"
)

// SourceType identifies where a media item's bytes come from.
type SourceType string

const (
	// SourceTypePlex resolves through a Plex server part URL.
	SourceTypePlex SourceType = "plex"
	// SourceTypeJellyfin resolves through a Jellyfin video stream URL.
	SourceTypeJellyfin SourceType = "jellyfin"
	// SourceTypeEmby resolves through an Emby video stream URL.
	SourceTypeEmby SourceType = "emby"
	// SourceTypeLocal is a file under a configured media root.
	SourceTypeLocal SourceType = "local"
	// SourceTypeArchiveOrg resolves via the archive.org metadata API.
	SourceTypeArchiveOrg SourceType = "archive_org"
	// SourceTypeYouTube resolves via an external extractor subprocess.
	SourceTypeYouTube SourceType = "youtube"
	// SourceTypeM3U is a stored upstream stream URL.
	SourceTypeM3U SourceType = "m3u"
)

// Valid reports whether the source type is one of the known variants.
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypePlex, SourceTypeJellyfin, SourceTypeEmby,
		SourceTypeLocal, SourceTypeArchiveOrg, SourceTypeYouTube, SourceTypeM3U:
		return true
	}
	return false
}

// Credentialed reports whether items of this source type must reference a
// stored Library for base URL and token.
func (s SourceType) Credentialed() bool {
	switch s {
	case SourceTypePlex, SourceTypeJellyfin, SourceTypeEmby:
		return true
	}
	return false
}

// MediaType is the coarse classification used by smart collection predicates.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeClip    MediaType = "clip"
	MediaTypeOther   MediaType = "other"
)

// MediaItem is a single playable piece of media in the catalog.
type MediaItem struct {
	BaseModel

	// Title is the display title used in the guide.
	Title string `gorm:"not null;size:1024" json:"title"`

	// ShowTitle is the parent series title for episodes, used when the guide
	// substitutes placeholder titles.
	ShowTitle string `gorm:"size:1024" json:"show_title,omitempty"`

	// MediaType is the coarse classification (movie, episode, clip).
	MediaType MediaType `gorm:"size:20;index" json:"media_type,omitempty"`

	// SourceType selects the resolver strategy.
	SourceType SourceType `gorm:"not null;size:20;index" json:"source_type"`

	// SourceKey is the source-native identifier: Plex part key, YouTube video
	// id, archive.org identifier, local path relative to a media root, or a
	// raw URL for m3u items.
	SourceKey string `gorm:"not null;size:4096" json:"source_key"`

	// LibraryID references the credential row for plex/jellyfin/emby items.
	LibraryID *ULID `gorm:"type:varchar(26);index" json:"library_id,omitempty"`

	// DurationMs is the item runtime in milliseconds.
	DurationMs int64 `gorm:"not null" json:"duration_ms"`

	// Container is the probed container format ("mp4", "mkv", "mpegts").
	Container string `gorm:"size:32" json:"container,omitempty"`

	// VideoCodec is the probed video codec family ("h264", "hevc", "mpeg4").
	VideoCodec string `gorm:"size:32" json:"video_codec,omitempty"`

	// AudioCodec is the probed audio codec family ("aac", "ac3", "mp3").
	AudioCodec string `gorm:"size:32" json:"audio_codec,omitempty"`

	// Available is cleared when resolution repeatedly reports not_found.
	Available *bool `gorm:"default:true" json:"available"`

	// Year is the release year, when known.
	Year int `gorm:"default:0;index" json:"year,omitempty"`

	// Genres is a comma-separated genre list used by smart predicates.
	Genres string `gorm:"size:1024" json:"genres,omitempty"`

	// Rating is a content rating label ("PG-13", "TV-MA").
	Rating string `gorm:"size:32" json:"rating,omitempty"`

	// ProvisionalURL is the last resolved URL for expiring sources (youtube,
	// archive_org); consulted before the resolver when still fresh.
	ProvisionalURL string `gorm:"size:8192" json:"provisional_url,omitempty"`

	// URLExpiresAt is when ProvisionalURL stops being trustworthy.
	URLExpiresAt *time.Time `json:"url_expires_at,omitempty"`

	// FailureCount tracks consecutive resolution failures; items are marked
	// unavailable after repeated not_found results.
	FailureCount int `gorm:"default:0" json:"failure_count"`

	// Library is the relationship to the credential row.
	Library *Library `gorm:"foreignKey:LibraryID" json:"library,omitempty"`
}

// TableName returns the table name for MediaItem.
func (MediaItem) TableName() string {
	return "media_items"
}

// IsAvailable reports whether the item may be enumerated for playout.
func (m *MediaItem) IsAvailable() bool {
	return BoolVal(m.Available)
}

// Duration returns the item runtime as a time.Duration.
func (m *MediaItem) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// URLFresh reports whether ProvisionalURL can still be used at now.
func (m *MediaItem) URLFresh(now time.Time) bool {
	return m.ProvisionalURL != "" && m.URLExpiresAt != nil && now.Before(*m.URLExpiresAt)
}

// Validate performs basic validation on the media item.
func (m *MediaItem) Validate() error {
	if m.Title == "" {
		return ErrTitleRequired
	}
	if !m.SourceType.Valid() {
		return ErrInvalidSourceType
	}
	if m.SourceKey == "" {
		return ErrSourceKeyRequired
	}
	if m.SourceType.Credentialed() && (m.LibraryID == nil || m.LibraryID.IsZero()) {
		return ErrLibraryIDRequired
	}
	if m.DurationMs <= 0 {
		return ErrDurationRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the item and generates ULID.
func (m *MediaItem) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}

// BeforeUpdate is a GORM hook that validates the item before update.
func (m *MediaItem) BeforeUpdate(tx *gorm.DB) error {
	return m.Validate()
}
