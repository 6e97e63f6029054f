package models

import (
	"net/url"

	"gorm.io/gorm"
)

// Library holds the base URL and credentials for a credentialed media
// source (Plex, Jellyfin, Emby). The resolver caches library rows at
// startup so item resolution never touches the database.
type Library struct {
	BaseModel

	// Name is a user-friendly label for the library.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	// SourceType is the server kind this library belongs to.
	SourceType SourceType `gorm:"not null;size:20;index" json:"source_type"`

	// BaseURL is the server root, e.g. "http://plex.local:32400".
	BaseURL string `gorm:"not null;size:2048" json:"base_url"`

	// Token is the access credential (X-Plex-Token or api_key).
	Token string `gorm:"size:512" json:"token,omitempty"`

	// SectionKey is the source-native library section identifier, when the
	// server scopes browsing by section (Plex library key, Jellyfin view id).
	SectionKey string `gorm:"size:255" json:"section_key,omitempty"`

	// Enabled libraries participate in resolution and sync.
	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for Library.
func (Library) TableName() string {
	return "libraries"
}

// IsEnabled reports whether the library participates in resolution.
func (l *Library) IsEnabled() bool {
	return BoolVal(l.Enabled)
}

// RequiresToken reports whether this library's source type needs credentials.
func (l *Library) RequiresToken() bool {
	return l.SourceType.Credentialed()
}

// Validate performs basic validation on the library.
func (l *Library) Validate() error {
	if l.Name == "" {
		return ErrNameRequired
	}
	if !l.SourceType.Valid() {
		return ErrInvalidSourceType
	}
	if l.BaseURL == "" {
		return ErrBaseURLRequired
	}
	if _, err := url.Parse(l.BaseURL); err != nil {
		return ErrInvalidURL
	}
	if l.RequiresToken() && l.Token == "" {
		return ErrTokenRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the library and generates ULID.
func (l *Library) BeforeCreate(tx *gorm.DB) error {
	if err := l.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return l.Validate()
}

// BeforeUpdate is a GORM hook that validates the library before update.
func (l *Library) BeforeUpdate(tx *gorm.DB) error {
	return l.Validate()
}
