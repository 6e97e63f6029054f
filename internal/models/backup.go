package models

import "time"

// BackupMetadata represents a backup file's metadata.
// This is derived from filesystem scanning and companion metadata files,
// not stored in the database.
type BackupMetadata struct {
	Filename       string      `json:"filename"`        // e.g., "exstreamtv-backup-2025-12-14T10-30-00.db.gz"
	FilePath       string      `json:"file_path"`       // Full path to backup file
	CreatedAt      time.Time   `json:"created_at"`      // Extracted from filename
	FileSize       int64       `json:"file_size"`       // Size in bytes
	Checksum       string      `json:"checksum"`        // SHA256 hash for integrity verification
	AppVersion     string      `json:"app_version"`     // Version that created the backup (from metadata file)
	DatabaseSize   int64       `json:"database_size"`   // Uncompressed size
	CompressedSize int64       `json:"compressed_size"` // Gzip compressed size
	TableCounts    TableCounts `json:"table_counts"`    // Row counts per table
}

// TableCounts holds row counts for key tables in a backup.
type TableCounts struct {
	Channels      int `json:"channels"`
	Libraries     int `json:"libraries"`
	MediaItems    int `json:"media_items"`
	Playlists     int `json:"playlists"`
	Collections   int `json:"collections"`
	Blocks        int `json:"blocks"`
	Schedules     int `json:"schedules"`
	Playouts      int `json:"playouts"`
	FillerPresets int `json:"filler_presets"`
}

// BackupMetadataFile is the structure stored in companion .meta.json files.
type BackupMetadataFile struct {
	AppVersion     string         `json:"app_version"`
	DatabaseSize   int64          `json:"database_size"`   // Uncompressed size
	CompressedSize int64          `json:"compressed_size"` // Gzip compressed size
	Checksum       string         `json:"checksum"`        // SHA256 of .db.gz file
	CreatedAt      time.Time      `json:"created_at"`
	TableCounts    map[string]int `json:"table_counts"` // Row counts per table
}

// ToTableCounts converts the map-based table counts to the structured TableCounts type.
func (m *BackupMetadataFile) ToTableCounts() TableCounts {
	return TableCounts{
		Channels:      m.TableCounts["channels"],
		Libraries:     m.TableCounts["libraries"],
		MediaItems:    m.TableCounts["media_items"],
		Playlists:     m.TableCounts["playlists"],
		Collections:   m.TableCounts["collections"],
		Blocks:        m.TableCounts["blocks"],
		Schedules:     m.TableCounts["schedules"],
		Playouts:      m.TableCounts["playouts"],
		FillerPresets: m.TableCounts["filler_presets"],
	}
}

// BackupScheduleInfo represents the backup schedule configuration for API responses.
type BackupScheduleInfo struct {
	Enabled   bool   `json:"enabled"`
	Cron      string `json:"cron"`
	Retention int    `json:"retention"`
}
