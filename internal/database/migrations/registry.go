// Package migrations provides database migration management for exstreamtv.
package migrations

import (
	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
// - 001: Schema creation using GORM AutoMigrate
// - 002: Default filler preset for channels without one
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002DefaultFillerPreset(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			// AutoMigrate all models in dependency order
			return tx.AutoMigrate(
				// Catalog
				&models.Library{},
				&models.MediaItem{},

				// Programming
				&models.Playlist{},
				&models.PlaylistItem{},
				&models.Collection{},
				&models.CollectionItem{},
				&models.Block{},
				&models.BlockItem{},
				&models.Schedule{},
				&models.ScheduleBlock{},

				// Filler
				&models.FillerPreset{},
				&models.FillerItem{},

				// Channels and playout
				&models.Channel{},
				&models.Playout{},
				&models.PlayoutState{},
				&models.PlayoutItem{},
			)
		},
		Down: func(tx *gorm.DB) error {
			// Drop tables in reverse dependency order
			tables := []string{
				"playout_items",
				"playout_states",
				"playouts",
				"channels",
				"filler_items",
				"filler_presets",
				"schedule_blocks",
				"schedules",
				"block_items",
				"blocks",
				"collection_items",
				"collections",
				"playlist_items",
				"playlists",
				"media_items",
				"libraries",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002DefaultFillerPreset seeds a pad_to_minute preset so fresh
// installs have a sane filler default to bind channels to.
func migration002DefaultFillerPreset() Migration {
	return Migration{
		Version:     "002",
		Description: "Insert default filler preset",
		Up: func(tx *gorm.DB) error {
			preset := models.FillerPreset{
				Name: "Default",
				Mode: models.FillerPadToMinute,
			}
			return tx.Create(&preset).Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Where("name = ?", "Default").Delete(&models.FillerPreset{}).Error
		},
	}
}
