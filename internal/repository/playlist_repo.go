package repository

import (
	"context"
	"fmt"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// playlistRepo implements PlaylistRepository using GORM.
type playlistRepo struct {
	db *gorm.DB
}

// NewPlaylistRepository creates a new PlaylistRepository.
func NewPlaylistRepository(db *gorm.DB) *playlistRepo {
	return &playlistRepo{db: db}
}

// Create creates a new playlist.
func (r *playlistRepo) Create(ctx context.Context, playlist *models.Playlist) error {
	if err := r.db.WithContext(ctx).Create(playlist).Error; err != nil {
		return fmt.Errorf("creating playlist: %w", err)
	}
	return nil
}

// GetByID retrieves a playlist with its items in position order.
func (r *playlistRepo) GetByID(ctx context.Context, id models.ULID) (*models.Playlist, error) {
	var playlist models.Playlist
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("playlist_items.position ASC")
		}).
		Where("id = ?", id).First(&playlist).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playlist by ID: %w", err)
	}
	return &playlist, nil
}

// GetByName retrieves a playlist by name.
func (r *playlistRepo) GetByName(ctx context.Context, name string) (*models.Playlist, error) {
	var playlist models.Playlist
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&playlist).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playlist by name: %w", err)
	}
	return &playlist, nil
}

// GetAll retrieves all playlists without items.
func (r *playlistRepo) GetAll(ctx context.Context) ([]*models.Playlist, error) {
	var playlists []*models.Playlist
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&playlists).Error; err != nil {
		return nil, fmt.Errorf("getting playlists: %w", err)
	}
	return playlists, nil
}

// Update updates an existing playlist.
func (r *playlistRepo) Update(ctx context.Context, playlist *models.Playlist) error {
	if err := r.db.WithContext(ctx).Save(playlist).Error; err != nil {
		return fmt.Errorf("updating playlist: %w", err)
	}
	return nil
}

// Delete deletes a playlist and its items.
func (r *playlistRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", id).Delete(&models.PlaylistItem{}).Error; err != nil {
			return fmt.Errorf("deleting playlist items: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Playlist{}).Error; err != nil {
			return fmt.Errorf("deleting playlist: %w", err)
		}
		return nil
	})
}

// ReplaceItems atomically replaces the playlist membership.
func (r *playlistRepo) ReplaceItems(ctx context.Context, playlistID models.ULID, mediaItemIDs []models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", playlistID).Delete(&models.PlaylistItem{}).Error; err != nil {
			return fmt.Errorf("clearing playlist items: %w", err)
		}
		if len(mediaItemIDs) == 0 {
			return nil
		}
		items := make([]models.PlaylistItem, 0, len(mediaItemIDs))
		for i, mediaItemID := range mediaItemIDs {
			items = append(items, models.PlaylistItem{
				PlaylistID:  playlistID,
				MediaItemID: mediaItemID,
				Position:    i,
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("inserting playlist items: %w", err)
		}
		return nil
	})
}

// GetMediaItems returns the playlist's media items in position order.
func (r *playlistRepo) GetMediaItems(ctx context.Context, playlistID models.ULID) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	if err := r.db.WithContext(ctx).
		Joins("JOIN playlist_items ON playlist_items.media_item_id = media_items.id").
		Where("playlist_items.playlist_id = ?", playlistID).
		Order("playlist_items.position ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting playlist media items: %w", err)
	}
	return items, nil
}

// Ensure playlistRepo implements PlaylistRepository at compile time.
var _ PlaylistRepository = (*playlistRepo)(nil)
