// Package repository defines data access interfaces for exstreamtv entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByNumber retrieves a channel by its lineup number (e.g. "2" or "2.1").
	GetByNumber(ctx context.Context, number string) (*models.Channel, error)
	// GetAll retrieves all channels in lineup order.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetEnabled retrieves all enabled channels in lineup order.
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel by ID.
	Delete(ctx context.Context, id models.ULID) error
	// Count returns the total number of channels.
	Count(ctx context.Context) (int64, error)
	// CountEnabled returns the number of enabled channels.
	CountEnabled(ctx context.Context) (int64, error)
	// GetDistinctGroups returns all unique channel groups.
	GetDistinctGroups(ctx context.Context) ([]string, error)
	// Transaction executes the given function within a database transaction.
	// The provided function receives a transactional repository.
	// If the function returns an error, the transaction is rolled back.
	Transaction(ctx context.Context, fn func(ChannelRepository) error) error
}

// LibraryRepository defines operations for media library persistence.
type LibraryRepository interface {
	// Create creates a new library.
	Create(ctx context.Context, library *models.Library) error
	// GetByID retrieves a library by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Library, error)
	// GetByName retrieves a library by name.
	GetByName(ctx context.Context, name string) (*models.Library, error)
	// GetAll retrieves all libraries.
	GetAll(ctx context.Context) ([]*models.Library, error)
	// GetEnabled retrieves all enabled libraries.
	GetEnabled(ctx context.Context) ([]*models.Library, error)
	// Update updates an existing library.
	Update(ctx context.Context, library *models.Library) error
	// Delete deletes a library by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// MediaItemRepository defines operations for media item persistence.
type MediaItemRepository interface {
	// Create creates a new media item.
	Create(ctx context.Context, item *models.MediaItem) error
	// CreateInBatches creates multiple media items in batches.
	CreateInBatches(ctx context.Context, items []*models.MediaItem, batchSize int) error
	// GetByID retrieves a media item by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error)
	// GetByIDs retrieves media items by ID, preserving no particular order.
	GetByIDs(ctx context.Context, ids []models.ULID) ([]*models.MediaItem, error)
	// GetBySourceKey retrieves a media item by library and source key.
	GetBySourceKey(ctx context.Context, libraryID models.ULID, key string) (*models.MediaItem, error)
	// GetByLibraryID retrieves media items for a library with pagination.
	GetByLibraryID(ctx context.Context, libraryID models.ULID, offset, limit int) ([]*models.MediaItem, int64, error)
	// FindMatching evaluates a smart collection query against available items.
	FindMatching(ctx context.Context, query models.SmartQuery) ([]*models.MediaItem, error)
	// GetUnavailable retrieves up to limit unavailable items, oldest first.
	GetUnavailable(ctx context.Context, limit int) ([]*models.MediaItem, error)
	// Update updates an existing media item.
	Update(ctx context.Context, item *models.MediaItem) error
	// UpdateURL stores a freshly resolved playback URL with its expiry.
	UpdateURL(ctx context.Context, id models.ULID, url string, expiresAt time.Time) error
	// ClearURL drops a provisional URL, forcing re-resolution.
	ClearURL(ctx context.Context, id models.ULID) error
	// SetAvailability flips item availability and resets the failure count
	// when the item comes back.
	SetAvailability(ctx context.Context, id models.ULID, available bool) error
	// IncrementFailureCount bumps the metadata failure counter and returns
	// the new value.
	IncrementFailureCount(ctx context.Context, id models.ULID) (int, error)
	// Delete deletes a media item by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteByLibraryID deletes all media items for a library.
	DeleteByLibraryID(ctx context.Context, libraryID models.ULID) error
	// Count returns the total number of media items.
	Count(ctx context.Context) (int64, error)
	// CountUnavailable returns the number of unavailable media items.
	CountUnavailable(ctx context.Context) (int64, error)
}

// PlaylistRepository defines operations for playlist persistence.
type PlaylistRepository interface {
	// Create creates a new playlist.
	Create(ctx context.Context, playlist *models.Playlist) error
	// GetByID retrieves a playlist with its items in position order.
	GetByID(ctx context.Context, id models.ULID) (*models.Playlist, error)
	// GetByName retrieves a playlist by name.
	GetByName(ctx context.Context, name string) (*models.Playlist, error)
	// GetAll retrieves all playlists without items.
	GetAll(ctx context.Context) ([]*models.Playlist, error)
	// Update updates an existing playlist.
	Update(ctx context.Context, playlist *models.Playlist) error
	// Delete deletes a playlist and its items.
	Delete(ctx context.Context, id models.ULID) error
	// ReplaceItems atomically replaces the playlist membership.
	ReplaceItems(ctx context.Context, playlistID models.ULID, mediaItemIDs []models.ULID) error
	// GetMediaItems returns the playlist's media items in position order.
	GetMediaItems(ctx context.Context, playlistID models.ULID) ([]*models.MediaItem, error)
}

// CollectionRepository defines operations for collection persistence.
type CollectionRepository interface {
	// Create creates a new collection.
	Create(ctx context.Context, collection *models.Collection) error
	// GetByID retrieves a collection with its items in position order.
	GetByID(ctx context.Context, id models.ULID) (*models.Collection, error)
	// GetByName retrieves a collection by name.
	GetByName(ctx context.Context, name string) (*models.Collection, error)
	// GetAll retrieves all collections without items.
	GetAll(ctx context.Context) ([]*models.Collection, error)
	// Update updates an existing collection.
	Update(ctx context.Context, collection *models.Collection) error
	// Delete deletes a collection and its items.
	Delete(ctx context.Context, id models.ULID) error
	// ReplaceItems atomically replaces a static collection's membership.
	ReplaceItems(ctx context.Context, collectionID models.ULID, mediaItemIDs []models.ULID) error
	// GetStaticItems returns a static collection's media items in position order.
	GetStaticItems(ctx context.Context, collectionID models.ULID) ([]*models.MediaItem, error)
}

// BlockRepository defines operations for programming block persistence.
type BlockRepository interface {
	// Create creates a new block.
	Create(ctx context.Context, block *models.Block) error
	// GetByID retrieves a block with its items in position order.
	GetByID(ctx context.Context, id models.ULID) (*models.Block, error)
	// GetAll retrieves all blocks without items.
	GetAll(ctx context.Context) ([]*models.Block, error)
	// Update updates an existing block.
	Update(ctx context.Context, block *models.Block) error
	// Delete deletes a block and its items.
	Delete(ctx context.Context, id models.ULID) error
	// ReplaceItems atomically replaces the block membership.
	ReplaceItems(ctx context.Context, blockID models.ULID, items []models.BlockItem) error
}

// ScheduleRepository defines operations for schedule persistence.
type ScheduleRepository interface {
	// Create creates a new schedule.
	Create(ctx context.Context, schedule *models.Schedule) error
	// GetByID retrieves a schedule with blocks and their members preloaded.
	GetByID(ctx context.Context, id models.ULID) (*models.Schedule, error)
	// GetByName retrieves a schedule by name.
	GetByName(ctx context.Context, name string) (*models.Schedule, error)
	// GetAll retrieves all schedules without blocks.
	GetAll(ctx context.Context) ([]*models.Schedule, error)
	// Update updates an existing schedule.
	Update(ctx context.Context, schedule *models.Schedule) error
	// Delete deletes a schedule and its block bindings.
	Delete(ctx context.Context, id models.ULID) error
	// ReplaceBlocks atomically replaces the schedule's block bindings.
	ReplaceBlocks(ctx context.Context, scheduleID models.ULID, blockIDs []models.ULID) error
}

// FillerRepository defines operations for filler preset persistence.
type FillerRepository interface {
	// Create creates a new filler preset.
	Create(ctx context.Context, preset *models.FillerPreset) error
	// GetByID retrieves a preset with its weighted items.
	GetByID(ctx context.Context, id models.ULID) (*models.FillerPreset, error)
	// GetByName retrieves a preset by name.
	GetByName(ctx context.Context, name string) (*models.FillerPreset, error)
	// GetAll retrieves all presets without items.
	GetAll(ctx context.Context) ([]*models.FillerPreset, error)
	// Update updates an existing preset.
	Update(ctx context.Context, preset *models.FillerPreset) error
	// Delete deletes a preset and its items.
	Delete(ctx context.Context, id models.ULID) error
	// ReplaceItems atomically replaces the preset membership.
	ReplaceItems(ctx context.Context, presetID models.ULID, items []models.FillerItem) error
}

// PlayoutRepository defines operations for playout bindings, persisted loop
// state, and the materialized channel timeline.
type PlayoutRepository interface {
	// Create creates a new playout binding.
	Create(ctx context.Context, playout *models.Playout) error
	// GetByID retrieves a playout by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Playout, error)
	// GetByChannelID retrieves the playout for a channel with its programming
	// source preloaded (schedule blocks or playlist items).
	GetByChannelID(ctx context.Context, channelID models.ULID) (*models.Playout, error)
	// GetAll retrieves all playouts with channels preloaded.
	GetAll(ctx context.Context) ([]*models.Playout, error)
	// Update updates an existing playout.
	Update(ctx context.Context, playout *models.Playout) error
	// Delete deletes a playout, its state, and its timeline.
	Delete(ctx context.Context, id models.ULID) error

	// SaveState upserts the persisted loop state for a playout.
	SaveState(ctx context.Context, state *models.PlayoutState) error
	// GetState retrieves the persisted loop state, nil if none.
	GetState(ctx context.Context, playoutID models.ULID) (*models.PlayoutState, error)

	// ReplaceTimelineFrom deletes timeline entries starting at or after from,
	// clamps any entry spanning from, and inserts the given entries,
	// atomically.
	ReplaceTimelineFrom(ctx context.Context, channelID models.ULID, from time.Time, items []*models.PlayoutItem) error
	// AppendTimeline inserts timeline entries.
	AppendTimeline(ctx context.Context, items []*models.PlayoutItem) error
	// GetTimelineRange returns entries overlapping [from, to) in start order.
	GetTimelineRange(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error)
	// GetTimelineAt returns the entry covering t, nil if none.
	GetTimelineAt(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error)
	// GetLastTimelineItem returns the latest entry for a channel, nil if none.
	GetLastTimelineItem(ctx context.Context, channelID models.ULID) (*models.PlayoutItem, error)
	// DeleteTimelineBefore trims entries that stopped before the cutoff and
	// returns the number removed.
	DeleteTimelineBefore(ctx context.Context, channelID models.ULID, cutoff time.Time) (int64, error)

	// Transaction executes the given function within a database transaction.
	Transaction(ctx context.Context, fn func(PlayoutRepository) error) error
}
