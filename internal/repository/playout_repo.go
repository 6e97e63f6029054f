package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// playoutRepo implements PlayoutRepository using GORM.
type playoutRepo struct {
	db *gorm.DB
}

// NewPlayoutRepository creates a new PlayoutRepository.
func NewPlayoutRepository(db *gorm.DB) *playoutRepo {
	return &playoutRepo{db: db}
}

// Create creates a new playout binding.
func (r *playoutRepo) Create(ctx context.Context, playout *models.Playout) error {
	if err := r.db.WithContext(ctx).Create(playout).Error; err != nil {
		return fmt.Errorf("creating playout: %w", err)
	}
	return nil
}

// GetByID retrieves a playout by ID.
func (r *playoutRepo) GetByID(ctx context.Context, id models.ULID) (*models.Playout, error) {
	var playout models.Playout
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&playout).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playout by ID: %w", err)
	}
	return &playout, nil
}

// GetByChannelID retrieves the playout for a channel with its programming
// source preloaded: schedule blocks (and their members) or playlist items,
// all in position order, plus the persisted loop state.
func (r *playoutRepo) GetByChannelID(ctx context.Context, channelID models.ULID) (*models.Playout, error) {
	var playout models.Playout
	if err := r.db.WithContext(ctx).
		Preload("Channel").
		Preload("State").
		Preload("Schedule.Blocks", func(db *gorm.DB) *gorm.DB {
			return db.Order("schedule_blocks.position ASC")
		}).
		Preload("Schedule.Blocks.Block.Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("block_items.position ASC")
		}).
		Preload("Playlist.Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("playlist_items.position ASC")
		}).
		Where("channel_id = ?", channelID).First(&playout).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playout by channel ID: %w", err)
	}
	return &playout, nil
}

// GetAll retrieves all playouts with channels preloaded.
func (r *playoutRepo) GetAll(ctx context.Context) ([]*models.Playout, error) {
	var playouts []*models.Playout
	if err := r.db.WithContext(ctx).Preload("Channel").Find(&playouts).Error; err != nil {
		return nil, fmt.Errorf("getting playouts: %w", err)
	}
	return playouts, nil
}

// Update updates an existing playout.
func (r *playoutRepo) Update(ctx context.Context, playout *models.Playout) error {
	if err := r.db.WithContext(ctx).Save(playout).Error; err != nil {
		return fmt.Errorf("updating playout: %w", err)
	}
	return nil
}

// Delete deletes a playout, its state, and its timeline.
func (r *playoutRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playout models.Playout
		if err := tx.Where("id = ?", id).First(&playout).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return fmt.Errorf("getting playout: %w", err)
		}
		if err := tx.Where("playout_id = ?", id).Delete(&models.PlayoutState{}).Error; err != nil {
			return fmt.Errorf("deleting playout state: %w", err)
		}
		if err := tx.Where("channel_id = ?", playout.ChannelID).Delete(&models.PlayoutItem{}).Error; err != nil {
			return fmt.Errorf("deleting playout timeline: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Playout{}).Error; err != nil {
			return fmt.Errorf("deleting playout: %w", err)
		}
		return nil
	})
}

// SaveState upserts the persisted loop state for a playout. The channel loop
// is the only writer, so last-write-wins on playout_id is safe.
func (r *playoutRepo) SaveState(ctx context.Context, state *models.PlayoutState) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "playout_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_item_id", "offset_ms", "enumerator_state", "anchor_time", "updated_at",
		}),
	}).Create(state).Error; err != nil {
		return fmt.Errorf("saving playout state: %w", err)
	}
	return nil
}

// GetState retrieves the persisted loop state, nil if none.
func (r *playoutRepo) GetState(ctx context.Context, playoutID models.ULID) (*models.PlayoutState, error) {
	var state models.PlayoutState
	if err := r.db.WithContext(ctx).Where("playout_id = ?", playoutID).First(&state).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting playout state: %w", err)
	}
	return &state, nil
}

// ReplaceTimelineFrom deletes timeline entries starting at or after from and
// inserts the given entries, atomically. An entry written before an unclean
// shutdown can span past from; it is clamped so history never overlaps the
// replacement. Used when a rebuild re-projects the future while history
// stays put.
func (r *playoutRepo) ReplaceTimelineFrom(ctx context.Context, channelID models.ULID, from time.Time, items []*models.PlayoutItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ? AND start_time >= ?", channelID, from).Delete(&models.PlayoutItem{}).Error; err != nil {
			return fmt.Errorf("clearing timeline from %s: %w", from.Format(time.RFC3339), err)
		}
		if err := tx.Model(&models.PlayoutItem{}).
			Where("channel_id = ? AND start_time < ? AND stop_time > ?", channelID, from, from).
			Update("stop_time", from).Error; err != nil {
			return fmt.Errorf("clamping timeline overlap at %s: %w", from.Format(time.RFC3339), err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(items, 500).Error; err != nil {
			return fmt.Errorf("inserting timeline entries: %w", err)
		}
		return nil
	})
}

// AppendTimeline inserts timeline entries.
func (r *playoutRepo) AppendTimeline(ctx context.Context, items []*models.PlayoutItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(items, 500).Error; err != nil {
		return fmt.Errorf("appending timeline entries: %w", err)
	}
	return nil
}

// GetTimelineRange returns entries overlapping [from, to) in start order.
func (r *playoutRepo) GetTimelineRange(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error) {
	var items []*models.PlayoutItem
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND stop_time > ? AND start_time < ?", channelID, from, to).
		Order("start_time ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting timeline range: %w", err)
	}
	return items, nil
}

// GetTimelineAt returns the entry covering t, nil if none.
func (r *playoutRepo) GetTimelineAt(ctx context.Context, channelID models.ULID, t time.Time) (*models.PlayoutItem, error) {
	var item models.PlayoutItem
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND start_time <= ? AND stop_time > ?", channelID, t, t).
		First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting timeline entry at %s: %w", t.Format(time.RFC3339), err)
	}
	return &item, nil
}

// GetLastTimelineItem returns the latest entry for a channel, nil if none.
func (r *playoutRepo) GetLastTimelineItem(ctx context.Context, channelID models.ULID) (*models.PlayoutItem, error) {
	var item models.PlayoutItem
	if err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("start_time DESC").
		First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting last timeline entry: %w", err)
	}
	return &item, nil
}

// DeleteTimelineBefore trims entries that stopped before the cutoff and
// returns the number removed.
func (r *playoutRepo) DeleteTimelineBefore(ctx context.Context, channelID models.ULID, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("channel_id = ? AND stop_time <= ?", channelID, cutoff).
		Delete(&models.PlayoutItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("trimming timeline: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Transaction executes the given function within a database transaction.
// The provided function receives a transactional repository.
// If the function returns an error, the transaction is rolled back.
func (r *playoutRepo) Transaction(ctx context.Context, fn func(PlayoutRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &playoutRepo{db: tx}
		return fn(txRepo)
	})
}

// Ensure playoutRepo implements PlayoutRepository at compile time.
var _ PlayoutRepository = (*playoutRepo)(nil)
