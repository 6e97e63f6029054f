package repository

import (
	"context"
	"fmt"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// scheduleRepo implements ScheduleRepository using GORM.
type scheduleRepo struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *gorm.DB) *scheduleRepo {
	return &scheduleRepo{db: db}
}

// Create creates a new schedule.
func (r *scheduleRepo) Create(ctx context.Context, schedule *models.Schedule) error {
	if err := r.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}
	return nil
}

// GetByID retrieves a schedule with blocks and their members preloaded, in
// position order.
func (r *scheduleRepo) GetByID(ctx context.Context, id models.ULID) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.WithContext(ctx).
		Preload("Blocks", func(db *gorm.DB) *gorm.DB {
			return db.Order("schedule_blocks.position ASC")
		}).
		Preload("Blocks.Block.Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("block_items.position ASC")
		}).
		Where("id = ?", id).First(&schedule).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting schedule by ID: %w", err)
	}
	return &schedule, nil
}

// GetByName retrieves a schedule by name.
func (r *scheduleRepo) GetByName(ctx context.Context, name string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&schedule).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting schedule by name: %w", err)
	}
	return &schedule, nil
}

// GetAll retrieves all schedules without blocks.
func (r *scheduleRepo) GetAll(ctx context.Context) ([]*models.Schedule, error) {
	var schedules []*models.Schedule
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("getting schedules: %w", err)
	}
	return schedules, nil
}

// Update updates an existing schedule.
func (r *scheduleRepo) Update(ctx context.Context, schedule *models.Schedule) error {
	if err := r.db.WithContext(ctx).Save(schedule).Error; err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	return nil
}

// Delete deletes a schedule and its block bindings. Blocks themselves are
// shared and survive.
func (r *scheduleRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", id).Delete(&models.ScheduleBlock{}).Error; err != nil {
			return fmt.Errorf("deleting schedule blocks: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Schedule{}).Error; err != nil {
			return fmt.Errorf("deleting schedule: %w", err)
		}
		return nil
	})
}

// ReplaceBlocks atomically replaces the schedule's block bindings.
func (r *scheduleRepo) ReplaceBlocks(ctx context.Context, scheduleID models.ULID, blockIDs []models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", scheduleID).Delete(&models.ScheduleBlock{}).Error; err != nil {
			return fmt.Errorf("clearing schedule blocks: %w", err)
		}
		if len(blockIDs) == 0 {
			return nil
		}
		bindings := make([]models.ScheduleBlock, 0, len(blockIDs))
		for i, blockID := range blockIDs {
			bindings = append(bindings, models.ScheduleBlock{
				ScheduleID: scheduleID,
				BlockID:    blockID,
				Position:   i,
			})
		}
		if err := tx.Create(&bindings).Error; err != nil {
			return fmt.Errorf("inserting schedule blocks: %w", err)
		}
		return nil
	})
}

// Ensure scheduleRepo implements ScheduleRepository at compile time.
var _ ScheduleRepository = (*scheduleRepo)(nil)
