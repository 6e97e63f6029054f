package repository

import (
	"context"
	"fmt"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// fillerRepo implements FillerRepository using GORM.
type fillerRepo struct {
	db *gorm.DB
}

// NewFillerRepository creates a new FillerRepository.
func NewFillerRepository(db *gorm.DB) *fillerRepo {
	return &fillerRepo{db: db}
}

// Create creates a new filler preset.
func (r *fillerRepo) Create(ctx context.Context, preset *models.FillerPreset) error {
	if err := r.db.WithContext(ctx).Create(preset).Error; err != nil {
		return fmt.Errorf("creating filler preset: %w", err)
	}
	return nil
}

// GetByID retrieves a preset with its weighted items.
func (r *fillerRepo) GetByID(ctx context.Context, id models.ULID) (*models.FillerPreset, error) {
	var preset models.FillerPreset
	if err := r.db.WithContext(ctx).Preload("Items.MediaItem").Where("id = ?", id).First(&preset).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting filler preset by ID: %w", err)
	}
	return &preset, nil
}

// GetByName retrieves a preset by name.
func (r *fillerRepo) GetByName(ctx context.Context, name string) (*models.FillerPreset, error) {
	var preset models.FillerPreset
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&preset).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting filler preset by name: %w", err)
	}
	return &preset, nil
}

// GetAll retrieves all presets without items.
func (r *fillerRepo) GetAll(ctx context.Context) ([]*models.FillerPreset, error) {
	var presets []*models.FillerPreset
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&presets).Error; err != nil {
		return nil, fmt.Errorf("getting filler presets: %w", err)
	}
	return presets, nil
}

// Update updates an existing preset.
func (r *fillerRepo) Update(ctx context.Context, preset *models.FillerPreset) error {
	if err := r.db.WithContext(ctx).Save(preset).Error; err != nil {
		return fmt.Errorf("updating filler preset: %w", err)
	}
	return nil
}

// Delete deletes a preset and its items.
func (r *fillerRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("filler_preset_id = ?", id).Delete(&models.FillerItem{}).Error; err != nil {
			return fmt.Errorf("deleting filler items: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.FillerPreset{}).Error; err != nil {
			return fmt.Errorf("deleting filler preset: %w", err)
		}
		return nil
	})
}

// ReplaceItems atomically replaces the preset membership.
func (r *fillerRepo) ReplaceItems(ctx context.Context, presetID models.ULID, items []models.FillerItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("filler_preset_id = ?", presetID).Delete(&models.FillerItem{}).Error; err != nil {
			return fmt.Errorf("clearing filler items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].FillerPresetID = presetID
			if items[i].Weight < 1 {
				items[i].Weight = 1
			}
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("inserting filler items: %w", err)
		}
		return nil
	})
}

// Ensure fillerRepo implements FillerRepository at compile time.
var _ FillerRepository = (*fillerRepo)(nil)
