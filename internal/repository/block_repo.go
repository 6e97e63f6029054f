package repository

import (
	"context"
	"fmt"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// blockRepo implements BlockRepository using GORM.
type blockRepo struct {
	db *gorm.DB
}

// NewBlockRepository creates a new BlockRepository.
func NewBlockRepository(db *gorm.DB) *blockRepo {
	return &blockRepo{db: db}
}

// Create creates a new block.
func (r *blockRepo) Create(ctx context.Context, block *models.Block) error {
	if err := r.db.WithContext(ctx).Create(block).Error; err != nil {
		return fmt.Errorf("creating block: %w", err)
	}
	return nil
}

// GetByID retrieves a block with its items in position order.
func (r *blockRepo) GetByID(ctx context.Context, id models.ULID) (*models.Block, error) {
	var block models.Block
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("block_items.position ASC")
		}).
		Where("id = ?", id).First(&block).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting block by ID: %w", err)
	}
	return &block, nil
}

// GetAll retrieves all blocks without items.
func (r *blockRepo) GetAll(ctx context.Context) ([]*models.Block, error) {
	var blocks []*models.Block
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("getting blocks: %w", err)
	}
	return blocks, nil
}

// Update updates an existing block.
func (r *blockRepo) Update(ctx context.Context, block *models.Block) error {
	if err := r.db.WithContext(ctx).Save(block).Error; err != nil {
		return fmt.Errorf("updating block: %w", err)
	}
	return nil
}

// Delete deletes a block and its items.
func (r *blockRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("block_id = ?", id).Delete(&models.BlockItem{}).Error; err != nil {
			return fmt.Errorf("deleting block items: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Block{}).Error; err != nil {
			return fmt.Errorf("deleting block: %w", err)
		}
		return nil
	})
}

// ReplaceItems atomically replaces the block membership. Item positions are
// assigned from slice order.
func (r *blockRepo) ReplaceItems(ctx context.Context, blockID models.ULID, items []models.BlockItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("block_id = ?", blockID).Delete(&models.BlockItem{}).Error; err != nil {
			return fmt.Errorf("clearing block items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].BlockID = blockID
			items[i].Position = i
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("inserting block items: %w", err)
		}
		return nil
	})
}

// Ensure blockRepo implements BlockRepository at compile time.
var _ BlockRepository = (*blockRepo)(nil)
