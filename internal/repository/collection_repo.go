package repository

import (
	"context"
	"fmt"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// collectionRepo implements CollectionRepository using GORM.
type collectionRepo struct {
	db *gorm.DB
}

// NewCollectionRepository creates a new CollectionRepository.
func NewCollectionRepository(db *gorm.DB) *collectionRepo {
	return &collectionRepo{db: db}
}

// Create creates a new collection.
func (r *collectionRepo) Create(ctx context.Context, collection *models.Collection) error {
	if err := r.db.WithContext(ctx).Create(collection).Error; err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	return nil
}

// GetByID retrieves a collection with its items in position order.
func (r *collectionRepo) GetByID(ctx context.Context, id models.ULID) (*models.Collection, error) {
	var collection models.Collection
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("collection_items.position ASC")
		}).
		Where("id = ?", id).First(&collection).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting collection by ID: %w", err)
	}
	return &collection, nil
}

// GetByName retrieves a collection by name.
func (r *collectionRepo) GetByName(ctx context.Context, name string) (*models.Collection, error) {
	var collection models.Collection
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&collection).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting collection by name: %w", err)
	}
	return &collection, nil
}

// GetAll retrieves all collections without items.
func (r *collectionRepo) GetAll(ctx context.Context) ([]*models.Collection, error) {
	var collections []*models.Collection
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&collections).Error; err != nil {
		return nil, fmt.Errorf("getting collections: %w", err)
	}
	return collections, nil
}

// Update updates an existing collection.
func (r *collectionRepo) Update(ctx context.Context, collection *models.Collection) error {
	if err := r.db.WithContext(ctx).Save(collection).Error; err != nil {
		return fmt.Errorf("updating collection: %w", err)
	}
	return nil
}

// Delete deletes a collection and its items.
func (r *collectionRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", id).Delete(&models.CollectionItem{}).Error; err != nil {
			return fmt.Errorf("deleting collection items: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Collection{}).Error; err != nil {
			return fmt.Errorf("deleting collection: %w", err)
		}
		return nil
	})
}

// ReplaceItems atomically replaces a static collection's membership.
func (r *collectionRepo) ReplaceItems(ctx context.Context, collectionID models.ULID, mediaItemIDs []models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", collectionID).Delete(&models.CollectionItem{}).Error; err != nil {
			return fmt.Errorf("clearing collection items: %w", err)
		}
		if len(mediaItemIDs) == 0 {
			return nil
		}
		items := make([]models.CollectionItem, 0, len(mediaItemIDs))
		for i, mediaItemID := range mediaItemIDs {
			items = append(items, models.CollectionItem{
				CollectionID: collectionID,
				MediaItemID:  mediaItemID,
				Position:     i,
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("inserting collection items: %w", err)
		}
		return nil
	})
}

// GetStaticItems returns a static collection's media items in position order.
func (r *collectionRepo) GetStaticItems(ctx context.Context, collectionID models.ULID) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	if err := r.db.WithContext(ctx).
		Joins("JOIN collection_items ON collection_items.media_item_id = media_items.id").
		Where("collection_items.collection_id = ?", collectionID).
		Order("collection_items.position ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting collection media items: %w", err)
	}
	return items, nil
}

// Ensure collectionRepo implements CollectionRepository at compile time.
var _ CollectionRepository = (*collectionRepo)(nil)
