package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"gorm.io/gorm"
)

// mediaItemRepo implements MediaItemRepository using GORM.
type mediaItemRepo struct {
	db *gorm.DB
}

// NewMediaItemRepository creates a new MediaItemRepository.
func NewMediaItemRepository(db *gorm.DB) *mediaItemRepo {
	return &mediaItemRepo{db: db}
}

// Create creates a new media item.
func (r *mediaItemRepo) Create(ctx context.Context, item *models.MediaItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("creating media item: %w", err)
	}
	return nil
}

// CreateInBatches creates multiple media items in batches.
// This is optimized for bulk library syncs to minimize memory usage.
func (r *mediaItemRepo) CreateInBatches(ctx context.Context, items []*models.MediaItem, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	if err := r.db.WithContext(ctx).CreateInBatches(items, batchSize).Error; err != nil {
		return fmt.Errorf("creating media items in batches: %w", err)
	}
	return nil
}

// GetByID retrieves a media item by ID.
func (r *mediaItemRepo) GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.WithContext(ctx).Preload("Library").Where("id = ?", id).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media item by ID: %w", err)
	}
	return &item, nil
}

// GetByIDs retrieves media items by ID.
func (r *mediaItemRepo) GetByIDs(ctx context.Context, ids []models.ULID) ([]*models.MediaItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*models.MediaItem
	if err := r.db.WithContext(ctx).Preload("Library").Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting media items by IDs: %w", err)
	}
	return items, nil
}

// GetBySourceKey retrieves a media item by library and source key.
func (r *mediaItemRepo) GetBySourceKey(ctx context.Context, libraryID models.ULID, key string) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.WithContext(ctx).Where("library_id = ? AND source_key = ?", libraryID, key).First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media item by source key: %w", err)
	}
	return &item, nil
}

// GetByLibraryID retrieves media items for a library with pagination.
func (r *mediaItemRepo) GetByLibraryID(ctx context.Context, libraryID models.ULID, offset, limit int) ([]*models.MediaItem, int64, error) {
	var items []*models.MediaItem
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("library_id = ?", libraryID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting media items: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("library_id = ?", libraryID).
		Order("title ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("getting paginated media items: %w", err)
	}

	return items, total, nil
}

// FindMatching evaluates a smart collection query against available items.
// The predicate is pushed down to SQL so large catalogs are not loaded
// wholesale; string matches mirror models.SmartQuery.Matches.
func (r *mediaItemRepo) FindMatching(ctx context.Context, query models.SmartQuery) ([]*models.MediaItem, error) {
	db := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("available = ?", true)

	if query.MediaType != "" {
		db = db.Where("media_type = ?", query.MediaType)
	}
	if query.YearFrom > 0 {
		db = db.Where("year >= ?", query.YearFrom)
	}
	if query.YearTo > 0 {
		db = db.Where("year <= ?", query.YearTo)
	}
	if query.DurationMinMs > 0 {
		db = db.Where("duration_ms >= ?", query.DurationMinMs)
	}
	if query.DurationMaxMs > 0 {
		db = db.Where("duration_ms <= ?", query.DurationMaxMs)
	}
	if query.GenreContains != "" {
		db = db.Where("LOWER(genres) LIKE ?", "%"+strings.ToLower(query.GenreContains)+"%")
	}
	if query.Rating != "" {
		db = db.Where("rating = ?", query.Rating)
	}
	if query.Search != "" {
		db = db.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(query.Search)+"%")
	}

	var items []*models.MediaItem
	if err := db.Order("title ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("finding matching media items: %w", err)
	}
	return items, nil
}

// GetUnavailable retrieves up to limit unavailable items, oldest first, for
// metadata self-resolution sweeps.
func (r *mediaItemRepo) GetUnavailable(ctx context.Context, limit int) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	db := r.db.WithContext(ctx).Preload("Library").Where("available = ?", false).Order("updated_at ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting unavailable media items: %w", err)
	}
	return items, nil
}

// Update updates an existing media item.
func (r *mediaItemRepo) Update(ctx context.Context, item *models.MediaItem) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("updating media item: %w", err)
	}
	return nil
}

// UpdateURL stores a freshly resolved playback URL with its expiry.
func (r *mediaItemRepo) UpdateURL(ctx context.Context, id models.ULID, url string, expiresAt time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", id).Updates(map[string]any{
		"provisional_url": url,
		"url_expires_at":  expiresAt,
	}).Error; err != nil {
		return fmt.Errorf("updating media item URL: %w", err)
	}
	return nil
}

// ClearURL drops a provisional URL, forcing re-resolution.
func (r *mediaItemRepo) ClearURL(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", id).Updates(map[string]any{
		"provisional_url": "",
		"url_expires_at":  nil,
	}).Error; err != nil {
		return fmt.Errorf("clearing media item URL: %w", err)
	}
	return nil
}

// SetAvailability flips item availability. Returning items get a clean
// failure count.
func (r *mediaItemRepo) SetAvailability(ctx context.Context, id models.ULID, available bool) error {
	updates := map[string]any{"available": available}
	if available {
		updates["failure_count"] = 0
	}
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("setting media item availability: %w", err)
	}
	return nil
}

// IncrementFailureCount bumps the metadata failure counter and returns the
// new value.
func (r *mediaItemRepo) IncrementFailureCount(ctx context.Context, id models.ULID) (int, error) {
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", id).
		UpdateColumn("failure_count", gorm.Expr("failure_count + 1")).Error; err != nil {
		return 0, fmt.Errorf("incrementing media item failure count: %w", err)
	}

	var count int
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", id).
		Pluck("failure_count", &count).Error; err != nil {
		return 0, fmt.Errorf("reading media item failure count: %w", err)
	}
	return count, nil
}

// Delete deletes a media item by ID.
func (r *mediaItemRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.MediaItem{}).Error; err != nil {
		return fmt.Errorf("deleting media item: %w", err)
	}
	return nil
}

// DeleteByLibraryID deletes all media items for a library.
func (r *mediaItemRepo) DeleteByLibraryID(ctx context.Context, libraryID models.ULID) error {
	if err := r.db.WithContext(ctx).Where("library_id = ?", libraryID).Delete(&models.MediaItem{}).Error; err != nil {
		return fmt.Errorf("deleting media items by library ID: %w", err)
	}
	return nil
}

// Count returns the total number of media items.
func (r *mediaItemRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting media items: %w", err)
	}
	return count, nil
}

// CountUnavailable returns the number of unavailable media items.
func (r *mediaItemRepo) CountUnavailable(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("available = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting unavailable media items: %w", err)
	}
	return count, nil
}

// Ensure mediaItemRepo implements MediaItemRepository at compile time.
var _ MediaItemRepository = (*mediaItemRepo)(nil)
