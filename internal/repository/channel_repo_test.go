package repository

import (
	"context"
	"testing"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupChannelTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.FillerPreset{}, &models.FillerItem{}, &models.Channel{})
	require.NoError(t, err)

	return db
}

func TestChannelRepo_Create(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := &models.Channel{
		Number: "2",
		Name:   "Retro Toons",
		Group:  "Kids",
	}

	err := repo.Create(ctx, channel)
	require.NoError(t, err)
	assert.False(t, channel.ID.IsZero())

	// Verify retrieval by ID
	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Retro Toons", found.Name)
	assert.Equal(t, "2", found.Number)
	assert.Equal(t, models.StreamingModeAuto, found.StreamingMode)
	assert.True(t, found.IsEnabled())
}

func TestChannelRepo_GetByID_NotFound(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	found, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestChannelRepo_GetByNumber(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "1984.1", Name: "Movies"}))

	found, err := repo.GetByNumber(ctx, "1984.1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Movies", found.Name)

	missing, err := repo.GetByNumber(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChannelRepo_GetEnabled_LineupOrder(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	// Insert out of order, including a subchannel and a two-digit number.
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "10", Name: "Ten"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "2.1", Name: "Two Point One"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "9", Name: "Nine"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "2", Name: "Two"}))

	disabled := &models.Channel{Number: "5", Name: "Hidden", Enabled: models.BoolPtr(false)}
	require.NoError(t, repo.Create(ctx, disabled))

	channels, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 4)

	numbers := make([]string, 0, len(channels))
	for _, ch := range channels {
		numbers = append(numbers, ch.Number)
	}
	// Numeric order, not lexicographic: "10" after "9", "2.1" after "2".
	assert.Equal(t, []string{"2", "2.1", "9", "10"}, numbers)
}

func TestChannelRepo_CountEnabled(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "1", Name: "One"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "2", Name: "Two", Enabled: models.BoolPtr(false)}))

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	enabled, err := repo.CountEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), enabled)
}

func TestChannelRepo_Update(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := &models.Channel{Number: "3", Name: "Before"}
	require.NoError(t, repo.Create(ctx, channel))

	channel.Name = "After"
	channel.StreamingMode = models.StreamingModeCopy
	require.NoError(t, repo.Update(ctx, channel))

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "After", found.Name)
	assert.Equal(t, models.StreamingModeCopy, found.StreamingMode)
}

func TestChannelRepo_Delete(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := &models.Channel{Number: "4", Name: "Doomed"}
	require.NoError(t, repo.Create(ctx, channel))

	require.NoError(t, repo.Delete(ctx, channel.ID))

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestChannelRepo_GetDistinctGroups(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "1", Name: "A", Group: "Kids"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "2", Name: "B", Group: "Movies"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "3", Name: "C", Group: "Kids"}))
	require.NoError(t, repo.Create(ctx, &models.Channel{Number: "4", Name: "D"}))

	groups, err := repo.GetDistinctGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kids", "Movies"}, groups)
}

func TestChannelRepo_FillerPresetPreload(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	preset := &models.FillerPreset{Name: "Bumpers", Mode: models.FillerTailOnly}
	require.NoError(t, db.Create(preset).Error)

	channel := &models.Channel{Number: "6", Name: "With Filler", FillerPresetID: &preset.ID}
	require.NoError(t, repo.Create(ctx, channel))

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.FillerPreset)
	assert.Equal(t, "Bumpers", found.FillerPreset.Name)
}

func TestChannelRepo_Transaction_Rollback(t *testing.T) {
	db := setupChannelTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	err := repo.Transaction(ctx, func(txRepo ChannelRepository) error {
		if err := txRepo.Create(ctx, &models.Channel{Number: "7", Name: "Inside TX"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
