package repository

import (
	"context"
	"sort"
	"testing"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/testutil"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLibraryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Library{}))
	return db
}

func TestLibraryRepo_CreateAndGet(t *testing.T) {
	db := setupLibraryTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	gen := testutil.NewSampleDataGeneratorWithSeed(7)
	lib := gen.Library()

	require.NoError(t, repo.Create(ctx, lib))
	assert.False(t, lib.ID.IsZero())

	found, err := repo.GetByID(ctx, lib.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, lib.Name, found.Name)
	assert.Equal(t, models.SourceTypeLocal, found.SourceType)
	assert.True(t, found.IsEnabled())

	byName, err := repo.GetByName(ctx, lib.Name)
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, lib.ID, byName.ID)
}

func TestLibraryRepo_GetByID_NotFound(t *testing.T) {
	db := setupLibraryTestDB(t)
	repo := NewLibraryRepository(db)

	found, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestLibraryRepo_GetAll_SortedByName(t *testing.T) {
	db := setupLibraryTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	gen := testutil.NewSampleDataGeneratorWithSeed(11)
	var names []string
	for i := 0; i < 5; i++ {
		lib := gen.Library()
		require.NoError(t, repo.Create(ctx, lib))
		names = append(names, lib.Name)
	}
	sort.Strings(names)

	libs, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 5)
	for i, lib := range libs {
		assert.Equal(t, names[i], lib.Name)
	}
}

func TestLibraryRepo_GetEnabled(t *testing.T) {
	db := setupLibraryTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	gen := testutil.NewSampleDataGeneratorWithSeed(13)
	on := gen.Library()
	require.NoError(t, repo.Create(ctx, on))

	off := gen.Library()
	off.Enabled = models.BoolPtr(false)
	require.NoError(t, repo.Create(ctx, off))

	libs, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 1)
	assert.Equal(t, on.ID, libs[0].ID)
}

func TestLibraryRepo_Update(t *testing.T) {
	db := setupLibraryTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	lib := testutil.NewSampleDataGeneratorWithSeed(17).Library()
	require.NoError(t, repo.Create(ctx, lib))

	lib.BaseURL = "file:///mnt/archive"
	require.NoError(t, repo.Update(ctx, lib))

	found, err := repo.GetByID(ctx, lib.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "file:///mnt/archive", found.BaseURL)
}

func TestLibraryRepo_Delete(t *testing.T) {
	db := setupLibraryTestDB(t)
	repo := NewLibraryRepository(db)
	ctx := context.Background()

	lib := testutil.NewSampleDataGeneratorWithSeed(19).Library()
	require.NoError(t, repo.Create(ctx, lib))
	require.NoError(t, repo.Delete(ctx, lib.ID))

	found, err := repo.GetByID(ctx, lib.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
