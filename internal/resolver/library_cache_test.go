package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

func TestLibraryCache_WarmThenGetNeverHitsRepo(t *testing.T) {
	ctx := context.Background()
	lib := testLibrary(models.SourceTypePlex, "http://plex.local:32400", "tok")
	repo := newMockLibraryRepo(lib)
	cache := NewLibraryCache(repo, nil)

	require.NoError(t, cache.Warm(ctx))
	assert.Equal(t, 1, cache.Len())

	for range 50 {
		got, err := cache.Get(ctx, lib.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, lib.ID, got.ID)
	}

	assert.Equal(t, 1, repo.getAllCalls)
	assert.Equal(t, 0, repo.getByIDCalls)
}

func TestLibraryCache_UnwarmedGetWarmsFirst(t *testing.T) {
	ctx := context.Background()
	lib := testLibrary(models.SourceTypeJellyfin, "http://jf.local:8096", "key")
	repo := newMockLibraryRepo(lib)
	cache := NewLibraryCache(repo, nil)

	got, err := cache.Get(ctx, lib.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, repo.getAllCalls)
	assert.Equal(t, 0, repo.getByIDCalls)
}

func TestLibraryCache_ReadThroughAfterWarm(t *testing.T) {
	ctx := context.Background()
	repo := newMockLibraryRepo()
	cache := NewLibraryCache(repo, nil)
	require.NoError(t, cache.Warm(ctx))

	// A library created after the warm is found by read-through and cached.
	late := testLibrary(models.SourceTypeEmby, "http://emby.local:8096", "key")
	require.NoError(t, repo.Create(ctx, late))

	got, err := cache.Get(ctx, late.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, repo.getByIDCalls)

	_, err = cache.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.getByIDCalls, "second Get must come from cache")
}

func TestLibraryCache_MissingLibrary(t *testing.T) {
	ctx := context.Background()
	cache := NewLibraryCache(newMockLibraryRepo(), nil)
	require.NoError(t, cache.Warm(ctx))

	got, err := cache.Get(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLibraryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	lib := testLibrary(models.SourceTypePlex, "http://plex.local:32400", "old-token")
	repo := newMockLibraryRepo(lib)
	cache := NewLibraryCache(repo, nil)
	require.NoError(t, cache.Warm(ctx))

	// Simulate a credential edit through the catalog API.
	lib.Token = "new-token"
	cache.Invalidate()
	assert.Equal(t, 0, cache.Len())

	got, err := cache.Get(ctx, lib.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new-token", got.Token)
	assert.Equal(t, 2, repo.getAllCalls, "invalidate forces a re-warm")
}
