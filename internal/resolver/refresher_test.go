package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// blockingResolver parks Resolve until released, for in-flight dedup tests.
type blockingResolver struct {
	sourceType models.SourceType
	release    chan struct{}
	resolution Resolution
}

func (b *blockingResolver) Type() models.SourceType { return b.sourceType }

func (b *blockingResolver) Resolve(_ context.Context, _ *models.MediaItem) (Resolution, error) {
	<-b.release
	return b.resolution, nil
}

func TestRefresher_PersistsRefreshedURL(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	registry := NewRegistry()
	registry.Register(&stubResolver{
		sourceType: models.SourceTypeYouTube,
		resolution: Resolution{URL: "https://fresh.example.com/v", ExpiresAt: expiry},
	})

	item := testItem(models.SourceTypeYouTube, "abc")
	items := newMockMediaItemRepo(item)
	f := NewRefresher(context.Background(), registry, items, 2, nil)

	require.True(t, f.Schedule(item))
	f.Wait()

	updates := items.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "https://fresh.example.com/v", updates[0].url)
	assert.Equal(t, expiry.Unix(), updates[0].expiresAt.Unix())
}

func TestRefresher_DeduplicatesInFlight(t *testing.T) {
	blocking := &blockingResolver{
		sourceType: models.SourceTypeYouTube,
		release:    make(chan struct{}),
		resolution: Resolution{URL: "https://x.example/v", ExpiresAt: time.Now().Add(time.Hour)},
	}
	registry := NewRegistry()
	registry.Register(blocking)

	item := testItem(models.SourceTypeYouTube, "abc")
	items := newMockMediaItemRepo(item)
	f := NewRefresher(context.Background(), registry, items, 2, nil)

	require.True(t, f.Schedule(item))
	assert.False(t, f.Schedule(item), "second schedule while in flight is a no-op")

	close(blocking.release)
	f.Wait()
	assert.Len(t, items.updates(), 1)
}

func TestRefresher_RetiresAfterRepeatedNotFound(t *testing.T) {
	item := testItem(models.SourceTypeYouTube, "gone")
	registry := NewRegistry()
	registry.Register(&stubResolver{
		sourceType: models.SourceTypeYouTube,
		err:        unresolvable(item, models.UnresolvableNotFound, fmt.Errorf("deleted upstream")),
	})

	items := newMockMediaItemRepo(item)
	f := NewRefresher(context.Background(), registry, items, 1, nil)

	done := make(chan models.ULID, unavailableAfterFailures)
	f.onDone = func(id models.ULID) { done <- id }

	for i := 0; i < unavailableAfterFailures; i++ {
		require.True(t, f.Schedule(item))
		<-done
	}

	require.Len(t, items.retiredIDs(), 1)
	assert.Equal(t, item.ID, items.retiredIDs()[0])
	assert.Empty(t, items.updates())
}

func TestRefresher_TransientFailureDoesNotRetire(t *testing.T) {
	item := testItem(models.SourceTypeYouTube, "flaky")
	registry := NewRegistry()
	registry.Register(&stubResolver{
		sourceType: models.SourceTypeYouTube,
		err:        unresolvable(item, models.UnresolvableUpstreamDown, fmt.Errorf("connection refused")),
	})

	items := newMockMediaItemRepo(item)
	f := NewRefresher(context.Background(), registry, items, 1, nil)

	done := make(chan models.ULID, 5)
	f.onDone = func(id models.ULID) { done <- id }

	for range 5 {
		require.True(t, f.Schedule(item))
		<-done
	}

	assert.Empty(t, items.retiredIDs(), "upstream blips never retire an item")
}

func TestRefresher_UnregisteredTypeIsSkipped(t *testing.T) {
	item := testItem(models.SourceTypeM3U, "https://x.example/ch.ts")
	items := newMockMediaItemRepo(item)
	f := NewRefresher(context.Background(), NewRegistry(), items, 1, nil)

	require.True(t, f.Schedule(item))
	f.Wait()
	assert.Empty(t, items.updates())
}
