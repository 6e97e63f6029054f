package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// mockLibraryRepo is an in-memory implementation for testing. Call counters
// let tests assert the cache really stops hitting the repository.
type mockLibraryRepo struct {
	mu           sync.Mutex
	libraries    []*models.Library
	getAllCalls  int
	getByIDCalls int
}

func newMockLibraryRepo(libraries ...*models.Library) *mockLibraryRepo {
	return &mockLibraryRepo{libraries: libraries}
}

func (m *mockLibraryRepo) Create(_ context.Context, library *models.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if library.ID.IsZero() {
		library.ID = models.NewULID()
	}
	m.libraries = append(m.libraries, library)
	return nil
}

func (m *mockLibraryRepo) GetByID(_ context.Context, id models.ULID) (*models.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDCalls++
	for _, l := range m.libraries {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}

func (m *mockLibraryRepo) GetByName(_ context.Context, name string) (*models.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.libraries {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, nil
}

func (m *mockLibraryRepo) GetAll(_ context.Context) ([]*models.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getAllCalls++
	return m.libraries, nil
}

func (m *mockLibraryRepo) GetEnabled(_ context.Context) ([]*models.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var enabled []*models.Library
	for _, l := range m.libraries {
		if l.IsEnabled() {
			enabled = append(enabled, l)
		}
	}
	return enabled, nil
}

func (m *mockLibraryRepo) Update(_ context.Context, library *models.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.libraries {
		if l.ID == library.ID {
			m.libraries[i] = library
			return nil
		}
	}
	return nil
}

func (m *mockLibraryRepo) Delete(_ context.Context, id models.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.libraries {
		if l.ID == id {
			m.libraries = append(m.libraries[:i], m.libraries[i+1:]...)
			return nil
		}
	}
	return nil
}

// urlUpdate records one UpdateURL call.
type urlUpdate struct {
	id        models.ULID
	url       string
	expiresAt time.Time
}

// mockMediaItemRepo is an in-memory implementation for testing. The
// refresher calls it from worker goroutines, so every method locks.
type mockMediaItemRepo struct {
	mu            sync.Mutex
	items         map[models.ULID]*models.MediaItem
	urlUpdates    []urlUpdate
	failureCounts map[models.ULID]int
	retired       []models.ULID
}

func newMockMediaItemRepo(items ...*models.MediaItem) *mockMediaItemRepo {
	m := &mockMediaItemRepo{
		items:         make(map[models.ULID]*models.MediaItem),
		failureCounts: make(map[models.ULID]int),
	}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *mockMediaItemRepo) Create(_ context.Context, item *models.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID.IsZero() {
		item.ID = models.NewULID()
	}
	m.items[item.ID] = item
	return nil
}

func (m *mockMediaItemRepo) CreateInBatches(ctx context.Context, items []*models.MediaItem, _ int) error {
	for _, item := range items {
		if err := m.Create(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockMediaItemRepo) GetByID(_ context.Context, id models.ULID) (*models.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id], nil
}

func (m *mockMediaItemRepo) GetByIDs(_ context.Context, ids []models.ULID) ([]*models.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MediaItem
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockMediaItemRepo) GetBySourceKey(_ context.Context, libraryID models.ULID, key string) (*models.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.LibraryID != nil && *item.LibraryID == libraryID && item.SourceKey == key {
			return item, nil
		}
	}
	return nil, nil
}

func (m *mockMediaItemRepo) GetByLibraryID(_ context.Context, libraryID models.ULID, _, _ int) ([]*models.MediaItem, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MediaItem
	for _, item := range m.items {
		if item.LibraryID != nil && *item.LibraryID == libraryID {
			out = append(out, item)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockMediaItemRepo) FindMatching(_ context.Context, _ models.SmartQuery) ([]*models.MediaItem, error) {
	return nil, nil
}

func (m *mockMediaItemRepo) GetUnavailable(_ context.Context, _ int) ([]*models.MediaItem, error) {
	return nil, nil
}

func (m *mockMediaItemRepo) Update(_ context.Context, item *models.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *mockMediaItemRepo) UpdateURL(_ context.Context, id models.ULID, url string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urlUpdates = append(m.urlUpdates, urlUpdate{id: id, url: url, expiresAt: expiresAt})
	if item, ok := m.items[id]; ok {
		item.ProvisionalURL = url
		item.URLExpiresAt = &expiresAt
	}
	return nil
}

func (m *mockMediaItemRepo) ClearURL(_ context.Context, id models.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.ProvisionalURL = ""
		item.URLExpiresAt = nil
	}
	return nil
}

func (m *mockMediaItemRepo) SetAvailability(_ context.Context, id models.ULID, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !available {
		m.retired = append(m.retired, id)
	}
	if item, ok := m.items[id]; ok {
		item.Available = models.BoolPtr(available)
	}
	return nil
}

func (m *mockMediaItemRepo) IncrementFailureCount(_ context.Context, id models.ULID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCounts[id]++
	return m.failureCounts[id], nil
}

func (m *mockMediaItemRepo) Delete(_ context.Context, id models.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *mockMediaItemRepo) DeleteByLibraryID(_ context.Context, libraryID models.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		if item.LibraryID != nil && *item.LibraryID == libraryID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *mockMediaItemRepo) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}

func (m *mockMediaItemRepo) CountUnavailable(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if !item.IsAvailable() {
			n++
		}
	}
	return n, nil
}

func (m *mockMediaItemRepo) updates() []urlUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]urlUpdate, len(m.urlUpdates))
	copy(out, m.urlUpdates)
	return out
}

func (m *mockMediaItemRepo) retiredIDs() []models.ULID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ULID, len(m.retired))
	copy(out, m.retired)
	return out
}

// testItem builds a media item for resolver tests.
func testItem(sourceType models.SourceType, sourceKey string) *models.MediaItem {
	return &models.MediaItem{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		Title:      "Test Item",
		SourceType: sourceType,
		SourceKey:  sourceKey,
		DurationMs: 30 * 60 * 1000,
	}
}

// testLibrary builds an enabled library row.
func testLibrary(sourceType models.SourceType, baseURL, token string) *models.Library {
	return &models.Library{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		Name:       "Test " + string(sourceType),
		SourceType: sourceType,
		BaseURL:    baseURL,
		Token:      token,
		Enabled:    models.BoolPtr(true),
	}
}

// stubResolver returns canned results for registry and refresher tests.
type stubResolver struct {
	sourceType models.SourceType
	resolution Resolution
	err        error
	mu         sync.Mutex
	calls      int
}

func (s *stubResolver) Type() models.SourceType { return s.sourceType }

func (s *stubResolver) Resolve(_ context.Context, _ *models.MediaItem) (Resolution, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return Resolution{}, s.err
	}
	return s.resolution, nil
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	stub := &stubResolver{sourceType: models.SourceTypeM3U}
	registry.Register(stub)

	got, err := registry.Get(models.SourceTypeM3U)
	require.NoError(t, err)
	assert.Same(t, stub, got)

	_, err = registry.Get(models.SourceTypePlex)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no resolver registered")
}

func TestRegistry_SupportedTypes(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubResolver{sourceType: models.SourceTypeYouTube})
	registry.Register(&stubResolver{sourceType: models.SourceTypeLocal})
	registry.Register(&stubResolver{sourceType: models.SourceTypeM3U})

	assert.Equal(t, []models.SourceType{
		models.SourceTypeLocal,
		models.SourceTypeM3U,
		models.SourceTypeYouTube,
	}, registry.SupportedTypes())
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   models.UnresolvableKind
	}{
		{401, models.UnresolvableAuth},
		{403, models.UnresolvableAuth},
		{404, models.UnresolvableNotFound},
		{410, models.UnresolvableNotFound},
		{429, models.UnresolvableUpstreamDown},
		{500, models.UnresolvableUpstreamDown},
		{503, models.UnresolvableUpstreamDown},
		{400, models.UnresolvableInvalid},
		{418, models.UnresolvableInvalid},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestResolution_Expiring(t *testing.T) {
	assert.False(t, Resolution{URL: "http://x"}.Expiring())
	assert.True(t, Resolution{URL: "http://x", ExpiresAt: time.Now()}.Expiring())
}
