package playout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDay is a fixed Monday so weekday math stays stable.
var testDay = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

// hm returns testDay at the given local time of day.
func hm(hour, min int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

type playoutEnv struct {
	db    *gorm.DB
	repos Repositories
	eng   *Engine

	// clock feeds both the engine and gorm's row timestamps, so resume
	// downtime math sees one consistent time.
	clock time.Time
}

func newPlayoutEnv(t *testing.T) *playoutEnv {
	t.Helper()

	env := &playoutEnv{clock: testDay}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return env.clock },
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Library{},
		&models.MediaItem{},
		&models.Collection{},
		&models.CollectionItem{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.FillerPreset{},
		&models.FillerItem{},
		&models.Block{},
		&models.BlockItem{},
		&models.Schedule{},
		&models.ScheduleBlock{},
		&models.Channel{},
		&models.Playout{},
		&models.PlayoutState{},
		&models.PlayoutItem{},
	)
	require.NoError(t, err)

	repos := Repositories{
		Playouts:    repository.NewPlayoutRepository(db),
		Channels:    repository.NewChannelRepository(db),
		Fillers:     repository.NewFillerRepository(db),
		Collections: repository.NewCollectionRepository(db),
		Playlists:   repository.NewPlaylistRepository(db),
		Items:       repository.NewMediaItemRepository(db),
	}
	cfg := config.PlayoutConfig{
		BuildDays:          3,
		ResumeThreshold:    30 * time.Minute,
		OvershootTolerance: time.Minute,
	}
	eng := NewEngine(repos, cfg, observability.NewMetrics(), nil)
	eng.loc = time.UTC
	eng.now = func() time.Time { return env.clock }

	env.db = db
	env.repos = repos
	env.eng = eng
	return env
}

// at pins the shared test clock.
func (e *playoutEnv) at(now time.Time) {
	e.clock = now
}

func seedClip(t *testing.T, db *gorm.DB, title string, d time.Duration) *models.MediaItem {
	t.Helper()
	it := &models.MediaItem{
		Title:      title,
		MediaType:  models.MediaTypeClip,
		SourceType: models.SourceTypeLocal,
		SourceKey:  fmt.Sprintf("clips/%s.mp4", title),
		DurationMs: d.Milliseconds(),
		Available:  models.BoolPtr(true),
	}
	require.NoError(t, db.Create(it).Error)
	return it
}

// seedPlaylistChannel creates channel -> playlist -> playout with the items
// in order.
func seedPlaylistChannel(t *testing.T, db *gorm.DB, number string, items ...*models.MediaItem) *models.Channel {
	t.Helper()
	ch := &models.Channel{Number: number, Name: "Loop " + number}
	require.NoError(t, db.Create(ch).Error)

	pl := &models.Playlist{Name: "Playlist " + number}
	require.NoError(t, db.Create(pl).Error)
	for i, it := range items {
		require.NoError(t, db.Create(&models.PlaylistItem{
			PlaylistID:  pl.ID,
			MediaItemID: it.ID,
			Position:    i,
		}).Error)
	}

	require.NoError(t, db.Create(&models.Playout{ChannelID: ch.ID, PlaylistID: &pl.ID}).Error)
	return ch
}

// seedScheduleChannel creates channel -> schedule -> playout binding the
// blocks in position order.
func seedScheduleChannel(t *testing.T, db *gorm.DB, number string, blocks ...*models.Block) *models.Channel {
	t.Helper()
	ch := &models.Channel{Number: number, Name: "Sched " + number}
	require.NoError(t, db.Create(ch).Error)

	sched := &models.Schedule{Name: "Schedule " + number}
	require.NoError(t, db.Create(sched).Error)
	for i, b := range blocks {
		require.NoError(t, db.Create(&models.ScheduleBlock{
			ScheduleID: sched.ID,
			BlockID:    b.ID,
			Position:   i,
		}).Error)
	}

	require.NoError(t, db.Create(&models.Playout{ChannelID: ch.ID, ScheduleID: &sched.ID}).Error)
	return ch
}

// seedBlock creates the block and binds bare media items in order.
func seedBlock(t *testing.T, db *gorm.DB, b *models.Block, items ...*models.MediaItem) *models.Block {
	t.Helper()
	require.NoError(t, db.Create(b).Error)
	for i, it := range items {
		require.NoError(t, db.Create(&models.BlockItem{
			BlockID:     b.ID,
			MediaItemID: &it.ID,
			Position:    i,
		}).Error)
	}
	return b
}

func seedStaticCollection(t *testing.T, db *gorm.DB, name string, items ...*models.MediaItem) *models.Collection {
	t.Helper()
	col := &models.Collection{Name: name, Kind: models.CollectionStatic}
	require.NoError(t, db.Create(col).Error)
	for i, it := range items {
		require.NoError(t, db.Create(&models.CollectionItem{
			CollectionID: col.ID,
			MediaItemID:  it.ID,
			Position:     i,
		}).Error)
	}
	return col
}

func seedFillerPreset(t *testing.T, db *gorm.DB, mode models.FillerMode, intervalMs int64, items ...*models.MediaItem) *models.FillerPreset {
	t.Helper()
	preset := &models.FillerPreset{
		Name:              fmt.Sprintf("Filler %s %d", mode, len(items)),
		Mode:              mode,
		MidRollIntervalMs: intervalMs,
	}
	require.NoError(t, db.Create(preset).Error)
	for _, it := range items {
		require.NoError(t, db.Create(&models.FillerItem{
			FillerPresetID: preset.ID,
			MediaItemID:    it.ID,
			Weight:         1,
		}).Error)
	}
	return preset
}

// attachFiller points the channel at a filler preset.
func attachFiller(t *testing.T, db *gorm.DB, ch *models.Channel, preset *models.FillerPreset) {
	t.Helper()
	ch.FillerPresetID = &preset.ID
	require.NoError(t, db.Save(ch).Error)
}

// openSequence loads the playout with its preloads and builds a walker the
// way the engine does, without the engine's persistence.
func openSequence(t *testing.T, env *playoutEnv, ch *models.Channel, preset *models.FillerPreset) *sequence {
	t.Helper()
	po, err := env.repos.Playouts.GetByChannelID(context.Background(), ch.ID)
	require.NoError(t, err)
	require.NotNil(t, po)
	expander := NewExpander(env.repos.Collections, env.repos.Playlists, env.repos.Items)
	return newSequence(ch.ID, po, newFillerSource(preset), expander, time.Minute, time.UTC)
}
