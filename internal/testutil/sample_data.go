// Package testutil provides shared test fixtures: a seeded generator
// for catalog entities (channels, libraries, media items, programming)
// used by repository and service tests.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// Fictional broadcasters and titles for test data. Never use real brand
// names; fixtures leak into snapshots and bug reports.
var (
	Broadcasters = []string{
		"StreamCast",
		"ViewMedia",
		"AeroVision",
		"GlobalStream",
		"NationalNet",
		"RetroPlex",
	}

	MovieTitles = []string{
		"Midnight at the Depot",
		"The Cartographer's Daughter",
		"Signal Lost",
		"A Winter in Marrow Creek",
		"The Last Projectionist",
		"Harbor Lights",
	}

	ShowTitles = []string{
		"Precinct Nine",
		"The Copper Kettle",
		"Orbital Decay",
		"Saturday Matinee Theater",
	}

	Groups = []string{"Movies", "Classic TV", "Cartoons", "Documentaries"}
)

// SampleDataGenerator produces deterministic catalog entities when
// seeded, so fixtures can be asserted against by value.
type SampleDataGenerator struct {
	rng *rand.Rand

	nextChannel int
}

// NewSampleDataGenerator creates a generator with a time-based seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return NewSampleDataGeneratorWithSeed(time.Now().UnixNano())
}

// NewSampleDataGeneratorWithSeed creates a deterministic generator.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{rng: rand.New(rand.NewSource(seed)), nextChannel: 2}
}

func (g *SampleDataGenerator) pick(options []string) string {
	return options[g.rng.Intn(len(options))]
}

// Channel returns a valid enabled channel with the next free guide
// number.
func (g *SampleDataGenerator) Channel() *models.Channel {
	number := fmt.Sprintf("%d", g.nextChannel)
	g.nextChannel++
	return &models.Channel{
		Number:  number,
		Name:    fmt.Sprintf("%s %s", g.pick(Broadcasters), g.pick(Groups)),
		Group:   g.pick(Groups),
		Enabled: models.BoolPtr(true),
	}
}

// Channels returns n distinct channels.
func (g *SampleDataGenerator) Channels(n int) []*models.Channel {
	out := make([]*models.Channel, n)
	for i := range out {
		out[i] = g.Channel()
	}
	return out
}

// Library returns a local-source library row.
func (g *SampleDataGenerator) Library() *models.Library {
	return &models.Library{
		Name:       fmt.Sprintf("%s Library %d", g.pick(Broadcasters), g.rng.Intn(10000)),
		SourceType: models.SourceTypeLocal,
		BaseURL:    "file:///media",
	}
}

// Movie returns an available local movie between 70 and 130 minutes.
func (g *SampleDataGenerator) Movie() *models.MediaItem {
	return &models.MediaItem{
		Title:      g.pick(MovieTitles),
		MediaType:  models.MediaTypeMovie,
		SourceType: models.SourceTypeLocal,
		SourceKey:  fmt.Sprintf("movies/%03d.mkv", g.rng.Intn(1000)),
		DurationMs: int64(70+g.rng.Intn(61)) * 60 * 1000,
		Container:  "mkv",
		VideoCodec: "h264",
		AudioCodec: "aac",
		Available:  models.BoolPtr(true),
		Year:       1930 + g.rng.Intn(70),
	}
}

// Episode returns an available episode of a fictional series.
func (g *SampleDataGenerator) Episode(season, episode int) *models.MediaItem {
	show := g.pick(ShowTitles)
	return &models.MediaItem{
		Title:      fmt.Sprintf("S%02dE%02d", season, episode),
		ShowTitle:  show,
		MediaType:  models.MediaTypeEpisode,
		SourceType: models.SourceTypeLocal,
		SourceKey:  fmt.Sprintf("tv/%s/s%02de%02d.mkv", show, season, episode),
		DurationMs: int64(22+g.rng.Intn(23)) * 60 * 1000,
		Container:  "mkv",
		VideoCodec: "h264",
		AudioCodec: "aac",
		Available:  models.BoolPtr(true),
	}
}

// MediaItems returns n movies.
func (g *SampleDataGenerator) MediaItems(n int) []*models.MediaItem {
	out := make([]*models.MediaItem, n)
	for i := range out {
		out[i] = g.Movie()
	}
	return out
}

// Playlist returns a chronological playlist over the given items. The
// items must already have IDs.
func (g *SampleDataGenerator) Playlist(name string, items []*models.MediaItem) *models.Playlist {
	p := &models.Playlist{
		Name:  name,
		Order: models.OrderChronological,
	}
	for i, item := range items {
		p.Items = append(p.Items, models.PlaylistItem{
			MediaItemID: item.ID,
			Position:    i,
		})
	}
	return p
}

// Timeline returns back-to-back playout items for a channel starting at
// base, one per media item.
func (g *SampleDataGenerator) Timeline(channelID models.ULID, base time.Time, items []*models.MediaItem) []*models.PlayoutItem {
	out := make([]*models.PlayoutItem, len(items))
	at := base
	for i, item := range items {
		d := time.Duration(item.DurationMs) * time.Millisecond
		out[i] = &models.PlayoutItem{
			ChannelID:   channelID,
			MediaItemID: item.ID,
			Title:       item.Title,
			StartTime:   at,
			StopTime:    at.Add(d),
		}
		at = at.Add(d)
	}
	return out
}
