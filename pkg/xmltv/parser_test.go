package xmltv

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="sample">
  <channel id="exstream-one">
    <display-name>Channel One</display-name>
    <icon src="http://example.com/one.png"/>
    <url>http://example.com/one</url>
  </channel>
  <channel id="exstream-two">
    <display-name>Channel Two</display-name>
  </channel>
  <programme start="20240101120000 +0000" stop="20240101130000 +0000" channel="exstream-one">
    <title lang="en">Morning Movie</title>
    <sub-title>Part 1</sub-title>
    <desc>A film.</desc>
    <category>Movie</category>
    <episode-num system="onscreen">S01E02</episode-num>
    <rating><value>PG</value></rating>
    <new/>
  </programme>
  <programme start="20240101130000 +0000" stop="20240101140000 +0000" channel="exstream-two">
    <title>Afternoon Show</title>
  </programme>
</tv>`

func TestParseChannelsAndProgrammes(t *testing.T) {
	var channels []*Channel
	var programmes []*Programme
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}

	require.NoError(t, p.Parse(strings.NewReader(sampleDoc)))
	require.Len(t, channels, 2)
	require.Len(t, programmes, 2)

	assert.Equal(t, "exstream-one", channels[0].ID)
	assert.Equal(t, "Channel One", channels[0].DisplayName)
	assert.Equal(t, "http://example.com/one.png", channels[0].Icon)
	assert.Equal(t, "http://example.com/one", channels[0].URL)

	first := programmes[0]
	assert.Equal(t, "Morning Movie", first.Title)
	assert.Equal(t, "Part 1", first.SubTitle)
	assert.Equal(t, "A film.", first.Description)
	assert.Equal(t, "Movie", first.Category)
	assert.Equal(t, "S01E02", first.EpisodeNum)
	assert.Equal(t, "PG", first.Rating)
	assert.Equal(t, "en", first.Language)
	assert.True(t, first.IsNew)
	assert.False(t, first.IsPremiere)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), first.Start.UTC())
	assert.Equal(t, time.Hour, first.Stop.Sub(first.Start))
}

func TestParseDeclaredCharset(t *testing.T) {
	// "Télé" in ISO-8859-1 with a matching declaration.
	enc := charmap.ISO8859_1.NewEncoder()
	body, err := enc.String(`<?xml version="1.0" encoding="ISO-8859-1"?>
<tv>
  <programme start="20240101120000 +0000" stop="20240101123000 +0000" channel="c1">
    <title>Télé Matin</title>
  </programme>
</tv>`)
	require.NoError(t, err)

	progs, err := ParseAll(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, progs, 1)
	assert.Equal(t, "Télé Matin", progs[0].Title)
}

func TestParseCompressedGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sampleDoc))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	var count int
	p := &Parser{OnProgramme: func(*Programme) error {
		count++
		return nil
	}}
	require.NoError(t, p.ParseCompressed(&buf))
	assert.Equal(t, 2, count)
}

func TestParseCompressedPlainPassthrough(t *testing.T) {
	progs := 0
	p := &Parser{OnProgramme: func(*Programme) error {
		progs++
		return nil
	}}
	require.NoError(t, p.ParseCompressed(strings.NewReader(sampleDoc)))
	assert.Equal(t, 2, progs)
}

func TestParseSkipsBadProgramme(t *testing.T) {
	doc := `<tv>
  <programme start="not-a-time" stop="20240101130000 +0000" channel="c1">
    <title>Broken</title>
  </programme>
  <programme start="20240101130000 +0000" stop="20240101140000 +0000" channel="c1">
    <title>Fine</title>
  </programme>
</tv>`

	var errs int
	var titles []string
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			titles = append(titles, prog.Title)
			return nil
		},
		OnError: func(error) { errs++ },
	}
	require.NoError(t, p.Parse(strings.NewReader(doc)))
	assert.Equal(t, 1, errs)
	assert.Equal(t, []string{"Fine"}, titles)
}

func TestParseTimeFormats(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Time
	}{
		{"20240101120000 +0000", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"20240101120000", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"20240101120000 -0500", time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)},
		{"202401011200", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
	} {
		got, err := ParseTime(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.UTC().Equal(tc.want), tc.in)
	}

	_, err := ParseTime("")
	assert.Error(t, err)
	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteChannel(&Channel{
		ID:          "exstream-one",
		DisplayName: "News & Weather",
		Icon:        "http://example.com/logo.png",
	}))
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Stop:       time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		Channel:    "exstream-one",
		Title:      `Tom & Jerry "Special"`,
		Category:   "Kids",
		IsPremiere: true,
	}))
	require.NoError(t, w.WriteFooter())

	out := buf.String()
	assert.Contains(t, out, `generator-info-name="exstreamtv"`)
	assert.Contains(t, out, "News &amp; Weather")

	var channels []*Channel
	var programmes []*Programme
	p := &Parser{
		OnChannel: func(ch *Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}
	require.NoError(t, p.Parse(strings.NewReader(out)))
	require.Len(t, channels, 1)
	require.Len(t, programmes, 1)
	assert.Equal(t, "News & Weather", channels[0].DisplayName)
	assert.Equal(t, `Tom & Jerry "Special"`, programmes[0].Title)
	assert.True(t, programmes[0].IsPremiere)
}

func TestWriterRejectsChannelAfterProgramme(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteProgramme(&Programme{
		Start:   time.Now(),
		Stop:    time.Now().Add(time.Hour),
		Channel: "c1",
		Title:   "Show",
	}))
	assert.Error(t, w.WriteChannel(&Channel{ID: "c2", DisplayName: "Late"}))
}
