package ffmpeg

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/codec"
)

func TestSimplify(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			NumStreams: 3,
			Duration:   "1347.521000",
		},
		Streams: []ProbeStream{
			{
				Index:         0,
				CodecType:     "video",
				CodecName:     "h264",
				Profile:       "High",
				Width:         1920,
				Height:        1080,
				PixFmt:        "yuv420p",
				FieldOrder:    "progressive",
				AvgFrameRate:  "24000/1001",
				RFrameRate:    "24000/1001",
				ColorTransfer: "bt709",
			},
			{
				Index:      1,
				CodecType:  "audio",
				CodecName:  "commentary_weird", // non-default track
				Channels:   2,
				SampleRate: "44100",
			},
			{
				Index:       2,
				CodecType:   "audio",
				CodecName:   "eac3",
				Channels:    6,
				SampleRate:  "48000",
				Disposition: ProbeDisposition{Default: 1},
			},
		},
	}

	info := Simplify(result)

	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "High", info.VideoProfile)
	assert.Equal(t, 1920, info.VideoWidth)
	assert.Equal(t, 1080, info.VideoHeight)
	assert.Equal(t, "yuv420p", info.VideoPixFmt)
	assert.InDelta(t, 23.976, info.VideoFramerate, 0.001)

	// The default-flagged audio track wins over the first one.
	assert.Equal(t, "eac3", info.AudioCodec)
	assert.Equal(t, 6, info.AudioChannels)
	assert.Equal(t, 48000, info.AudioSampleRate)

	assert.Equal(t, int64(1347521), info.DurationMs)
	assert.False(t, info.IsLiveStream)
	assert.Equal(t, 3, info.StreamCount)
	assert.True(t, codec.MP4Family(info.ContainerFormat))
	assert.True(t, info.HasVideo())
	assert.True(t, info.HasAudio())
	assert.False(t, info.Interlaced())
	assert.False(t, info.HDR())
}

func TestSimplifyLiveHeuristics(t *testing.T) {
	// No duration means live.
	info := Simplify(&ProbeResult{Format: ProbeFormat{FormatName: "flv"}})
	assert.True(t, info.IsLiveStream)

	// HLS and raw TS count as live even with a duration.
	info = Simplify(&ProbeResult{Format: ProbeFormat{FormatName: "hls", Duration: "60.0"}})
	assert.True(t, info.IsLiveStream)

	info = Simplify(&ProbeResult{Format: ProbeFormat{FormatName: "mpegts", Duration: "60.0"}})
	assert.True(t, info.IsLiveStream)

	info = Simplify(&ProbeResult{Format: ProbeFormat{FormatName: "matroska,webm", Duration: "60.0"}})
	assert.False(t, info.IsLiveStream)
}

func TestStreamInfoInterlaced(t *testing.T) {
	for _, order := range []string{"tt", "bb", "tb", "bt"} {
		info := &StreamInfo{FieldOrder: order}
		assert.True(t, info.Interlaced(), order)
	}
	for _, order := range []string{"progressive", "", "unknown"} {
		info := &StreamInfo{FieldOrder: order}
		assert.False(t, info.Interlaced(), order)
	}
}

func TestStreamInfoHDR(t *testing.T) {
	assert.True(t, (&StreamInfo{ColorTransfer: "smpte2084"}).HDR())
	assert.True(t, (&StreamInfo{ColorTransfer: "arib-std-b67"}).HDR())
	assert.False(t, (&StreamInfo{ColorTransfer: "bt709"}).HDR())
	assert.False(t, (&StreamInfo{}).HDR())
}

func TestParseFramerate(t *testing.T) {
	assert.InDelta(t, 23.976, parseFramerate("24000/1001"), 0.001)
	assert.InDelta(t, 25.0, parseFramerate("25/1"), 0.001)
	assert.InDelta(t, 29.97, parseFramerate("29.97"), 0.001)
	assert.Zero(t, parseFramerate("0/0"))
	assert.Zero(t, parseFramerate(""))
	assert.Zero(t, parseFramerate("abc"))
}

func TestFramerateFallsBackToRFrameRate(t *testing.T) {
	s := &ProbeStream{AvgFrameRate: "0/0", RFrameRate: "25/1"}
	assert.InDelta(t, 25.0, s.Framerate(), 0.001)
}

func TestProbeResultDuration(t *testing.T) {
	r := &ProbeResult{Format: ProbeFormat{Duration: "1.5"}}
	assert.Equal(t, int64(1500), r.Duration())

	r = &ProbeResult{}
	assert.Zero(t, r.Duration())

	r = &ProbeResult{Format: ProbeFormat{Duration: "N/A"}}
	assert.Zero(t, r.Duration())
}

func TestIsNetworkURL(t *testing.T) {
	assert.True(t, isNetworkURL("http://example.com/a.ts"))
	assert.True(t, isNetworkURL("https://example.com/a.ts"))
	assert.False(t, isNetworkURL("/media/a.ts"))
	assert.False(t, isNetworkURL("file:///media/a.ts"))
	assert.False(t, isNetworkURL("rtsp://cam/stream")) // no reconnect flags for rtsp
}

func TestFormatHeaders(t *testing.T) {
	assert.Empty(t, formatHeaders(nil))
	assert.Empty(t, formatHeaders(map[string]string{}))
	assert.Equal(t, "X-Plex-Token: abc\r\n", formatHeaders(map[string]string{"X-Plex-Token": "abc"}))

	multi := formatHeaders(map[string]string{"A": "1", "B": "2"})
	assert.Contains(t, multi, "A: 1\r\n")
	assert.Contains(t, multi, "B: 2\r\n")
}

func TestProberWithoutBinary(t *testing.T) {
	p := NewProber("")
	_, err := p.Probe(context.Background(), "/media/a.ts", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe not available")
}

func TestProbeSimpleLive(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	// Generate a small mp4 with one video and one audio track.
	sample := filepath.Join(t.TempDir(), "sample.mp4")
	gen := exec.Command(ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=1",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1",
		"-c:v", "mpeg4", "-c:a", "aac",
		sample)
	require.NoError(t, gen.Run())

	info, err := NewProber(ffprobePath).ProbeSimple(context.Background(), sample, nil)
	require.NoError(t, err)

	assert.Equal(t, "mpeg4", info.VideoCodec)
	assert.Equal(t, 320, info.VideoWidth)
	assert.Equal(t, 240, info.VideoHeight)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.True(t, codec.MP4Family(info.ContainerFormat))
	assert.False(t, info.IsLiveStream)
	assert.InDelta(t, 1000, info.DurationMs, 200)
}
