package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/codec"
	"github.com/exstreamtv/exstreamtv/internal/models"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name       string
		wantVideo  codec.Video
		wantAudio  codec.Audio
		wantWidth  int
		wantHeight int
		wantErr    bool
	}{
		{name: "ts_h264_aac", wantVideo: codec.VideoH264, wantAudio: codec.AudioAAC},
		{name: "ts_h264_aac_720p", wantVideo: codec.VideoH264, wantAudio: codec.AudioAAC, wantWidth: 1280, wantHeight: 720},
		{name: "ts_hevc_ac3_1080p", wantVideo: codec.VideoH265, wantAudio: codec.AudioAC3, wantWidth: 1920, wantHeight: 1080},
		{name: "TS_H264_AAC", wantVideo: codec.VideoH264, wantAudio: codec.AudioAAC},
		{name: "hls_h264_aac", wantErr: true},
		{name: "ts_vp9_aac", wantErr: true}, // MPEG-TS cannot carry VP9
		{name: "ts_h264_xyz", wantErr: true},
		{name: "ts_h264_aac_999p", wantErr: true},
		{name: "ts_h264", wantErr: true},
		{name: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProfile(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVideo, p.Video)
			assert.Equal(t, tt.wantAudio, p.Audio)
			assert.Equal(t, tt.wantWidth, p.Width)
			assert.Equal(t, tt.wantHeight, p.Height)
		})
	}
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, "ts_h264_aac", p.Name)
	assert.Equal(t, codec.VideoH264, p.Video)
	assert.Equal(t, codec.AudioAAC, p.Audio)
	assert.Zero(t, p.Width)
}

func TestInputTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, InputTimeout(models.SourceTypePlex))
	assert.Equal(t, 60*time.Second, InputTimeout(models.SourceTypeArchiveOrg))
	assert.Equal(t, 30*time.Second, InputTimeout(models.SourceTypeJellyfin))
	assert.Equal(t, 30*time.Second, InputTimeout(models.SourceTypeLocal))
}

func softwarePipeline() *Pipeline {
	return NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNone, "", DefaultProfile(), "6000k", "192k")
}

// probeMatching is an h264/aac source already in TS form: nothing to do.
func probeMatching() *StreamInfo {
	return &StreamInfo{
		VideoCodec:      "h264",
		VideoPixFmt:     "yuv420p",
		AudioCodec:      "aac",
		ContainerFormat: "mpegts",
	}
}

func TestPlanCopyOnMatch(t *testing.T) {
	dec := softwarePipeline().Plan(StreamRequest{
		Mode:  models.StreamingModeAuto,
		Probe: probeMatching(),
	})

	assert.True(t, dec.CopyVideo)
	assert.True(t, dec.CopyAudio)
	assert.Empty(t, dec.VideoBSFs)
	assert.Empty(t, dec.FilterGraph)
	assert.Equal(t, "source matches target", dec.Reason)
}

func TestPlanAnnexBConversionOnMP4Copy(t *testing.T) {
	probe := probeMatching()
	probe.ContainerFormat = "mov,mp4,m4a,3gp,3g2,mj2"

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.True(t, dec.CopyVideo)
	assert.Equal(t, []string{"h264_mp4toannexb", "dump_extra"}, dec.VideoBSFs)
}

func TestPlanHEVCAnnexB(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNone, "",
		mustProfile(t, "ts_hevc_aac"), "6000k", "192k")

	dec := pipe.Plan(StreamRequest{
		Mode: models.StreamingModeAuto,
		Probe: &StreamInfo{
			VideoCodec:      "hevc",
			VideoPixFmt:     "yuv420p",
			AudioCodec:      "aac",
			ContainerFormat: "mov,mp4,m4a,3gp,3g2,mj2",
		},
	})

	assert.True(t, dec.CopyVideo)
	assert.Equal(t, []string{"hevc_mp4toannexb", "dump_extra"}, dec.VideoBSFs)
}

func mustProfile(t *testing.T, name string) Profile {
	t.Helper()
	p, err := ParseProfile(name)
	require.NoError(t, err)
	return p
}

func TestPlanTranscodeOnMismatch(t *testing.T) {
	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.CopyVideo)
	assert.Equal(t, "libx264", dec.VideoEncoder)
	assert.True(t, dec.CopyAudio)
	assert.Contains(t, dec.Reason, "mpeg2video")
}

func TestPlanTranscodeOnInterlace(t *testing.T) {
	probe := probeMatching()
	probe.FieldOrder = "tt"

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.CopyVideo)
	assert.Contains(t, dec.Reason, "filters required")
	assert.True(t, strings.HasPrefix(dec.FilterGraph, "yadif"))
}

func TestPlanTonemapsHDR(t *testing.T) {
	probe := probeMatching()
	probe.ColorTransfer = "smpte2084"

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.CopyVideo)
	assert.Contains(t, dec.FilterGraph, "zscale=t=linear:npl=100")
	assert.Contains(t, dec.FilterGraph, "tonemap=hable")
	assert.Contains(t, dec.FilterGraph, "zscale=p=bt709:t=bt709:m=bt709")
}

func TestPlanScalesToProfileGeometry(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNone, "",
		mustProfile(t, "ts_h264_aac_720p"), "6000k", "192k")

	probe := probeMatching()
	probe.VideoWidth = 1920
	probe.VideoHeight = 1080

	dec := pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.CopyVideo)
	assert.Contains(t, dec.FilterGraph, "scale=1280:720:force_original_aspect_ratio=decrease")
	assert.Contains(t, dec.FilterGraph, "pad=1280:720:(ow-iw)/2:(oh-ih)/2")

	// A source already at target geometry copies.
	probe.VideoWidth = 1280
	probe.VideoHeight = 720
	dec = pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})
	assert.True(t, dec.CopyVideo)
}

func TestPlanWatermarkForcesTranscode(t *testing.T) {
	dec := softwarePipeline().Plan(StreamRequest{
		Mode:          models.StreamingModeAuto,
		Probe:         probeMatching(),
		WatermarkPath: "/data/logos/wm.png",
	})

	assert.False(t, dec.CopyVideo)
	assert.Contains(t, dec.Reason, "watermark")
	assert.Contains(t, dec.FilterGraph, "movie=/data/logos/wm.png[wm]")
	assert.Contains(t, dec.FilterGraph, "overlay=main_w-overlay_w-10:10")
	// No preceding software filters: the main chain is a null pad.
	assert.True(t, strings.HasPrefix(dec.FilterGraph, "null[main];"))
}

func TestPlanForcedCopyNeverCopiesMismatch(t *testing.T) {
	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeCopy, Probe: probe})

	assert.False(t, dec.CopyVideo)
	assert.Equal(t, "libx264", dec.VideoEncoder)
	assert.Contains(t, dec.Reason, "copy requested")
}

func TestPlanForcedCopySkipsFilterChecks(t *testing.T) {
	probe := probeMatching()
	probe.FieldOrder = "tt" // would force a transcode in auto mode

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeCopy, Probe: probe})

	assert.True(t, dec.CopyVideo)
	assert.Equal(t, "channel forces copy", dec.Reason)
}

func TestPlanForcedTranscode(t *testing.T) {
	dec := softwarePipeline().Plan(StreamRequest{
		Mode:  models.StreamingModeTranscode,
		Probe: probeMatching(),
	})

	assert.False(t, dec.CopyVideo)
	assert.False(t, dec.CopyAudio)
	assert.Equal(t, "libx264", dec.VideoEncoder)
	assert.Equal(t, "aac", dec.AudioEncoder)
}

func TestPlanAudioMismatchRidesAlong(t *testing.T) {
	probe := probeMatching()
	probe.AudioCodec = "dts"

	dec := softwarePipeline().Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.True(t, dec.CopyVideo)
	assert.False(t, dec.CopyAudio)
	assert.Equal(t, "aac", dec.AudioEncoder)
}

func TestPlanProbeOverridesCatalog(t *testing.T) {
	dec := softwarePipeline().Plan(StreamRequest{
		Mode:       models.StreamingModeAuto,
		VideoCodec: "mpeg2video", // stale catalog row
		AudioCodec: "ac3",
		Container:  "mpegts",
		Probe:      probeMatching(),
	})

	assert.True(t, dec.CopyVideo)
	assert.True(t, dec.CopyAudio)
}

func TestPlanCatalogFallbackWithoutProbe(t *testing.T) {
	dec := softwarePipeline().Plan(StreamRequest{
		Mode:       models.StreamingModeAuto,
		VideoCodec: "h264",
		AudioCodec: "aac",
		Container:  "mpegts",
	})

	// Without a probe the pixel format is unknown, so the planner plays
	// it safe and transcodes through format=yuv420p.
	assert.False(t, dec.CopyVideo)
	assert.Contains(t, dec.FilterGraph, "format=yuv420p")
}

func TestPlanHWDecode(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNVENC, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	dec := pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.CopyVideo)
	assert.True(t, dec.HWDecode)
	assert.Equal(t, "h264_nvenc", dec.VideoEncoder)
}

func TestPlanForbidHWDecode(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNVENC, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	dec := pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe, ForbidHWDecode: true})

	assert.False(t, dec.HWDecode, "retry after a hwaccel failure decodes in software")
	assert.Equal(t, "h264_nvenc", dec.VideoEncoder, "the encoder side is unaffected")
}

func TestPlanSoftwareFiltersDisableHWDecode(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNVENC, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"
	probe.FieldOrder = "tt"

	dec := pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.HWDecode)
	assert.Equal(t, "h264_nvenc", dec.VideoEncoder)
	assert.Contains(t, dec.FilterGraph, "yadif")
}

func TestPlanVideoToolboxDeclinesMPEG4(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelVT, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg4"

	dec := pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.False(t, dec.HWDecode)
	assert.Equal(t, "h264_videotoolbox", dec.VideoEncoder)
}

func TestPlanQSVUploadTail(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelQSV, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	dec := pipe.Plan(StreamRequest{Mode: models.StreamingModeAuto, Probe: probe})

	assert.Equal(t, "format=nv12,hwupload=extra_hw_frames=64,format=qsv", dec.FilterGraph)
	assert.Equal(t, "h264_qsv", dec.VideoEncoder)
}

func TestCommandCopyPath(t *testing.T) {
	probe := probeMatching()
	probe.ContainerFormat = "mov,mp4,m4a,3gp,3g2,mj2"

	cmd := softwarePipeline().Command(StreamRequest{
		URL:         "/media/show/e01.mp4",
		Mode:        models.StreamingModeAuto,
		ChannelName: "News 24",
		OffsetMs:    754000,
		Probe:       probe,
	})

	s := cmd.String()
	assert.Contains(t, s, "-re")
	assert.Contains(t, s, "-ss 754.000")
	assert.Contains(t, s, "-i /media/show/e01.mp4")
	assert.Contains(t, s, "-c:v copy")
	assert.Contains(t, s, "-bsf:v h264_mp4toannexb,dump_extra")
	assert.Contains(t, s, "-c:a copy")
	assert.Contains(t, s, "-metadata service_name=News 24")
	assert.Contains(t, s, "-mpegts_copyts 1")
	assert.Contains(t, s, "pipe:1")
	assert.NotContains(t, s, "-vf")
	assert.NotContains(t, s, "-timeout")
}

func TestCommandLiveInputNotPaced(t *testing.T) {
	cmd := softwarePipeline().Command(StreamRequest{
		URL:        "https://stream.example.com/live.m3u8",
		Live:       true,
		SourceType: models.SourceTypeM3U,
		Mode:       models.StreamingModeAuto,
		Probe:      probeMatching(),
	})

	s := cmd.String()
	assert.NotContains(t, s, "-re ")
	assert.Contains(t, s, "-timeout 30000000")
	assert.Contains(t, s, "-reconnect 1")
}

func TestCommandTranscodePath(t *testing.T) {
	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"
	probe.AudioCodec = "mp2"

	cmd := softwarePipeline().Command(StreamRequest{
		URL:   "/media/archive/old.mpg",
		Mode:  models.StreamingModeAuto,
		Probe: probe,
	})

	s := cmd.String()
	assert.Contains(t, s, "-c:v libx264")
	assert.Contains(t, s, "-b:v 6000k")
	assert.Contains(t, s, "-preset veryfast")
	assert.Contains(t, s, "-c:a aac")
	assert.Contains(t, s, "-b:a 192k")
	assert.NotContains(t, s, "-c:v copy")
}

func TestCommandHardwareEncoderSkipsPreset(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelNVENC, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	cmd := pipe.Command(StreamRequest{URL: "/m.ts", Mode: models.StreamingModeAuto, Probe: probe})

	s := cmd.String()
	assert.Contains(t, s, "-c:v h264_nvenc")
	assert.NotContains(t, s, "-preset")
}

func TestCommandQSVDeviceWiring(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelQSV, "", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	cmd := pipe.Command(StreamRequest{URL: "/m.ts", Mode: models.StreamingModeAuto, Probe: probe})

	s := cmd.String()
	assert.Contains(t, s, "-init_hw_device qsv=hw")
	assert.Contains(t, s, "-filter_hw_device hw")
	assert.Contains(t, s, "format=qsv")
}

func TestCommandVAAPIDeviceWiring(t *testing.T) {
	pipe := NewPipeline("/usr/bin/ffmpeg", codec.HWAccelVAAPI, "/dev/dri/renderD128", DefaultProfile(), "6000k", "192k")

	probe := probeMatching()
	probe.VideoCodec = "mpeg2video"

	cmd := pipe.Command(StreamRequest{URL: "/m.ts", Mode: models.StreamingModeAuto, Probe: probe})

	s := cmd.String()
	assert.Contains(t, s, "-vaapi_device /dev/dri/renderD128")
	assert.Contains(t, s, "format=nv12,hwupload")
	assert.Contains(t, s, "-c:v h264_vaapi")
}

func TestCommandExtraInputArgs(t *testing.T) {
	cmd := softwarePipeline().Command(StreamRequest{
		URL:            "/m.ts",
		Mode:           models.StreamingModeAuto,
		Probe:          probeMatching(),
		ExtraInputArgs: []string{"-analyzeduration", "10M"},
	})

	args := cmd.Args
	assert.Less(t, indexOf(args, "-analyzeduration"), indexOf(args, "-i"))
}

func TestCommandDurationCut(t *testing.T) {
	cmd := softwarePipeline().Command(StreamRequest{
		URL:        "/m.ts",
		Mode:       models.StreamingModeAuto,
		Probe:      probeMatching(),
		DurationMs: 754250,
	})

	assert.Contains(t, cmd.String(), "-t 754.250")
}
