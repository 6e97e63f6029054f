package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exstreamtv/exstreamtv/internal/codec"
)

func TestCommandBuilderLayout(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Realtime().
		FFlags().
		SeekMs(90500).
		Input("/media/movie.mkv").
		VideoFilter("yadif").
		VideoFilter("format=yuv420p").
		VideoCodec("libx264").
		VideoBitrate("6000k").
		VideoPreset("veryfast").
		AudioCodec("aac").
		AudioBitrate("192k").
		MpegtsArgs().
		FlushPackets().
		MuxDelay("0").
		Output("pipe:1").
		Build()

	args := cmd.Args
	require.NotEmpty(t, args)

	// Global flags lead, the output destination closes.
	assert.Equal(t, "-loglevel", args[0])
	assert.Equal(t, "error", args[1])
	assert.Equal(t, "pipe:1", args[len(args)-1])

	s := cmd.String()
	assert.Contains(t, s, "-hide_banner")
	assert.Contains(t, s, "-re")
	assert.Contains(t, s, "-fflags +genpts+discardcorrupt+igndts")
	assert.Contains(t, s, "-ss 90.500")
	assert.Contains(t, s, "-i /media/movie.mkv")
	assert.Contains(t, s, "-vf yadif,format=yuv420p")
	assert.Contains(t, s, "-c:v libx264")
	assert.Contains(t, s, "-b:v 6000k")
	assert.Contains(t, s, "-preset veryfast")
	assert.Contains(t, s, "-c:a aac")
	assert.Contains(t, s, "-b:a 192k")
	assert.Contains(t, s, "-flush_packets 1")
	assert.Contains(t, s, "-muxdelay 0")

	// -ss must precede -i, and the filter chain must follow it.
	assert.Less(t, indexOf(args, "-ss"), indexOf(args, "-i"))
	assert.Less(t, indexOf(args, "-i"), indexOf(args, "-vf"))
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}

func TestCommandBuilderMpegtsArgs(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in.ts").
		MpegtsArgs().
		Output("pipe:1").
		Build()

	s := cmd.String()
	assert.Contains(t, s, "-f mpegts")
	assert.Contains(t, s, "-mpegts_copyts 1")
	assert.Contains(t, s, "-avoid_negative_ts disabled")
	assert.Contains(t, s, "-mpegts_start_pid 256")
	assert.Contains(t, s, "-mpegts_pmt_start_pid 4096")
}

func TestCommandBuilderSeek(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").SeekMs(0).Input("in").Output("out").Build()
	assert.NotContains(t, cmd.String(), "-ss")

	cmd = NewCommandBuilder("ffmpeg").SeekMs(1234).Input("in").Output("out").Build()
	assert.Contains(t, cmd.String(), "-ss 1.234")
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "0.000", formatSeconds(0))
	assert.Equal(t, "1.234", formatSeconds(1234))
	assert.Equal(t, "90.500", formatSeconds(90500))
	assert.Equal(t, "3600.000", formatSeconds(3600000))
}

func TestCommandBuilderDurationCap(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("in").DurationMs(0).Output("out").Build()
	assert.NotContains(t, cmd.String(), "-t ")

	cmd = NewCommandBuilder("ffmpeg").Input("in").DurationMs(90500).Output("out").Build()
	s := cmd.String()
	assert.Contains(t, s, "-t 90.500")
	assert.Greater(t, indexOf(cmd.Args, "-t"), indexOf(cmd.Args, "-i"), "-t is an output flag")
}

func TestCommandBuilderCopyWithBSF(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in.mp4").
		CopyVideo().
		VideoBitstreamFilters("h264_mp4toannexb", "dump_extra").
		CopyAudio().
		Output("pipe:1").
		Build()

	s := cmd.String()
	assert.Contains(t, s, "-c:v copy")
	assert.Contains(t, s, "-bsf:v h264_mp4toannexb,dump_extra")
	assert.Contains(t, s, "-c:a copy")
}

func TestCommandBuilderNoBSFWithoutNames(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in.ts").
		CopyVideo().
		VideoBitstreamFilters().
		Output("pipe:1").
		Build()

	assert.NotContains(t, cmd.String(), "-bsf:v")
}

func TestCommandBuilderHWAccelDecode(t *testing.T) {
	tests := []struct {
		backend codec.HWAccel
		want    string
	}{
		{codec.HWAccelNVENC, "-hwaccel cuda"},
		{codec.HWAccelQSV, "-hwaccel qsv"},
		{codec.HWAccelVAAPI, "-hwaccel vaapi"},
		{codec.HWAccelVT, "-hwaccel videotoolbox"},
	}
	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			cmd := NewCommandBuilder("ffmpeg").
				HWAccelDecode(tt.backend).
				Input("in").Output("out").Build()
			assert.Contains(t, cmd.String(), tt.want)
		})
	}

	// AMF has no decode side; none and auto produce nothing.
	for _, backend := range []codec.HWAccel{codec.HWAccelAMF, codec.HWAccelNone, codec.HWAccelAuto} {
		cmd := NewCommandBuilder("ffmpeg").
			HWAccelDecode(backend).
			Input("in").Output("out").Build()
		assert.NotContains(t, cmd.String(), "-hwaccel ", "backend %s", backend)
	}
}

func TestCommandBuilderHWUploadFilter(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		HWUploadFilter(codec.HWAccelVAAPI).
		Input("in").Output("out").Build()
	assert.Contains(t, cmd.String(), "-vf format=nv12,hwupload")

	cmd = NewCommandBuilder("ffmpeg").
		HWUploadFilter(codec.HWAccelQSV).
		Input("in").Output("out").Build()
	assert.Contains(t, cmd.String(), "hwupload=extra_hw_frames=64")

	// VideoToolbox and AMF take software frames directly.
	cmd = NewCommandBuilder("ffmpeg").
		HWUploadFilter(codec.HWAccelVT).
		Input("in").Output("out").Build()
	assert.NotContains(t, cmd.String(), "-vf")
}

func TestCommandBuilderInitHWDevice(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		InitHWDevice("qsv", "hw").
		FilterHWDevice("hw").
		Input("in").Output("out").Build()

	s := cmd.String()
	assert.Contains(t, s, "-init_hw_device qsv=hw")
	assert.Contains(t, s, "-filter_hw_device hw")

	for _, hwType := range []string{"", "none", "auto"} {
		cmd := NewCommandBuilder("ffmpeg").
			InitHWDevice(hwType, "hw").
			Input("in").Output("out").Build()
		assert.NotContains(t, cmd.String(), "-init_hw_device")
	}
}

func TestCommandBuilderNetworkInput(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		InputTimeout(InputTimeout("plex")).
		Reconnect().
		Headers(map[string]string{"X-Plex-Token": "abc123"}).
		Input("https://plex.local/library/parts/1/file.mkv").
		Output("pipe:1").
		Build()

	s := cmd.String()
	assert.Contains(t, s, "-timeout 60000000")
	assert.Contains(t, s, "-reconnect 1")
	assert.Contains(t, s, "-reconnect_streamed 1")
	assert.Contains(t, s, "-reconnect_delay_max 5")
	assert.Contains(t, s, "-headers X-Plex-Token: abc123\r\n")
}

func TestCommandBuilderMetadata(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in").
		Metadata("service_name", "News 24").
		Output("out").Build()
	assert.Contains(t, cmd.String(), "-metadata service_name=News 24")

	cmd = NewCommandBuilder("ffmpeg").
		Input("in").
		Metadata("service_name", "").
		Output("out").Build()
	assert.NotContains(t, cmd.String(), "-metadata")
}

func TestParseOptionsString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain", "-analyzeduration 10M -probesize 50M", []string{"-analyzeduration", "10M", "-probesize", "50M"}},
		{"double quoted", `-user_agent "My Agent/1.0"`, []string{"-user_agent", "My Agent/1.0"}},
		{"single quoted", "-user_agent 'My Agent'", []string{"-user_agent", "My Agent"}},
		{"mixed quotes", `-headers "X: 'quoted'"`, []string{"-headers", "X: 'quoted'"}},
		{"escaped space", `-path a\ b`, []string{"-path", "a b"}},
		{"collapses runs", "a   b", []string{"a", "b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOptionsString(tt.input))
		})
	}
}

func TestCommandBuilderCustomOptions(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		ApplyCustomInputOptions("-analyzeduration 10M").
		Input("in").
		Output("out").
		Build()

	args := cmd.Args
	assert.Less(t, indexOf(args, "-analyzeduration"), indexOf(args, "-i"))
}
