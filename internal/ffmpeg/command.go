package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/codec"
)

// CommandBuilder assembles FFmpeg argv with a fluent API. Argument order
// matters to FFmpeg: global flags, then input flags, then -i, then filters
// and output flags; Build enforces that layout regardless of call order.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
	logLevel   string
}

// NewCommandBuilder creates a builder bound to the detected ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner suppresses the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// HWAccelDecode requests hardware decoding for the backend. Backends with
// no decode side (AMF) and none/auto produce no flag.
func (b *CommandBuilder) HWAccelDecode(backend codec.HWAccel) *CommandBuilder {
	if flag := backend.DecodeFlag(); flag != "" {
		b.inputArgs = append(b.inputArgs, "-hwaccel", flag)
	}
	return b
}

// HWUploadFilter adds the frame upload filter a hardware encoder needs
// when the decode side ran in software.
func (b *CommandBuilder) HWUploadFilter(backend codec.HWAccel) *CommandBuilder {
	switch backend {
	case codec.HWAccelVAAPI:
		b.filterArgs = append(b.filterArgs, "format=nv12,hwupload")
	case codec.HWAccelNVENC:
		b.filterArgs = append(b.filterArgs, "format=nv12,hwupload_cuda")
	case codec.HWAccelQSV:
		b.filterArgs = append(b.filterArgs, "format=nv12,hwupload=extra_hw_frames=64")
	}
	// VideoToolbox and AMF encoders accept software frames directly.
	return b
}

// VAAPIDevice points FFmpeg at a specific render node.
func (b *CommandBuilder) VAAPIDevice(device string) *CommandBuilder {
	if device != "" {
		b.globalArgs = append(b.globalArgs, "-vaapi_device", device)
	}
	return b
}

// InitHWDevice creates a named hardware device context ("qsv", "hw").
func (b *CommandBuilder) InitHWDevice(hwType, name string) *CommandBuilder {
	if hwType == "" || hwType == "none" || hwType == "auto" {
		return b
	}
	if name != "" {
		b.globalArgs = append(b.globalArgs, "-init_hw_device", fmt.Sprintf("%s=%s", hwType, name))
	} else {
		b.globalArgs = append(b.globalArgs, "-init_hw_device", hwType)
	}
	return b
}

// FilterHWDevice names the device context filters like hwupload use.
func (b *CommandBuilder) FilterHWDevice(name string) *CommandBuilder {
	if name != "" {
		b.globalArgs = append(b.globalArgs, "-filter_hw_device", name)
	}
	return b
}

// Realtime paces input reads at native speed. File content is read this
// way so the fanout never outruns the wall clock; live inputs already
// arrive in real time and must not be throttled again.
func (b *CommandBuilder) Realtime() *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-re")
	return b
}

// FFlags applies the demuxer flags every playout input uses: generate
// missing PTS, drop corrupt packets, ignore broken DTS.
func (b *CommandBuilder) FFlags() *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-fflags", "+genpts+discardcorrupt+igndts")
	return b
}

// SeekMs seeks the input before the demuxer opens (-ss ahead of -i). With
// stream copy this lands on the preceding keyframe; when decoding, FFmpeg
// discards decoded frames up to the exact offset.
func (b *CommandBuilder) SeekMs(offsetMs int64) *CommandBuilder {
	if offsetMs > 0 {
		b.inputArgs = append(b.inputArgs, "-ss", formatSeconds(offsetMs))
	}
	return b
}

// DurationMs caps output duration, for items cut at a schedule boundary.
func (b *CommandBuilder) DurationMs(ms int64) *CommandBuilder {
	if ms > 0 {
		b.outputArgs = append(b.outputArgs, "-t", formatSeconds(ms))
	}
	return b
}

// InputTimeout bounds socket reads on network inputs.
func (b *CommandBuilder) InputTimeout(d time.Duration) *CommandBuilder {
	if d > 0 {
		b.inputArgs = append(b.inputArgs, "-timeout", strconv.FormatInt(d.Microseconds(), 10))
	}
	return b
}

// Headers forwards HTTP request headers to the demuxer.
func (b *CommandBuilder) Headers(headers map[string]string) *CommandBuilder {
	if h := formatHeaders(headers); h != "" {
		b.inputArgs = append(b.inputArgs, "-headers", h)
	}
	return b
}

// Reconnect enables automatic reconnection for network inputs.
func (b *CommandBuilder) Reconnect() *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5")
	return b
}

// Input sets the input URL or path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs appends raw input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// CopyVideo passes the video stream through unchanged.
func (b *CommandBuilder) CopyVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", "copy")
	return b
}

// CopyAudio passes the audio stream through unchanged.
func (b *CommandBuilder) CopyAudio() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", "copy")
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(name string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", name)
	return b
}

// AudioCodec sets the audio encoder.
func (b *CommandBuilder) AudioCodec(name string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", name)
	return b
}

// VideoBitrate sets the video bitrate ("6000k").
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	}
	return b
}

// AudioBitrate sets the audio bitrate ("192k").
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	}
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	if preset != "" {
		b.outputArgs = append(b.outputArgs, "-preset", preset)
	}
	return b
}

// AudioChannels sets the output channel count.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	if channels > 0 {
		b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	}
	return b
}

// AudioSampleRate sets the output sample rate.
func (b *CommandBuilder) AudioSampleRate(hz int) *CommandBuilder {
	if hz > 0 {
		b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(hz))
	}
	return b
}

// VideoFilter appends one node to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	if filter != "" {
		b.filterArgs = append(b.filterArgs, filter)
	}
	return b
}

// VideoBitstreamFilters applies -bsf:v. Copying H.264 out of an MP4/MOV
// container into MPEG-TS requires h264_mp4toannexb plus dump_extra so
// parameter sets travel in-band.
func (b *CommandBuilder) VideoBitstreamFilters(names ...string) *CommandBuilder {
	if len(names) > 0 {
		b.outputArgs = append(b.outputArgs, "-bsf:v", strings.Join(names, ","))
	}
	return b
}

// Metadata sets an output metadata key (service_name for TS programs).
func (b *CommandBuilder) Metadata(key, value string) *CommandBuilder {
	if value != "" {
		b.outputArgs = append(b.outputArgs, "-metadata", fmt.Sprintf("%s=%s", key, value))
	}
	return b
}

// MpegtsArgs applies the MPEG-TS mux settings every channel stream uses.
// Timestamps pass through untouched so a client joining mid-item sees the
// same clock the playhead reports.
func (b *CommandBuilder) MpegtsArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "mpegts",
		"-mpegts_copyts", "1",
		"-avoid_negative_ts", "disabled",
		"-mpegts_start_pid", "256",
		"-mpegts_pmt_start_pid", "4096",
	)
	return b
}

// FlushPackets flushes mux output immediately for low joining latency.
func (b *CommandBuilder) FlushPackets() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-flush_packets", "1")
	return b
}

// MuxDelay sets the muxer delay.
func (b *CommandBuilder) MuxDelay(delay string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-muxdelay", delay)
	return b
}

// OutputArgs appends raw output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// ApplyCustomInputOptions parses an operator-supplied option string and
// inserts it before -i. The string must already have passed ValidateExtraArgs.
func (b *CommandBuilder) ApplyCustomInputOptions(opts string) *CommandBuilder {
	if opts != "" {
		b.inputArgs = append(b.inputArgs, parseOptionsString(opts)...)
	}
	return b
}

// ApplyCustomOutputOptions parses an operator-supplied option string and
// appends it to the output arguments.
func (b *CommandBuilder) ApplyCustomOutputOptions(opts string) *CommandBuilder {
	if opts != "" {
		b.outputArgs = append(b.outputArgs, parseOptionsString(opts)...)
	}
	return b
}

// Output sets the output destination; channel streams write to pipe:1.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final argv.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return newCommand(b.binary, args)
}

// formatSeconds renders milliseconds as fractional seconds for -ss.
func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// parseOptionsString splits an option string on spaces, respecting single
// and double quotes and backslash escapes.
func parseOptionsString(s string) []string {
	var result []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	escaped := false

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '"' || r == '\'' {
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
			default:
				current.WriteRune(r)
			}
			continue
		}
		if r == ' ' && !inQuote {
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
