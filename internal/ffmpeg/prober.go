package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult mirrors ffprobe's -print_format json output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat is the container-level block of a probe.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	ProbeScore     int               `json:"probe_score"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream is one elementary stream of a probe.
type ProbeStream struct {
	Index          int               `json:"index"`
	CodecName      string            `json:"codec_name"`
	CodecLongName  string            `json:"codec_long_name"`
	Profile        string            `json:"profile"`
	CodecType      string            `json:"codec_type"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	PixFmt         string            `json:"pix_fmt,omitempty"`
	Level          int               `json:"level,omitempty"`
	ColorRange     string            `json:"color_range,omitempty"`
	ColorSpace     string            `json:"color_space,omitempty"`
	ColorTransfer  string            `json:"color_transfer,omitempty"`
	ColorPrimaries string            `json:"color_primaries,omitempty"`
	FieldOrder     string            `json:"field_order,omitempty"`
	SampleRate     string            `json:"sample_rate,omitempty"`
	Channels       int               `json:"channels,omitempty"`
	ChannelLayout  string            `json:"channel_layout,omitempty"`
	RFrameRate     string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate   string            `json:"avg_frame_rate,omitempty"`
	StartTime      string            `json:"start_time,omitempty"`
	Duration       string            `json:"duration,omitempty"`
	BitRate        string            `json:"bit_rate,omitempty"`
	Disposition    ProbeDisposition  `json:"disposition,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition carries the stream disposition flags the pipeline reads.
type ProbeDisposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

// StreamInfo is the condensed probe view the transcode planner consumes:
// default video and audio stream properties plus container facts.
type StreamInfo struct {
	VideoCodec     string  `json:"video_codec,omitempty"`
	VideoProfile   string  `json:"video_profile,omitempty"`
	VideoWidth     int     `json:"video_width,omitempty"`
	VideoHeight    int     `json:"video_height,omitempty"`
	VideoFramerate float64 `json:"video_framerate,omitempty"`
	VideoPixFmt    string  `json:"video_pix_fmt,omitempty"`
	FieldOrder     string  `json:"field_order,omitempty"`
	ColorTransfer  string  `json:"color_transfer,omitempty"`

	AudioCodec      string `json:"audio_codec,omitempty"`
	AudioChannels   int    `json:"audio_channels,omitempty"`
	AudioSampleRate int    `json:"audio_sample_rate,omitempty"`

	ContainerFormat string `json:"container_format,omitempty"`
	DurationMs      int64  `json:"duration_ms,omitempty"`
	IsLiveStream    bool   `json:"is_live_stream"`
	StreamCount     int    `json:"stream_count"`
}

// Interlaced reports whether the video needs deinterlacing.
func (info *StreamInfo) Interlaced() bool {
	switch info.FieldOrder {
	case "tt", "bb", "tb", "bt":
		return true
	}
	return false
}

// HDR reports whether the video carries PQ or HLG transfer and needs
// tonemapping down to SDR for the TS target.
func (info *StreamInfo) HDR() bool {
	switch info.ColorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return false
}

// HasVideo reports whether a video stream was found.
func (info *StreamInfo) HasVideo() bool { return info.VideoCodec != "" }

// HasAudio reports whether an audio stream was found.
func (info *StreamInfo) HasAudio() bool { return info.AudioCodec != "" }

// Prober runs ffprobe against resolved source URLs.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober; ffprobePath comes from binary detection.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout overrides the probe deadline.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe inspects a URL. headers are forwarded for sources whose resolved
// URLs require auth (Plex token headers and the like); pass nil otherwise.
func (p *Prober) Probe(ctx context.Context, url string, headers map[string]string) (*ProbeResult, error) {
	if p.ffprobePath == "" {
		return nil, fmt.Errorf("ffprobe not available")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}

	if isNetworkURL(url) {
		args = append(args,
			"-timeout", strconv.FormatInt(p.timeout.Microseconds(), 10),
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
		if h := formatHeaders(headers); h != "" {
			args = append(args, "-headers", h)
		}
	}

	args = append(args, url)

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeSimple probes a URL and condenses the result.
func (p *Prober) ProbeSimple(ctx context.Context, url string, headers map[string]string) (*StreamInfo, error) {
	result, err := p.Probe(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return Simplify(result), nil
}

// Simplify condenses a full probe to the planner's view, picking the
// default video and audio streams (first stream when none is marked).
func Simplify(result *ProbeResult) *StreamInfo {
	info := &StreamInfo{
		ContainerFormat: result.Format.FormatName,
		StreamCount:     result.Format.NumStreams,
		DurationMs:      result.Duration(),
	}

	info.IsLiveStream = info.DurationMs == 0 ||
		strings.Contains(result.Format.FormatName, "hls") ||
		strings.Contains(result.Format.FormatName, "mpegts")

	if v := result.VideoStream(); v != nil {
		info.VideoCodec = v.CodecName
		info.VideoProfile = v.Profile
		info.VideoWidth = v.Width
		info.VideoHeight = v.Height
		info.VideoPixFmt = v.PixFmt
		info.VideoFramerate = v.Framerate()
		info.FieldOrder = v.FieldOrder
		info.ColorTransfer = v.ColorTransfer
	}
	if a := result.AudioStream(); a != nil {
		info.AudioCodec = a.CodecName
		info.AudioChannels = a.Channels
		if a.SampleRate != "" {
			if sr, err := strconv.Atoi(a.SampleRate); err == nil {
				info.AudioSampleRate = sr
			}
		}
	}
	return info
}

// VideoStream returns the default video stream, or the first one.
func (r *ProbeResult) VideoStream() *ProbeStream {
	return r.defaultStream("video")
}

// AudioStream returns the default audio stream, or the first one.
func (r *ProbeResult) AudioStream() *ProbeStream {
	return r.defaultStream("audio")
}

func (r *ProbeResult) defaultStream(codecType string) *ProbeStream {
	var first *ProbeStream
	for i := range r.Streams {
		s := &r.Streams[i]
		if s.CodecType != codecType {
			continue
		}
		if s.Disposition.Default == 1 {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}

// Duration returns the container duration in milliseconds, 0 for live.
func (r *ProbeResult) Duration() int64 {
	if r.Format.Duration == "" {
		return 0
	}
	if dur, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil {
		return int64(dur * 1000)
	}
	return 0
}

// Framerate parses the stream framerate ("30000/1001", "25/1").
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" {
		if f := parseFramerate(s.AvgFrameRate); f > 0 {
			return f
		}
	}
	return parseFramerate(s.RFrameRate)
}

func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func isNetworkURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// formatHeaders renders request headers the way ffmpeg's -headers flag
// expects: CRLF-joined "Key: Value" pairs.
func formatHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	return b.String()
}
