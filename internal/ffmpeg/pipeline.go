package ffmpeg

import (
	"fmt"
	"strings"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/codec"
	"github.com/exstreamtv/exstreamtv/internal/models"
)

// Profile is the encode target a channel streams toward. Profiles are
// named "ts_<video>_<audio>" with an optional trailing height
// ("ts_h264_aac", "ts_h264_aac_720p").
type Profile struct {
	Name   string
	Video  codec.Video
	Audio  codec.Audio
	Width  int // 0 keeps source geometry
	Height int
}

// profileSizes maps the height suffix to 16:9 output geometry.
var profileSizes = map[string][2]int{
	"360p":  {640, 360},
	"480p":  {854, 480},
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
	"2160p": {3840, 2160},
}

// ParseProfile parses a target profile name.
func ParseProfile(name string) (Profile, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	if len(parts) < 3 || parts[0] != "ts" {
		return Profile{}, fmt.Errorf("invalid target profile %q", name)
	}
	v, ok := codec.ParseVideo(parts[1])
	if !ok {
		return Profile{}, fmt.Errorf("target profile %q: unknown video codec %q", name, parts[1])
	}
	if !v.TSCarriable() {
		return Profile{}, fmt.Errorf("target profile %q: MPEG-TS cannot carry %s", name, v)
	}
	a, ok := codec.ParseAudio(parts[2])
	if !ok {
		return Profile{}, fmt.Errorf("target profile %q: unknown audio codec %q", name, parts[2])
	}
	p := Profile{Name: name, Video: v, Audio: a}
	if len(parts) >= 4 {
		size, ok := profileSizes[parts[3]]
		if !ok {
			return Profile{}, fmt.Errorf("target profile %q: unknown size %q", name, parts[3])
		}
		p.Width, p.Height = size[0], size[1]
	}
	return p, nil
}

// DefaultProfile is used when a channel names no profile of its own.
func DefaultProfile() Profile {
	p, _ := ParseProfile("ts_h264_aac")
	return p
}

// InputTimeout returns the socket timeout for a source type. Plex and
// archive.org stall long on range requests, everything else fails fast.
func InputTimeout(source models.SourceType) time.Duration {
	switch source {
	case models.SourceTypePlex, models.SourceTypeArchiveOrg:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// StreamRequest carries everything needed to build one item's process.
type StreamRequest struct {
	// Resolved input.
	URL     string
	Headers map[string]string
	Live    bool

	SourceType models.SourceType
	OffsetMs   int64

	// DurationMs caps playback for items cut at a schedule boundary.
	// Zero plays the item to EOF.
	DurationMs int64

	// Channel intent.
	Mode          models.StreamingMode
	ChannelName   string
	WatermarkPath string

	// ForbidHWDecode forces software decode; set when a previous attempt
	// on this item died with a hardware accel failure.
	ForbidHWDecode bool

	// Probe is the fresh ffprobe view when available.
	Probe *StreamInfo

	// Catalog fallbacks used when Probe is nil.
	Container  string
	VideoCodec string
	AudioCodec string

	// Operator escape hatch, already validated.
	ExtraInputArgs []string
}

// Decision is the planner's verdict for one item.
type Decision struct {
	CopyVideo bool
	CopyAudio bool

	// Encoders, set when the respective stream transcodes.
	VideoEncoder string
	AudioEncoder string

	// VideoBSFs apply on video copy out of AVCC containers.
	VideoBSFs []string

	// FilterGraph is the complete -vf value, empty when no filtering.
	FilterGraph string

	// HWDecode requests hardware decode; false when the backend declines
	// the source codec or software filters need system-memory frames.
	HWDecode bool

	// Reason is a loggable one-liner for why the video path was chosen.
	Reason string
}

// Pipeline builds FFmpeg processes for channel playout. One pipeline
// serves all channels; per-channel intent arrives with each request.
type Pipeline struct {
	ffmpegPath   string
	hw           codec.HWAccel // picked backend, never auto
	vaapiDevice  string
	profile      Profile
	videoBitrate string
	audioBitrate string
	preset       string
}

// NewPipeline wires the planner. hw must already be resolved through
// HWAccelProbe.Pick; device carries the VAAPI render node when relevant.
func NewPipeline(ffmpegPath string, hw codec.HWAccel, device string, profile Profile, videoBitrate, audioBitrate string) *Pipeline {
	return &Pipeline{
		ffmpegPath:   ffmpegPath,
		hw:           hw,
		vaapiDevice:  device,
		profile:      profile,
		videoBitrate: videoBitrate,
		audioBitrate: audioBitrate,
		preset:       "veryfast",
	}
}

// Profile returns the pipeline's encode target.
func (p *Pipeline) Profile() Profile { return p.profile }

// Plan decides copy versus transcode for one item.
func (p *Pipeline) Plan(req StreamRequest) Decision {
	srcVideo, srcAudio, container := req.VideoCodec, req.AudioCodec, req.Container
	if req.Probe != nil {
		srcVideo = req.Probe.VideoCodec
		srcAudio = req.Probe.AudioCodec
		container = req.Probe.ContainerFormat
	}

	dec := Decision{}

	videoMatches := codec.VideoMatch(srcVideo, string(p.profile.Video))
	audioMatches := codec.AudioMatch(srcAudio, string(p.profile.Audio))

	filters := p.videoFilters(req)
	needsFilters := len(filters) > 0 || req.WatermarkPath != ""

	switch req.Mode {
	case models.StreamingModeTranscode:
		dec.Reason = "channel forces transcode"
	case models.StreamingModeCopy:
		// Forced copy skips filter checks but never copies a mismatched
		// codec onto the wire.
		if videoMatches {
			dec.CopyVideo = true
			dec.Reason = "channel forces copy"
		} else {
			dec.Reason = fmt.Sprintf("copy requested but source video %q is not %s", srcVideo, p.profile.Video)
		}
	default: // auto
		switch {
		case !videoMatches:
			dec.Reason = fmt.Sprintf("source video %q is not %s", srcVideo, p.profile.Video)
		case needsFilters:
			notes := append([]string{}, filters...)
			if req.WatermarkPath != "" {
				notes = append(notes, "watermark")
			}
			dec.Reason = "filters required: " + strings.Join(notes, ",")
		default:
			dec.CopyVideo = true
			dec.Reason = "source matches target"
		}
	}

	if dec.CopyVideo {
		dec.VideoBSFs = copyBitstreamFilters(srcVideo, container)
	} else {
		hw := p.hw
		srcFamily, _ := codec.ParseVideo(srcVideo)
		dec.HWDecode = hw != codec.HWAccelNone &&
			!req.ForbidHWDecode &&
			!DeclinesDecode(hw, srcFamily) &&
			!needsFilters // software filters need frames in system memory
		dec.VideoEncoder = codec.EncoderFor(p.profile.Video, hw)
		dec.FilterGraph = p.assembleGraph(filters, req.WatermarkPath)
	}

	// Audio rides along: copy on a codec match, transcode otherwise.
	// Forced transcode re-encodes audio too so bitrates stay predictable.
	if req.Mode != models.StreamingModeTranscode && audioMatches {
		dec.CopyAudio = true
	} else {
		dec.AudioEncoder = codec.AudioEncoderFor(p.profile.Audio)
	}

	return dec
}

// videoFilters returns the software filter nodes the source needs, in
// graph order: deinterlace, scale, pad, tonemap, pixel format.
func (p *Pipeline) videoFilters(req StreamRequest) []string {
	var filters []string
	probe := req.Probe

	if probe != nil && probe.Interlaced() {
		filters = append(filters, "yadif")
	}

	if p.profile.Width > 0 {
		needsScale := probe == nil ||
			probe.VideoWidth != p.profile.Width ||
			probe.VideoHeight != p.profile.Height
		if needsScale {
			filters = append(filters,
				fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", p.profile.Width, p.profile.Height),
				fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", p.profile.Width, p.profile.Height),
			)
		}
	}

	if probe != nil && probe.HDR() {
		// PQ/HLG sources tonemap down to SDR bt709 for the TS target.
		filters = append(filters,
			"zscale=t=linear:npl=100",
			"tonemap=hable",
			"zscale=p=bt709:t=bt709:m=bt709",
		)
	}

	if probe == nil || probe.VideoPixFmt != "yuv420p" {
		filters = append(filters, "format=yuv420p")
	}

	return filters
}

// assembleGraph renders the final -vf value, splicing in the watermark
// overlay and the hardware upload tail when the backend needs one.
func (p *Pipeline) assembleGraph(filters []string, watermarkPath string) string {
	chain := strings.Join(filters, ",")

	if watermarkPath != "" {
		// movie source keeps the overlay inside a single -vf graph.
		if chain == "" {
			chain = "null"
		}
		chain = fmt.Sprintf("%s[main];movie=%s[wm];[main][wm]overlay=main_w-overlay_w-10:10",
			chain, watermarkPath)
	}

	// VAAPI and QSV encoders take GPU surfaces only.
	switch p.hw {
	case codec.HWAccelVAAPI:
		chain = appendNode(chain, "format=nv12,hwupload")
	case codec.HWAccelQSV:
		chain = appendNode(chain, "format=nv12,hwupload=extra_hw_frames=64,format=qsv")
	}

	return chain
}

func appendNode(chain, node string) string {
	if chain == "" {
		return node
	}
	return chain + "," + node
}

// copyBitstreamFilters returns the -bsf:v chain a stream copy needs.
// AVCC containers (MP4/MOV family) store H.264/H.265 length-prefixed with
// out-of-band parameter sets; MPEG-TS needs Annex B with repeated headers.
func copyBitstreamFilters(srcVideo, container string) []string {
	if !codec.MP4Family(container) {
		return nil
	}
	v, ok := codec.ParseVideo(srcVideo)
	if !ok {
		return nil
	}
	switch v {
	case codec.VideoH264:
		return []string{"h264_mp4toannexb", "dump_extra"}
	case codec.VideoH265:
		return []string{"hevc_mp4toannexb", "dump_extra"}
	}
	return nil
}

// Command plans the item and assembles the full process.
func (p *Pipeline) Command(req StreamRequest) *Command {
	dec := p.Plan(req)
	return p.build(req, dec)
}

func (p *Pipeline) build(req StreamRequest, dec Decision) *Command {
	b := NewCommandBuilder(p.ffmpegPath).
		LogLevel("error").
		HideBanner()

	if dec.HWDecode {
		b.HWAccelDecode(p.hw)
	}
	if !dec.CopyVideo {
		switch p.hw {
		case codec.HWAccelVAAPI:
			b.VAAPIDevice(p.vaapiDevice)
		case codec.HWAccelQSV:
			b.InitHWDevice("qsv", "hw").FilterHWDevice("hw")
		}
	}

	// Live inputs arrive at real time already; pacing them again starves
	// the mux.
	if !req.Live {
		b.Realtime()
	}
	b.FFlags()

	if isNetworkURL(req.URL) {
		b.InputTimeout(InputTimeout(req.SourceType))
		b.Reconnect()
		b.Headers(req.Headers)
	}
	b.SeekMs(req.OffsetMs)
	if len(req.ExtraInputArgs) > 0 {
		b.InputArgs(req.ExtraInputArgs...)
	}
	b.Input(req.URL)

	b.VideoFilter(dec.FilterGraph)

	if dec.CopyVideo {
		b.CopyVideo()
		b.VideoBitstreamFilters(dec.VideoBSFs...)
	} else {
		b.VideoCodec(dec.VideoEncoder)
		b.VideoBitrate(p.videoBitrate)
		// Preset vocabularies differ per hardware vendor; only the
		// software encoders get one.
		if strings.HasPrefix(dec.VideoEncoder, "lib") {
			b.VideoPreset(p.preset)
		}
	}

	if dec.CopyAudio {
		b.CopyAudio()
	} else {
		b.AudioCodec(dec.AudioEncoder)
		b.AudioBitrate(p.audioBitrate)
	}

	b.Metadata("service_name", req.ChannelName)
	b.MpegtsArgs()
	b.DurationMs(req.DurationMs)
	b.FlushPackets()
	b.MuxDelay("0")
	b.Output("pipe:1")

	return b.Build()
}
