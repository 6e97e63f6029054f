// Package codec classifies codec and container names for the playout
// pipeline. FFprobe output, catalog rows and encoder selection all speak
// slightly different dialects (avc1 vs h264, "mov,mp4,m4a,3gp,3g2,mj2" vs
// mp4), so everything is mapped onto one canonical vocabulary before
// copy-versus-transcode decisions compare codecs.
package codec

import "strings"

// Video is a canonical video codec family, independent of which encoder or
// demuxer produced the name.
type Video string

const (
	VideoH264  Video = "h264"
	VideoH265  Video = "h265"
	VideoMPEG2 Video = "mpeg2"
	VideoMPEG4 Video = "mpeg4" // MPEG-4 Part 2 (DivX/Xvid era)
	VideoVP9   Video = "vp9"
	VideoAV1   Video = "av1"
	VideoVC1   Video = "vc1"
)

// Audio is a canonical audio codec family.
type Audio string

const (
	AudioAAC  Audio = "aac"
	AudioMP3  Audio = "mp3"
	AudioAC3  Audio = "ac3"
	AudioEAC3 Audio = "eac3"
	AudioOpus Audio = "opus"
	AudioDTS  Audio = "dts"
	AudioFLAC Audio = "flac"
	AudioPCM  Audio = "pcm"
)

// HWAccel is a hardware acceleration backend. Values match the accepted
// ffmpeg.hw_accel configuration strings.
type HWAccel string

const (
	HWAccelAuto  HWAccel = "auto"
	HWAccelNone  HWAccel = "none"
	HWAccelNVENC HWAccel = "nvenc"
	HWAccelQSV   HWAccel = "qsv"
	HWAccelVAAPI HWAccel = "vaapi"
	HWAccelVT    HWAccel = "videotoolbox"
	HWAccelAMF   HWAccel = "amf"
)

func (v Video) String() string   { return string(v) }
func (a Audio) String() string   { return string(a) }
func (h HWAccel) String() string { return string(h) }

// DecodeFlag returns the -hwaccel value that pairs with this backend, empty
// when decode stays in software (AMF encodes only; none/auto carry no flag).
func (h HWAccel) DecodeFlag() string {
	switch h {
	case HWAccelNVENC:
		return "cuda"
	case HWAccelQSV:
		return "qsv"
	case HWAccelVAAPI:
		return "vaapi"
	case HWAccelVT:
		return "videotoolbox"
	default:
		return ""
	}
}

// MPEG-TS stream type identifiers (ISO 13818-1 table 2-34 plus ATSC A/52).
const (
	StreamTypeMPEG2 uint8 = 0x02
	StreamTypeMP3   uint8 = 0x03
	StreamTypeAAC   uint8 = 0x0F
	StreamTypeMPEG4 uint8 = 0x10
	StreamTypeH264  uint8 = 0x1B
	StreamTypeH265  uint8 = 0x24
	StreamTypeAC3   uint8 = 0x81
	StreamTypeDTS   uint8 = 0x82
	StreamTypeEAC3  uint8 = 0x87
)

type videoInfo struct {
	// Aliases covers demuxer names, fourccs and encoder names that all
	// denote this family.
	Aliases []string
	// Encoders maps acceleration backends to FFmpeg encoder names. Nil
	// means decode-only.
	Encoders map[HWAccel]string
	// StreamType is the MPEG-TS stream type, 0 when TS cannot carry it.
	StreamType uint8
	// Demuxable marks codecs the mediacommon TS demuxer understands;
	// refined at init from the linked library version.
	Demuxable bool
}

type audioInfo struct {
	Aliases    []string
	Encoder    string
	StreamType uint8
	Demuxable  bool
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Aliases: []string{
			"h264", "avc", "avc1", "avc3", "h.264",
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi",
			"h264_videotoolbox", "h264_amf", "h264_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx264",
			HWAccelAuto:  "libx264",
			HWAccelNVENC: "h264_nvenc",
			HWAccelQSV:   "h264_qsv",
			HWAccelVAAPI: "h264_vaapi",
			HWAccelVT:    "h264_videotoolbox",
			HWAccelAMF:   "h264_amf",
		},
		StreamType: StreamTypeH264,
		Demuxable:  true,
	},
	VideoH265: {
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi",
			"hevc_videotoolbox", "hevc_amf",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx265",
			HWAccelAuto:  "libx265",
			HWAccelNVENC: "hevc_nvenc",
			HWAccelQSV:   "hevc_qsv",
			HWAccelVAAPI: "hevc_vaapi",
			HWAccelVT:    "hevc_videotoolbox",
			HWAccelAMF:   "hevc_amf",
		},
		StreamType: StreamTypeH265,
		Demuxable:  true,
	},
	VideoMPEG2: {
		Aliases:    []string{"mpeg2", "mpeg2video"},
		Encoders:   map[HWAccel]string{HWAccelNone: "mpeg2video", HWAccelAuto: "mpeg2video"},
		StreamType: StreamTypeMPEG2,
		Demuxable:  true,
	},
	VideoMPEG4: {
		Aliases:    []string{"mpeg4", "msmpeg4v3", "divx", "xvid"},
		Encoders:   map[HWAccel]string{HWAccelNone: "mpeg4", HWAccelAuto: "mpeg4"},
		StreamType: StreamTypeMPEG4,
		Demuxable:  true,
	},
	VideoVP9: {
		Aliases: []string{"vp9", "vp09", "libvpx-vp9", "vp9_qsv", "vp9_vaapi"},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libvpx-vp9",
			HWAccelAuto:  "libvpx-vp9",
			HWAccelQSV:   "vp9_qsv",
			HWAccelVAAPI: "vp9_vaapi",
		},
		StreamType: 0,
		Demuxable:  false,
	},
	VideoAV1: {
		Aliases: []string{"av1", "av01", "libaom-av1", "libsvtav1", "av1_nvenc", "av1_qsv", "av1_vaapi"},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libsvtav1",
			HWAccelAuto:  "libsvtav1",
			HWAccelNVENC: "av1_nvenc",
			HWAccelQSV:   "av1_qsv",
			HWAccelVAAPI: "av1_vaapi",
		},
		StreamType: 0,
		Demuxable:  false,
	},
	VideoVC1: {
		Aliases:    []string{"vc1", "wmv3"},
		Encoders:   nil, // decode only
		StreamType: 0,
		Demuxable:  false,
	},
}

var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Aliases:    []string{"aac", "mp4a", "libfdk_aac", "aac_at"},
		Encoder:    "aac",
		StreamType: StreamTypeAAC,
		Demuxable:  true,
	},
	AudioMP3: {
		Aliases:    []string{"mp3", "mp3float", "libmp3lame"},
		Encoder:    "libmp3lame",
		StreamType: StreamTypeMP3,
		Demuxable:  true,
	},
	AudioAC3: {
		Aliases:    []string{"ac3", "ac-3", "a52", "ac3_fixed"},
		Encoder:    "ac3",
		StreamType: StreamTypeAC3,
		Demuxable:  true,
	},
	AudioEAC3: {
		Aliases:    []string{"eac3", "ec-3"},
		Encoder:    "eac3",
		StreamType: StreamTypeEAC3,
		Demuxable:  false,
	},
	AudioOpus: {
		Aliases:    []string{"opus", "libopus"},
		Encoder:    "libopus",
		StreamType: 0,
		Demuxable:  true,
	},
	AudioDTS: {
		Aliases:    []string{"dts", "dca"},
		Encoder:    "dca",
		StreamType: StreamTypeDTS,
		Demuxable:  false,
	},
	AudioFLAC: {
		Aliases:    []string{"flac", "libflac"},
		Encoder:    "flac",
		StreamType: 0,
		Demuxable:  false,
	},
	AudioPCM: {
		Aliases:    []string{"pcm", "pcm_s16le", "pcm_s24le", "pcm_s32le"},
		Encoder:    "pcm_s16le",
		StreamType: 0,
		Demuxable:  false,
	},
}

var (
	videoAliasIndex map[string]Video
	audioAliasIndex map[string]Audio
)

func init() {
	videoAliasIndex = make(map[string]Video)
	for name, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = name
		}
	}
	audioAliasIndex = make(map[string]Audio)
	for name, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = name
		}
	}
}

// ParseVideo maps a codec, fourcc or encoder name to its video family.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	v, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// ParseAudio maps a codec or encoder name to its audio family.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	a, ok := audioAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Normalize returns the canonical family name for any recognized codec
// string, or the input unchanged.
func Normalize(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	if a, ok := ParseAudio(name); ok {
		return string(a)
	}
	return name
}

// VideoMatch reports whether two video codec strings denote the same family.
// Unrecognized names never match; a copy decision on an unknown codec would
// put undecodable bytes on the wire.
func VideoMatch(a, b string) bool {
	va, okA := ParseVideo(a)
	vb, okB := ParseVideo(b)
	return okA && okB && va == vb
}

// AudioMatch reports whether two audio codec strings denote the same family.
func AudioMatch(a, b string) bool {
	aa, okA := ParseAudio(a)
	ab, okB := ParseAudio(b)
	return okA && okB && aa == ab
}

// EncoderFor returns the FFmpeg encoder for the video family on the given
// backend, falling back to the software encoder when the backend has none.
// Empty for decode-only families.
func EncoderFor(v Video, hw HWAccel) string {
	info, ok := videoRegistry[v]
	if !ok || info.Encoders == nil {
		return ""
	}
	if enc, ok := info.Encoders[hw]; ok {
		return enc
	}
	return info.Encoders[HWAccelNone]
}

// AudioEncoderFor returns the FFmpeg encoder for the audio family.
func AudioEncoderFor(a Audio) string {
	info, ok := audioRegistry[a]
	if !ok {
		return ""
	}
	return info.Encoder
}

// TSStreamType returns the MPEG-TS stream type for the video family, 0 when
// TS cannot carry it.
func (v Video) TSStreamType() uint8 {
	if info, ok := videoRegistry[v]; ok {
		return info.StreamType
	}
	return 0
}

// TSStreamType returns the MPEG-TS stream type for the audio family.
func (a Audio) TSStreamType() uint8 {
	if info, ok := audioRegistry[a]; ok {
		return info.StreamType
	}
	return 0
}

// TSCarriable reports whether MPEG-TS has a stream type for the family.
func (v Video) TSCarriable() bool { return v.TSStreamType() != 0 }

// Demuxable reports whether the linked mediacommon demuxer parses this
// family's access units; the broadcast chunker falls back to raw packet
// alignment otherwise.
func (v Video) Demuxable() bool {
	if info, ok := videoRegistry[v]; ok {
		return info.Demuxable
	}
	return false
}

// Demuxable reports whether mediacommon parses this audio family.
func (a Audio) Demuxable() bool {
	if info, ok := audioRegistry[a]; ok {
		return info.Demuxable
	}
	return false
}

// ParseHWAccel validates a hardware acceleration setting.
func ParseHWAccel(s string) (HWAccel, bool) {
	switch h := HWAccel(strings.ToLower(strings.TrimSpace(s))); h {
	case HWAccelAuto, HWAccelNone, HWAccelNVENC, HWAccelQSV, HWAccelVAAPI, HWAccelVT, HWAccelAMF:
		return h, true
	default:
		return "", false
	}
}

// IsEncoderName reports whether the string names an FFmpeg encoder rather
// than a codec family (lib* software encoders and hardware-suffixed names).
func IsEncoderName(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "lib") {
		return true
	}
	for _, suffix := range []string{"_nvenc", "_qsv", "_vaapi", "_videotoolbox", "_amf", "_v4l2m2m", "_cuvid", "_at", "_fixed"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// mp4FamilyNames are the demuxer names ffprobe reports for the QuickTime /
// ISO-BMFF container family. ffprobe reports the shared demuxer as the
// whole comma list.
var mp4FamilyNames = map[string]bool{
	"mov": true, "mp4": true, "m4a": true, "m4v": true,
	"3gp": true, "3g2": true, "mj2": true,
}

// MP4Family reports whether an ffprobe format name (or stored container
// string) denotes the QuickTime/ISO-BMFF family. These containers carry
// H.264 as length-prefixed AVCC with out-of-band parameter sets, which an
// MPEG-TS remux must convert to Annex B.
func MP4Family(formatName string) bool {
	for _, part := range strings.Split(strings.ToLower(formatName), ",") {
		if mp4FamilyNames[strings.TrimSpace(part)] {
			return true
		}
	}
	return false
}

// TSFamily reports whether a format name denotes MPEG-TS; TS sources are
// already Annex B and need no bitstream filters on a TS remux.
func TSFamily(formatName string) bool {
	for _, part := range strings.Split(strings.ToLower(formatName), ",") {
		if p := strings.TrimSpace(part); p == "mpegts" || p == "mpegtsraw" {
			return true
		}
	}
	return false
}
