package ffmpeg

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/exstreamtv/exstreamtv/internal/codec"
)

// HWAccelStatus is the probe result for one acceleration backend.
type HWAccelStatus struct {
	Backend   codec.HWAccel `json:"backend"`
	Available bool          `json:"available"`
	Device    string        `json:"device,omitempty"`
}

// HWAccelProbe tests which acceleration backends actually work on this
// host. Listing a method in `ffmpeg -hwaccels` does not mean the driver or
// device is present, so each backend runs a tiny lavfi test encode. The
// probe runs once; channels starting later reuse the result.
type HWAccelProbe struct {
	ffmpegPath string

	once     sync.Once
	statuses []HWAccelStatus
}

// NewHWAccelProbe creates a probe bound to the detected ffmpeg binary.
func NewHWAccelProbe(ffmpegPath string) *HWAccelProbe {
	return &HWAccelProbe{ffmpegPath: ffmpegPath}
}

// probeOrder is also the auto-selection priority.
var probeOrder = []codec.HWAccel{
	codec.HWAccelNVENC,
	codec.HWAccelQSV,
	codec.HWAccelVT,
	codec.HWAccelVAAPI,
	codec.HWAccelAMF,
}

// Run executes the availability tests, once.
func (p *HWAccelProbe) Run(ctx context.Context) []HWAccelStatus {
	p.once.Do(func() {
		for _, backend := range probeOrder {
			available, device := p.test(ctx, backend)
			p.statuses = append(p.statuses, HWAccelStatus{
				Backend:   backend,
				Available: available,
				Device:    device,
			})
		}
	})
	return p.statuses
}

// Available reports whether a backend passed its probe. False before Run.
func (p *HWAccelProbe) Available(backend codec.HWAccel) bool {
	for _, s := range p.statuses {
		if s.Backend == backend && s.Available {
			return true
		}
	}
	return false
}

// Pick resolves the configured hw_accel setting against the probe: auto
// picks the best available backend, an explicit backend that failed its
// probe degrades to software, none stays none.
func (p *HWAccelProbe) Pick(configured codec.HWAccel) codec.HWAccel {
	switch configured {
	case codec.HWAccelNone:
		return codec.HWAccelNone
	case codec.HWAccelAuto, "":
		for _, backend := range probeOrder {
			if p.Available(backend) {
				return backend
			}
		}
		return codec.HWAccelNone
	default:
		if p.Available(configured) {
			return configured
		}
		return codec.HWAccelNone
	}
}

func (p *HWAccelProbe) test(ctx context.Context, backend codec.HWAccel) (bool, string) {
	switch backend {
	case codec.HWAccelNVENC:
		return p.testNVENC(ctx)
	case codec.HWAccelQSV:
		return p.testQSV(ctx)
	case codec.HWAccelVT:
		return p.testVideoToolbox(ctx)
	case codec.HWAccelVAAPI:
		return p.testVAAPI(ctx)
	case codec.HWAccelAMF:
		return p.testAMF(ctx)
	default:
		return false, ""
	}
}

func (p *HWAccelProbe) testNVENC(ctx context.Context) (bool, string) {
	// nvidia-smi confirms a GPU before spending a test encode.
	out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return false, ""
	}
	device := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	if device == "" {
		return false, ""
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner",
		"-hwaccel", "cuda",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_nvenc",
		"-t", "0.01",
		"-f", "null", "-")
	if err := cmd.Run(); err != nil {
		return false, ""
	}
	return true, device
}

func (p *HWAccelProbe) testQSV(ctx context.Context) (bool, string) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner",
		"-init_hw_device", "qsv=hw",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-vf", "hwupload=extra_hw_frames=64,format=qsv",
		"-c:v", "h264_qsv",
		"-t", "0.01",
		"-f", "null", "-")
	if err := cmd.Run(); err != nil {
		return false, ""
	}
	return true, "Intel Quick Sync"
}

func (p *HWAccelProbe) testVideoToolbox(ctx context.Context) (bool, string) {
	if runtime.GOOS != "darwin" {
		return false, ""
	}
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_videotoolbox",
		"-t", "0.01",
		"-f", "null", "-")
	if err := cmd.Run(); err != nil {
		return false, ""
	}
	return true, "Apple VideoToolbox"
}

func (p *HWAccelProbe) testVAAPI(ctx context.Context) (bool, string) {
	if runtime.GOOS != "linux" {
		return false, ""
	}
	for _, device := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
		cmd := exec.CommandContext(ctx, p.ffmpegPath,
			"-hide_banner",
			"-vaapi_device", device,
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi",
			"-t", "0.01",
			"-f", "null", "-")
		if err := cmd.Run(); err == nil {
			return true, device
		}
	}
	return false, ""
}

func (p *HWAccelProbe) testAMF(ctx context.Context) (bool, string) {
	if runtime.GOOS != "windows" {
		return false, ""
	}
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_amf",
		"-t", "0.01",
		"-f", "null", "-")
	if err := cmd.Run(); err != nil {
		return false, ""
	}
	return true, "AMD AMF"
}

// hwDecodeBlocklist holds codec/backend pairs where hardware decode is
// known broken even when the backend probes fine.
var hwDecodeBlocklist = map[codec.HWAccel][]codec.Video{
	// VideoToolbox initializes for MPEG-4 Part 2 and then rejects most
	// DivX/Xvid era profiles mid-stream.
	codec.HWAccelVT: {codec.VideoMPEG4},
}

// DeclinesDecode reports whether the backend should not hardware-decode
// the codec; the pipeline keeps the hardware encoder and decodes in
// software instead.
func DeclinesDecode(backend codec.HWAccel, v codec.Video) bool {
	for _, blocked := range hwDecodeBlocklist[backend] {
		if blocked == v {
			return true
		}
	}
	return false
}
