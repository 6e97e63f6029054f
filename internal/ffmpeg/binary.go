// Package ffmpeg locates the FFmpeg toolchain and builds the processes
// behind channel playout: probing sources, deciding copy versus transcode,
// assembling argv and supervising the running pipeline.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/util"
)

// BinaryInfo describes the detected FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath       string       `json:"ffmpeg_path"`
	FFprobePath      string       `json:"ffprobe_path,omitempty"`
	Version          string       `json:"version"`
	MajorVersion     int          `json:"major_version"`
	MinorVersion     int          `json:"minor_version"`
	Configuration    string       `json:"configuration,omitempty"`
	Encoders         []string     `json:"encoders,omitempty"`
	Decoders         []string     `json:"decoders,omitempty"`
	Formats          []FormatInfo `json:"formats,omitempty"`
	BitstreamFilters []string     `json:"bitstream_filters,omitempty"`
}

// FormatInfo is one container format from `ffmpeg -formats`.
type FormatInfo struct {
	Name     string `json:"name"`
	LongName string `json:"long_name,omitempty"`
	CanMux   bool   `json:"can_mux"`
	CanDemux bool   `json:"can_demux"`
}

// BinaryDetector finds the FFmpeg binaries and caches their capability
// listing. Detection shells out five times, so results are held for the
// cache TTL and refreshed lazily.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	// Configured paths take precedence over env vars and PATH lookup.
	ffmpegPath  string
	ffprobePath string
}

// NewBinaryDetector creates a detector. Either path may be empty, in which
// case the binary is resolved from EXSTREAMTV_FFMPEG_BINARY /
// EXSTREAMTV_FFPROBE_BINARY, the working directory, then PATH.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		cacheTTL:    5 * time.Minute,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// WithCacheTTL overrides how long a detection result is reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the cached capability listing, refreshing it when stale.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring the write lock.
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached detection result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		p, err := util.FindBinary("ffmpeg", "EXSTREAMTV_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = p
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is optional: without it sources are never probed and every
	// item transcodes, but playout still works.
	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		if p, err := util.FindBinary("ffprobe", "EXSTREAMTV_FFPROBE_BINARY"); err == nil {
			ffprobePath = p
		}
	}
	info.FFprobePath = ffprobePath

	out, err := runTool(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	ver, err := parseVersion(out)
	if err != nil {
		return nil, err
	}
	info.Version = ver.full
	info.MajorVersion = ver.major
	info.MinorVersion = ver.minor
	info.Configuration = ver.configuration

	// Capability listings are best-effort; a missing one only narrows
	// later pipeline choices.
	if out, err := runTool(ctx, ffmpegPath, "-encoders", "-hide_banner"); err == nil {
		info.Encoders = parseCoderList(out)
	}
	if out, err := runTool(ctx, ffmpegPath, "-decoders", "-hide_banner"); err == nil {
		info.Decoders = parseCoderList(out)
	}
	if out, err := runTool(ctx, ffmpegPath, "-formats", "-hide_banner"); err == nil {
		info.Formats = parseFormats(out)
	}
	if out, err := runTool(ctx, ffmpegPath, "-bsfs", "-hide_banner"); err == nil {
		info.BitstreamFilters = parseBitstreamFilters(out)
	}

	return info, nil
}

func runTool(ctx context.Context, path string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, path, args...).Output()
	return string(out), err
}

type versionInfo struct {
	full          string
	major         int
	minor         int
	configuration string
}

var versionRe = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion extracts the version from `ffmpeg -version` output, which
// looks like "ffmpeg version 6.0 Copyright ..." or "ffmpeg version n7.1-...".
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.full = parts[2]
				if m := versionRe.FindStringSubmatch(parts[2]); len(m) >= 3 {
					info.major, _ = strconv.Atoi(m[1])
					info.minor, _ = strconv.Atoi(m[2])
				}
			}
		case strings.HasPrefix(line, "configuration:"):
			info.configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	if info.full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseCoderList parses `-encoders`/`-decoders` output. Entries follow the
// "------" delimiter as " V....D name description".
func parseCoderList(output string) []string {
	var names []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		// Only video, audio and subtitle coders matter here.
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		if fields := strings.Fields(strings.TrimSpace(line[6:])); len(fields) >= 1 && fields[0] != "" {
			names = append(names, fields[0])
		}
	}
	return names
}

// parseFormats parses `-formats` output (" D  name description" after the
// "--" delimiter).
func parseFormats(output string) []FormatInfo {
	var formats []FormatInfo
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "--") {
			inList = true
			continue
		}
		if !inList || len(line) < 4 {
			continue
		}
		flags := strings.TrimSpace(line[:3])
		parts := strings.SplitN(strings.TrimSpace(line[3:]), " ", 2)
		if len(parts) < 1 || parts[0] == "" {
			continue
		}
		f := FormatInfo{
			Name:     parts[0],
			CanDemux: strings.Contains(flags, "D"),
			CanMux:   strings.Contains(flags, "E"),
		}
		if len(parts) > 1 {
			f.LongName = strings.TrimSpace(parts[1])
		}
		formats = append(formats, f)
	}
	return formats
}

// parseBitstreamFilters parses `-bsfs` output: a "Bitstream filters:"
// header then one name per line.
func parseBitstreamFilters(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		names = append(names, line)
	}
	return names
}

// HasEncoder reports whether the named encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasDecoder reports whether the named decoder is available.
func (info *BinaryInfo) HasDecoder(name string) bool {
	return slices.Contains(info.Decoders, name)
}

// HasMuxer reports whether the container can be muxed.
func (info *BinaryInfo) HasMuxer(name string) bool {
	for _, f := range info.Formats {
		if f.Name == name && f.CanMux {
			return true
		}
	}
	return false
}

// HasBitstreamFilter reports whether the named bitstream filter exists.
func (info *BinaryInfo) HasBitstreamFilter(name string) bool {
	return slices.Contains(info.BitstreamFilters, name)
}

// SupportsMinVersion reports whether the build meets a minimum version.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	return info.MajorVersion == major && info.MinorVersion >= minor
}

// JSON renders the detection result for the health endpoint.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}
