package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	"github.com/exstreamtv/exstreamtv/internal/procpool"
	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

// Slate parameters. The card is rendered once per output geometry and
// looped from disk during recovery windows, so no FFmpeg process is
// burned on standby content while a channel is unhealthy.
const (
	slateDuration = 4 * time.Second
	slateText     = "Please stand by"
	slateFPS      = 25
	slateGenGrace = 30 * time.Second
)

// SlateGenerator renders and caches standby cards, one per resolution.
// Rendering goes through the process pool at background priority so it
// never displaces a viewer-facing transcode.
type SlateGenerator struct {
	ffmpegPath string
	dir        string
	pool       *procpool.Pool
	logger     *slog.Logger

	mu    sync.Mutex
	files map[string][]byte
}

// NewSlateGenerator creates a generator caching rendered cards under dir.
func NewSlateGenerator(ffmpegPath, dir string, pool *procpool.Pool, logger *slog.Logger) *SlateGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlateGenerator{
		ffmpegPath: ffmpegPath,
		dir:        dir,
		pool:       pool,
		logger:     logger.With("component", "slate"),
		files:      make(map[string][]byte),
	}
}

// Ensure returns the rendered slate for the profile's geometry, rendering
// it on first use. Cards persist on disk across restarts.
func (g *SlateGenerator) Ensure(ctx context.Context, profile ffmpeg.Profile) ([]byte, error) {
	w, h := profile.Width, profile.Height
	if w == 0 || h == 0 {
		w, h = 1280, 720
	}
	key := fmt.Sprintf("%dx%d", w, h)

	g.mu.Lock()
	if data, ok := g.files[key]; ok {
		g.mu.Unlock()
		return data, nil
	}
	g.mu.Unlock()

	path := filepath.Join(g.dir, fmt.Sprintf("slate_%s.ts", key))
	data, err := os.ReadFile(path)
	if err != nil {
		data, err = g.render(ctx, path, w, h)
		if err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	g.files[key] = data
	g.mu.Unlock()
	return data, nil
}

func (g *SlateGenerator) render(ctx context.Context, path string, w, h int) ([]byte, error) {
	genCtx, cancel := context.WithTimeout(ctx, slateGenGrace)
	defer cancel()

	lease, err := g.pool.Acquire(genCtx, procpool.PriorityBackground)
	if err != nil {
		return nil, fmt.Errorf("acquiring slot for slate render: %w", err)
	}
	defer lease.Release()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// drawtext depends on a usable fontconfig; fall back to the plain
	// card when the build or host lacks one.
	if err := g.runRender(genCtx, lease, path, w, h, true); err != nil {
		g.logger.Warn("slate render with text failed, retrying plain",
			"geometry", fmt.Sprintf("%dx%d", w, h), "error", err)
		if err := g.runRender(genCtx, lease, path, w, h, false); err != nil {
			return nil, fmt.Errorf("rendering slate: %w", err)
		}
	}

	g.logger.Info("rendered slate card", "path", path, "geometry", fmt.Sprintf("%dx%d", w, h))
	return os.ReadFile(path)
}

func (g *SlateGenerator) runRender(ctx context.Context, lease *procpool.Lease, path string, w, h int, withText bool) error {
	tmp := path + ".tmp"
	defer os.Remove(tmp)

	graph := fmt.Sprintf(
		"color=c=0x10141c:size=%dx%d:rate=%d,format=yuv420p[out0];"+
			"anullsrc=channel_layout=stereo:sample_rate=48000[out1]",
		w, h, slateFPS)

	b := ffmpeg.NewCommandBuilder(g.ffmpegPath).
		LogLevel("error").
		HideBanner().
		InputArgs("-f", "lavfi").
		Input(graph)
	if withText {
		b.VideoFilter(fmt.Sprintf(
			"drawtext=text='%s':fontcolor=white:fontsize=%d:x=(w-text_w)/2:y=(h-text_h)/2",
			slateText, h/12))
	}
	cmd := b.
		VideoCodec("libx264").
		VideoPreset("veryfast").
		OutputArgs("-tune", "stillimage", "-g", fmt.Sprint(slateFPS)).
		VideoBitrate("800k").
		AudioCodec("aac").
		AudioBitrate("64k").
		DurationMs(slateDuration.Milliseconds()).
		MpegtsArgs().
		Output(tmp).
		Build()

	lease.Bind(cmd)
	if err := cmd.Start(ctx); err != nil {
		return err
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: %s", err, cmd.StderrTail())
	}
	return os.Rename(tmp, path)
}

// PlaySlate loops pre-rendered slate bytes through the chunker at their
// natural rate until ctx is done. A discontinuity shim is spliced at
// each loop edge so the repeating timestamps do not trip decoders.
func PlaySlate(ctx context.Context, ck *Chunker, data []byte, duration time.Duration) error {
	if len(data) == 0 {
		return errors.New("broadcast: no slate rendered")
	}
	if duration <= 0 {
		duration = slateDuration
	}

	const tick = 200 * time.Millisecond
	step := int(float64(len(data)) * (float64(tick) / float64(duration)))
	step -= step % mpegts.PacketSize
	if step < mpegts.PacketSize {
		step = mpegts.PacketSize
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			end := pos + step
			if end > len(data) {
				end = len(data)
			}
			if _, err := ck.Write(data[pos:end]); err != nil {
				return err
			}
			pos = end
			if pos >= len(data) {
				pos = 0
				if err := ck.Splice(); err != nil {
					return err
				}
			}
		}
	}
}
