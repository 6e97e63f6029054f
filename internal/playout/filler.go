package playout

import (
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// fillerSource selects weighted filler content from a preset pool. Picks
// draw from the sequence stream, so a regenerated slot replays the same
// fills; they never touch an enumerator cursor.
type fillerSource struct {
	mode       models.FillerMode
	intervalMs int64
	items      []*models.MediaItem
	weights    []int
	total      int
}

func newFillerSource(preset *models.FillerPreset) *fillerSource {
	if preset == nil {
		return nil
	}
	items, weights := FillerItems(preset)
	if len(items) == 0 {
		return nil
	}
	total := 0
	for _, w := range weights {
		total += w
	}
	return &fillerSource{
		mode:       preset.Mode,
		intervalMs: preset.MidRollIntervalMs,
		items:      items,
		weights:    weights,
		total:      total,
	}
}

// pick draws one item, preferring those that fit entirely inside fitMs when
// any do. fitMs <= 0 means unconstrained.
func (f *fillerSource) pick(cs *cursorSet, fitMs int64) *models.MediaItem {
	if f == nil {
		return nil
	}
	if fitMs > 0 {
		if it := f.pickFitting(cs, fitMs); it != nil {
			return it
		}
	}
	target := cs.intn(f.total)
	for i, w := range f.weights {
		target -= w
		if target < 0 {
			return f.items[i]
		}
	}
	return f.items[len(f.items)-1]
}

// pickFitting draws among items no longer than fitMs, nil when none fit.
func (f *fillerSource) pickFitting(cs *cursorSet, fitMs int64) *models.MediaItem {
	total := 0
	for i, it := range f.items {
		if it.DurationMs <= fitMs {
			total += f.weights[i]
		}
	}
	if total == 0 {
		return nil
	}
	target := cs.intn(total)
	for i, it := range f.items {
		if it.DurationMs > fitMs {
			continue
		}
		target -= f.weights[i]
		if target < 0 {
			return it
		}
	}
	return nil
}

// ceilMinute rounds t up to the next whole minute; an exact minute is
// returned unchanged.
func ceilMinute(t time.Time) time.Time {
	trunc := t.Truncate(time.Minute)
	if trunc.Equal(t) {
		return t
	}
	return trunc.Add(time.Minute)
}
