package playout

import (
	"context"
	"errors"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// projectionEntryCap bounds a single projection so a schedule of very short
// items cannot balloon the guide build.
const projectionEntryCap = 50_000

// Project enumerates the entries a channel will play during [from, to)
// without touching its live state: the persisted snapshot is regenerated
// into a throwaway walker and driven forward. A channel that was down past
// the resume threshold is projected the way Open would anchor it, so the
// guide matches what a viewer tuning in will get.
func (e *Engine) Project(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.PlayoutItem, error) {
	if !to.After(from) {
		return nil, nil
	}
	seq, state, err := e.sequenceFor(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var (
		sl    *slot
		idx   int
		prior map[string]*cursor
	)
	if cs := e.decodeState(state, e.now()); cs != nil {
		prior = cs.clone().Blocks
		sl, idx, _, err = e.locate(ctx, seq, cs, state, from)
		if err != nil {
			return nil, err
		}
	}
	if sl == nil {
		seq.anchor(from, prior)
		sl, err = seq.nextSlot(ctx)
		if err != nil {
			return nil, err
		}
		idx = 0
	}

	var rows []*models.PlayoutItem
	for {
		for ; idx < len(sl.entries); idx++ {
			ent := sl.entries[idx]
			if !ent.Stop.After(from) {
				continue
			}
			if !ent.Start.Before(to) {
				return rows, nil
			}
			rows = append(rows, ent.row(channelID))
			if len(rows) >= projectionEntryCap {
				e.logger.Warn("projection entry cap reached",
					"channel_id", channelID, "from", from, "to", to)
				return rows, nil
			}
		}
		sl, err = seq.nextSlot(ctx)
		if err != nil {
			if len(rows) > 0 && (errors.Is(err, models.ErrEmptySchedule) || errors.Is(err, models.ErrNoPlayableItems)) {
				// Ran out of programming mid-window; a partial guide
				// beats none.
				e.logger.Warn("projection ended early",
					"channel_id", channelID, "reason", err)
				return rows, nil
			}
			return nil, err
		}
		idx = 0
	}
}
