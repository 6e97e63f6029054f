package playout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// Entry is one planned playout step. Program entries always span the item's
// full runtime; filler cut at a wall-clock boundary spans less. Start may be
// in the future when the schedule is waiting for a block boundary and no
// filler covers the gap.
type Entry struct {
	Item     *models.MediaItem
	Start    time.Time
	Stop     time.Time
	OffsetMs int64
	IsFiller bool
}

// Duration returns the scheduled span of the entry.
func (e *Entry) Duration() time.Duration {
	return e.Stop.Sub(e.Start)
}

// CutMs returns the truncated playable span in milliseconds when the entry
// was cut at a boundary, zero when the item plays in full.
func (e *Entry) CutMs() int64 {
	span := e.Stop.Sub(e.Start).Milliseconds()
	if span < e.Item.DurationMs {
		return span
	}
	return 0
}

func (e *Entry) row(channelID models.ULID) *models.PlayoutItem {
	return &models.PlayoutItem{
		ChannelID:   channelID,
		MediaItemID: e.Item.ID,
		StartTime:   e.Start,
		StopTime:    e.Stop,
		Title:       e.Item.Title,
		IsFiller:    e.IsFiller,
	}
}

// slot is one generated stretch of the sequence: a block occurrence with its
// gap fill (or one playlist stride), plus the cursor snapshot that
// regenerates it. Persisting the snapshot at slot start means item
// boundaries only advance a sequence number.
type slot struct {
	key     string
	entries []*Entry
	snap    *cursorSet
}

// maxDayRolls bounds how many empty days the walker crosses before deciding
// the schedule has nothing playable.
const maxDayRolls = 366

// sequence generates a channel's entry stream. The engine drives it live
// (persisting cursor snapshots); the projector drives a restored copy and
// throws the state away.
type sequence struct {
	channelID models.ULID
	playout   *models.Playout
	expander  *Expander
	filler    *fillerSource
	overshoot time.Duration
	loc       *time.Location
	cs        *cursorSet

	clock   time.Time
	day     time.Time
	slots   []*models.Block
	slotIdx int

	plMembers []Member
	plDay     time.Time
}

func newSequence(channelID models.ULID, po *models.Playout, filler *fillerSource, expander *Expander, overshoot time.Duration, loc *time.Location) *sequence {
	return &sequence{
		channelID: channelID,
		playout:   po,
		expander:  expander,
		filler:    filler,
		overshoot: overshoot,
		loc:       loc,
	}
}

func (s *sequence) scheduled() bool {
	return s.playout.Schedule != nil
}

// anchor starts a fresh pass at now. Block boundaries already past today are
// skipped; prior enumerator cursors may be carried so content picks up where
// it left off instead of replaying.
func (s *sequence) anchor(now time.Time, prior map[string]*cursor) {
	s.cs = &cursorSet{Seed: seedFor(s.channelID, now), Blocks: prior}
	s.clock = now
	if !s.scheduled() {
		return
	}
	s.day = midnight(now, s.loc)
	s.slots = s.blocksOn(s.day)
	s.slotIdx = 0
	for s.slotIdx < len(s.slots) && wallAt(s.day, s.slots[s.slotIdx].StartOffsetMs, s.loc).Before(now) {
		s.slotIdx++
	}
}

// restore positions the walker at a persisted snapshot so the next
// generated slot replays the one the snapshot was taken at. The caller
// validates the regenerated slot against the persisted identity.
func (s *sequence) restore(cs *cursorSet) error {
	s.cs = cs
	s.clock = cs.SlotStart
	if !s.scheduled() {
		return nil
	}
	s.day = time.Unix(cs.SlotDay, 0).In(s.loc)
	s.slots = s.blocksOn(s.day)
	if cs.SlotIdx < 0 || cs.SlotIdx > len(s.slots) {
		return fmt.Errorf("slot index %d outside today's %d blocks", cs.SlotIdx, len(s.slots))
	}
	s.slotIdx = cs.SlotIdx
	return nil
}

// nextSlot generates the next non-empty slot, rolling across days as
// needed.
func (s *sequence) nextSlot(ctx context.Context) (*slot, error) {
	if !s.scheduled() {
		return s.playlistSlot(ctx)
	}
	dayRolls := 0
	for {
		if s.slotIdx >= len(s.slots) {
			dayRolls++
			if dayRolls > maxDayRolls {
				return nil, models.ErrEmptySchedule
			}
			s.day = nextDay(s.day, s.loc)
			s.slots = s.blocksOn(s.day)
			s.slotIdx = 0
			s.expander.Reset()
			continue
		}

		snap := s.snapshot()
		b := s.slots[s.slotIdx]
		s.slotIdx++

		blockStart := wallAt(s.day, b.StartOffsetMs, s.loc)
		start, padFrom := s.slotStart(blockStart)

		content, err := s.generateSlot(ctx, b, start)
		if err != nil {
			return nil, err
		}
		if len(content) == 0 {
			if blockStart.After(s.clock) {
				s.clock = blockStart
			}
			continue
		}

		var entries []*Entry
		if !padFrom.IsZero() {
			entries = s.fillGap(padFrom, start)
		} else if blockStart.After(s.clock) && s.tailFill() {
			entries = s.fillGap(s.clock, blockStart)
		}
		entries = append(entries, content...)
		s.clock = entries[len(entries)-1].Stop

		snap.SlotKey = b.ID.String()
		return &slot{key: snap.SlotKey, entries: entries, snap: snap}, nil
	}
}

// tailFill reports whether the preset fills standalone gaps: block waits
// and flood tails. Positional modes only escort program items, and
// pad_to_minute only pads late starts, so those gaps air as slate.
func (s *sequence) tailFill() bool {
	return s.filler != nil && s.filler.mode == models.FillerTailOnly
}

// slotStart decides when a block occurrence begins: on time, late when the
// previous slot ran long, or padded to the next minute when the filler
// preset asks for aligned starts. padFrom is non-zero when a pad gap
// precedes the content.
func (s *sequence) slotStart(blockStart time.Time) (start, padFrom time.Time) {
	if s.clock.After(blockStart) {
		start = s.clock
		if s.filler != nil && s.filler.mode == models.FillerPadToMinute {
			if aligned := ceilMinute(start); aligned.After(start) {
				return aligned, start
			}
		}
		return start, time.Time{}
	}
	return blockStart, time.Time{}
}

// snapshot captures the pre-generation state the engine persists: cursor
// set plus walk position. Regenerating from it replays the slot.
func (s *sequence) snapshot() *cursorSet {
	snap := s.cs.clone()
	snap.SlotStart = s.clock
	snap.SlotDay = s.day.Unix()
	snap.SlotIdx = s.slotIdx
	snap.SlotSeq = 0
	snap.SlotKey = ""
	return snap
}

// playlistSlot generates one stride of a playlist playout: a single program
// item with its filler escort. Members reload at local midnight so catalog
// growth reaches long-running channels within a day.
func (s *sequence) playlistSlot(ctx context.Context) (*slot, error) {
	if s.playout.PlaylistID == nil {
		return nil, models.ErrEmptySchedule
	}
	if day := midnight(s.clock, s.loc); !day.Equal(s.plDay) {
		s.expander.Reset()
		members, err := s.expander.PlaylistMembers(ctx, *s.playout.PlaylistID)
		if err != nil {
			return nil, err
		}
		s.plMembers = members
		s.plDay = day
	}

	snap := s.snapshot()
	snap.SlotKey = playlistKey

	order := models.OrderChronological
	if s.playout.Playlist != nil {
		order = s.playout.Playlist.Order
	}
	cur := s.cs.block(playlistKey)
	en := newEnumerator(order, s.plMembers, saltFor(playlistKey), cur, s.cs)
	if en == nil {
		return nil, models.ErrNoPlayableItems
	}

	gen := newSlotGen(s, cur, s.plMembers, en, s.clock)
	if idx, ok := gen.nextMember(); ok {
		gen.program(idx)
	}
	if len(gen.entries) == 0 {
		return nil, models.ErrNoPlayableItems
	}
	s.clock = gen.entries[len(gen.entries)-1].Stop
	return &slot{key: playlistKey, entries: gen.entries, snap: snap}, nil
}

// generateSlot produces the program entries (and their filler escorts) for
// one occurrence of a block starting at start.
func (s *sequence) generateSlot(ctx context.Context, b *models.Block, start time.Time) ([]*Entry, error) {
	members, err := s.expander.BlockMembers(ctx, b)
	if err != nil {
		return nil, err
	}
	key := b.ID.String()
	cur := s.cs.block(key)
	en := newEnumerator(b.Order, members, saltFor(key), cur, s.cs)
	if en == nil {
		return nil, nil
	}
	gen := newSlotGen(s, cur, members, en, start)

	switch b.Mode {
	case models.ScheduleModeMultiple:
		for played := 0; played < b.Count; played++ {
			idx, ok := gen.nextMember()
			if !ok {
				break
			}
			gen.program(idx)
		}

	case models.ScheduleModeDuration:
		target := b.DurationMs
		tolerance := s.overshoot.Milliseconds()
		var cum int64
		for cum < target {
			idx, ok := gen.nextMember()
			if !ok {
				break
			}
			d := members[idx].Item.DurationMs
			if cum+d > target+tolerance {
				cur.Pending = idx + 1
				break
			}
			gen.program(idx)
			cum += d
		}

	case models.ScheduleModeFlood:
		until := wallAt(s.day, b.FloodUntilMs, s.loc)
		if !until.After(start) {
			until = wallAt(nextDay(s.day, s.loc), b.FloodUntilMs, s.loc)
		}
		for gen.clock.Before(until) {
			idx, ok := gen.nextMember()
			if !ok {
				break
			}
			d := members[idx].Item.DurationMs
			if gen.clock.Add(time.Duration(d)*time.Millisecond).After(until) {
				cur.Pending = idx + 1
				break
			}
			gen.program(idx)
		}
		if gen.clock.Before(until) && s.tailFill() {
			gen.entries = append(gen.entries, s.fillGap(gen.clock, until)...)
		}

	default: // ScheduleModeOne
		if idx, ok := gen.nextMember(); ok {
			gen.program(idx)
		}
	}
	return gen.entries, nil
}

// fillGap covers [from, to) with weighted filler picks, preferring items
// that fit whole and cutting the last at the boundary.
func (s *sequence) fillGap(from, to time.Time) []*Entry {
	if s.filler == nil || !to.After(from) {
		return nil
	}
	var entries []*Entry
	clock := from
	for clock.Before(to) {
		remaining := to.Sub(clock).Milliseconds()
		it := s.filler.pick(s.cs, remaining)
		if it == nil {
			break
		}
		stop := clock.Add(time.Duration(it.DurationMs) * time.Millisecond)
		if stop.After(to) {
			stop = to
		}
		entries = append(entries, &Entry{Item: it, Start: clock, Stop: stop, IsFiller: true})
		clock = stop
	}
	return entries
}

// slotGen accumulates one slot's entries, wrapping program items with the
// filler escort the preset asks for. Filler picks draw from the sequence
// stream but never touch the enumerator.
type slotGen struct {
	seq     *sequence
	cur     *cursor
	members []Member
	en      enumerator
	clock   time.Time
	entries []*Entry
}

func newSlotGen(s *sequence, cur *cursor, members []Member, en enumerator, start time.Time) *slotGen {
	return &slotGen{seq: s, cur: cur, members: members, en: en, clock: start}
}

// nextMember returns the next member index, honoring a pending carry-over
// from a duration or flood slot that could not fit it.
func (g *slotGen) nextMember() (int, bool) {
	if g.cur.Pending > 0 && g.cur.Pending <= len(g.members) {
		idx := g.cur.Pending - 1
		g.cur.Pending = 0
		return idx, true
	}
	if g.en == nil {
		return 0, false
	}
	return g.en.next()
}

// program emits one program item with its pre/mid/post escort.
func (g *slotGen) program(idx int) {
	it := g.members[idx].Item
	f := g.seq.filler
	if f != nil {
		switch f.mode {
		case models.FillerPreRoll:
			g.emit(f.pick(g.seq.cs, 0), true)
		case models.FillerMidRoll:
			if f.intervalMs > 0 && g.cur.MidMs >= f.intervalMs {
				g.emit(f.pick(g.seq.cs, 0), true)
				g.cur.MidMs = 0
			}
		}
	}
	g.emit(it, false)
	if f != nil {
		switch f.mode {
		case models.FillerMidRoll:
			g.cur.MidMs += it.DurationMs
		case models.FillerPostRoll:
			g.emit(f.pick(g.seq.cs, 0), true)
		}
	}
}

func (g *slotGen) emit(it *models.MediaItem, isFiller bool) {
	if it == nil {
		return
	}
	stop := g.clock.Add(time.Duration(it.DurationMs) * time.Millisecond)
	g.entries = append(g.entries, &Entry{Item: it, Start: g.clock, Stop: stop, IsFiller: isFiller})
	g.clock = stop
}

// blocksOn returns the blocks scheduled on day, ordered by start offset and
// then schedule position.
func (s *sequence) blocksOn(day time.Time) []*models.Block {
	wd := day.Weekday()
	var out []*models.Block
	for i := range s.playout.Schedule.Blocks {
		b := s.playout.Schedule.Blocks[i].Block
		if b != nil && b.ScheduledOn(wd) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartOffsetMs < out[j].StartOffsetMs
	})
	return out
}

// midnight returns the start of t's day in loc.
func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// nextDay returns the start of the day after day, staying wall-clock
// correct across DST transitions.
func nextDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// wallAt returns the instant offsetMs past midnight of day as a wall-clock
// time, so an 8 PM block starts at 8 PM even on DST days.
func wallAt(day time.Time, offsetMs int64, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 0, 0, int(offsetMs/1000), int(offsetMs%1000)*int(time.Millisecond), loc)
}
