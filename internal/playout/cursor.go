package playout

import (
	"encoding/json"
	"time"
)

// playlistKey identifies the implicit slot stream of a playlist playout in
// the cursor set. Schedule slots key by block ULID.
const playlistKey = "playlist"

// cursor is the persisted enumerator position for one block (or the
// playlist). Positions are only meaningful against the member count they
// were taken at; a count change soft-resets the pass.
type cursor struct {
	Order string `json:"order"`
	Count int    `json:"count"`

	// Cycle counts completed passes; it salts the shuffle permutation so
	// each wrap deals a fresh deterministic order.
	Cycle    uint64 `json:"cycle"`
	Position int    `json:"position"`

	// Recent is the repeat-avoidance window for the random order, most
	// recent last.
	Recent []string `json:"recent,omitempty"`

	// Group state for the rotating order: the group up next, the position
	// within each group's current pass, and each group's pass counter.
	Group    int      `json:"group,omitempty"`
	GroupPos []int    `json:"group_pos,omitempty"`
	GroupCyc []uint64 `json:"group_cyc,omitempty"`

	// Pending holds a member (index+1) that was enumerated for a duration
	// or flood slot but did not fit; it plays first next occurrence.
	Pending int `json:"pending,omitempty"`

	// MidMs is program time accumulated toward the next mid-roll insertion.
	MidMs int64 `json:"mid_ms,omitempty"`
}

func (c *cursor) clone() *cursor {
	if c == nil {
		return nil
	}
	out := *c
	out.Recent = append([]string(nil), c.Recent...)
	out.GroupPos = append([]int(nil), c.GroupPos...)
	out.GroupCyc = append([]uint64(nil), c.GroupCyc...)
	return &out
}

// cursorSet is the serialized form of PlayoutState.EnumeratorState: the
// sequence seed, the draw counter, per-block cursors, and the identity of
// the slot the persisted snapshot was taken at. The snapshot is written at
// slot start; regenerating the slot from it replays the exact entries, so
// SlotSeq alone advances at item boundaries.
type cursorSet struct {
	Seed   uint64             `json:"seed"`
	Draws  uint64             `json:"draws"`
	Blocks map[string]*cursor `json:"blocks,omitempty"`

	SlotKey   string    `json:"slot_key,omitempty"`
	SlotStart time.Time `json:"slot_start,omitempty"`
	SlotDay   int64     `json:"slot_day,omitempty"`
	SlotIdx   int       `json:"slot_idx,omitempty"`
	SlotSeq   int       `json:"slot_seq,omitempty"`
}

// block returns the cursor for a slot key, creating it on first use.
func (s *cursorSet) block(key string) *cursor {
	if s.Blocks == nil {
		s.Blocks = make(map[string]*cursor)
	}
	c, ok := s.Blocks[key]
	if !ok {
		c = &cursor{}
		s.Blocks[key] = c
	}
	return c
}

// draw advances the sequence stream by one and returns the value.
func (s *cursorSet) draw() uint64 {
	s.Draws++
	return mix64(s.Seed + s.Draws*0x9E3779B97F4A7C15)
}

// intn returns a draw in [0, n). n must be positive.
func (s *cursorSet) intn(n int) int {
	return int(s.draw() % uint64(n))
}

func (s *cursorSet) clone() *cursorSet {
	if s == nil {
		return nil
	}
	out := *s
	if s.Blocks != nil {
		out.Blocks = make(map[string]*cursor, len(s.Blocks))
		for k, v := range s.Blocks {
			out.Blocks[k] = v.clone()
		}
	}
	return &out
}

func (s *cursorSet) encode() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}

// decodeCursorSet parses a persisted cursor set. Unparseable or empty state
// returns nil, which callers treat as a fresh anchor.
func decodeCursorSet(raw string) *cursorSet {
	if raw == "" {
		return nil
	}
	var s cursorSet
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil
	}
	return &s
}
