package playout

import (
	"hash/fnv"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// maxRecentWindow caps the random order's repeat-avoidance window.
const maxRecentWindow = 10

// enumerator yields member indices in playback order, mutating its cursor
// as it goes. Instances are cheap and rebuilt per slot occurrence; all
// position survives in the cursor.
type enumerator interface {
	next() (int, bool)
}

// saltFor hashes a slot key so two blocks with identical member counts
// still deal distinct shuffle orders.
func saltFor(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// newEnumerator builds the enumerator for order over members, continuing
// from cur. A cursor taken against a different order or member count
// starts a fresh pass: positions reset and the cycle advances so shuffles
// re-deal, while the repeat-avoidance window survives.
func newEnumerator(order models.PlaybackOrder, members []Member, salt uint64, cur *cursor, cs *cursorSet) enumerator {
	if len(members) == 0 {
		return nil
	}
	if cur.Order != string(order) || cur.Count != len(members) {
		cur.Order = string(order)
		cur.Count = len(members)
		cur.Position = 0
		cur.Cycle++
		cur.Group = 0
		cur.GroupPos = nil
		cur.GroupCyc = nil
		cur.Pending = 0
	}
	switch order {
	case models.OrderShuffled:
		return &shuffledEnum{members: members, salt: salt, cur: cur, cs: cs}
	case models.OrderRandom:
		return &randomEnum{members: members, cur: cur, cs: cs}
	case models.OrderRotatingShuffled:
		return newRotatingEnum(members, salt, cur, cs)
	default:
		return &chronologicalEnum{n: len(members), cur: cur}
	}
}

// chronologicalEnum walks members in order and wraps.
type chronologicalEnum struct {
	n   int
	cur *cursor
}

func (e *chronologicalEnum) next() (int, bool) {
	if e.cur.Position >= e.n {
		e.cur.Position = 0
		e.cur.Cycle++
	}
	idx := e.cur.Position
	e.cur.Position++
	return idx, true
}

// shuffledEnum walks a deterministic permutation and re-deals on wrap.
type shuffledEnum struct {
	members []Member
	salt    uint64
	cur     *cursor
	cs      *cursorSet

	perm      []int
	permCycle uint64
}

func (e *shuffledEnum) next() (int, bool) {
	if e.cur.Position >= len(e.members) {
		e.cur.Position = 0
		e.cur.Cycle++
	}
	if e.perm == nil || e.permCycle != e.cur.Cycle {
		e.perm = permFor(e.cs.Seed^e.salt, e.cur.Cycle, len(e.members))
		e.permCycle = e.cur.Cycle
	}
	idx := e.perm[e.cur.Position]
	e.cur.Position++
	return idx, true
}

// randomEnum draws uniformly from the sequence stream while refusing
// anything inside the repeat-avoidance window.
type randomEnum struct {
	members []Member
	cur     *cursor
	cs      *cursorSet
}

func (e *randomEnum) next() (int, bool) {
	n := len(e.members)
	window := n - 1
	if window > maxRecentWindow {
		window = maxRecentWindow
	}
	cand := e.cs.intn(n)
	for try := 0; try < 64 && e.inWindow(cand); try++ {
		cand = e.cs.intn(n)
	}
	// The window has at most n-1 entries, so a linear probe from the last
	// draw always lands.
	for e.inWindow(cand) {
		cand = (cand + 1) % n
	}
	if window > 0 {
		e.cur.Recent = append(e.cur.Recent, e.members[cand].Item.ID.String())
		if len(e.cur.Recent) > window {
			e.cur.Recent = e.cur.Recent[len(e.cur.Recent)-window:]
		}
	}
	return cand, true
}

func (e *randomEnum) inWindow(idx int) bool {
	id := e.members[idx].Item.ID.String()
	for _, r := range e.cur.Recent {
		if r == id {
			return true
		}
	}
	return false
}

// rotatingEnum partitions members by their group tag, shuffles within each
// group, and serves groups round-robin, one item per turn.
type rotatingEnum struct {
	members []Member
	groups  [][]int
	salt    uint64
	cur     *cursor
	cs      *cursorSet
}

func newRotatingEnum(members []Member, salt uint64, cur *cursor, cs *cursorSet) *rotatingEnum {
	byGroup := make(map[int][]int)
	order := make([]int, 0, 4)
	for i, m := range members {
		if _, ok := byGroup[m.Group]; !ok {
			order = append(order, m.Group)
		}
		byGroup[m.Group] = append(byGroup[m.Group], i)
	}
	groups := make([][]int, 0, len(order))
	for _, g := range order {
		groups = append(groups, byGroup[g])
	}
	if len(cur.GroupPos) != len(groups) {
		cur.Group = 0
		cur.GroupPos = make([]int, len(groups))
		cur.GroupCyc = make([]uint64, len(groups))
	}
	return &rotatingEnum{members: members, groups: groups, salt: salt, cur: cur, cs: cs}
}

func (e *rotatingEnum) next() (int, bool) {
	g := e.cur.Group % len(e.groups)
	grp := e.groups[g]
	pos := e.cur.GroupPos[g]
	if pos >= len(grp) {
		pos = 0
		e.cur.GroupCyc[g]++
	}
	perm := permFor(e.cs.Seed^e.salt+uint64(g)*0xD1B54A32D192ED03, e.cur.GroupCyc[g], len(grp))
	idx := grp[perm[pos]]
	e.cur.GroupPos[g] = pos + 1
	e.cur.Group = (g + 1) % len(e.groups)
	return idx, true
}
