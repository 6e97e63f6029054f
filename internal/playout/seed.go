package playout

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	"github.com/exstreamtv/exstreamtv/internal/models"
)

// seedFor derives the sequence seed from the channel identity and the anchor
// instant. Two channels sharing a schedule get distinct orders; re-anchoring
// a channel reseeds it.
func seedFor(channelID models.ULID, anchor time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(channelID.String()))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(anchor.UnixMilli()))
	h.Write(buf[:])
	return h.Sum64()
}

// mix64 is the splitmix64 finalizer. Each draw is a pure function of
// (seed, draw index), so a cursor restored from the catalog replays the
// exact choices the live loop made without storing generator internals.
func mix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// permFor returns a Fisher-Yates permutation of n indices derived from the
// seed and a salt (the shuffle cycle). It draws from its own stream so
// recomputing a cycle's order never disturbs the sequence draw counter.
func permFor(seed, salt uint64, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	state := mix64(seed ^ (salt+1)*0x9E3779B97F4A7C15)
	for i := n - 1; i > 0; i-- {
		state = mix64(state)
		j := int(state % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}
