package playout

import (
	"context"
	"fmt"

	"github.com/exstreamtv/exstreamtv/internal/models"
	"github.com/exstreamtv/exstreamtv/internal/repository"
)

// Member is one enumerable unit of a block or playlist. Group tags which
// rotation partition the member came from: each collection or playlist
// reference forms its own group, bare items share group zero.
type Member struct {
	Item  *models.MediaItem
	Group int
}

// Expander resolves block and playlist references into playable members.
// Smart collection queries are evaluated lazily and memoized for the
// expander's lifetime, so one enumeration pass sees one consistent view of
// the catalog. Items that are unavailable or have no known duration are
// dropped at expansion.
type Expander struct {
	collections repository.CollectionRepository
	playlists   repository.PlaylistRepository
	items       repository.MediaItemRepository

	memo map[models.ULID][]*models.MediaItem
}

// NewExpander returns an expander over the given catalog repositories.
func NewExpander(collections repository.CollectionRepository, playlists repository.PlaylistRepository, items repository.MediaItemRepository) *Expander {
	return &Expander{
		collections: collections,
		playlists:   playlists,
		items:       items,
		memo:        make(map[models.ULID][]*models.MediaItem),
	}
}

// Reset drops memoized collection results so the next expansion re-reads
// the catalog. The sequence walker calls it at day rollover.
func (e *Expander) Reset() {
	e.memo = make(map[models.ULID][]*models.MediaItem)
}

// PlaylistMembers expands a playlist into members in position order.
func (e *Expander) PlaylistMembers(ctx context.Context, playlistID models.ULID) ([]Member, error) {
	items, err := e.playlists.GetMediaItems(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("expanding playlist %s: %w", playlistID, err)
	}
	members := make([]Member, 0, len(items))
	for _, it := range items {
		if !playable(it) {
			continue
		}
		members = append(members, Member{Item: it})
	}
	return members, nil
}

// BlockMembers expands a block's member references in position order. Bare
// media items are fetched in one batch; collection and playlist references
// expand through the memo.
func (e *Expander) BlockMembers(ctx context.Context, block *models.Block) ([]Member, error) {
	bare := make([]models.ULID, 0, len(block.Items))
	for _, bi := range block.Items {
		if bi.MediaItemID != nil && !bi.MediaItemID.IsZero() {
			bare = append(bare, *bi.MediaItemID)
		}
	}
	bareItems := make(map[models.ULID]*models.MediaItem, len(bare))
	if len(bare) > 0 {
		fetched, err := e.items.GetByIDs(ctx, bare)
		if err != nil {
			return nil, fmt.Errorf("expanding block %q items: %w", block.Name, err)
		}
		for _, it := range fetched {
			bareItems[it.ID] = it
		}
	}

	var members []Member
	group := 0
	for _, bi := range block.Items {
		switch {
		case bi.MediaItemID != nil && !bi.MediaItemID.IsZero():
			it := bareItems[*bi.MediaItemID]
			if it == nil || !playable(it) {
				continue
			}
			members = append(members, Member{Item: it})
		case bi.CollectionID != nil && !bi.CollectionID.IsZero():
			group++
			expanded, err := e.collectionItems(ctx, *bi.CollectionID)
			if err != nil {
				return nil, err
			}
			for _, it := range expanded {
				members = append(members, Member{Item: it, Group: group})
			}
		case bi.PlaylistID != nil && !bi.PlaylistID.IsZero():
			group++
			expanded, err := e.playlists.GetMediaItems(ctx, *bi.PlaylistID)
			if err != nil {
				return nil, fmt.Errorf("expanding block %q playlist: %w", block.Name, err)
			}
			for _, it := range expanded {
				if !playable(it) {
					continue
				}
				members = append(members, Member{Item: it, Group: group})
			}
		}
	}
	return members, nil
}

// FillerItems expands a filler preset's pool, preserving weights. The
// preset's items must be preloaded with their media rows.
func FillerItems(preset *models.FillerPreset) ([]*models.MediaItem, []int) {
	items := make([]*models.MediaItem, 0, len(preset.Items))
	weights := make([]int, 0, len(preset.Items))
	for _, fi := range preset.Items {
		if fi.MediaItem == nil || !playable(fi.MediaItem) {
			continue
		}
		w := fi.Weight
		if w < 1 {
			w = 1
		}
		items = append(items, fi.MediaItem)
		weights = append(weights, w)
	}
	return items, weights
}

// collectionItems expands one collection through the memo: static members
// in position order, or the smart query evaluated against the catalog.
func (e *Expander) collectionItems(ctx context.Context, id models.ULID) ([]*models.MediaItem, error) {
	if cached, ok := e.memo[id]; ok {
		return cached, nil
	}
	col, err := e.collections.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("expanding collection %s: %w", id, err)
	}
	if col == nil {
		e.memo[id] = nil
		return nil, nil
	}
	var items []*models.MediaItem
	if col.Kind == models.CollectionSmart {
		items, err = e.items.FindMatching(ctx, col.Query)
	} else {
		items, err = e.collections.GetStaticItems(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("expanding collection %q: %w", col.Name, err)
	}
	kept := items[:0]
	for _, it := range items {
		if playable(it) {
			kept = append(kept, it)
		}
	}
	e.memo[id] = kept
	return kept, nil
}

// playable reports whether an item may enter a timeline: it must be
// available and have a known runtime.
func playable(it *models.MediaItem) bool {
	return it.IsAvailable() && it.DurationMs > 0
}
