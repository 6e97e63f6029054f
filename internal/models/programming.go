package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// PlaybackOrder selects the enumerator used over a member set.
type PlaybackOrder string

const (
	// OrderChronological plays members in strict order, wrapping at the end.
	OrderChronological PlaybackOrder = "chronological"
	// OrderShuffled plays a deterministic shuffle seeded from
	// (channel_id, anchor_time) with a persisted cursor.
	OrderShuffled PlaybackOrder = "shuffled"
	// OrderRandom picks uniformly while avoiding recent repeats.
	OrderRandom PlaybackOrder = "random"
	// OrderRotatingShuffled shuffles within groups and rotates groups
	// round-robin.
	OrderRotatingShuffled PlaybackOrder = "rotating_shuffled"
)

// Valid reports whether the order is a known enumerator.
func (o PlaybackOrder) Valid() bool {
	switch o {
	case OrderChronological, OrderShuffled, OrderRandom, OrderRotatingShuffled:
		return true
	}
	return false
}

// ScheduleMode controls how many items a block slot plays.
type ScheduleMode string

const (
	// ScheduleModeOne plays exactly one item.
	ScheduleModeOne ScheduleMode = "one"
	// ScheduleModeMultiple plays Count items.
	ScheduleModeMultiple ScheduleMode = "multiple"
	// ScheduleModeDuration plays items while cumulative duration stays under
	// DurationMs; the last item may overshoot by the configured tolerance.
	ScheduleModeDuration ScheduleMode = "duration"
	// ScheduleModeFlood fills until the wall-clock offset FloodUntilMs; the
	// trailing gap is handled by the filler policy.
	ScheduleModeFlood ScheduleMode = "flood"
)

// Valid reports whether the mode is a known schedule mode.
func (m ScheduleMode) Valid() bool {
	switch m {
	case ScheduleModeOne, ScheduleModeMultiple, ScheduleModeDuration, ScheduleModeFlood:
		return true
	}
	return false
}

// Playlist is an ordered (or shuffled) sequence of media items a playout can
// bind to directly, without a weekly schedule.
type Playlist struct {
	BaseModel

	// Name is a user-friendly label, unique across playlists.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	// Order selects the enumerator over the playlist members.
	// Stored as playback_order since ORDER is reserved in SQL.
	Order PlaybackOrder `gorm:"column:playback_order;not null;default:'chronological';size:32" json:"order"`

	// Items are the ordered members.
	Items []PlaylistItem `gorm:"foreignKey:PlaylistID" json:"items,omitempty"`
}

// TableName returns the table name for Playlist.
func (Playlist) TableName() string {
	return "playlists"
}

// Validate performs basic validation on the playlist.
func (p *Playlist) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.Order == "" {
		p.Order = OrderChronological
	}
	if !p.Order.Valid() {
		return ErrInvalidPlaybackOrder
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the playlist and generates ULID.
func (p *Playlist) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the playlist before update.
func (p *Playlist) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}

// PlaylistItem is one position in a playlist.
type PlaylistItem struct {
	BaseModel

	PlaylistID  ULID `gorm:"type:varchar(26);not null;index:idx_playlist_position" json:"playlist_id"`
	MediaItemID ULID `gorm:"type:varchar(26);not null;index" json:"media_item_id"`

	// Position is the 0-based slot in the playlist.
	Position int `gorm:"not null;index:idx_playlist_position" json:"position"`

	MediaItem *MediaItem `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
}

// TableName returns the table name for PlaylistItem.
func (PlaylistItem) TableName() string {
	return "playlist_items"
}

// CollectionKind distinguishes explicit member lists from stored queries.
type CollectionKind string

const (
	// CollectionStatic has an explicit member list.
	CollectionStatic CollectionKind = "static"
	// CollectionSmart evaluates a stored predicate at enumeration time.
	CollectionSmart CollectionKind = "smart"
)

// SmartQuery is a stored predicate over media item fields, evaluated lazily
// and memoized per enumeration cycle.
type SmartQuery struct {
	// MediaType restricts to one coarse classification when non-empty.
	MediaType MediaType `gorm:"size:20" json:"media_type,omitempty"`

	// YearFrom/YearTo bound the release year (inclusive; 0 = unbounded).
	YearFrom int `gorm:"default:0" json:"year_from,omitempty"`
	YearTo   int `gorm:"default:0" json:"year_to,omitempty"`

	// DurationMinMs/DurationMaxMs bound the runtime (0 = unbounded).
	DurationMinMs int64 `gorm:"default:0" json:"duration_min_ms,omitempty"`
	DurationMaxMs int64 `gorm:"default:0" json:"duration_max_ms,omitempty"`

	// GenreContains matches items whose genre list contains the substring.
	GenreContains string `gorm:"size:255" json:"genre_contains,omitempty"`

	// Rating matches the content rating label exactly when non-empty.
	Rating string `gorm:"size:32" json:"rating,omitempty"`

	// Search matches a case-insensitive substring of the title.
	Search string `gorm:"size:255" json:"search,omitempty"`
}

// Matches evaluates the predicate against a media item.
func (q *SmartQuery) Matches(item *MediaItem) bool {
	if q.MediaType != "" && item.MediaType != q.MediaType {
		return false
	}
	if q.YearFrom > 0 && item.Year < q.YearFrom {
		return false
	}
	if q.YearTo > 0 && item.Year > q.YearTo {
		return false
	}
	if q.DurationMinMs > 0 && item.DurationMs < q.DurationMinMs {
		return false
	}
	if q.DurationMaxMs > 0 && item.DurationMs > q.DurationMaxMs {
		return false
	}
	if q.GenreContains != "" && !containsFold(item.Genres, q.GenreContains) {
		return false
	}
	if q.Rating != "" && item.Rating != q.Rating {
		return false
	}
	if q.Search != "" && !containsFold(item.Title, q.Search) {
		return false
	}
	return true
}

// Collection groups media items either explicitly or by smart query.
type Collection struct {
	BaseModel

	// Name is a user-friendly label, unique across collections.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	// Kind selects static membership or smart query evaluation.
	Kind CollectionKind `gorm:"not null;default:'static';size:16" json:"kind"`

	// Query is the stored predicate for smart collections.
	Query SmartQuery `gorm:"embedded;embeddedPrefix:query_" json:"query"`

	// Items are the explicit members of a static collection.
	Items []CollectionItem `gorm:"foreignKey:CollectionID" json:"items,omitempty"`
}

// TableName returns the table name for Collection.
func (Collection) TableName() string {
	return "collections"
}

// Validate performs basic validation on the collection.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	switch c.Kind {
	case CollectionStatic, CollectionSmart:
	case "":
		c.Kind = CollectionStatic
	default:
		return ErrValidation{Field: "kind", Message: "must be 'static' or 'smart'"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the collection and generates ULID.
func (c *Collection) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the collection before update.
func (c *Collection) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}

// CollectionItem is one explicit member of a static collection.
type CollectionItem struct {
	BaseModel

	CollectionID ULID `gorm:"type:varchar(26);not null;index:idx_collection_position" json:"collection_id"`
	MediaItemID  ULID `gorm:"type:varchar(26);not null;index" json:"media_item_id"`

	// Position is the 0-based slot in the collection.
	Position int `gorm:"not null;index:idx_collection_position" json:"position"`

	MediaItem *MediaItem `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
}

// TableName returns the table name for CollectionItem.
func (CollectionItem) TableName() string {
	return "collection_items"
}

// Day-of-week bitmask bits; bit n set = scheduled on time.Weekday(n).
const (
	DaySunday uint8 = 1 << iota
	DayMonday
	DayTuesday
	DayWednesday
	DayThursday
	DayFriday
	DaySaturday

	// DaysAll schedules the block every day.
	DaysAll uint8 = 0x7F
)

// Block is a named time-of-day programming unit: a member set, a playback
// order, a slot mode, and optional day/time constraints.
type Block struct {
	BaseModel

	// Name is a user-friendly label.
	Name string `gorm:"not null;size:255" json:"name"`

	// Order selects the enumerator over the block's member set.
	// Stored as playback_order since ORDER is reserved in SQL.
	Order PlaybackOrder `gorm:"column:playback_order;not null;default:'chronological';size:32" json:"order"`

	// Mode controls how many items the block plays per slot.
	Mode ScheduleMode `gorm:"not null;default:'one';size:16" json:"mode"`

	// Count is the item count for mode 'multiple'.
	Count int `gorm:"default:1" json:"count,omitempty"`

	// DurationMs is the target duration for mode 'duration'.
	DurationMs int64 `gorm:"default:0" json:"duration_ms,omitempty"`

	// FloodUntilMs is the time-of-day offset (ms since midnight, local time)
	// that mode 'flood' fills toward.
	FloodUntilMs int64 `gorm:"default:0" json:"flood_until_ms,omitempty"`

	// DaysOfWeek is a bitmask of scheduled days; 0 means every day.
	DaysOfWeek uint8 `gorm:"default:0" json:"days_of_week,omitempty"`

	// StartOffsetMs is the time-of-day start (ms since midnight, local time).
	StartOffsetMs int64 `gorm:"default:0" json:"start_offset_ms,omitempty"`

	// Items are the block members in position order.
	Items []BlockItem `gorm:"foreignKey:BlockID" json:"items,omitempty"`
}

// TableName returns the table name for Block.
func (Block) TableName() string {
	return "blocks"
}

// ScheduledOn reports whether the block runs on the given weekday.
func (b *Block) ScheduledOn(day time.Weekday) bool {
	if b.DaysOfWeek == 0 {
		return true
	}
	return b.DaysOfWeek&(1<<uint8(day)) != 0
}

// Validate performs basic validation on the block.
func (b *Block) Validate() error {
	if b.Name == "" {
		return ErrNameRequired
	}
	if b.Order == "" {
		b.Order = OrderChronological
	}
	if !b.Order.Valid() {
		return ErrInvalidPlaybackOrder
	}
	if b.Mode == "" {
		b.Mode = ScheduleModeOne
	}
	if !b.Mode.Valid() {
		return ErrInvalidScheduleMode
	}
	if b.Mode == ScheduleModeMultiple && b.Count < 1 {
		return ErrValidation{Field: "count", Message: "must be at least 1 for mode 'multiple'"}
	}
	if b.Mode == ScheduleModeDuration && b.DurationMs <= 0 {
		return ErrValidation{Field: "duration_ms", Message: "must be positive for mode 'duration'"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the block and generates ULID.
func (b *Block) BeforeCreate(tx *gorm.DB) error {
	if err := b.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return b.Validate()
}

// BeforeUpdate is a GORM hook that validates the block before update.
func (b *Block) BeforeUpdate(tx *gorm.DB) error {
	return b.Validate()
}

// BlockItem is one member of a block. Exactly one of MediaItemID,
// CollectionID, or PlaylistID is set; collections and playlists are expanded
// at enumeration time.
type BlockItem struct {
	BaseModel

	BlockID ULID `gorm:"type:varchar(26);not null;index:idx_block_position" json:"block_id"`

	MediaItemID  *ULID `gorm:"type:varchar(26);index" json:"media_item_id,omitempty"`
	CollectionID *ULID `gorm:"type:varchar(26);index" json:"collection_id,omitempty"`
	PlaylistID   *ULID `gorm:"type:varchar(26);index" json:"playlist_id,omitempty"`

	// Position is the 0-based slot in the block.
	Position int `gorm:"not null;index:idx_block_position" json:"position"`

	MediaItem  *MediaItem  `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
	Collection *Collection `gorm:"foreignKey:CollectionID" json:"collection,omitempty"`
	Playlist   *Playlist   `gorm:"foreignKey:PlaylistID" json:"playlist,omitempty"`
}

// TableName returns the table name for BlockItem.
func (BlockItem) TableName() string {
	return "block_items"
}

// Validate checks that exactly one member reference is set.
func (bi *BlockItem) Validate() error {
	refs := 0
	if bi.MediaItemID != nil && !bi.MediaItemID.IsZero() {
		refs++
	}
	if bi.CollectionID != nil && !bi.CollectionID.IsZero() {
		refs++
	}
	if bi.PlaylistID != nil && !bi.PlaylistID.IsZero() {
		refs++
	}
	if refs != 1 {
		return ErrValidation{Field: "block_item", Message: "exactly one of media_item_id, collection_id, playlist_id must be set"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the member and generates ULID.
func (bi *BlockItem) BeforeCreate(tx *gorm.DB) error {
	if err := bi.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return bi.Validate()
}

// Schedule composes blocks into a repeating week.
type Schedule struct {
	BaseModel

	// Name is a user-friendly label, unique across schedules.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	// Blocks are the schedule members in position order.
	Blocks []ScheduleBlock `gorm:"foreignKey:ScheduleID" json:"blocks,omitempty"`
}

// TableName returns the table name for Schedule.
func (Schedule) TableName() string {
	return "schedules"
}

// Validate performs basic validation on the schedule.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the schedule and generates ULID.
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the schedule before update.
func (s *Schedule) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}

// ScheduleBlock binds a block into a schedule at a position.
type ScheduleBlock struct {
	BaseModel

	ScheduleID ULID `gorm:"type:varchar(26);not null;index:idx_schedule_position" json:"schedule_id"`
	BlockID    ULID `gorm:"type:varchar(26);not null;index" json:"block_id"`

	// Position orders blocks that share a start offset.
	Position int `gorm:"not null;index:idx_schedule_position" json:"position"`

	Block *Block `gorm:"foreignKey:BlockID" json:"block,omitempty"`
}

// TableName returns the table name for ScheduleBlock.
func (ScheduleBlock) TableName() string {
	return "schedule_blocks"
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
