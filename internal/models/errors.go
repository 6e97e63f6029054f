package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrChannelNumberRequired indicates a required channel number field is empty.
	ErrChannelNumberRequired = errors.New("channel number is required")

	// ErrInvalidSourceType indicates an unknown media source type.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrSourceKeyRequired indicates a required source key field is empty.
	ErrSourceKeyRequired = errors.New("source key is required")

	// ErrLibraryIDRequired indicates a credentialed source item without a library.
	ErrLibraryIDRequired = errors.New("library_id is required for credentialed sources")

	// ErrBaseURLRequired indicates a required base URL field is empty.
	ErrBaseURLRequired = errors.New("base URL is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrTokenRequired indicates a required access token field is empty.
	ErrTokenRequired = errors.New("access token is required")

	// ErrChannelIDRequired indicates a required channel ID field is zero.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrMediaItemIDRequired indicates a required media item ID field is zero.
	ErrMediaItemIDRequired = errors.New("media_item_id is required")

	// ErrDurationRequired indicates a media item without a known duration.
	ErrDurationRequired = errors.New("duration_ms must be positive")

	// ErrInvalidStreamingMode indicates an unknown streaming mode.
	ErrInvalidStreamingMode = errors.New("invalid streaming mode: must be 'copy', 'transcode', or 'auto'")

	// ErrInvalidPlaybackOrder indicates an unknown enumerator order.
	ErrInvalidPlaybackOrder = errors.New("invalid playback order")

	// ErrInvalidScheduleMode indicates an unknown schedule slot mode.
	ErrInvalidScheduleMode = errors.New("invalid schedule mode")

	// ErrInvalidFillerMode indicates an unknown filler insertion mode.
	ErrInvalidFillerMode = errors.New("invalid filler mode")

	// ErrInvalidTimeRange indicates stop time is not after start time.
	ErrInvalidTimeRange = errors.New("stop time must be after start time")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrScheduleIDRequired indicates a playout bound to neither schedule nor playlist.
	ErrScheduleIDRequired = errors.New("playout requires a schedule or playlist reference")
)

// Errors surfaced by the streaming core. Handlers translate these to HTTP
// statuses; everything else is wrapped and logged at loop boundaries.
var (
	// ErrChannelNotFound indicates the requested channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelDisabled indicates the channel exists but is disabled.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrAdmissionDenied indicates session caps, pool pressure, or containment
	// refused a new session.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrCircuitOpen indicates the channel's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrSessionOverrun indicates a consumer fell too far behind the producer.
	ErrSessionOverrun = errors.New("session overran its backlog")

	// ErrEmptySchedule indicates a channel with no programming artifacts.
	ErrEmptySchedule = errors.New("schedule has no playable content")

	// ErrNoPlayableItems indicates enumeration found no available items.
	ErrNoPlayableItems = errors.New("no playable items")

	// ErrContainmentActive indicates containment mode refused an automated action.
	ErrContainmentActive = errors.New("containment mode is active")

	// ErrRestartThrottled indicates the global restart-storm throttle deferred a restart.
	ErrRestartThrottled = errors.New("restart deferred by storm throttle")

	// ErrRestartCooldown indicates the per-channel restart cooldown has not elapsed.
	ErrRestartCooldown = errors.New("restart cooldown has not elapsed")

	// ErrLineupInvalid indicates the channel lineup failed validation.
	ErrLineupInvalid = errors.New("lineup is invalid or empty")

	// ErrXMLTVInvalid indicates guide generation produced an invalid document.
	ErrXMLTVInvalid = errors.New("xmltv document failed validation")
)

// UnresolvableKind classifies why a media item could not be resolved to a
// streamable URL.
type UnresolvableKind string

const (
	// UnresolvableAuth indicates upstream rejected our credentials.
	UnresolvableAuth UnresolvableKind = "auth"
	// UnresolvableNotFound indicates the item no longer exists upstream.
	UnresolvableNotFound UnresolvableKind = "not_found"
	// UnresolvableExpired indicates a previously-valid URL has expired.
	UnresolvableExpired UnresolvableKind = "expired"
	// UnresolvableUpstreamDown indicates the upstream server is unreachable.
	UnresolvableUpstreamDown UnresolvableKind = "upstream_down"
	// UnresolvableInvalid indicates the item's stored metadata is unusable.
	UnresolvableInvalid UnresolvableKind = "invalid"
)

// ResolverError reports a media item that could not be resolved, carrying
// the classification the channel loop uses to pick a recovery action.
type ResolverError struct {
	Kind   UnresolvableKind
	ItemID ULID
	Err    error
}

// Error implements the error interface.
func (e *ResolverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving item %s: %s: %v", e.ItemID, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolving item %s: %s", e.ItemID, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *ResolverError) Unwrap() error {
	return e.Err
}

// PoolErrorKind classifies process pool acquisition failures.
type PoolErrorKind string

const (
	// PoolAcquireTimeout indicates the 90 s acquisition deadline elapsed. Retryable.
	PoolAcquireTimeout PoolErrorKind = "acquire_timeout"
	// PoolCapacityExceeded indicates no slot was free on a bounded attempt. Retryable.
	PoolCapacityExceeded PoolErrorKind = "capacity_exceeded"
	// PoolMemoryExhausted indicates system memory headroom is gone. Fail-fast.
	PoolMemoryExhausted PoolErrorKind = "memory_exhausted"
	// PoolFdExhausted indicates the file descriptor budget is gone. Fail-fast.
	PoolFdExhausted PoolErrorKind = "fd_exhausted"
	// PoolClosed indicates the pool is shutting down.
	PoolClosed PoolErrorKind = "closed"
)

// PoolError reports a process pool acquisition failure.
type PoolError struct {
	Kind PoolErrorKind
	Err  error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process pool: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("process pool: %s", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the acquisition may be retried within budget.
func (e *PoolError) Retryable() bool {
	return e.Kind == PoolAcquireTimeout || e.Kind == PoolCapacityExceeded
}
