package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/exstreamtv/exstreamtv/internal/service/logs"
)

// logStore is the in-memory log ring. logs.Service implements it.
type logStore interface {
	Query(level, component string, limit int) []logs.Entry
	GetStats() logs.Stats
}

// LogsHandler serves the in-memory log ring over the admin API.
type LogsHandler struct {
	store logStore
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(store logStore) *LogsHandler {
	return &LogsHandler{store: store}
}

// Register registers the log routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listLogs",
		Method:      "GET",
		Path:        "/api/v1/logs",
		Summary:     "Query recent log entries",
		Tags:        []string{"System"},
	}, h.ListLogs)

	huma.Register(api, huma.Operation{
		OperationID: "getLogStats",
		Method:      "GET",
		Path:        "/api/v1/logs/stats",
		Summary:     "Log volume by level and component",
		Tags:        []string{"System"},
	}, h.GetStats)
}

// ListLogsInput filters the ring. Zero limit means the full ring.
type ListLogsInput struct {
	Level     string `query:"level" doc:"Filter by level (debug, info, warn, error)"`
	Component string `query:"component" doc:"Filter by emitting component"`
	Limit     int    `query:"limit" minimum:"0" maximum:"10000" doc:"Maximum entries to return, newest last"`
}

// ListLogsOutput is the filtered slice of the ring.
type ListLogsOutput struct {
	Body struct {
		Entries []logs.Entry `json:"entries"`
		Count   int          `json:"count"`
	}
}

// ListLogs returns matching entries in chronological order.
func (h *LogsHandler) ListLogs(_ context.Context, input *ListLogsInput) (*ListLogsOutput, error) {
	entries := h.store.Query(input.Level, input.Component, input.Limit)
	out := &ListLogsOutput{}
	out.Body.Entries = entries
	out.Body.Count = len(entries)
	return out, nil
}

// LogStatsOutput wraps the ring statistics.
type LogStatsOutput struct {
	Body logs.Stats
}

// GetStats returns aggregate counters for the ring.
func (h *LogsHandler) GetStats(_ context.Context, _ *struct{}) (*LogStatsOutput, error) {
	return &LogStatsOutput{Body: h.store.GetStats()}, nil
}
