package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/exstreamtv/exstreamtv/internal/selfheal"
	"github.com/exstreamtv/exstreamtv/internal/version"
)

// healthCheckTimeout bounds each individual probe so a wedged database
// cannot hang the health endpoint.
const healthCheckTimeout = 5 * time.Second

// dbPinger verifies catalog connectivity. database.DB implements it.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// poolReader exposes pool occupancy. procpool.Pool implements it.
type poolReader interface {
	Capacity() int
	InUse() int
	Pressure() float64
}

// healthController exposes the self-heal snapshot. selfheal.Controller
// implements it.
type healthController interface {
	Snapshot() selfheal.Status
}

// HealthHandler reports readiness plus a system snapshot.
type HealthHandler struct {
	db         dbPinger
	pool       poolReader
	controller healthController
	ffmpegPath string
	logger     *slog.Logger
}

// NewHealthHandler creates a new health handler. ffmpegPath is the
// binary resolved at boot; empty means detection failed.
func NewHealthHandler(db dbPinger, pool poolReader, controller healthController, ffmpegPath string) *HealthHandler {
	return &HealthHandler{
		db:         db,
		pool:       pool,
		controller: controller,
		ffmpegPath: ffmpegPath,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *HealthHandler) WithLogger(logger *slog.Logger) *HealthHandler {
	h.logger = logger
	return h
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Service health and system snapshot",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// SystemSnapshot is a point-in-time host resource view.
type SystemSnapshot struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Load1             float64 `json:"load_1"`
}

// PoolSnapshot is the process pool's occupancy.
type PoolSnapshot struct {
	Capacity int     `json:"capacity"`
	InUse    int     `json:"in_use"`
	Pressure float64 `json:"pressure"`
}

// HealthOutput is the health report.
type HealthOutput struct {
	Body struct {
		Status   string          `json:"status" enum:"ok,degraded"`
		Version  string          `json:"version"`
		Database string          `json:"database" enum:"ok,unreachable"`
		FFmpeg   string          `json:"ffmpeg" enum:"ok,missing"`
		System   *SystemSnapshot `json:"system,omitempty"`
		Pool     PoolSnapshot    `json:"pool"`
		SelfHeal selfheal.Status `json:"self_heal"`
	}
}

// GetHealth runs the readiness probes. The endpoint itself always
// answers 200; degradation is reported in the body so pollers can
// distinguish "down" from "up but unhappy".
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Version
	out.Body.Database = "ok"
	out.Body.FFmpeg = "ok"

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	err := h.db.Ping(pingCtx)
	cancel()
	if err != nil {
		h.logger.Warn("health: database ping failed", "error", err)
		out.Body.Database = "unreachable"
		out.Body.Status = "degraded"
	}

	if h.ffmpegPath == "" {
		out.Body.FFmpeg = "missing"
		out.Body.Status = "degraded"
	}

	out.Body.Pool = PoolSnapshot{
		Capacity: h.pool.Capacity(),
		InUse:    h.pool.InUse(),
		Pressure: h.pool.Pressure(),
	}

	out.Body.SelfHeal = h.controller.Snapshot()
	if out.Body.SelfHeal.Contained {
		out.Body.Status = "degraded"
	}

	out.Body.System = h.systemSnapshot(ctx)
	return out, nil
}

// systemSnapshot samples the host via gopsutil. Failures degrade to a
// nil snapshot rather than failing the whole report.
func (h *HealthHandler) systemSnapshot(ctx context.Context) *SystemSnapshot {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	snap := &SystemSnapshot{}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsedPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
	}
	return snap
}
