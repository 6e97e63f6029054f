package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session drop reasons for the sessions_dropped_total counter.
const (
	DropReasonOverrun = "overrun"
	DropReasonIdle    = "idle"
	DropReasonClient  = "client_closed"
	DropReasonStop    = "channel_stopped"
)

// Metrics is the process-wide metrics registry. It is constructed once at
// startup and handed to components; nothing registers into a global.
type Metrics struct {
	registry *prometheus.Registry

	// PoolAcquisitionLatency observes how long acquire_process takes,
	// successful or not.
	PoolAcquisitionLatency prometheus.Histogram
	// FFmpegSpawnTimeouts counts acquisitions abandoned at the deadline.
	FFmpegSpawnTimeouts prometheus.Counter
	// RestartRate is the restarts-per-minute gauge fed by the storm tracker.
	RestartRate prometheus.Gauge
	// HealthTimeouts counts health sampling deadlines missed by processes.
	HealthTimeouts prometheus.Counter
	// PlayoutRebuilds counts full playout reconstructions.
	PlayoutRebuilds prometheus.Counter
	// BreakerState exposes each channel breaker: 0 closed, 1 open, 2 half-open.
	BreakerState *prometheus.GaugeVec
	// MetadataFailureRatio is the sliding failure ratio of metadata resolution.
	MetadataFailureRatio prometheus.Gauge
	// ResolutionsTotal counts URL resolutions, labeled by source type and
	// outcome (ok or an unresolvable kind).
	ResolutionsTotal *prometheus.CounterVec
	// URLRefreshes counts background refreshes of expired item URLs.
	URLRefreshes prometheus.Counter
	// ActiveSessions gauges currently attached client sessions.
	ActiveSessions prometheus.Gauge
	// ActiveChannels gauges channels with a live producer loop.
	ActiveChannels prometheus.Gauge
	// XMLTVValidationFailures counts guide builds rejected by validation.
	XMLTVValidationFailures prometheus.Counter
	// SessionsDropped counts sessions torn down, labeled by reason.
	SessionsDropped *prometheus.CounterVec
	// BroadcastBytes counts bytes fanned into channel ring buffers.
	BroadcastBytes prometheus.Counter
	// RestartsTotal counts channel restarts, labeled by reason.
	RestartsTotal *prometheus.CounterVec
	// ContainmentActive is 1 while containment mode is engaged.
	ContainmentActive prometheus.Gauge
	// PoolInUse gauges leased process slots.
	PoolInUse prometheus.Gauge
}

// NewMetrics builds a fresh registry with every exstreamtv metric plus the
// standard Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		PoolAcquisitionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "exstreamtv_pool_acquisition_latency_seconds",
			Help:    "Time spent acquiring an FFmpeg process slot, including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90, 120},
		}),
		FFmpegSpawnTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "exstreamtv_ffmpeg_spawn_timeout_total",
			Help: "Process acquisitions abandoned at the acquire deadline",
		}),
		RestartRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exstreamtv_restart_rate_per_minute",
			Help: "Channel restarts observed in the trailing minute",
		}),
		HealthTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "exstreamtv_health_timeouts_total",
			Help: "Health samples that missed their deadline",
		}),
		PlayoutRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "exstreamtv_playout_rebuild_total",
			Help: "Playout reconstructions from programming artifacts",
		}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exstreamtv_circuit_breaker_state",
			Help: "Per-channel breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"channel_id"}),
		MetadataFailureRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exstreamtv_metadata_failure_ratio",
			Help: "Failing fraction of recent metadata resolutions",
		}),
		ResolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exstreamtv_resolutions_total",
			Help: "URL resolutions, by source type and outcome",
		}, []string{"source_type", "outcome"}),
		URLRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "exstreamtv_url_refreshes_total",
			Help: "Background refreshes of expired item URLs",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exstreamtv_active_sessions",
			Help: "Currently attached client sessions",
		}),
		ActiveChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exstreamtv_active_channels",
			Help: "Channels with a running producer loop",
		}),
		XMLTVValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "exstreamtv_xmltv_validation_failures_total",
			Help: "Guide builds rejected by XMLTV validation",
		}),
		SessionsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exstreamtv_sessions_dropped_total",
			Help: "Sessions torn down, by reason",
		}, []string{"reason"}),
		BroadcastBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "exstreamtv_broadcast_bytes_total",
			Help: "Bytes appended to channel ring buffers",
		}),
		RestartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exstreamtv_restarts_total",
			Help: "Channel restarts, by reason",
		}, []string{"reason"}),
		ContainmentActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exstreamtv_containment_active",
			Help: "1 while containment mode suspends automated restarts",
		}),
		PoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exstreamtv_pool_in_use",
			Help: "Leased FFmpeg process slots",
		}),
	}
}

// Handler serves the registry as a Prometheus text endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
