package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks open websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkroom_active_connections",
			Help: "Number of open realtime connections",
		},
	)

	// ActiveSessions tracks whiteboard sessions held in memory.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkroom_active_sessions",
			Help: "Number of whiteboard sessions in memory",
		},
	)

	// Participants tracks joined participants across all sessions.
	Participants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkroom_participants",
			Help: "Number of participants joined to a session",
		},
	)

	// RealtimeEvents counts inbound realtime frames by result (ok|rejected|malformed|panic).
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkroom_realtime_events_total",
			Help: "Total number of inbound realtime events",
		},
		[]string{"result"},
	)

	// BroadcastDeliveries counts envelopes enqueued to connections.
	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkroom_broadcast_deliveries_total",
			Help: "Total number of envelopes enqueued to realtime connections",
		},
	)

	// SlowConsumers counts connections closed because their send buffer filled up.
	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkroom_slow_consumers_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	// Uploads counts upload attempts by result (success|no_file|too_large|failure).
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkroom_uploads_total",
			Help: "Total number of file upload attempts",
		},
		[]string{"result"},
	)

	// UploadBytes observes the size of stored uploads.
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkroom_upload_bytes",
			Help:    "Size of stored uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// ReapedSessions counts idle sessions removed by maintenance.
	ReapedSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkroom_reaped_sessions_total",
			Help: "Idle sessions removed by the maintenance reaper",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkroom_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
