package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playback_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Catalog Metrics
	CatalogResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_catalog_resolutions_total",
			Help: "Total number of segment catalog resolutions",
		},
		[]string{"stream", "result"},
	)

	CatalogSegments = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playback_catalog_segments",
			Help:    "Number of segments discovered per catalog",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Duration Probe Metrics
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_duration_probes_total",
			Help: "Total number of chunk duration probes",
		},
		[]string{"result"}, // measured, estimated, default
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playback_duration_probe_seconds",
			Help:    "Time spent probing a chunk's duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Player Metrics
	ChunkLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_chunk_loads_total",
			Help: "Total number of chunk loads",
		},
		[]string{"stream", "result"}, // ok, retry, skipped, failed
	)

	ChunkRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_chunk_retries_total",
			Help: "Total number of chunk load retries",
		},
	)

	PrefetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_prefetches_total",
			Help: "Total number of prefetch operations",
		},
		[]string{"mode"}, // warm, prime
	)

	SeeksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_seeks_total",
			Help: "Total number of seek operations",
		},
		[]string{"kind"}, // user, anomaly, corrective
	)

	// Synchronizer Metrics
	DriftCorrectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_drift_corrections_total",
			Help: "Total number of corrective seeks issued by the synchronizer",
		},
	)

	DriftSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playback_drift_seconds",
			Help:    "Observed drift between the two streams at reconcile time",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 1.5, 2.0, 4.0, 8.0},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_active_sessions",
			Help: "Number of active review sessions",
		},
	)

	// Live Adapter Metrics
	ManifestPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_manifest_polls_total",
			Help: "Total number of live manifest poll attempts",
		},
		[]string{"result"}, // found, missing, error
	)

	LiveRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_live_rebuilds_total",
			Help: "Total number of live client teardown-and-rebuild cycles",
		},
	)
)
