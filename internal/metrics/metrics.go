package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Model call metrics
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_model_calls_total",
			Help: "Total number of model calls",
		},
		[]string{"operation", "outcome"}, // outcome: success, retryable_error, fatal_error
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_retries_total",
			Help: "Total number of retried external calls",
		},
		[]string{"operation"},
	)

	// OCR metrics
	OCROutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_ocr_outcomes_total",
			Help: "OCR page outcomes by status",
		},
		[]string{"status"},
	)

	FallbackStrategyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_fallback_strategy_total",
			Help: "Fallback strategies attempted, by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	// Pipeline metrics
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_pipeline_runs_total",
			Help: "Pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagetranslate_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	PagesRasterized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_pages_rasterized_total",
			Help: "Rasterized pages, split by placeholder substitution",
		},
		[]string{"result"}, // result: rendered, placeholder
	)

	// Progress / websocket metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagetranslate_websocket_active_connections",
			Help: "Number of active progress WebSocket connections",
		},
	)

	ProgressEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagetranslate_progress_events_dropped_total",
			Help: "Progress events not delivered because the sink was absent or failed",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagetranslate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagetranslate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagetranslate_upload_size_bytes",
			Help:    "Size of uploaded PDFs in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		},
	)

	StagingFilesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagetranslate_staging_files_swept_total",
			Help: "Staged page images removed by cleanup sweeps",
		},
	)
)
