// Package metrics provides Prometheus instrumentation for rtcwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtcwatch_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtcwatch_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Ingest metrics.
var (
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtcwatch_notifications_total",
		Help: "Total number of processed provider notifications.",
	}, []string{"event_type", "outcome"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtcwatch_ingest_duration_seconds",
		Help:    "Notification reconciliation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	IngestRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtcwatch_ingest_retries_total",
		Help: "Total number of transient-error retries during ingest.",
	})
)

// Engine state metrics.
var (
	ActiveEpochs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtcwatch_active_epochs",
		Help: "Number of channel epochs currently tracked as active.",
	})

	DedupMemoSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtcwatch_dedup_memo_size",
		Help: "Number of notice ids held in the in-memory dedup memo.",
	})
)
