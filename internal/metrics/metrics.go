package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoursProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querytrail_hours_processed_total",
		Help: "Total number of hour units processed, labelled by outcome.",
	}, []string{"status"})

	EventsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querytrail_events_fetched_total",
		Help: "Total number of audit events fetched across all pages.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querytrail_events_dropped_total",
		Help: "Total number of audit events dropped due to per-event parse failures.",
	})

	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querytrail_records_written_total",
		Help: "Total number of query records written into reports.",
	})

	ThrottleRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querytrail_throttle_retries_total",
		Help: "Total number of backoff retries caused by audit lookup throttling.",
	})

	CorrelationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querytrail_correlation_failures_total",
		Help: "Total number of best-effort completion lookups that degraded to sentinels.",
	})

	DispatchesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querytrail_dispatches_started_total",
		Help: "Total number of whole-day dispatches, labelled by mode (workflow or local).",
	}, []string{"mode"})

	HourDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "querytrail_hour_duration_seconds",
		Help:    "End-to-end latency of a single hour unit.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)
