package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived tracks events accepted at the ingress boundary
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_events_received_total",
			Help: "Total number of events accepted at ingress",
		},
	)

	// EventsRejected tracks payloads rejected at the ingress boundary
	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_events_rejected_total",
			Help: "Total number of payloads rejected as malformed",
		},
	)

	// EventsInvalid tracks events dropped by semantic validation
	EventsInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_events_invalid_total",
			Help: "Total number of events dropped by validation",
		},
	)

	// EventsDeduplicated tracks suppressed duplicate deliveries
	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_events_deduplicated_total",
			Help: "Total number of duplicate deliveries suppressed",
		},
	)

	// EventsProcessed tracks events that completed the pipeline per category
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_events_processed_total",
			Help: "Total number of events routed to a category handler",
		},
		[]string{"category"},
	)

	// BatchesFlushed tracks batch flushes by trigger (size, timeout, forced)
	BatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_batches_flushed_total",
			Help: "Total number of batches flushed",
		},
		[]string{"trigger"},
	)

	// BatchSize observes the size of flushed batches
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventpipe_batch_size",
			Help:    "Number of events per flushed batch",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		},
	)

	// PredicateLatency observes predicate evaluation latency per predicate
	PredicateLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventpipe_predicate_latency_seconds",
			Help:    "Predicate evaluation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"predicate"},
	)

	// HandlerErrors tracks per-category handler failures
	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventpipe_handler_errors_total",
			Help: "Total number of category handler failures",
		},
		[]string{"category"},
	)

	// ReconnectAttempts tracks observer reconnect attempts
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventpipe_reconnect_attempts_total",
			Help: "Total number of observer reconnect attempts",
		},
	)

	// QueueSize tracks the current staging queue depth
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventpipe_queue_size",
			Help: "Current staging queue depth",
		},
	)
)
