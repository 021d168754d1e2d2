// Package metrics provides Prometheus metrics for the reconciliation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchScores tracks the best similarity score found per matched source record
	MatchScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "score",
			Help:      "Best similarity score per source record",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"source", "method"},
	)

	// MatchOutcomes tracks matched vs unmatched source records
	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "outcomes_total",
			Help:      "Total number of match attempts by outcome",
		},
		[]string{"source", "outcome"},
	)

	// EntityActions tracks what a reconciliation pass did per entity
	EntityActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "reconciliation",
			Name:      "entities_total",
			Help:      "Total number of unified entities by action",
		},
		[]string{"action"},
	)

	// TypeActions tracks apartment-type reconciliation actions
	TypeActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "apartments",
			Name:      "type_actions_total",
			Help:      "Total number of apartment-type actions by policy and action",
		},
		[]string{"policy", "action"},
	)

	// RunDuration tracks run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "reconciliation",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation and collapse runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"operation"},
	)

	// PersistenceRetries tracks retried store writes
	PersistenceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Total number of retried store operations",
		},
		[]string{"operation"},
	)

	// ExternalRequests tracks geocoder and embedding calls
	ExternalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "external",
			Name:      "requests_total",
			Help:      "Total number of external service requests by outcome",
		},
		[]string{"service", "status"},
	)

	// ExternalRequestDuration tracks external service latency
	ExternalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "external",
			Name:      "request_duration_seconds",
			Help:      "Duration of external service requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)

	// CacheLookups tracks cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	// DuplicatesCollapsed tracks records deleted by duplicate collapse
	DuplicatesCollapsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "collapse",
			Name:      "records_deleted_total",
			Help:      "Total number of duplicate source records deleted",
		},
		[]string{"source"},
	)

	// DataIntegrityWarnings tracks records that violated an assumption but were processed
	DataIntegrityWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "integrity",
			Name:      "warnings_total",
			Help:      "Total number of data integrity warnings by kind",
		},
		[]string{"kind"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of Kafka messages published",
		},
		[]string{"topic", "status"},
	)
)

// RecordMatch records the outcome of matching one source record.
func RecordMatch(source, method string, score float64, matched bool) {
	outcome := "unmatched"
	if matched {
		outcome = "matched"
		MatchScores.WithLabelValues(source, method).Observe(score)
	}
	MatchOutcomes.WithLabelValues(source, outcome).Inc()
}

// RecordEntityAction records the action taken on one unified entity.
func RecordEntityAction(action string) {
	EntityActions.WithLabelValues(action).Inc()
}

// RecordTypeAction records one apartment-type decision.
func RecordTypeAction(policy, action string) {
	TypeActions.WithLabelValues(policy, action).Inc()
}

// RecordRun records the duration of a run.
func RecordRun(operation string, durationSeconds float64) {
	RunDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordExternalRequest records one external call.
func RecordExternalRequest(service, status string, durationSeconds float64) {
	ExternalRequests.WithLabelValues(service, status).Inc()
	ExternalRequestDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordIntegrityWarning records a data integrity warning.
func RecordIntegrityWarning(kind string) {
	DataIntegrityWarnings.WithLabelValues(kind).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
