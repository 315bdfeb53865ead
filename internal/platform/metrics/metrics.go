// Package metrics holds the Prometheus collectors shared by the server and
// worker processes. Collectors register with the default registry and are
// exposed by the server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes recorded by DeliveriesTotal.
const (
	OutcomeHandled      = "handled"
	OutcomeReplied      = "replied"
	OutcomeMissingID    = "missing_correlation_id"
	OutcomeHandlerError = "handler_error"
)

var (
	// DeliveriesTotal counts messages consumed by queue actors, by outcome.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unwrapqr_deliveries_total",
		Help: "Total number of deliveries consumed, by queue and outcome.",
	}, []string{"queue", "outcome"})

	// PublishesTotal counts messages successfully handed to the broker.
	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unwrapqr_publishes_total",
		Help: "Total number of messages published, by queue.",
	}, []string{"queue"})

	// PublishFailuresTotal counts replies and direct sends that never reached the broker.
	PublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unwrapqr_publish_failures_total",
		Help: "Total number of failed publishes, by queue and reason.",
	}, []string{"queue", "reason"})

	// HandleDuration measures time spent inside handlers.
	HandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unwrapqr_handle_duration_seconds",
		Help:    "Duration of handler invocations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	// TasksSubmittedTotal counts uploads that became tasks.
	TasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unwrapqr_tasks_submitted_total",
		Help: "Total number of submitted tasks.",
	})

	// TaskResultsTotal counts status updates applied to the registry, by resulting kind.
	TaskResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unwrapqr_task_results_total",
		Help: "Total number of task status updates, by status kind.",
	}, []string{"status"})

	// TaskAnomaliesTotal counts results that could not be applied to the registry.
	TaskAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unwrapqr_task_anomalies_total",
		Help: "Total number of task results rejected by the registry, by reason.",
	}, []string{"reason"})
)
