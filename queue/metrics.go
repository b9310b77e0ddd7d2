package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdna_queue_tasks_processed_total",
		Help: "Tasks processed by drain, labeled by task type and outcome.",
	}, []string{"task_type", "outcome"})

	tasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdna_queue_tasks_enqueued_total",
		Help: "Tasks enqueued, labeled by task type.",
	}, []string{"task_type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetdna_queue_depth",
		Help: "Current task count per status.",
	}, []string{"status"})

	drainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetdna_queue_drain_duration_seconds",
		Help:    "Wall time of one drain invocation.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Drain outcomes used as metric labels.
const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)
