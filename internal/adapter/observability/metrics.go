// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TasksEnqueuedTotal counts tasks enqueued by type.
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"type"},
	)
	// TasksProcessing is a gauge of the number of currently running tasks by type.
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently running",
		},
		[]string{"type"},
	)
	// TasksCompletedTotal counts tasks completed by type.
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"type"},
	)
	// TasksFailedTotal counts tasks failed by type.
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks failed",
		},
		[]string{"type"},
	)
	// TasksCancelledTotal counts tasks cancelled by type.
	TasksCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_cancelled_total",
			Help: "Total number of tasks cancelled",
		},
		[]string{"type"},
	)
	// TaskDuration records task execution durations by type.
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"type"},
	)

	// BrokerPublishTotal counts broker publishes by topic.
	BrokerPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_total",
			Help: "Total number of messages published to the broker",
		},
		[]string{"topic"},
	)
	// BrokerConsumeTotal counts broker deliveries by topic.
	BrokerConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_consume_total",
			Help: "Total number of messages consumed from the broker",
		},
		[]string{"topic"},
	)
	// BrokerHandlerErrorsTotal counts handler errors by topic.
	BrokerHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_handler_errors_total",
			Help: "Total number of handler errors observed while consuming",
		},
		[]string{"topic"},
	)

	// ScanStageDuration records per-stage durations for the in-process pipeline.
	ScanStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_stage_duration_seconds",
			Help:    "Duration of each scan pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)
	// ScanJobsDrainedTotal counts per-library jobs whose progress counters fully drained.
	ScanJobsDrainedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_jobs_drained_total",
			Help: "Total number of scan jobs whose per-stage counters fully drained",
		},
		[]string{"stage"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(TasksCancelledTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(BrokerPublishTotal)
	prometheus.MustRegister(BrokerConsumeTotal)
	prometheus.MustRegister(BrokerHandlerErrorsTotal)
	prometheus.MustRegister(ScanStageDuration)
	prometheus.MustRegister(ScanJobsDrainedTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// EnqueueTask increments the enqueued tasks counter for the given type.
func EnqueueTask(taskType string) {
	TasksEnqueuedTotal.WithLabelValues(taskType).Inc()
}

// StartTask increments the processing gauge for the given type.
func StartTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Inc()
}

// CompleteTask marks a task complete: decrements processing, increments completed, observes duration.
func CompleteTask(taskType string, durationSeconds float64) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksCompletedTotal.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// FailTask marks a task failed: decrements processing, increments failed, observes duration.
func FailTask(taskType string, durationSeconds float64) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksFailedTotal.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// CancelTask marks a task cancelled: decrements processing, increments cancelled.
func CancelTask(taskType string) {
	TasksProcessing.WithLabelValues(taskType).Dec()
	TasksCancelledTotal.WithLabelValues(taskType).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
