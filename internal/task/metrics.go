package task

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// Metric label values for task outcomes.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftw_tasks_submitted_total",
			Help: "Total number of tasks accepted by the scheduler.",
		},
		[]string{"type"},
	)

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftw_tasks_processed_total",
			Help: "Total number of tasks that reached a terminal state.",
		},
		[]string{"type", "status"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftw_tasks_in_flight",
			Help: "Number of tasks currently executing.",
		},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftw_task_duration_seconds",
			Help:    "Task execution time from start to completion, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksProcessed)
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(taskDuration)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, tt := range []domain.TaskType{domain.TaskTypeInference, domain.TaskTypePolygonize} {
		tasksSubmitted.WithLabelValues(string(tt))
		taskDuration.WithLabelValues(string(tt))
		for _, outcome := range []string{outcomeCompleted, outcomeFailed, outcomeCancelled} {
			tasksProcessed.WithLabelValues(string(tt), outcome)
		}
	}
}
