// Package metrics holds the Prometheus collectors shared by the api and worker binaries.
package metrics

import (
	"time"

	"coderun/internal/runner/model"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coderun"

// Submission outcomes.
const (
	OutcomeQueued      = "queued"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

var (
	// 10ms -> 30s
	executionBuckets = []float64{
		0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 1.5, 2, 3, 5, 7.5, 10, 15, 30,
	}

	tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_total",
		Help:      "Number of tasks executed, by result status",
	}, []string{"language", "status"})

	executionSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "execution_seconds",
		Help:      "Histogram of wall time spent executing one task",
		Buckets:   executionBuckets,
	}, []string{"language", "status"})

	dequeueErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "dequeue_errors_total",
		Help:      "Number of failed dequeue attempts",
	}, []string{"language"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of tasks waiting in a language queue",
	}, []string{"language"})

	submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "submissions_total",
		Help:      "Number of submissions, by outcome",
	}, []string{"language", "outcome"})
)

func init() {
	prometheus.MustRegister(tasksTotal, executionSeconds)
	prometheus.MustRegister(dequeueErrors, queueDepth)
	prometheus.MustRegister(submissions)
}

// ObserveTask records one executed task.
func ObserveTask(lang model.Language, status model.Status, elapsed time.Duration) {
	tasksTotal.WithLabelValues(string(lang), string(status)).Inc()
	executionSeconds.WithLabelValues(string(lang), string(status)).Observe(elapsed.Seconds())
}

// DequeueError records a failed pop.
func DequeueError(lang model.Language) {
	dequeueErrors.WithLabelValues(string(lang)).Inc()
}

// SetQueueDepth publishes the sampled queue length.
func SetQueueDepth(lang model.Language, depth int64) {
	queueDepth.WithLabelValues(string(lang)).Set(float64(depth))
}

// Submission records a submit request. Unknown languages are folded into one label.
func Submission(lang model.Language, outcome string) {
	label := string(lang)
	if _, ok := model.ParseLanguage(label); !ok {
		label = "unknown"
	}
	submissions.WithLabelValues(label, outcome).Inc()
}
