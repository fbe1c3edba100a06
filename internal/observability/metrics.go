package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	taskRunTotal    *prometheus.CounterVec
	taskRunDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	queueDrainTotal     prometheus.Counter
	queueTaskTotal      *prometheus.CounterVec
	queueRecoveredTotal prometheus.Counter

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ucode_provider_turn_total",
					Help: "Provider turns by transport and status.",
				},
				[]string{"transport", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ucode_provider_turn_duration_seconds",
					Help:    "Provider turn duration in seconds by transport.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"transport"},
			),
			taskRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ucode_task_run_total",
					Help: "Task runs through the conversation loop by provider and status.",
				},
				[]string{"provider", "status"},
			),
			taskRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ucode_task_run_duration_seconds",
					Help:    "Task run duration in seconds by provider.",
					Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800},
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ucode_tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ucode_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			queueDrainTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "ucode_queue_drain_total",
					Help: "Pending-file drains that claimed a batch.",
				},
			),
			queueTaskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ucode_queue_task_total",
					Help: "Queued tasks by outcome (handled, requeued).",
				},
				[]string{"status"},
			),
			queueRecoveredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "ucode_queue_recovered_markers_total",
					Help: "Stale processing markers folded back into the pending file.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ucode_session_load_duration_seconds",
					Help:    "Session snapshot load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ucode_session_save_duration_seconds",
					Help:    "Session snapshot save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.taskRunTotal,
			m.taskRunDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.queueDrainTotal,
			m.queueTaskTotal,
			m.queueRecoveredTotal,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordTurn(transport string, duration time.Duration, success bool) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(transport, statusLabel(success)).Inc()
	m.turnDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordTaskRun records a finished task run. status is one of success,
// error, cancelled.
func RecordTaskRun(provider string, duration time.Duration, status string) {
	m := getMetrics()
	m.taskRunTotal.WithLabelValues(provider, status).Inc()
	m.taskRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordQueueDrain() {
	getMetrics().queueDrainTotal.Inc()
}

func RecordQueueTask(handled bool) {
	status := "requeued"
	if handled {
		status = "handled"
	}
	getMetrics().queueTaskTotal.WithLabelValues(status).Inc()
}

func RecordQueueRecovered(markers int) {
	getMetrics().queueRecoveredTotal.Add(float64(markers))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}
