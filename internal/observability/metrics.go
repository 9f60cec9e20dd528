// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Swap lifecycle
	SwapsCreated   prometheus.Counter
	SwapsCompleted prometheus.Counter
	SwapsFailed    prometheus.Counter
	StepsConfirmed prometheus.Counter
	StepsFailed    prometheus.Counter

	// Triggers
	TriggerFires *prometheus.CounterVec

	// Queue
	QueueRetries     *prometheus.CounterVec
	QueueDeadLetters *prometheus.CounterVec

	// Monitor
	MonitorTimeouts *prometheus.CounterVec

	// Platform
	WSClients     prometheus.Gauge
	SwapsArchived prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swapd"
	}

	return &Metrics{
		SwapsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "created_total",
			Help:      "Total number of swaps created",
		}),
		SwapsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "completed_total",
			Help:      "Total number of swaps that reached COMPLETED",
		}),
		SwapsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "failed_total",
			Help:      "Total number of swaps that reached FAILED",
		}),
		StepsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "steps",
			Name:      "confirmed_total",
			Help:      "Total number of swap steps confirmed on chain",
		}),
		StepsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "steps",
			Name:      "failed_total",
			Help:      "Total number of swap steps that failed",
		}),
		TriggerFires: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triggers",
			Name:      "fired_total",
			Help:      "Total number of trigger fires by kind",
		}, []string{"kind"}),
		QueueRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retries_total",
			Help:      "Total number of job retries by stream",
		}, []string{"stream"}),
		QueueDeadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dead_letters_total",
			Help:      "Total number of jobs dead-lettered after exhausting attempts",
		}, []string{"stream"}),
		MonitorTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "timeouts_total",
			Help:      "Total number of confirmation waits that timed out by chain",
		}, []string{"chain"}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		}),
		SwapsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "swaps_total",
			Help:      "Total number of terminal swaps exported to cold storage",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSwapCreated increments the swaps created counter.
func RecordSwapCreated() {
	DefaultMetrics.SwapsCreated.Inc()
}

// RecordSwapCompleted increments the swaps completed counter.
func RecordSwapCompleted() {
	DefaultMetrics.SwapsCompleted.Inc()
}

// RecordSwapFailed increments the swaps failed counter.
func RecordSwapFailed() {
	DefaultMetrics.SwapsFailed.Inc()
}

// RecordStepConfirmed increments the steps confirmed counter.
func RecordStepConfirmed() {
	DefaultMetrics.StepsConfirmed.Inc()
}

// RecordStepFailed increments the steps failed counter.
func RecordStepFailed() {
	DefaultMetrics.StepsFailed.Inc()
}

// RecordTriggerFired increments the trigger fire counter for the given kind.
func RecordTriggerFired(kind string) {
	DefaultMetrics.TriggerFires.WithLabelValues(kind).Inc()
}

// RecordQueueRetry increments the retry counter for the given stream.
func RecordQueueRetry(stream string) {
	DefaultMetrics.QueueRetries.WithLabelValues(stream).Inc()
}

// RecordQueueDeadLetter increments the dead-letter counter for the given stream.
func RecordQueueDeadLetter(stream string) {
	DefaultMetrics.QueueDeadLetters.WithLabelValues(stream).Inc()
}

// RecordMonitorTimeout increments the confirmation timeout counter for the
// given chain.
func RecordMonitorTimeout(chain string) {
	DefaultMetrics.MonitorTimeouts.WithLabelValues(chain).Inc()
}

// SetWSClients updates the connected WebSocket client gauge.
func SetWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}

// RecordSwapsArchived adds to the archived swap counter.
func RecordSwapsArchived(n int) {
	DefaultMetrics.SwapsArchived.Add(float64(n))
}
