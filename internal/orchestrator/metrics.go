package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the orchestrator's Prometheus surface: the counters the
// turn loop and finalize/fail paths emit, registered once via promauto.
type Metrics struct {
	// RetryAttempted counts retried calls by stage (llm|tool).
	RetryAttempted *prometheus.CounterVec

	// RunCompleted counts terminal runs by status (completed|failed|cancelled|rejected).
	RunCompleted *prometheus.CounterVec

	// TurnDuration measures wall-clock time per turn in seconds.
	TurnDuration *prometheus.HistogramVec

	// RunScore observes the finalize-time score distribution by routing mode.
	RunScore *prometheus.HistogramVec

	// SafetyViolations counts Safety Pipeline blocks by stage
	// (command_inspector|egress_policy|tool_policy).
	SafetyViolations *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics registers every orchestrator metric with the default
// Prometheus registry. The default registry rejects duplicate
// registration, so the shared instance is built once per process no
// matter how many orchestrators are constructed.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = registerMetrics()
	})
	return sharedMetrics
}

func registerMetrics() *Metrics {
	return &Metrics{
		RetryAttempted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_orchestrator_retries_total",
				Help: "Total number of retried calls by stage",
			},
			[]string{"stage"},
		),
		RunCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_orchestrator_runs_total",
				Help: "Total number of runs reaching a terminal status",
			},
			[]string{"status"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoagent_orchestrator_turn_duration_seconds",
				Help:    "Duration of a single turn of the run loop",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider_handle"},
		),
		RunScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoagent_orchestrator_run_score",
				Help:    "Finalize-time execution score by routing mode",
				Buckets: []float64{0, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"routing_mode"},
		),
		SafetyViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoagent_orchestrator_safety_violations_total",
				Help: "Total number of Safety Pipeline blocks by stage",
			},
			[]string{"stage"},
		),
	}
}
