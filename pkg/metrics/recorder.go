// Package metrics provides Prometheus recording and querying for plan
// execution outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records plan-execution metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	ObserveStep(stepType, status string)
	ObserveCommand(kind, status string, duration time.Duration)
	ObservePromotion(workspaceID string, promoted bool)
	ObserveRepair(outcome string)
}

// PrometheusRecorder implements Recorder using Prometheus collectors.
type PrometheusRecorder struct {
	stepsTotal      *prometheus.CounterVec
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	promotionsTotal *prometheus.CounterVec
	repairsTotal    *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder registered on the default
// registry. Call at most once per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		stepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_plan_steps_total",
				Help: "Total plan steps executed by type and outcome",
			},
			[]string{"type", "status"},
		),
		commandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_commands_total",
				Help: "Total commands executed by kind and classified status",
			},
			[]string{"kind", "status"},
		),
		commandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workbench_command_duration_seconds",
				Help:    "Duration of executed commands in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		promotionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_promotions_total",
				Help: "Sandbox run promotion decisions",
			},
			[]string{"workspace_id", "outcome"},
		),
		repairsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_repairs_total",
				Help: "Self-repair attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveStep implements Recorder.
func (p *PrometheusRecorder) ObserveStep(stepType, status string) {
	p.stepsTotal.WithLabelValues(stepType, status).Inc()
}

// ObserveCommand implements Recorder.
func (p *PrometheusRecorder) ObserveCommand(kind, status string, duration time.Duration) {
	p.commandsTotal.WithLabelValues(kind, status).Inc()
	p.commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObservePromotion implements Recorder.
func (p *PrometheusRecorder) ObservePromotion(workspaceID string, promoted bool) {
	outcome := "rejected"
	if promoted {
		outcome = "promoted"
	}
	p.promotionsTotal.WithLabelValues(workspaceID, outcome).Inc()
}

// ObserveRepair implements Recorder.
func (p *PrometheusRecorder) ObserveRepair(outcome string) {
	p.repairsTotal.WithLabelValues(outcome).Inc()
}

// NopRecorder discards all observations.
type NopRecorder struct{}

// ObserveStep implements Recorder.
func (NopRecorder) ObserveStep(string, string) {}

// ObserveCommand implements Recorder.
func (NopRecorder) ObserveCommand(string, string, time.Duration) {}

// ObservePromotion implements Recorder.
func (NopRecorder) ObservePromotion(string, bool) {}

// ObserveRepair implements Recorder.
func (NopRecorder) ObserveRepair(string) {}
