// Package metrics exposes the Prometheus instruments tracking token usage,
// step latency, and scheduler activity across the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters and histograms the orchestrator records to.
type Metrics struct {
	TokensTotal       *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	AgentIterations   *prometheus.HistogramVec
	StepRetries       *prometheus.CounterVec
	SchedulerFires    prometheus.Counter
	ApprovalsPending  prometheus.Gauge
	ApprovalsResolved *prometheus.CounterVec
}

// New registers and returns the orchestrator's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_llm_tokens_total",
			Help: "Total LLM tokens consumed, by direction (input/output).",
		}, []string{"direction"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_step_duration_seconds",
			Help:    "Wall-clock duration of a workflow step execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		AgentIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_agent_iterations",
			Help:    "Number of LLM turns an agent execution took to converge.",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		}, []string{"agent_id"}),
		StepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_step_retries_total",
			Help: "Number of step retry attempts, by step kind.",
		}, []string{"kind"}),
		SchedulerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_scheduler_fires_total",
			Help: "Number of scheduled workflow executions submitted.",
		}),
		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_approvals_pending",
			Help: "Current count of pending approval requests.",
		}),
		ApprovalsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_approvals_resolved_total",
			Help: "Resolved approval requests, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.TokensTotal,
		m.StepDuration,
		m.AgentIterations,
		m.StepRetries,
		m.SchedulerFires,
		m.ApprovalsPending,
		m.ApprovalsResolved,
	)
	return m
}

// RecordUsage adds input/output token counts to the running totals.
func (m *Metrics) RecordUsage(inputTokens, outputTokens int64) {
	m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// ObserveStepDuration records how long a step of the given kind took.
func (m *Metrics) ObserveStepDuration(kind string, d time.Duration) {
	m.StepDuration.WithLabelValues(kind).Observe(d.Seconds())
}
