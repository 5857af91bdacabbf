// Package metrics holds the Prometheus collectors of the enforcement engine.
// All methods are safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the engine's Prometheus collectors.
type Metrics struct {
	usageEvents    *prometheus.CounterVec
	spendAccrued   prometheus.Counter
	pricingLookups *prometheus.CounterVec
	events         *prometheus.CounterVec

	sweepRuns     *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	monitored     prometheus.Gauge
	exceeded      prometheus.Gauge

	workflowRuns  *prometheus.CounterVec
	workflowSteps *prometheus.CounterVec
	accessCalls   *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		usageEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_usage_events_total",
				Help: "Usage events processed, by result",
			},
			[]string{"result"},
		),
		spendAccrued: f.NewCounter(prometheus.CounterOpts{
			Name: "budgeteer_spend_accrued_dollars_total",
			Help: "Total cost accrued to budget accounts in USD",
		}),
		pricingLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_pricing_lookups_total",
				Help: "Pricing lookups, by the tier that answered",
			},
			[]string{"source"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_budget_events_total",
				Help: "Budget lifecycle events emitted, by type",
			},
			[]string{"type"},
		),
		sweepRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_sweep_runs_total",
				Help: "Periodic sweep executions, by job and result",
			},
			[]string{"job", "result"},
		),
		sweepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "budgeteer_sweep_duration_seconds",
				Help:    "Duration of periodic sweeps",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		monitored: f.NewGauge(prometheus.GaugeOpts{
			Name: "budgeteer_monitored_accounts",
			Help: "Managed accounts seen by the last monitor sweep",
		}),
		exceeded: f.NewGauge(prometheus.GaugeOpts{
			Name: "budgeteer_exceeded_accounts",
			Help: "Accounts at or above 100% of their budget in the last monitor sweep",
		}),
		workflowRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_workflow_runs_total",
				Help: "Workflow runs reaching a state, by kind and state",
			},
			[]string{"kind", "state"},
		),
		workflowSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_workflow_steps_total",
				Help: "Workflow step executions, by kind, step and result",
			},
			[]string{"kind", "step", "result"},
		),
		accessCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budgeteer_access_calls_total",
				Help: "Access controller calls, by operation and result",
			},
			[]string{"op", "result"},
		),
	}
}

// UsageEvent counts a processed usage event.
func (m *Metrics) UsageEvent(result string) {
	if m == nil {
		return
	}
	m.usageEvents.WithLabelValues(result).Inc()
}

// SpendAccrued adds accrued dollars.
func (m *Metrics) SpendAccrued(dollars float64) {
	if m == nil || dollars <= 0 {
		return
	}
	m.spendAccrued.Add(dollars)
}

// PricingLookup counts a pricing resolution by source tier.
func (m *Metrics) PricingLookup(source string) {
	if m == nil {
		return
	}
	m.pricingLookups.WithLabelValues(source).Inc()
}

// Event counts an emitted budget event.
func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// Sweep records one sweep execution.
func (m *Metrics) Sweep(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(job, result).Inc()
	m.sweepDuration.WithLabelValues(job).Observe(d.Seconds())
}

// MonitorGauges sets the account gauges after a monitor sweep.
func (m *Metrics) MonitorGauges(monitored, exceeded int) {
	if m == nil {
		return
	}
	m.monitored.Set(float64(monitored))
	m.exceeded.Set(float64(exceeded))
}

// WorkflowRun counts a run entering state.
func (m *Metrics) WorkflowRun(kind, state string) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(kind, state).Inc()
}

// WorkflowStep counts a step execution.
func (m *Metrics) WorkflowStep(kind, step string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.workflowSteps.WithLabelValues(kind, step, result).Inc()
}

// AccessCall counts an access controller call.
func (m *Metrics) AccessCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.accessCalls.WithLabelValues(op, result).Inc()
}
