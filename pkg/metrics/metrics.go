// Package metrics provides engine metrics collection on a private Prometheus registry.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "custodyflow"

// Collector provides engine metrics collection.
type Collector struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
	workflowOutcomes *prometheus.CounterVec
	actionOutcomes   *prometheus.CounterVec

	scheduleFires  *prometheus.CounterVec
	scheduleMissed *prometheus.CounterVec

	approvalTransitions *prometheus.CounterVec
	approvalsPending    prometheus.Gauge

	registryWorkflows *prometheus.GaugeVec
	registryRejected  prometheus.Counter
	registryReloads   *prometheus.CounterVec
}

// NewCollector creates a collector; an empty namespace defaults to "custodyflow".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatches by trigger type and terminal state",
		},
		[]string{"trigger_type", "state"},
	)

	c.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent in one dispatch, lease wait included",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"trigger_type"},
	)

	c.workflowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "outcomes_total",
			Help:      "Workflow outcomes by status",
		},
		[]string{"workflow_id", "status"},
	)

	c.actionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "action",
			Name:      "outcomes_total",
			Help:      "Action outcomes by action type and status",
		},
		[]string{"type", "status"},
	)

	c.scheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "SCHEDULE trigger events emitted",
		},
		[]string{"workflow_id"},
	)

	c.scheduleMissed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "missed_fires_total",
			Help:      "Cron occurrences skipped without firing (downtime or late ticks)",
		},
		[]string{"workflow_id"},
	)

	c.approvalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "transitions_total",
			Help:      "Approval requests entering a state",
		},
		[]string{"state"},
	)

	c.approvalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "pending",
			Help:      "Approval requests awaiting resolution",
		},
	)

	c.registryWorkflows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "workflows",
			Help:      "Workflows in the current registry snapshot",
		},
		[]string{"state"},
	)

	c.registryRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "rejected_total",
			Help:      "Workflows rejected for configuration errors",
		},
	)

	c.registryReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reloads_total",
			Help:      "Registry reloads by result",
		},
		[]string{"result"},
	)

	c.registry.MustRegister(
		c.dispatchTotal,
		c.dispatchLatency,
		c.workflowOutcomes,
		c.actionOutcomes,
		c.scheduleFires,
		c.scheduleMissed,
		c.approvalTransitions,
		c.approvalsPending,
		c.registryWorkflows,
		c.registryRejected,
		c.registryReloads,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordDispatch records one finished dispatch.
func (c *Collector) RecordDispatch(triggerType, state string, duration time.Duration) {
	if c == nil {
		return
	}

	c.dispatchTotal.WithLabelValues(triggerType, state).Inc()
	c.dispatchLatency.WithLabelValues(triggerType).Observe(duration.Seconds())
}

// RecordWorkflowOutcome records the terminal status of one workflow run.
func (c *Collector) RecordWorkflowOutcome(workflowID, status string) {
	if c == nil {
		return
	}

	c.workflowOutcomes.WithLabelValues(workflowID, status).Inc()
}

// RecordActionOutcome records the status of one action.
func (c *Collector) RecordActionOutcome(actionType, status string) {
	if c == nil {
		return
	}

	c.actionOutcomes.WithLabelValues(actionType, status).Inc()
}

// RecordScheduleFire records one emitted SCHEDULE event.
func (c *Collector) RecordScheduleFire(workflowID string) {
	if c == nil {
		return
	}

	c.scheduleFires.WithLabelValues(workflowID).Inc()
}

// RecordScheduleMissed records occurrences that were skipped.
func (c *Collector) RecordScheduleMissed(workflowID string, count int) {
	if c == nil || count <= 0 {
		return
	}

	c.scheduleMissed.WithLabelValues(workflowID).Add(float64(count))
}

// RecordApprovalTransition records an approval request entering state.
func (c *Collector) RecordApprovalTransition(state string) {
	if c == nil {
		return
	}

	c.approvalTransitions.WithLabelValues(state).Inc()
}

// SetApprovalsPending sets the number of pending approval requests.
func (c *Collector) SetApprovalsPending(count int) {
	if c == nil {
		return
	}

	c.approvalsPending.Set(float64(count))
}

// RecordRegistryLoad records the outcome of a registry load.
func (c *Collector) RecordRegistryLoad(active, inactive, rejected int) {
	if c == nil {
		return
	}

	c.registryWorkflows.WithLabelValues("active").Set(float64(active))
	c.registryWorkflows.WithLabelValues("inactive").Set(float64(inactive))
	c.registryRejected.Add(float64(rejected))
}

// RecordRegistryReload records a reload attempt.
func (c *Collector) RecordRegistryReload(err error) {
	if c == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	c.registryReloads.WithLabelValues(result).Inc()
}
