// Package metrics provides a Prometheus-backed ObservabilitySink for the
// workflow engine.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/azure-samples/workflowcore/internal/workflow"
)

// Collector implements workflow.ObservabilitySink on top of Prometheus
// CounterVec/HistogramVec/Gauge metrics: workflow_total, step_duration_seconds,
// and an active-workflows gauge.
type Collector struct {
	workflowTotal    *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	stepTotal        *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	activeWorkflows  prometheus.Gauge

	active atomic.Int64
}

// NewCollector registers a fresh set of metrics under namespace (e.g.
// "workflowcore") against the default Prometheus registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		workflowTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_total",
			Help:      "Total number of workflow invocations by terminal status.",
		}, []string{"workflow_id", "status"}),

		workflowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow invocation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"workflow_id", "status"}),

		stepTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempt_total",
			Help:      "Total number of step attempts by terminal status.",
		}, []string{"step", "status"}),

		stepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step attempt duration in seconds, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step", "status"}),

		activeWorkflows: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workflows",
			Help:      "Number of workflow invocations currently in flight.",
		}),
	}
	return c
}

// WorkflowStarted implements workflow.ObservabilitySink.
func (c *Collector) WorkflowStarted(workflowID, correlationID string) {
	c.active.Add(1)
	c.activeWorkflows.Set(float64(c.active.Load()))
}

// WorkflowFinished implements workflow.ObservabilitySink.
func (c *Collector) WorkflowFinished(workflowID, correlationID string, status workflow.ResultStatus, durationNs int64) {
	c.active.Add(-1)
	c.activeWorkflows.Set(float64(c.active.Load()))
	c.workflowTotal.WithLabelValues(workflowID, string(status)).Inc()
	c.workflowDuration.WithLabelValues(workflowID, string(status)).Observe(time.Duration(durationNs).Seconds())
}

// StepAttempt implements workflow.ObservabilitySink.
func (c *Collector) StepAttempt(workflowID, stepName string, attempt int, status workflow.TraceStatus, durationNs int64) {
	c.stepTotal.WithLabelValues(stepName, string(status)).Inc()
	c.stepDuration.WithLabelValues(stepName, string(status)).Observe(time.Duration(durationNs).Seconds())
}
