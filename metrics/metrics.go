// Package metrics exposes Prometheus instrumentation for the orchestration
// core. The Collector owns its own registry so embedding applications can
// mount the handler without polluting the global default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the routing and workflow metrics.
type Collector struct {
	registry *prometheus.Registry

	messagesTotal  *prometheus.CounterVec
	messageLatency prometheus.Histogram
	cacheHits      prometheus.Counter

	queueDepth      prometheus.Gauge
	activeAgents    prometheus.Gauge
	activeWorkflows prometheus.Gauge

	workflowsTotal *prometheus.CounterVec
}

// NewCollector builds and registers all collectors on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgrid_messages_total",
			Help: "Routed messages by terminal result.",
		}, []string{"result"}),

		messageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgrid_message_latency_seconds",
			Help:    "Handler latency for dispatched messages.",
			Buckets: prometheus.DefBuckets,
		}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentgrid_cache_hits_total",
			Help: "Idempotent responses served from the router cache.",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentgrid_queue_depth",
			Help: "Messages waiting in the routing queue.",
		}),

		activeAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentgrid_agents_active",
			Help: "Registered agents currently in the active state.",
		}),

		activeWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentgrid_workflows_active",
			Help: "Workflows currently running.",
		}),

		workflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgrid_workflows_total",
			Help: "Completed workflows by terminal status.",
		}, []string{"status"}),
	}

	c.registry.MustRegister(
		c.messagesTotal,
		c.messageLatency,
		c.cacheHits,
		c.queueDepth,
		c.activeAgents,
		c.activeWorkflows,
		c.workflowsTotal,
	)

	return c
}

// RecordDispatch observes one settled message dispatch.
func (c *Collector) RecordDispatch(seconds float64, success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	c.messagesTotal.WithLabelValues(result).Inc()
	c.messageLatency.Observe(seconds)
}

// RecordCacheHit counts a response served from the idempotency cache.
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// SetQueueDepth publishes the current routing queue depth.
func (c *Collector) SetQueueDepth(n int) { c.queueDepth.Set(float64(n)) }

// SetActiveAgents publishes the current active agent count.
func (c *Collector) SetActiveAgents(n int) { c.activeAgents.Set(float64(n)) }

// WorkflowStarted marks a workflow transition into the running state.
func (c *Collector) WorkflowStarted() { c.activeWorkflows.Inc() }

// WorkflowFinished marks a workflow reaching a terminal status.
func (c *Collector) WorkflowFinished(status string) {
	c.activeWorkflows.Dec()
	c.workflowsTotal.WithLabelValues(status).Inc()
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for embedding applications that
// register their own collectors alongside the core ones.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
