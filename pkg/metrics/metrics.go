// Package metrics exposes Prometheus counters for the alert pipeline. The
// Collector subscribes to the hook bus, so instrumentation rides the same
// event stream as the audit trail.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
)

// Collector implements hooks.Subscriber and counts pipeline activity.
type Collector struct {
	registry *prometheus.Registry

	sessionsTotal   *prometheus.CounterVec
	stagesTotal     *prometheus.CounterVec
	llmInteractions *prometheus.CounterVec
	mcpInteractions *prometheus.CounterVec
	llmDuration     prometheus.Histogram
	mcpDuration     prometheus.Histogram
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_sessions_total",
			Help: "Alert sessions by terminal status.",
		}, []string{"status"}),
		stagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_stages_total",
			Help: "Stage executions by terminal result.",
		}, []string{"result"}),
		llmInteractions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_llm_interactions_total",
			Help: "LLM round-trips by outcome.",
		}, []string{"outcome"}),
		mcpInteractions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_mcp_interactions_total",
			Help: "MCP operations by server and outcome.",
		}, []string{"server", "outcome"}),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tarsy_llm_duration_seconds",
			Help:    "LLM round-trip duration.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		mcpDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tarsy_mcp_duration_seconds",
			Help:    "MCP call duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// Name identifies the subscriber in bus logs.
func (c *Collector) Name() string { return "metrics" }

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// OnLLMInteraction implements hooks.Subscriber.
func (c *Collector) OnLLMInteraction(event hooks.LLMInteractionEvent) error {
	c.llmInteractions.WithLabelValues(outcome(event.Error)).Inc()
	c.llmDuration.Observe(float64(event.DurationMs) / 1000)
	return nil
}

// OnMCPInteraction implements hooks.Subscriber.
func (c *Collector) OnMCPInteraction(event hooks.MCPInteractionEvent) error {
	c.mcpInteractions.WithLabelValues(event.ServerID, outcome(event.Error)).Inc()
	if event.InteractionType == "tool_call" {
		c.mcpDuration.Observe(float64(event.DurationMs) / 1000)
	}
	return nil
}

// OnSessionLifecycle implements hooks.Subscriber.
func (c *Collector) OnSessionLifecycle(event hooks.SessionLifecycleEvent) error {
	switch event.Kind {
	case hooks.LifecycleSessionCompleted:
		c.sessionsTotal.WithLabelValues(event.Status).Inc()
	case hooks.LifecycleStageCompleted:
		c.stagesTotal.WithLabelValues(stageResult(event.Detail)).Inc()
	}
	return nil
}

// stageResult extracts the trailing "success"/"error" from the
// "stage-name: result" detail written by the orchestrator.
func stageResult(detail string) string {
	if idx := strings.LastIndex(detail, ": "); idx >= 0 {
		return detail[idx+2:]
	}
	return "unknown"
}

func outcome(errText string) string {
	if errText != "" {
		return "error"
	}
	return "success"
}
