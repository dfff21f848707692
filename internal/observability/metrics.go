// Package observability collects Prometheus metrics for the gateway:
// relay pointer traffic, tool executions, LLM requests, and catalog
// search latency.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the application metric set, registered once at startup with
// the default registry and exposed via the /metrics endpoint.
type Metrics struct {
	// RelayPuts counts payloads parked in the pointer store.
	RelayPuts prometheus.Counter

	// RelayTakes counts pointer resolutions.
	// Labels: status (hit|miss)
	RelayTakes *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// LLMRequests counts model streaming requests.
	// Labels: provider, model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// SearchDuration measures catalog search latency in seconds.
	// Labels: kind (text|image|hybrid)
	SearchDuration *prometheus.HistogramVec

	// ActiveTurns is a gauge of turns currently streaming.
	ActiveTurns prometheus.Gauge
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return newMetricsWith(nil)
}

// NewMetricsWithRegistry registers against a private registry; used by
// tests to avoid duplicate registration panics.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetricsWith(reg)
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		RelayPuts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopchat_relay_puts_total",
			Help: "Total attachments parked in the pointer store",
		}),
		RelayTakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopchat_relay_takes_total",
			Help: "Total pointer resolutions by status",
		}, []string{"status"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopchat_tool_executions_total",
			Help: "Total tool invocations by tool and status",
		}, []string{"tool", "status"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopchat_llm_requests_total",
			Help: "Total LLM streaming requests by provider, model and status",
		}, []string{"provider", "model", "status"}),
		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopchat_search_duration_seconds",
			Help:    "Catalog search latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shopchat_active_turns",
			Help: "Turns currently streaming to a client",
		}),
	}
}
