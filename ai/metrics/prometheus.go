// Package metrics exports gateway metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the registry and the instrument families used across the
// pipeline: per-intent turn counters, tool latency, LLM usage, tier cache
// hits, webhook outcomes.
type Exporter struct {
	registry *prometheus.Registry

	turnLatency *prometheus.HistogramVec
	turns       *prometheus.CounterVec

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	toolErrors  *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec

	webhooks       *prometheus.CounterVec
	pendingActions prometheus.Gauge
}

// Config configures the exporter.
type Config struct {
	// Registry to use; a fresh one is created when nil.
	Registry *prometheus.Registry

	// Buckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates and registers all instrument families.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "porter",
			Subsystem: "gateway",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"intent", "lane"},
	)

	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "gateway",
			Name:      "turns_total",
			Help:      "Total turns processed",
		},
		[]string{"intent", "lane", "channel", "status"},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Total direct tool calls",
		},
		[]string{"tool", "status"},
	)

	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "porter",
			Subsystem: "tools",
			Name:      "latency_seconds",
			Help:      "Tool call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool"},
	)

	e.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "tools",
			Name:      "errors_total",
			Help:      "Total tool errors",
		},
		[]string{"tool", "error_type"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "store",
			Name:      "cache_hits_total",
			Help:      "Context reads answered per tier",
		},
		[]string{"tier"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "store",
			Name:      "cache_misses_total",
			Help:      "Context read misses per tier",
		},
		[]string{"tier"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "porter",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "role"},
	)

	e.webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "porter",
			Subsystem: "approval",
			Name:      "webhooks_total",
			Help:      "Outbound approval webhook deliveries",
		},
		[]string{"intent", "status"},
	)

	e.pendingActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "porter",
			Subsystem: "approval",
			Name:      "pending_actions",
			Help:      "Pending actions currently staged",
		},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turns,
		e.toolCalls,
		e.toolLatency,
		e.toolErrors,
		e.cacheHits,
		e.cacheMisses,
		e.llmTokens,
		e.llmLatency,
		e.webhooks,
		e.pendingActions,
	)
	return e
}

// RecordTurn records one processed turn.
func (e *Exporter) RecordTurn(intent, lane, channel string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.turns.WithLabelValues(intent, lane, channel, status).Inc()
	e.turnLatency.WithLabelValues(intent, lane).Observe(latency.Seconds())
}

// RecordToolCall records one direct tool dispatch.
func (e *Exporter) RecordToolCall(tool string, latency time.Duration, success bool, errorType string) {
	status := "success"
	if !success {
		status = "error"
		if errorType != "" {
			e.toolErrors.WithLabelValues(tool, errorType).Inc()
		}
	}
	e.toolCalls.WithLabelValues(tool, status).Inc()
	e.toolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordCacheHit records a context read answered by the given tier.
func (e *Exporter) RecordCacheHit(tier string) {
	e.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a tier miss during a context read.
func (e *Exporter) RecordCacheMiss(tier string) {
	e.cacheMisses.WithLabelValues(tier).Inc()
}

// RecordLLMUsage records token consumption and latency for one LLM call.
func (e *Exporter) RecordLLMUsage(model, role string, promptTokens, completionTokens int, latency time.Duration) {
	e.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	e.llmLatency.WithLabelValues(model, role).Observe(latency.Seconds())
}

// RecordWebhook records one outbound approval delivery.
func (e *Exporter) RecordWebhook(intent string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.webhooks.WithLabelValues(intent, status).Inc()
}

// SetPendingActions sets the staged pending-action gauge.
func (e *Exporter) SetPendingActions(count int) {
	e.pendingActions.Set(float64(count))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
