// Package metrics provides the process-wide Prometheus collector (C15).
// This package is internal and should not be imported by external
// projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/browserpilot/engine/session/events"
)

// Collector exports session-level counters. Its session counters are fed
// by subscribing to the engine's shared event bus (C5) rather than by
// direct instrumentation inside the FSM, so the metrics layer stays
// decoupled from session internals; HTTP metrics come from ObserveHTTP.
type Collector struct {
	stateTransitions *prometheus.CounterVec
	actionsTotal     *prometheus.CounterVec
	llmCallsTotal    *prometheus.CounterVec
	cacheHitRatio    *prometheus.GaugeVec
	threatsDetected  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the collector's metrics under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		logger: logger.With(zap.String("component", "metrics")),

		stateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Total number of session FSM state transitions.",
		}, []string{"from", "to"}),

		actionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_actions_total",
			Help:      "Total number of browser actions carried out.",
		}, []string{"outcome"}),

		llmCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of LLM provider calls.",
		}, []string{"provider", "category"}),

		cacheHitRatio: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hit_ratio",
			Help:      "Current hit ratio for each cache tier.",
		}, []string{"tier"}),

		threatsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_threats_detected_total",
			Help:      "Total number of guardrail findings by category.",
		}, []string{"category"}),

		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled by the boundary adapter.",
		}, []string{"method", "route", "status"}),

		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveHTTP records one completed HTTP request.
func (c *Collector) ObserveHTTP(method, route, status string, seconds float64) {
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// Subscribe attaches the collector to the engine's event bus so every
// lifecycle event updates the relevant counters as it happens.
func (c *Collector) Subscribe(bus *events.Bus) func() {
	ch, unsub := bus.Subscribe()
	go func() {
		for ev := range ch {
			c.handle(ev)
		}
	}()
	return unsub
}

func (c *Collector) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindStateChanged:
		from, _ := ev.Payload["from"].(string)
		to, _ := ev.Payload["to"].(string)
		c.stateTransitions.WithLabelValues(from, to).Inc()
	case events.KindActionResult:
		outcome, _ := ev.Payload["outcome"].(string)
		c.actionsTotal.WithLabelValues(outcome).Inc()
	case events.KindThreatBlocked:
		cats, _ := ev.Payload["categories"].([]string)
		if len(cats) == 0 {
			c.threatsDetected.WithLabelValues("unknown").Inc()
			return
		}
		for _, category := range cats {
			c.threatsDetected.WithLabelValues(category).Inc()
		}
	}
}

// RecordLLMCall tags one provider call with its outcome category.
func (c *Collector) RecordLLMCall(provider, category string) {
	c.llmCallsTotal.WithLabelValues(provider, category).Inc()
}

// SetCacheHitRatio records the current hit ratio for a cache tier.
func (c *Collector) SetCacheHitRatio(tier string, ratio float64) {
	c.cacheHitRatio.WithLabelValues(tier).Set(ratio)
}
