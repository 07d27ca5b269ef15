// Package metrics exposes Prometheus counters for the advising agent.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jumbo"

// Turn outcomes.
const (
	OutcomeAnswer        = "answer"
	OutcomeClarification = "clarification"
	OutcomeResumed       = "resumed"
	OutcomeFallback      = "fallback"
	OutcomeIgnored       = "ignored"
)

// Metrics holds the collectors and the registry they are registered in.
type Metrics struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	toolCalls       *prometheus.CounterVec
	generationCalls *prometheus.CounterVec
	retention       *prometheus.CounterVec
	knowledgeWrites *prometheus.CounterVec
}

// New creates collectors in a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "User turns handled, by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a user turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions, by tool and result.",
		}, []string{"tool", "result"}),
		generationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_calls_total",
			Help:      "Generation service calls, by purpose and result.",
		}, []string{"purpose", "result"}),
		retention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_decisions_total",
			Help:      "Retention gate decisions: store, discard or violation.",
		}, []string{"decision"}),
		knowledgeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_writes_total",
			Help:      "Knowledge store writes, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.turns, m.turnDuration, m.toolCalls, m.generationCalls, m.retention, m.knowledgeWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Turn records a completed turn.
func (m *Metrics) Turn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	if outcome != OutcomeIgnored {
		m.turnDuration.Observe(d.Seconds())
	}
}

// ToolCall records one tool execution.
func (m *Metrics) ToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, result(err)).Inc()
}

// Generation records one generation call. Purpose is "agent", "resume",
// "retention" or "enhance".
func (m *Metrics) Generation(purpose string, err error) {
	if m == nil {
		return
	}
	m.generationCalls.WithLabelValues(purpose, result(err)).Inc()
}

// Retention records a retention gate decision.
func (m *Metrics) Retention(store bool, err error) {
	if m == nil {
		return
	}
	decision := "discard"
	switch {
	case err != nil:
		decision = "violation"
	case store:
		decision = "store"
	}
	m.retention.WithLabelValues(decision).Inc()
}

// KnowledgeWrite records a knowledge store write.
func (m *Metrics) KnowledgeWrite(err error) {
	if m == nil {
		return
	}
	m.knowledgeWrites.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
