// Package metrics экспортирует счётчики пайплайна редактирования в prometheus.
// Все методы безопасны для nil-получателя: CLI работает без реестра.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	candidates       *prometheus.CounterVec
	sanitizeFailures *prometheus.CounterVec
	locatorResults   *prometheus.CounterVec
	applied          *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	llmLatency       prometheus.Histogram
	supervisorState  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "candidates_total",
			Help:      "Redaction candidates produced, by source and category",
		}, []string{"source", "category"}),
		sanitizeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "sanitize_failures_total",
			Help:      "Model replies that could not be recovered into candidates",
		}, []string{"reason"}),
		locatorResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "locator_results_total",
			Help:      "Text locator outcomes (exact, fuzzy, miss)",
		}, []string{"result"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "redactions_applied_total",
			Help:      "Redaction directives applied, by mode and action",
		}, []string{"mode", "action"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "directives_skipped_total",
			Help:      "Redaction directives skipped, by mode and reason",
		}, []string{"mode", "reason"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "llm_request_seconds",
			Help:      "Latency of chat requests to the local inference service",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}),
		supervisorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "supervisor_state",
			Help:      "Inference service state (0 not started, 1 starting, 2 running, 3 stopping, 4 stopped)",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.candidates, m.sanitizeFailures, m.locatorResults, m.applied, m.skipped, m.llmLatency, m.supervisorState)
	return m
}

func (m *Metrics) ObserveCandidate(source, category string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(source, category).Inc()
}

func (m *Metrics) ObserveSanitizeFailure(reason string) {
	if m == nil {
		return
	}
	m.sanitizeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveLocator(result string) {
	if m == nil {
		return
	}
	m.locatorResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveApplied(mode, action string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(mode, action).Inc()
}

func (m *Metrics) ObserveSkipped(mode, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(mode, reason).Inc()
}

func (m *Metrics) ObserveLLMLatency(seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(seconds)
}

func (m *Metrics) SetSupervisorState(state int) {
	if m == nil {
		return
	}
	m.supervisorState.Set(float64(state))
}
