package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for the intake dialogue.
type IntakeMetrics struct {
	transitionsTotal *prometheus.CounterVec
	repromptsTotal   *prometheus.CounterVec
	extractionsTotal *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emma",
			Subsystem: "intake",
			Name:      "phase_transitions_total",
			Help:      "Total phase transitions of the intake dialogue",
		}, []string{"from", "to"}),
		repromptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emma",
			Subsystem: "intake",
			Name:      "reprompts_total",
			Help:      "Total turns that repeated the current phase",
		}, []string{"phase", "reason"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emma",
			Subsystem: "intake",
			Name:      "extractions_total",
			Help:      "Structured payloads read from model output by kind and source",
		}, []string{"kind", "source"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "emma",
			Subsystem: "intake",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of one chat turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.repromptsTotal, m.extractionsTotal, m.turnLatency)
	return m
}

func (m *IntakeMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *IntakeMetrics) ObserveReprompt(phase, reason string) {
	if m == nil {
		return
	}
	m.repromptsTotal.WithLabelValues(phase, reason).Inc()
}

// ObserveExtraction counts a payload of kind ("contact", "custom") that came
// from source ("tool", "marker").
func (m *IntakeMetrics) ObserveExtraction(kind, source string) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(kind, source).Inc()
}

func (m *IntakeMetrics) ObserveTurnLatency(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(phase).Observe(seconds)
}
