package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the engine's operational counters.
type Metrics struct {
	TurnsStarted      prometheus.Counter
	TurnsCompleted    prometheus.Counter
	GateDrops         *prometheus.CounterVec
	HandlerErrors     *prometheus.CounterVec
	ContinuationDepth prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics. A nil registerer
// keeps the metrics unregistered, which test engines use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "turns_started_total",
			Help:      "Inbound turns accepted by the engine.",
		}),
		TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "turns_completed_total",
			Help:      "Turns that ran to a terminal state.",
		}),
		GateDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "gate_drops_total",
			Help:      "Turns dropped before any handler ran.",
		}, []string{"gate"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flow",
			Name:      "handler_errors_total",
			Help:      "Handler failures by error code.",
		}, []string{"code"}),
		ContinuationDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flow",
			Name:      "continuation_depth",
			Help:      "Handler dispatches per turn.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.TurnsStarted, m.TurnsCompleted, m.GateDrops, m.HandlerErrors, m.ContinuationDepth)
	}
	return m
}
