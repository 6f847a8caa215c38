package risk

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardiorisk",
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Risk decisions by the estimator that produced them.",
	}, []string{"source"})

	fallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardiorisk",
		Subsystem: "risk",
		Name:      "fallbacks_total",
		Help:      "Heuristic fallbacks by remote failure class.",
	}, []string{"class"})

	decisionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cardiorisk",
		Subsystem: "risk",
		Name:      "decision_duration_seconds",
		Help:      "Time to produce a risk decision, including the remote attempt.",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(decisionsTotal, fallbacksTotal, decisionDuration)
}
