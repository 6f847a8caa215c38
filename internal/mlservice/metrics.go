package mlservice

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardiorisk",
		Subsystem: "ml",
		Name:      "requests_total",
		Help:      "Remote model prediction calls by outcome (success or failure class).",
	}, []string{"outcome"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cardiorisk",
		Subsystem: "ml",
		Name:      "request_duration_seconds",
		Help:      "Remote model prediction latency by outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}
