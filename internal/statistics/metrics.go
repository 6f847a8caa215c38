package statistics

import "github.com/prometheus/client_golang/prometheus"

var cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cardiorisk",
	Subsystem: "statistics",
	Name:      "cache_requests_total",
	Help:      "Statistics cache lookups by result (hit or miss).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(cacheRequests)
}
