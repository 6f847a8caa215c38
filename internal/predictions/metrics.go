package predictions

import "github.com/prometheus/client_golang/prometheus"

var savesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cardiorisk",
	Subsystem: "predictions",
	Name:      "saves_total",
	Help:      "Prediction record saves by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(savesTotal)
}
