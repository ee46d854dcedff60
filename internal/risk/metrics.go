package risk

import "github.com/prometheus/client_golang/prometheus"

var (
	scoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudradar",
		Subsystem: "risk",
		Name:      "scores_total",
		Help:      "Total transactions scored by mode and level.",
	}, []string{"mode", "level"})

	riskScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudradar",
		Subsystem: "risk",
		Name:      "score",
		Help:      "Distribution of risk scores.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.45, 0.6, 0.75, 0.9, 1},
	})

	modelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudradar",
		Subsystem: "risk",
		Name:      "model_loaded",
		Help:      "1 when an anomaly model is loaded, 0 when scoring falls back to the heuristic.",
	})
)

func init() {
	prometheus.MustRegister(
		scoresTotal,
		riskScores,
		modelLoaded,
	)
}
