package evo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the monitor's prometheus instruments. A nil registerer keeps
// them unregistered, which is what tests and one-off runs want.
type Metrics struct {
	cycles       prometheus.Counter
	evaluation   prometheus.Histogram
	bestFitness  prometheus.Gauge
	mutations    *prometheus.CounterVec
	reproduction *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spikenet",
			Subsystem: "evolution",
			Name:      "cycles_total",
			Help:      "Completed evolution cycles",
		}),
		evaluation: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "spikenet",
			Subsystem: "evolution",
			Name:      "net_evaluation_seconds",
			Help:      "Time to run one net over the selected data rows",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "spikenet",
			Subsystem: "evolution",
			Name:      "best_fitness",
			Help:      "Fitness rating of the best net in the latest cycle (lower is better)",
		}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spikenet",
			Subsystem: "evolution",
			Name:      "mutations_total",
			Help:      "Mutations applied, by operator kind",
		}, []string{"kind"}),
		reproduction: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spikenet",
			Subsystem: "evolution",
			Name:      "offspring_total",
			Help:      "Nets overwritten during reproduction, by operation",
		}, []string{"operation"}),
	}
}
