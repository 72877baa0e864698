package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
)

var (
	roundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agisflow_round_total",
			Help: "Total number of training rounds by outcome",
		},
		[]string{"outcome"},
	)

	roundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agisflow_round_duration_seconds",
			Help:    "Round duration from selection to completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	activeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agisflow_clients_active",
			Help: "Number of clients eligible for selection",
		},
	)

	globalAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agisflow_global_accuracy",
			Help: "Average reported accuracy of the last completed round",
		},
	)

	modelVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agisflow_model_version",
			Help: "Current global model version",
		},
	)

	epsilonSpent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agisflow_epsilon_spent",
			Help: "Cumulative differential privacy budget spent",
		},
	)

	// UpdateTotal counts accepted and rejected round contributions.
	UpdateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agisflow_update_total",
			Help: "Total number of client update submissions by result",
		},
		[]string{"result"},
	)
)
