// Package metrics holds the process Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Serving
	ScoreRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_score_requests_total",
			Help: "Scoring requests by outcome",
		},
		[]string{"status"}, // success, unavailable, bad_request, error
	)

	ScoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auditrisk_score_duration_seconds",
			Help:    "Time to score one event",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		},
	)

	AnomaliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auditrisk_anomalies_total",
			Help: "Events scored anomalous",
		},
	)

	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auditrisk_normalized_risk",
			Help:    "Distribution of normalized risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_rule_violations_total",
			Help: "Explanation rule breaches by feature",
		},
		[]string{"feature"},
	)

	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditrisk_model_loaded",
			Help: "1 when a model snapshot is being served",
		},
	)

	// Streaming
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_stream_events_total",
			Help: "Events popped from the input queue by outcome",
		},
		[]string{"status"}, // scored, skipped, failed
	)

	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_sink_writes_total",
			Help: "Score record batches written by sink and outcome",
		},
		[]string{"sink", "status"},
	)

	// Training
	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditrisk_training_runs_total",
			Help: "Training runs by outcome",
		},
		[]string{"status"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditrisk_training_phase_duration_seconds",
			Help:    "Training phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"phase"},
	)

	CorpusSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auditrisk_training_corpus_rows",
			Help: "Rows in the last training corpus by origin",
		},
		[]string{"origin"}, // normal, anomalous, feedback
	)
)
