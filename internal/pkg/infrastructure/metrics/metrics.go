package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_samples_ingested_total",
			Help: "Total number of vital sign samples ingested",
		},
		[]string{"signal"},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_samples_rejected_total",
			Help: "Total number of samples rejected by validation",
		},
		[]string{"signal"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_anomalies_detected_total",
			Help: "Total number of baseline deviations detected",
		},
		[]string{"signal"},
	)

	RiskEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_risk_evaluations_total",
			Help: "Total number of risk score evaluations",
		},
		[]string{"source"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitoring_evaluation_duration_seconds",
			Help:    "Time spent evaluating a single incoming event",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity", "condition"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_suppressed_total",
			Help: "Total number of alerts suppressed before delivery",
		},
		[]string{"reason"},
	)

	AlertsEscalated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitoring_alerts_escalated_total",
			Help: "Total number of alerts escalated after acknowledgement timeout",
		},
	)

	NotificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_notification_attempts_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitoring_partition_queue_depth",
			Help: "Current depth of the per partition event queues",
		},
		[]string{"partition"},
	)
)
