package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the access engine.
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	AnomalyChecksTotal  *prometheus.CounterVec
	AnomalyScore        prometheus.Histogram
	RiskScore           prometheus.Histogram
	LateralAlertsTotal  *prometheus.CounterVec
	ReverificationsTotal *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EventsIngestedTotal *prometheus.CounterVec
}

// New creates and registers all instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerotrust_decisions_total",
				Help: "Access decisions issued, labeled by outcome",
			},
			[]string{"decision"},
		),

		AnomalyChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerotrust_anomaly_checks_total",
				Help: "Behavioral anomaly analyses performed",
			},
			[]string{"result"}, // normal, anomalous, insufficient_baseline
		),

		AnomalyScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zerotrust_anomaly_score",
				Help:    "Distribution of behavioral anomaly scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		RiskScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zerotrust_risk_score",
				Help:    "Distribution of composite risk scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		LateralAlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerotrust_lateral_alerts_total",
				Help: "Lateral movement alerts raised, labeled by type",
			},
			[]string{"type"},
		),

		ReverificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerotrust_reverifications_total",
				Help: "Continuous verification re-evaluations",
			},
			[]string{"escalated"}, // true, false
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zerotrust_http_request_duration_seconds",
				Help:    "HTTP request latency by method, path, and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		EventsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zerotrust_events_ingested_total",
				Help: "Access events ingested, labeled by transport",
			},
			[]string{"transport"}, // http, redis, kafka, demo
		),
	}
}
