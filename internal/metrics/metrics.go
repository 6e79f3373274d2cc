package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Risk service metrics for production monitoring
var (
	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_evaluations_total",
			Help: "Total number of risk evaluations",
		},
		[]string{"evaluator", "action"}, // evaluator: content/security, action: pass/flag/block
	)

	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_evaluation_duration_seconds",
			Help:    "End-to-end evaluation duration in seconds, including persistence and dispatch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"evaluator"},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_findings_total",
			Help: "Total number of findings produced by the heuristics",
		},
		[]string{"kind", "severity"},
	)

	RiskScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_risk_score",
			Help:    "Distribution of aggregated risk scores",
			Buckets: []float64{0, 1, 3, 5, 8, 10, 15, 20, 30},
		},
		[]string{"evaluator"},
	)

	// Alert metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_total",
			Help: "Total number of alerts persisted",
		},
		[]string{"source", "result"}, // result: created/deduplicated
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_total",
			Help: "Total number of audience notifications attempted",
		},
		[]string{"audience", "status"}, // audience: role/user, status: delivered/failed
	)

	ModerationOverridesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_moderation_overrides_total",
			Help: "Total number of manual moderation actions",
		},
		[]string{"action"},
	)

	// Store metrics
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_store_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"operation"},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_store_errors_total",
			Help: "Total number of failed database operations",
		},
		[]string{"operation"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cache_lookups_total",
			Help: "Total number of recipient cache lookups",
		},
		[]string{"result"}, // hit/miss
	)
)
