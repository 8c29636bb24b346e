package metrics

import (
	"github.com/prometheus/client_golang/prometheus"          // Metric types
	"github.com/prometheus/client_golang/prometheus/promauto" // Auto-registered metrics
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CommissionCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_credits_total",
			Help: "Commission ledger rows written, by level",
		},
		[]string{"level"},
	)

	CommissionAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_amount_pkr_total",
			Help: "Commission paid out in PKR, by level",
		},
		[]string{"level"},
	)

	AttributionSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_skips_total",
			Help: "Levels that produced no credit, by reason",
		},
		[]string{"reason"},
	)

	AttributionReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_replays_total",
			Help: "Attribution requests answered from a stored run",
		},
	)

	BalanceDrift = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_balance_drift_users",
			Help: "Users whose cached balance disagreed with the ledger at the last check",
		},
	)
)
