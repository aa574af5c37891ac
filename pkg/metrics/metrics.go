package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|unverified).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgate_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusgate_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionCacheLookups counts session cache lookups by outcome (hit|miss|error).
	SessionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgate_session_cache_lookups_total",
			Help: "Total number of session cache lookups",
		},
		[]string{"outcome"},
	)

	// RateLimitDrops counts requests denied by the rate limiter, by action.
	RateLimitDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgate_rate_limit_drops_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"action"},
	)

	// CSRFRejections counts state-changing requests rejected by the CSRF guard.
	CSRFRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campusgate_csrf_rejections_total",
			Help: "Total number of requests rejected by the CSRF guard",
		},
	)

	// TokensIssued counts issued single-use tokens by kind (reset|verification).
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusgate_tokens_issued_total",
			Help: "Total number of password reset and verification tokens issued",
		},
		[]string{"kind"},
	)

	// RequestsInFlight gauges requests currently being served.
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campusgate_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusgate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
