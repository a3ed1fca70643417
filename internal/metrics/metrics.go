// Package metrics holds the Prometheus collectors for the passkey service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "passkey"

	LabelOperation = "operation"
	LabelOutcome   = "outcome"
	LabelSweep     = "sweep"
	LabelRule      = "rule"
	LabelMethod    = "method"
	LabelRoute     = "route"
	LabelStatus    = "status_code"

	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"

	OpChallenge    = "challenge"
	OpRegister     = "register"
	OpAuthenticate = "authenticate"
	OpRevoke       = "revoke"
	OpList         = "list"

	SweepInactiveCredentials = "inactive_credentials"
	SweepExpiredChallenges   = "expired_challenges"
	SweepRateLimits          = "rate_limits"
	SweepRefreshTokens       = "refresh_tokens"
)

var (
	// CeremoniesTotal counts service operations. Outcome is "success" or
	// the error kind returned to the caller.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Passkey operations by type and outcome",
		},
		[]string{LabelOperation, LabelOutcome},
	)

	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Maintenance sweep runs by sweep and outcome",
		},
		[]string{LabelSweep, LabelOutcome},
	)

	SweepRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "maintenance",
			Name:      "rows_affected_total",
			Help:      "Rows revoked or deleted by maintenance sweeps",
		},
		[]string{LabelSweep},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by a rate policy rule",
		},
		[]string{LabelRule},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelMethod, LabelRoute},
	)
)

func RecordOperation(op, outcome string) {
	CeremoniesTotal.WithLabelValues(op, outcome).Inc()
}

func RecordSweep(sweep, outcome string, rows int64) {
	SweepRunsTotal.WithLabelValues(sweep, outcome).Inc()
	if rows > 0 {
		SweepRowsTotal.WithLabelValues(sweep).Add(float64(rows))
	}
}

func RecordRateLimitRejection(rule string) {
	RateLimitRejectionsTotal.WithLabelValues(rule).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
