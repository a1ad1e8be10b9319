// Package telemetry provides application-level observability for the task API.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<TASKHUB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not part of the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authentication outcomes per scheme, and login outcomes
//   - API key issue/revoke counters and last-used write failures
//   - Database connection pool gauge (polled every 30 s)
//
// Label values never carry user-supplied data: paths come from c.FullPath() and
// auth labels come from the fixed sets below.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/taskhub/taskhub-api/internal/safego"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Auth outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"

	// MethodNone labels a rejected request that presented no usable credential.
	MethodNone = "none"
)

// Authentication metrics.
//
// AuthAttemptsTotal counts every protected-route decision by the scheme that
// decided it (jwt, api_key, none) and its outcome (success, rejected, error).
// LoginAttemptsTotal counts email/password logins.
//
// Example PromQL queries:
//   - Rejection ratio:        sum(rate(auth_attempts_total{outcome="rejected"}[5m])) / sum(rate(auth_attempts_total[5m]))
//   - Credential stuffing:    rate(login_attempts_total{outcome="rejected"}[1m]) > 5
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication decisions on protected routes, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Total number of email/password login attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

// API key lifecycle metrics.
//
// APIKeyLastUsedFailuresTotal rises when the best-effort last_used_at write
// fails; authentication is unaffected, but a steady rate points at the database.
var (
	APIKeysIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_keys_issued_total",
			Help: "Total number of API keys generated.",
		},
	)

	APIKeysRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_keys_revoked_total",
			Help: "Total number of successful API key revocations.",
		},
	)

	APIKeyLastUsedFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_key_last_used_failures_total",
			Help: "Total number of failed best-effort last_used_at updates.",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB
// pool. It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples db pool statistics every 30 seconds until ctx
// is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	safego.Go(func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := db.PingContext(ctx); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}
