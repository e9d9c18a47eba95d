// Package metrics registers the server's Prometheus collectors against the
// default registry. They are exposed on GET /metrics when METRICS_ENABLED is
// set.
//
// HTTP metrics are labelled by chi route pattern (e.g.
// /api/license/validate/{hardwareId}), never the raw URL, so hardware ids
// and keys cannot blow up label cardinality.
package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

// Domain counters. The result label is "ok" or the error code returned to
// the client (e.g. CHECKSUM_MISMATCH, ALREADY_USED).
var (
	KeyChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_key_checks_total",
			Help: "Total number of key availability checks, by result.",
		},
		[]string{"result"},
	)

	ActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_activations_total",
			Help: "Total number of activation attempts, by product and result.",
		},
		[]string{"product", "result"},
	)

	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_validations_total",
			Help: "Total number of license validations, by result (valid, revoked, not_activated).",
		},
		[]string{"result"},
	)

	KeysGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_keys_generated_total",
			Help: "Total number of license keys generated, by product.",
		},
		[]string{"product"},
	)

	LicenseAdminActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_admin_actions_total",
			Help: "Total number of admin mutations on licenses, by action (revoke, reactivate, delete).",
		},
		[]string{"action"},
	)

	ReconcileRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_reconcile_repairs_total",
			Help: "Total number of inconsistencies repaired by reconciliation, by kind.",
		},
		[]string{"kind"},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by a rate limiter, by scope.",
		},
		[]string{"scope"},
	)
)

// DBOpenConnections tracks the postgres pool size. It is sampled by
// StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

const dbStatsInterval = 30 * time.Second

// StartDBStatsCollector samples the pool every 30 seconds until ctx is done
// or the database stops answering pings.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					log.Warn().Err(err).Msg("db stats collector: database unreachable, stopping collector")
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

// Result maps an error to the label used by the domain counters.
func Result(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}
