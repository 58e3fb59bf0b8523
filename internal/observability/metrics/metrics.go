// Package metrics provides Prometheus instrumentation for rolewarden.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// Reconciliation metrics
	reconciliationTotal *prometheus.CounterVec

	// Evidence provider metrics
	evidenceFetchTotal *prometheus.CounterVec

	// Role grant metrics
	roleGrantTotal *prometheus.CounterVec

	// Scheduler metrics
	schedulerRunsTotal      *prometheus.CounterVec
	schedulerRunDuration    prometheus.Histogram
	schedulerIdentitiesLast prometheus.Gauge
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	reconciliationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_outcomes_total",
			Help: "Total per-target reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	evidenceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidence_fetch_total",
			Help: "Total evidence bundle fetches",
		},
		[]string{"status"},
	)

	roleGrantTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "role_grant_total",
			Help: "Total role grant attempts",
		},
		[]string{"status"},
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Total scheduler runs",
		},
		[]string{"status"},
	)

	schedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Duration of a full scheduler run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	schedulerIdentitiesLast = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_identities_last_run",
			Help: "Identities processed in the most recent scheduler run",
		},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}

// Reconciliation records one per-target reconciliation outcome.
func Reconciliation(outcome string) {
	if !enabled {
		return
	}
	reconciliationTotal.WithLabelValues(outcome).Inc()
}

// EvidenceFetch records an evidence bundle fetch.
func EvidenceFetch(status string) {
	if !enabled {
		return
	}
	evidenceFetchTotal.WithLabelValues(status).Inc()
}

// RoleGrant records a role grant attempt.
func RoleGrant(status string) {
	if !enabled {
		return
	}
	roleGrantTotal.WithLabelValues(status).Inc()
}

// SchedulerRun records a completed scheduler run.
func SchedulerRun(status string, seconds float64, identities int) {
	if !enabled {
		return
	}
	schedulerRunsTotal.WithLabelValues(status).Inc()
	schedulerRunDuration.Observe(seconds)
	schedulerIdentitiesLast.Set(float64(identities))
}
