// Package metrics provides Prometheus instrumentation for the reconciliation agent.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reconagent"

var (
	// CyclesTotal counts agent cycles by outcome (noop, completed, failed).
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cycles_total",
			Help:      "Total agent cycles by outcome.",
		},
		[]string{"outcome"},
	)

	// CycleDuration observes wall time of a full cycle.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of agent cycles in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// DiscrepanciesTotal counts discrepancy rows written by type.
	DiscrepanciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "discrepancies_total",
			Help:      "Total discrepancies recorded by type.",
		},
		[]string{"type"},
	)

	// AutoReconciledRate is the rate of the most recent run.
	AutoReconciledRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "auto_reconciled_rate",
		Help:      "Auto-reconciled percentage of the last run.",
	})

	// FraudAlertsTotal counts raised fraud alerts by type.
	FraudAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "alerts_total",
			Help:      "Total fraud alerts raised by type.",
		},
		[]string{"type"},
	)

	// InvestigationToolCalls counts evidence tool executions by tool name.
	InvestigationToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "investigation",
			Name:      "tool_calls_total",
			Help:      "Total evidence tool executions by tool.",
		},
		[]string{"tool"},
	)

	// ModelAttemptsTotal counts report model calls by result (ok, throttled, error, rejected).
	ModelAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "model_attempts_total",
			Help:      "Total report model attempts by result.",
		},
		[]string{"result"},
	)

	// ReportsTotal counts persisted reports by source (model, fallback).
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "reports_total",
			Help:      "Total executive reports by source.",
		},
		[]string{"source"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		DiscrepanciesTotal,
		AutoReconciledRate,
		FraudAlertsTotal,
		InvestigationToolCalls,
		ModelAttemptsTotal,
		ReportsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func statusBucket(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
