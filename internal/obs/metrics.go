// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/flyingrobots/queueengine/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of jobs enqueued",
	}, []string{"queue"})
	JobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_started_total",
		Help: "Total number of job attempts started",
	}, []string{"queue"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	}, []string{"queue"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of terminally failed jobs",
	}, []string{"queue"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of job retry attempts",
	}, []string{"queue"})
	JobsCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_cancelled_total",
		Help: "Total number of cancelled jobs",
	}, []string{"queue"})
	JobProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of job processing durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Current number of queued-but-not-running jobs",
	}, []string{"queue"})
	QueueRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_running",
		Help: "Current number of jobs in flight",
	}, []string{"queue"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the storage circuit breaker transitioned to Open",
	})
	OrphansReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orphans_reconciled_total",
		Help: "Total number of running jobs requeued by startup reconciliation",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(JobsEnqueued, JobsStarted, JobsCompleted, JobsFailed, JobsRetried, JobsCancelled,
		JobProcessingDuration, QueueLength, QueueRunning, CircuitBreakerState, CircuitBreakerTrips, OrphansReconciled)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// Retained for compatibility; StartHTTPServer also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
