package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksCreated       = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_created_total", Help: "Tasks created"})
	TasksCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_completed_total", Help: "Tasks moved to completed"})
	RejectedTransition = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_rejected_transitions_total", Help: "Completion requests on already completed tasks"})
	AllocationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_pid_allocation_failures_total", Help: "Creations that could not obtain a unique PID"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	SnapshotsWritten   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_snapshots_written_total", Help: "Task snapshots uploaded"})
	SnapshotFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_snapshot_failures_total", Help: "Failed snapshot attempts"})
	SnapshotSize       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tasks_snapshot_size", Help: "Tasks in the last snapshot"})
)

// RequestDuration tracks API latency by route pattern and status code.
var RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tasks_http_request_duration_seconds",
	Help:    "HTTP request latency by route and status code",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "code"})

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksCreated,
			TasksCompleted,
			RejectedTransition,
			AllocationFailures,
			RateLimitRejects,
			RequestDuration,
			SnapshotsWritten,
			SnapshotFailures,
			SnapshotSize,
		)
	})
	return promhttp.Handler()
}
