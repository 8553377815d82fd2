package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksSucceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_succeeded_total",
			Help: "Total number of tasks that completed successfully",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_failed_total",
			Help: "Total number of tasks that exhausted their retries",
		},
	)

	TaskRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_task_retries_total",
			Help: "Total number of task retry attempts",
		},
	)

	// Stage metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_stage_duration_seconds",
			Help:    "Wall-clock duration of sub-agent stages in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"stage"},
	)

	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_stage_failures_total",
			Help: "Total number of failed sub-agent stage invocations",
		},
		[]string{"stage"},
	)

	// Blocker metrics
	BlockersOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_blockers_open",
			Help: "Number of blockers currently awaiting a human decision",
		},
	)

	BlockersResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_blockers_resolved_total",
			Help: "Total number of blockers resolved",
		},
	)

	// Checkpoint metrics
	CheckpointWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_checkpoint_writes_total",
			Help: "Total number of checkpoint flushes to disk",
		},
	)

	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_checkpoint_write_seconds",
			Help:    "Time taken to atomically flush a checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lead metrics
	LeadsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_leads_running",
			Help: "Number of Team Leads currently holding a concurrency slot",
		},
	)

	LeadCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_lead_crashes_total",
			Help: "Total number of Team Leads that exited with a panic",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksSucceeded)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TaskRetries)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageFailures)
	prometheus.MustRegister(BlockersOpen)
	prometheus.MustRegister(BlockersResolved)
	prometheus.MustRegister(CheckpointWrites)
	prometheus.MustRegister(CheckpointDuration)
	prometheus.MustRegister(LeadsRunning)
	prometheus.MustRegister(LeadCrashes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
