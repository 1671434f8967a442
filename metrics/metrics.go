// Package metrics exposes Prometheus instruments for the execution engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_jobs_enqueued_total",
			Help: "Jobs accepted by the execution queue, by trigger type",
		},
		[]string{"trigger"},
	)

	intakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_intake_rejections_total",
			Help: "Enqueue requests rejected before a job was created, by reason",
		},
		[]string{"reason"},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by status",
		},
		[]string{"status"},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flow_job_duration_seconds",
			Help:    "Wall time of job runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	nodeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_node_runs_total",
			Help: "Node executions by node type and terminal status",
		},
		[]string{"type", "status"},
	)

	nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flow_node_duration_seconds",
			Help:    "Executor wall time by node type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	stepLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_step_lookups_total",
			Help: "Step runner log lookups, by outcome (hit, miss, error)",
		},
		[]string{"outcome"},
	)

	droppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flow_status_events_dropped_total",
			Help: "Status events dropped because a subscriber buffer was full",
		},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flow_active_runs",
			Help: "Jobs currently being executed by this process",
		},
	)
)

func RecordEnqueued(trigger string) { jobsEnqueued.WithLabelValues(trigger).Inc() }

func RecordIntakeRejection(reason string) { intakeRejections.WithLabelValues(reason).Inc() }

// RecordJobFinished counts a terminal job and observes its run time.
func RecordJobFinished(status string, d time.Duration) {
	jobsFinished.WithLabelValues(status).Inc()
	jobDuration.Observe(d.Seconds())
}

// RecordNode counts one node outcome. Skipped nodes have no duration.
func RecordNode(nodeType, status string, d time.Duration) {
	nodeRuns.WithLabelValues(nodeType, status).Inc()
	if d > 0 {
		nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
	}
}

func RecordStepLookup(outcome string) { stepLookups.WithLabelValues(outcome).Inc() }

func RecordDroppedEvent() { droppedEvents.Inc() }

// RunStarted increments the active-run gauge and returns its decrement.
func RunStarted() func() {
	activeRuns.Inc()
	return activeRuns.Dec
}
