// Package metrics exposes the engine's PerformanceCounters (spec §6, §10)
// as Prometheus collectors, in addition to returning them over the
// Host<->Engine RPC interface.
package metrics

import (
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canopy_tasks_started_total",
		Help: "Total number of tasks started (commands, verbs, eval, fork, OOB)",
	})

	TasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canopy_tasks_completed_total",
		Help: "Total number of tasks completed by outcome",
	}, []string{"outcome"})

	CommitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canopy_commit_retries_total",
		Help: "Total number of transaction commit retries across all tasks",
	})

	CommitRetriesExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canopy_commit_retries_exhausted_total",
		Help: "Total number of tasks that gave up after exhausting their commit-retry budget",
	})

	VMTicksExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canopy_vm_ticks_executed_total",
		Help: "Total number of VM bytecode ticks executed",
	})

	VMTaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canopy_vm_task_duration_seconds",
		Help:    "Wall-clock duration of one task's VM execution",
		Buckets: prometheus.DefBuckets,
	})

	NarrativeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canopy_narrative_queue_depth",
		Help: "Current depth of the narrative log's background write queue",
	})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canopy_active_connections",
		Help: "Current number of established host connections",
	})

	SchedulerActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canopy_scheduler_active_tasks",
		Help: "Current number of tasks dispatched to the scheduler's workers and not yet finished",
	})
)

func init() {
	prometheus.MustRegister(
		TasksStarted,
		TasksCompleted,
		CommitRetries,
		CommitRetriesExhausted,
		VMTicksExecuted,
		VMTaskDuration,
		NarrativeQueueDepth,
		ActiveConnections,
		SchedulerActiveTasks,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports it to a histogram on
// ObserveDuration/ObserveDurationVec.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labelValues ...string) {
	h.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}

// Snapshot is the RPC-facing PerformanceCounters reply (spec §10
// Host<->Engine interface): a point-in-time read of the counters above,
// independent of Prometheus's own /metrics exposition.
type Snapshot struct {
	TasksStarted           float64
	CommitRetries          float64
	CommitRetriesExhausted float64
	VMTicksExecuted        float64
	NarrativeQueueDepth    float64
	ActiveConnections      float64
	SchedulerActiveTasks   float64
}

// Read gathers a Snapshot. Counter/gauge values are read directly rather
// than scraped, since the RPC reply needs the raw numbers, not exposition
// text.
func Read() Snapshot {
	return Snapshot{
		TasksStarted:           readCounter(TasksStarted),
		CommitRetries:          readCounter(CommitRetries),
		CommitRetriesExhausted: readCounter(CommitRetriesExhausted),
		VMTicksExecuted:        readCounter(VMTicksExecuted),
		NarrativeQueueDepth:    readGauge(NarrativeQueueDepth),
		ActiveConnections:      readGauge(ActiveConnections),
		SchedulerActiveTasks:   readGauge(SchedulerActiveTasks),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
