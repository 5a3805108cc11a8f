// Package metrics defines the Prometheus collectors exported by a scanshare
// worker. Collectors are registered with the default registry at init and
// served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	TasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanshare_tasks_enqueued_total",
			Help: "Scan tasks accepted by the scheduler",
		},
		[]string{"scheduler"},
	)

	CommandsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanshare_commands_dropped_total",
			Help: "Non-scan commands rejected by the scheduler, by command",
		},
		[]string{"scheduler", "command"},
	)

	TasksEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanshare_tasks_emitted_total",
			Help: "Tasks handed to workers, by disk",
		},
		[]string{"scheduler", "disk"},
	)

	TasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanshare_tasks_finished_total",
			Help: "Tasks reported finished by workers",
		},
		[]string{"scheduler"},
	)

	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanshare_queue_size",
			Help: "Pending tasks across all disks",
		},
		[]string{"scheduler"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanshare_in_flight",
			Help: "Tasks emitted and not yet finished",
		},
		[]string{"scheduler"},
	)

	ActiveChunks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanshare_active_chunks",
			Help: "Chunks with at least one in-flight task, by disk",
		},
		[]string{"scheduler", "disk"},
	)

	WaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanshare_next_runnable_wait_seconds",
			Help:    "Time workers spent blocked waiting for a runnable task",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"scheduler"},
	)

	// Pool metrics
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanshare_task_duration_seconds",
			Help:    "Task execution time by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanshare_workers_busy",
			Help: "Pool workers currently executing a task",
		},
	)

	// Executor metrics
	BytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanshare_bytes_read_total",
			Help: "Bytes read from chunk files, by disk",
		},
		[]string{"disk"},
	)

	BlockCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanshare_block_cache_lookups_total",
			Help: "Chunk block cache lookups by result (hit or miss)",
		},
		[]string{"result"},
	)

	// Inventory metrics
	ChunksKnown = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanshare_chunks_known",
			Help: "Chunks present in the catalog, by disk",
		},
		[]string{"disk"},
	)
)

// Outcome labels for TaskDuration.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomePanic    = "panic"
	OutcomeCanceled = "canceled"
)

func init() {
	prometheus.MustRegister(TasksEnqueued)
	prometheus.MustRegister(CommandsDropped)
	prometheus.MustRegister(TasksEmitted)
	prometheus.MustRegister(TasksFinished)
	prometheus.MustRegister(QueueSize)
	prometheus.MustRegister(InFlight)
	prometheus.MustRegister(ActiveChunks)
	prometheus.MustRegister(WaitDuration)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(BytesRead)
	prometheus.MustRegister(BlockCacheLookups)
	prometheus.MustRegister(ChunksKnown)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
