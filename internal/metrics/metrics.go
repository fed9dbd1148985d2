// Package metrics collects and exposes Prometheus metrics for the arena.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the coordinator, gateway, queue and workers.
type Recorder interface {
	SetRoomsResident(n int)
	SetConnections(n int)
	RecordMoveAccepted()
	RecordMoveRejected(code string)
	RecordGameFinished(cause string)
	RecordMessageDropped(reason string)
	RecordJobEnqueued(kind string)
	RecordEnqueueFailure(kind string)
	RecordJobProcessed(kind string, latency time.Duration)
	RecordJobFailure(kind string)
	RecordWorkerRestart()
}

// Nop discards everything.
type Nop struct{}

func (Nop) SetRoomsResident(int)                     {}
func (Nop) SetConnections(int)                       {}
func (Nop) RecordMoveAccepted()                      {}
func (Nop) RecordMoveRejected(string)                {}
func (Nop) RecordGameFinished(string)                {}
func (Nop) RecordMessageDropped(string)              {}
func (Nop) RecordJobEnqueued(string)                 {}
func (Nop) RecordEnqueueFailure(string)              {}
func (Nop) RecordJobProcessed(string, time.Duration) {}
func (Nop) RecordJobFailure(string)                  {}
func (Nop) RecordWorkerRestart()                     {}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	roomsResident   prometheus.Gauge
	connections     prometheus.Gauge
	movesAccepted   prometheus.Counter
	movesRejected   *prometheus.CounterVec
	gamesFinished   *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec
	jobsEnqueued    *prometheus.CounterVec
	enqueueFailures *prometheus.CounterVec
	jobsProcessed   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	jobLatency      *prometheus.HistogramVec
	workerRestarts  prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		roomsResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_rooms_resident",
			Help: "Rooms currently held in memory",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_connections",
			Help: "Connections currently attached to a room",
		}),
		movesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_moves_accepted_total",
			Help: "Moves accepted by game rooms",
		}),
		movesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_moves_rejected_total",
			Help: "Moves rejected, by error code",
		}, []string{"code"}),
		gamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_games_finished_total",
			Help: "Games completed, by cause",
		}, []string{"cause"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_messages_dropped_total",
			Help: "Inbound messages dropped, by reason",
		}, []string{"reason"}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_jobs_enqueued_total",
			Help: "Persistence jobs pushed to the queue",
		}, []string{"kind"}),
		enqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_enqueue_failures_total",
			Help: "Persistence jobs that could not be pushed",
		}, []string{"kind"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_jobs_processed_total",
			Help: "Persistence jobs applied to the store",
		}, []string{"kind"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_jobs_failed_total",
			Help: "Persistence jobs that failed at the store",
		}, []string{"kind"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arena_job_latency_seconds",
			Help:    "Time from enqueue to store write",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_worker_restarts_total",
			Help: "Persistence workers restarted by the supervisor",
		}),
	}

	reg.MustRegister(
		c.roomsResident,
		c.connections,
		c.movesAccepted,
		c.movesRejected,
		c.gamesFinished,
		c.messagesDropped,
		c.jobsEnqueued,
		c.enqueueFailures,
		c.jobsProcessed,
		c.jobsFailed,
		c.jobLatency,
		c.workerRestarts,
	)
	return c
}

func (c *Collector) SetRoomsResident(n int)    { c.roomsResident.Set(float64(n)) }
func (c *Collector) SetConnections(n int)      { c.connections.Set(float64(n)) }
func (c *Collector) RecordMoveAccepted()       { c.movesAccepted.Inc() }
func (c *Collector) RecordWorkerRestart()      { c.workerRestarts.Inc() }
func (c *Collector) RecordJobFailure(k string) { c.jobsFailed.WithLabelValues(k).Inc() }

func (c *Collector) RecordMoveRejected(code string) {
	c.movesRejected.WithLabelValues(code).Inc()
}

func (c *Collector) RecordGameFinished(cause string) {
	c.gamesFinished.WithLabelValues(cause).Inc()
}

func (c *Collector) RecordMessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordJobEnqueued(kind string) {
	c.jobsEnqueued.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordEnqueueFailure(kind string) {
	c.enqueueFailures.WithLabelValues(kind).Inc()
}

// RecordJobProcessed counts a successful store write and its queue latency.
func (c *Collector) RecordJobProcessed(kind string, latency time.Duration) {
	c.jobsProcessed.WithLabelValues(kind).Inc()
	if latency > 0 {
		c.jobLatency.WithLabelValues(kind).Observe(latency.Seconds())
	}
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
