// Package metrics exposes Prometheus collectors for job throughput, queue
// depth, and search operation timings.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the engine registers.
type Metrics struct {
	JobsStarted   *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	EntitiesTotal *prometheus.CounterVec

	QueueDepth    prometheus.Gauge
	WorkersActive prometheus.Gauge

	DestinationWriteTotal    *prometheus.CounterVec
	DestinationWriteDuration *prometheus.HistogramVec

	SearchOperationDuration *prometheus.HistogramVec
	SearchErrorsTotal       *prometheus.CounterVec
}

// New registers and returns a Metrics instance against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers against a custom registerer, useful for tests
// that want an isolated registry per case.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "syncforge_jobs_started_total", Help: "Sync jobs started."},
			[]string{"sync_connection_id"},
		),
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "syncforge_jobs_finished_total", Help: "Sync jobs finished by terminal status."},
			[]string{"sync_connection_id", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncforge_job_duration_seconds",
				Help:    "Sync job wall-clock duration.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"sync_connection_id"},
		),
		EntitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "syncforge_entities_total", Help: "Entities processed by outcome."},
			[]string{"sync_connection_id", "outcome"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "syncforge_queue_depth", Help: "Current depth of the producer-to-worker queue."},
		),
		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "syncforge_workers_active", Help: "Currently busy worker goroutines."},
		),
		DestinationWriteTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "syncforge_destination_writes_total", Help: "Destination bulk writes by result."},
			[]string{"result"},
		),
		DestinationWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncforge_destination_write_duration_seconds",
				Help:    "Destination bulk write latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		SearchOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncforge_search_operation_duration_seconds",
				Help:    "Per-operation search executor latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		SearchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "syncforge_search_errors_total", Help: "Search operation failures."},
			[]string{"operation"},
		),
	}

	registerer.MustRegister(
		m.JobsStarted, m.JobsFinished, m.JobDuration, m.EntitiesTotal,
		m.QueueDepth, m.WorkersActive,
		m.DestinationWriteTotal, m.DestinationWriteDuration,
		m.SearchOperationDuration, m.SearchErrorsTotal,
	)

	return m
}
