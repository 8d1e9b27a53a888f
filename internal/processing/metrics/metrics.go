package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsTotal tracks documents seen per pipeline and outcome
	// (processed, skipped, failed, aborted)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_documents_total",
			Help: "Total number of documents handled by outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	// RunsFinishedTotal tracks terminal run statuses
	RunsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_runs_finished_total",
			Help: "Total number of runs reaching a terminal status",
		},
		[]string{"pipeline", "status", "error_kind"},
	)

	// RecoveriesTotal tracks in-attempt recoveries by result
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_recoveries_total",
			Help: "Total number of in-attempt engine recoveries",
		},
		[]string{"result"},
	)

	// EngineLatency tracks engine call latency
	EngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribe_engine_latency_seconds",
			Help:    "Engine OCR call latency in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"engine", "result"},
	)

	// BackoffSecondsTotal tracks time spent sleeping before retries
	BackoffSecondsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_backoff_seconds_total",
			Help: "Total seconds spent in retry backoff",
		},
	)

	// StoreErrorsTotal tracks repository failures by operation
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_store_errors_total",
			Help: "Total number of repository errors",
		},
		[]string{"op"},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// BatchInProgress is 1 while a batch is running
	BatchInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_batch_in_progress",
			Help: "Whether a batch is currently running",
		},
	)
)
