package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchCallsTotal tracks remote calls per source and outcome
	FetchCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statsync_fetch_calls_total",
			Help: "Total number of remote data source calls",
		},
		[]string{"source", "outcome"},
	)

	// FetchLatency tracks remote call latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statsync_fetch_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// ItemsProcessed tracks work items by final result (succeeded, transient, permanent, persistence)
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statsync_items_processed_total",
			Help: "Total number of work items processed",
		},
		[]string{"source", "partition", "result"},
	)

	// ItemsMissing tracks the work items left to collect at the start of a pass
	ItemsMissing = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statsync_items_missing",
			Help: "Work items missing at the start of the last pass",
		},
		[]string{"source", "partition"},
	)

	// LedgerRecords tracks ledger writes by classification
	LedgerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statsync_ledger_records_total",
			Help: "Total number of failure ledger writes",
		},
		[]string{"source", "classification"},
	)

	// PassDuration tracks the wall time of each pass
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statsync_pass_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"source", "partition"},
	)

	// PacerDelay tracks the current inter-call delay
	PacerDelay = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statsync_pacer_delay_seconds",
			Help: "Current delay enforced between remote calls",
		},
		[]string{"source"},
	)

	// DBBatchSize tracks the number of rows written per statement
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statsync_db_batch_size",
			Help:    "Rows written per insert statement",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"operation"},
	)

	// DBReconnects tracks connection pool reopen attempts
	DBReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statsync_db_reconnects_total",
			Help: "Total number of database reconnect attempts",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statsync_db_connection_pool_usage_percent",
			Help: "Open connections as a percentage of the pool limit",
		},
	)
)
