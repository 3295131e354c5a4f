package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LastProcessedBlock tracks the checkpoint block number
	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_last_processed_block",
			Help: "Last block whose events were fully reconciled",
		},
	)

	// BlocksProcessed counts blocks scanned by the sync loop
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
	)

	// EventsApplied counts domain events applied to the mirror store
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_applied_total",
			Help: "Total number of domain events applied",
		},
		[]string{"event_type"},
	)

	// EventsSkipped counts events skipped without applying
	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_skipped_total",
			Help: "Total number of events skipped",
		},
		[]string{"reason"},
	)

	// DecodeErrors counts raw logs that failed to decode
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_decode_errors_total",
			Help: "Total number of logs that failed to decode",
		},
	)

	// CyclesTotal counts sync cycles by outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_sync_cycles_total",
			Help: "Total number of sync cycles",
		},
		[]string{"phase", "outcome"},
	)

	// CycleDuration tracks sync cycle duration
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_sync_cycle_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// ReconcileConflicts counts per-event retries due to write conflicts
	ReconcileConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_reconcile_conflicts_total",
			Help: "Total number of reconciliation conflicts retried",
		},
	)

	// ChainRequests counts upstream RPC calls by method and outcome
	ChainRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_chain_requests_total",
			Help: "Total number of chain RPC requests",
		},
		[]string{"method", "outcome"},
	)
)
