package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hasher metrics
var (
	HashComputationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photokeep_hash_computations_total",
			Help: "Total number of full content hash computations",
		},
	)

	HashCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_hash_cache_hits_total",
			Help: "Total number of hash cache hits by cache level",
		},
		[]string{"level"}, // "memory", "store"
	)

	HashCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photokeep_hash_cache_misses_total",
			Help: "Total number of hash cache misses",
		},
	)

	HashDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photokeep_hash_duration_seconds",
			Help:    "Content hash computation duration in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// Index store metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_db_queries_total",
			Help: "Total number of index store queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photokeep_db_query_duration_seconds",
			Help:    "Index store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photokeep_db_transaction_duration_seconds",
			Help:    "Index store transaction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // "commit", "rollback"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photokeep_db_connections_open",
			Help: "Number of open index store connections",
		},
	)
)

// Synchronization metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_sync_runs_total",
			Help: "Total number of sync operations by kind",
		},
		[]string{"kind"}, // "incremental", "rebuild", "terraform", "import"
	)

	SyncGhostsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photokeep_sync_ghosts_removed_total",
			Help: "Total number of index records removed because the backing file was gone",
		},
	)

	SyncMolesIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photokeep_sync_moles_indexed_total",
			Help: "Total number of untracked files added to the index",
		},
	)

	SyncLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photokeep_sync_last_run_timestamp",
			Help: "Timestamp of the last completed operation by kind",
		},
		[]string{"kind"},
	)

	SyncLastRunDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photokeep_sync_last_run_duration_seconds",
			Help: "Duration of the last completed operation by kind",
		},
		[]string{"kind"},
	)

	SyncOperationRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photokeep_sync_operation_running",
			Help: "Whether a mutating library operation is currently running (1 = running, 0 = idle)",
		},
	)

	EmptyFoldersRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photokeep_empty_folders_removed_total",
			Help: "Total number of empty directories pruned by the folder janitor",
		},
	)
)

// Import pipeline metrics
var (
	ImportOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_import_outcomes_total",
			Help: "Total number of import pipeline outcomes",
		},
		[]string{"outcome"}, // "imported", "duplicate", "rejected"
	)

	ImportRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_import_rejections_total",
			Help: "Total number of import rejections by classified reason",
		},
		[]string{"reason"},
	)

	MetadataToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photokeep_metadata_tool_duration_seconds",
			Help:    "External metadata tool invocation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool", "operation"},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_filesystem_stale_errors_total",
			Help: "Total number of NFS stale file handle errors encountered",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photokeep_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation"},
	)
)
