// Package metrics exposes the Prometheus instrumentation for the core
// operators, adapted from the teacher's internal/metrics package (same
// promauto registration style, same naming convention prefixed by the
// project name instead of "log_capturer").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icetable_inserts_total",
		Help: "Total number of insert operations completed",
	}, []string{"result"})

	InsertedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icetable_inserted_rows_total",
		Help: "Total number of rows written by insert operations",
	}, []string{"partition"})

	InsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icetable_insert_duration_seconds",
		Help:    "Duration of insert operations",
		Buckets: prometheus.DefBuckets,
	})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icetable_merges_total",
		Help: "Total number of merge operations, by result",
	}, []string{"result"})

	MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icetable_merge_duration_seconds",
		Help:    "Duration of merge operations",
		Buckets: prometheus.DefBuckets,
	})

	TombstoneCleanupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icetable_tombstone_cleanups_total",
		Help: "Total number of tombstone-cleanup passes run",
	})

	DataFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icetable_data_files_deleted_total",
		Help: "Total number of data files physically deleted by cleanup",
	})

	LogFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icetable_log_files_deleted_total",
		Help: "Total number of log files physically deleted by cleanup",
	})

	AliveFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icetable_alive_files",
		Help: "Number of alive data files observed at the last snapshot read",
	})

	SnapshotFoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icetable_snapshot_fold_duration_seconds",
		Help:    "Duration of folding all visible log files into a snapshot",
		Buckets: prometheus.DefBuckets,
	})
)
