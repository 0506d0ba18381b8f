package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	CatalogRowsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colwal_catalog_rows_total",
			Help: "Total number of live rows in the catalog",
		},
	)

	CatalogTombstonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colwal_catalog_tombstones_total",
			Help: "Total number of tombstoned (condemned, not yet compacted) catalog rows",
		},
	)

	SequenceRowsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colwal_sequence_rows_total",
			Help: "Total number of live rows in the sequence store",
		},
	)

	// LogStream metrics
	SegmentsOnDisk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colwal_segments_on_disk",
			Help: "Number of log segments currently present on disk",
		},
	)

	SegmentBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "colwal_segment_bytes_written_total",
			Help: "Total bytes written to log segments",
		},
	)

	SegmentRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "colwal_segment_rotations_total",
			Help: "Total number of log segment rotations",
		},
	)

	CurrentLogID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colwal_current_log_id",
			Help: "log_id of the segment currently open for writes",
		},
	)

	SavedLogID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colwal_saved_log_id",
			Help: "log_id of the last segment fully absorbed by a checkpoint",
		},
	)

	// Transaction metrics
	TransactionsCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "colwal_transactions_committed_total",
			Help: "Total number of committed transactions",
		},
	)

	TransactionsAbortedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "colwal_transactions_aborted_total",
			Help: "Total number of aborted transactions",
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colwal_commit_duration_seconds",
			Help:    "Duration of commit() including the durability barrier",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Replay / checkpoint metrics
	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colwal_replay_duration_seconds",
			Help:    "Duration of a full Replayer pass over a segment",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayedTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colwal_replayed_transactions_total",
			Help: "Total number of transactions replayed, by outcome",
		},
		[]string{"outcome"}, // committed, aborted
	)

	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colwal_checkpoint_duration_seconds",
			Help:    "Duration of one Checkpointer pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colwal_checkpoints_total",
			Help: "Total number of checkpoint runs, by outcome",
		},
		[]string{"outcome"}, // ok, sub_commit_failed
	)

	// Error metrics
	WALErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colwal_errors_total",
			Help: "Total number of WAL errors by kind",
		},
		[]string{"kind"}, // short_read, corrupt_header, unknown_type, value_too_large, duplicate, not_found, io_error, store_error, poisoned, unknown
	)
)

func init() {
	prometheus.MustRegister(CatalogRowsTotal)
	prometheus.MustRegister(CatalogTombstonesTotal)
	prometheus.MustRegister(SequenceRowsTotal)
	prometheus.MustRegister(SegmentsOnDisk)
	prometheus.MustRegister(SegmentBytesWritten)
	prometheus.MustRegister(SegmentRotationsTotal)
	prometheus.MustRegister(CurrentLogID)
	prometheus.MustRegister(SavedLogID)
	prometheus.MustRegister(TransactionsCommittedTotal)
	prometheus.MustRegister(TransactionsAbortedTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(ReplayDuration)
	prometheus.MustRegister(ReplayedTransactionsTotal)
	prometheus.MustRegister(CheckpointDuration)
	prometheus.MustRegister(CheckpointsTotal)
	prometheus.MustRegister(WALErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
