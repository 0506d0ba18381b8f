/*
Package metrics exposes Prometheus metrics and health/readiness endpoints for
the colwal WAL/catalog core.

# Architecture

	┌──────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                             │
	│  ┌─────────────────────────────────────────────┐          │
	│  │              Collector                       │          │
	│  │  - polls gauge-shaped WAL state every 15s    │          │
	│  │  - Catalog: rows, tombstones                 │          │
	│  │  - LogStream: segments on disk, current/saved│          │
	│  │    log_id                                     │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │        Inline counters/histograms            │          │
	│  │  - updated by TransactionBuilder, Replayer,  │          │
	│  │    Checkpointer at the moment each event     │          │
	│  │    happens (commit, replay pass, checkpoint) │          │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │          promhttp.Handler()                   │          │
	│  │  - served at /metrics                         │          │
	│  └───────────────────────────────────────────────┘         │
	│                                                             │
	│  ┌────────────────────────────────────────────────┐        │
	│  │     HealthChecker (component registry)          │        │
	│  │  - RegisterComponent("wal", healthy, msg)        │        │
	│  │  - /health, /ready, /live HTTP handlers          │        │
	│  └────────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────────┘

# Metrics reference

Catalog:

	colwal_catalog_rows_total            - live catalog rows
	colwal_catalog_tombstones_total      - condemned rows awaiting compaction
	colwal_sequence_rows_total           - live sequence-store rows

LogStream:

	colwal_segments_on_disk              - segment files currently present
	colwal_segment_bytes_written_total   - cumulative bytes written
	colwal_segment_rotations_total       - rotations performed
	colwal_current_log_id                - log_id open for writes
	colwal_saved_log_id                  - log_id of the last checkpointed segment

Transactions:

	colwal_transactions_committed_total
	colwal_transactions_aborted_total
	colwal_commit_duration_seconds       - includes the durability barrier

Replay / checkpoint:

	colwal_replay_duration_seconds
	colwal_replayed_transactions_total{outcome="committed|aborted"}
	colwal_checkpoint_duration_seconds
	colwal_checkpoints_total{outcome="ok|sub_commit_failed"}

Errors:

	colwal_errors_total{kind="short_read|corrupt_header|unknown_type|value_too_large|duplicate|not_found|io_error|store_error|poisoned|unknown"}

# Usage

Registering the HTTP surface:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

Polling WAL gauges:

	collector := metrics.NewCollector(w) // w implements metrics.Instrumented
	collector.Start()
	defer collector.Stop()

Reporting WAL health after a fatal error:

	metrics.RegisterComponent("wal", false, "fsync failed, instance poisoned")

Timing an operation:

	timer := metrics.NewTimer()
	err := tb.Commit()
	timer.ObserveDuration(metrics.CommitDuration)

# Design notes

Counters and histograms are updated inline, at the call site that observes
the event (TransactionBuilder.Commit, Replayer.ReplaySegment, Checkpointer.Run) rather
than polled, because commit/replay/checkpoint durations cannot be
reconstructed after the fact. Gauges that reflect steady-state size (catalog
row count, segments on disk) are polled instead, since re-deriving them on
every mutation would mean taking the catalog lock far more often than the
mutation itself requires.
*/
package metrics
