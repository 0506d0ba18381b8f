/*
Package log provides structured logging for the colwal WAL/catalog core using zerolog.

The log package wraps zerolog to provide JSON-structured or console logging with
component-specific child loggers, configurable log levels, and helper functions for
the logging patterns the WAL core uses most: tagging a line with the segment, the
transaction, or the object it concerns.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger instance                  │          │
	│  │  - initialized via log.Init()               │          │
	│  │  - safe for concurrent use                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - JSONOutput: JSON vs console (human)      │          │
	│  │  - Output: stdout or a custom writer        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("catalog")                 │          │
	│  │  - WithLogID(segment id)                    │          │
	│  │  - WithTID(transaction id)                  │          │
	│  │  - WithObjectID(object_id)                  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component and context loggers:

	catalogLog := log.WithComponent("catalog")
	catalogLog.Info().Msg("catalog opened")

	segLog := log.WithComponent("logstream").With().Uint64("log_id", 42).Logger()
	segLog.Debug().Msg("pre-allocation extended segment past soft cap")

	txLog := log.WithTID(tid)
	txLog.Info().Msg("transaction committed")

Error logging always carries the error via .Err():

	log.Logger.Error().
		Err(err).
		Uint64("log_id", logID).
		Msg("checkpoint sub-commit failed")

# Integration points

  - pkg/wal: logs segment rotation, catalog mutation, replay decisions, checkpoint runs
  - pkg/store: logs column-store open and segment archival
  - cmd/walctl: initializes the global logger at process start
    (cmd/walupgrade uses the standard library log package instead)

# Design patterns

Global logger: a single package-level instance, initialized once in main, passed
implicitly via package-level helpers so deeply nested calls don't need to thread
a logger value through every signature.

Context logger: derive a child logger with `.With()` once per scope (once per
segment, once per transaction) rather than re-attaching the same fields to every
log line.

Structured fields: always use typed fields (.Uint64, .Int32, .Str, .Err) instead
of string formatting, so logs stay machine-parseable.

# Do / don't

Do: log every state transition that changes durable state (rotation, checkpoint
start/end, replay commit/abort) at info, and every recovered or fatal error with
its kind as a field.

Don't: log inside the codec's atom-decode loop — it runs once per value and would
dominate throughput; log once per record instead.
*/
package log
