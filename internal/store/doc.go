// Package store provides SQLite-backed storage for activity history and
// run traces.
//
// The store is append-only:
//   - history: activity transitions reported by an engine, keyed by
//     (instance_id, seq)
//   - runs: one row per driver run with its outcome and trace digest
//   - trace_events: the ordered trace of a run
//
// # Deterministic Query Results
//
// All ordering uses the seq column (logical order), never the virtual
// timestamps, and every multi-row query ends with ORDER BY seq ASC plus a
// binary tiebreak. Reads return identical results across replays.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: trace events must belong to a recorded run
//
// Store satisfies memengine.HistorySink, so an engine can write straight
// into it.
package store
