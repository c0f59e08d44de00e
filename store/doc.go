// Package store provides SQLite-backed durable storage for run lineage.
//
// The store records:
//   - Runs: one row per pipeline execution, numbered per experiment
//   - Stages: one row per distinct stage fingerprint, shared across runs
//   - Artifacts: one row per (hash, name), shared across runs
//   - Links: run_stage, run_artifact and stage_input join rows
//
// # Schema evolution
//
// The schema is owned by the migrations in Migrations. Open applies every
// pending migration before returning, each in its own write-locked
// transaction, and refuses to return a store when one fails. The meta table
// holds one row per applied version.
//
// # Reuse
//
// A stage whose hash matches an existing row is linked to the new run
// through run_stage instead of being inserted again. Artifacts are reused
// the same way by (hash, name). No other run-level deduplication happens.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - _txlock=immediate: every transaction takes the write lock up front
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
