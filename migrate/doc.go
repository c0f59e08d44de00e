// Package migrate applies versioned, forward-only schema migrations to a
// SQLite database.
//
// Versions are positive int64 values applied in ascending order. They need
// not be contiguous; date stamps such as 20260210 are fine. The applied
// versions live in an append-only table:
//
//	meta(schema_version INTEGER)
//
// The current version is MAX(schema_version), or 0 when the table does not
// exist yet. The first migration is expected to create it.
//
// Each migration runs in its own transaction and must append its own marker
// with RecordVersion; the runner checks the marker before committing, so a
// schema change is never visible without its version and vice versa. The
// database should be opened with _txlock=immediate so the transaction takes
// the write lock up front. The version is re-read inside that transaction,
// which makes a second process that was waiting on the lock skip the work
// the first one already committed.
package migrate
