// Package pipeline materializes artifacts: it checks the cache, loads or
// computes values, saves them, and records lineage for the run.
//
// A Runner holds the collaborators. Runner.Start opens a Session for one
// run; Session.Get resolves an artifact and, recursively, everything it
// depends on. Runner.Run wraps Start, Get and Finish for a set of targets.
//
// Sessions are single-goroutine. Processes share work through the cache
// root and the metadata store, never through memory.
package pipeline
