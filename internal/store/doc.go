// Package store persists shows, episodes, sources, resolution attempts, and
// transcription jobs in SQLite.
//
// The store is the single writer of episode state. Every transition method
// uses a compare-and-set condition on the current state, so concurrent
// orchestrator workers can claim disjoint episodes without a lock manager:
// a claim succeeds only if the episode is still in the state the worker read.
package store
