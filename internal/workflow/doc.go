// Package workflow runs the pipeline loops: pathway assignment, online
// resolution, the transcription hand-off sweep, stale-claim reclamation, and
// the progress watchdog. The Manager owns their lifecycles; each loop is an
// independent goroutine coordinated only through the store.
package workflow
