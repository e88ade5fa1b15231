// Package services defines the shared failure taxonomy for transcript
// resolution and the context annotations carried across pipeline stages.
//
// Every failed fetch or hand-off is classified into one of the error classes
// below. Transient classes are retried with backoff; structural classes move
// the fallback chain to the next candidate without consuming a retry slot.
package services
