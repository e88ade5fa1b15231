// Package transcribe hands episodes to a remote, intermittently available
// speech-to-text worker over a shared file-staging convention: audio is
// copied into the worker's inbound directory and completed text appears in
// its outbound directory keyed by job identifier. No synchronous RPC is
// assumed; the coordinator only ever polls.
package transcribe
