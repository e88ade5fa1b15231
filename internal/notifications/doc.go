// Package notifications delivers pipeline events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Per-event
// toggles let operators keep stall alerts while muting per-episode chatter.
package notifications
