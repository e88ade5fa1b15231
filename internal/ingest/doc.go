// Package ingest is the inbound boundary of the pipeline. Metadata
// collaborators push episodes through the idempotent upsert, and the feed
// importer pulls RSS/Atom feeds directly for shows that expose one.
package ingest
