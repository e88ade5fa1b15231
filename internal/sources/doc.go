// Package sources maintains the registry of transcript providers, scores
// them with rolling success rates, and selects ordered candidates for an
// episode.
package sources
