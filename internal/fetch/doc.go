// Package fetch implements the pathway-specific transcript fetchers: direct
// show websites, network archives, the aggregator API, and video caption
// tracks. All fetchers share one rate-limit-friendly HTTP client and map
// transport failures onto the resolution error taxonomy.
package fetch
