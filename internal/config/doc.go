// Package config loads, normalizes, and validates Quill configuration.
//
// Configuration lives in a TOML file (~/.config/quill/config.toml by default,
// or quill.toml in the working directory). Every tuning constant of the
// resolution pipeline is exposed here with a documented default so operators
// can adjust retry curves, rate limits, and thresholds without code changes.
package config
