// Package logging provides slog construction and shared structured-field
// conventions for the pipeline. Console output is a compact key=value format
// (colored when attached to a terminal); JSON output is line-delimited with
// normalized keys.
package logging
