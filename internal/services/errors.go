package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the resolution failure taxonomy. Wrap tags errors with
// one of these so stores and retry policy can classify them later.
var (
	// ErrSourceUnreachable marks network failures and fetch timeouts.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrNoContent marks fetches that succeeded but returned absent or
	// near-empty content.
	ErrNoContent = errors.New("source returned no content")
	// ErrSourceDisabled marks candidates skipped because the source is disabled.
	ErrSourceDisabled = errors.New("source disabled")
	// ErrAudioUnavailable marks episodes with no audio locator or a failed
	// audio download.
	ErrAudioUnavailable = errors.New("audio unavailable")
	// ErrWorkerUnavailable marks transcription hand-offs the remote worker
	// never completed.
	ErrWorkerUnavailable = errors.New("transcription worker unavailable")
	// ErrInvalidPathway marks configuration inconsistencies; always fatal to
	// the show, never silently retried.
	ErrInvalidPathway = errors.New("invalid pathway")
)

// Error class strings persisted on episodes and attempt records.
const (
	ClassSourceUnreachable = "source-unreachable"
	ClassNoContent         = "source-no-content"
	ClassSourceDisabled    = "source-disabled"
	ClassAudioUnavailable  = "audio-unavailable"
	ClassWorkerUnavailable = "transcription-worker-unavailable"
	ClassInvalidPathway    = "invalid-pathway"
	ClassUnknown           = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrSourceUnreachable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its persisted error-class string.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoContent):
		return ClassNoContent
	case errors.Is(err, ErrSourceDisabled):
		return ClassSourceDisabled
	case errors.Is(err, ErrAudioUnavailable):
		return ClassAudioUnavailable
	case errors.Is(err, ErrWorkerUnavailable):
		return ClassWorkerUnavailable
	case errors.Is(err, ErrInvalidPathway):
		return ClassInvalidPathway
	case errors.Is(err, ErrSourceUnreachable):
		return ClassSourceUnreachable
	default:
		return ClassUnknown
	}
}

// IsStructural reports whether the failure should advance the fallback chain
// immediately instead of consuming a retry slot. Retrying the same
// non-existent content is wasteful.
func IsStructural(err error) bool {
	return errors.Is(err, ErrNoContent) ||
		errors.Is(err, ErrAudioUnavailable) ||
		errors.Is(err, ErrSourceDisabled)
}

// IsTransient reports whether the failure class is retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSourceUnreachable) || errors.Is(err, ErrWorkerUnavailable)
}

// IsFatalToShow reports whether processing must halt for the whole show.
func IsFatalToShow(err error) bool {
	return errors.Is(err, ErrInvalidPathway)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
