package logging

import (
	"context"
	"log/slog"

	"quill/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEpisodeID is the standardized structured logging key for episode identifiers.
	FieldEpisodeID = "episode_id"
	// FieldShowID is the standardized structured logging key for show identifiers.
	FieldShowID = "show_id"
	// FieldSourceID is the standardized structured logging key for transcript source identifiers.
	FieldSourceID = "source_id"
	// FieldPathway is the standardized structured logging key for resolution pathways.
	FieldPathway = "pathway"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldErrorClass is the standardized structured logging key for classified failures.
	FieldErrorClass = "error_class"
	// FieldCorrelationID is the standardized structured logging key for attempt correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags machine-readable event names on log records.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested operator action for warnings and errors.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.EpisodeIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEpisodeID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
