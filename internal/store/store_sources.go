package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sourceColumns = "id, display_name, pathway, show_pattern, title_pattern, audio_host_pattern, " +
	"base_url, enabled, priority, requires_auth, created_at, updated_at"

// UpsertSource registers a transcript provider or refreshes its definition.
// Enabled state is preserved on update so a registry reload does not undo an
// automatic disable.
func (s *Store) UpsertSource(ctx context.Context, source *Source) error {
	if source == nil || source.ID == "" {
		return errors.New("source id is required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO sources (id, display_name, pathway, show_pattern, title_pattern, audio_host_pattern,
             base_url, enabled, priority, requires_auth, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             display_name = excluded.display_name,
             pathway = excluded.pathway,
             show_pattern = excluded.show_pattern,
             title_pattern = excluded.title_pattern,
             audio_host_pattern = excluded.audio_host_pattern,
             base_url = excluded.base_url,
             priority = excluded.priority,
             requires_auth = excluded.requires_auth,
             updated_at = excluded.updated_at`,
		source.ID,
		source.DisplayName,
		string(source.Pathway),
		nullableString(source.ShowPattern),
		nullableString(source.TitlePattern),
		nullableString(source.AudioHostPattern),
		nullableString(source.BaseURL),
		boolToInt(source.Enabled),
		source.Priority,
		boolToInt(source.RequiresAuth),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	return nil
}

// GetSource fetches a source by identifier.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return source, nil
}

// ListSources returns every registered source, disabled ones included.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

// ListEnabledSources returns active sources in priority order.
func (s *Store) ListEnabledSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE enabled = 1 ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	defer rows.Close()
	return collectSources(rows)
}

// SetSourceEnabled flips a source on or off and records the change. Sources
// are never deleted; attempt history must keep pointing at a real row.
func (s *Store) SetSourceEnabled(ctx context.Context, id string, enabled bool, reason string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sources SET enabled = ?, updated_at = ? WHERE id = ? AND enabled = ?`,
		boolToInt(enabled), formatTime(time.Now()), id, boolToInt(!enabled),
	)
	if err != nil {
		return fmt.Errorf("set source enabled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}
	kind := AuditSourceDisabled
	if enabled {
		kind = AuditSourceEnabled
	}
	return s.AppendAudit(ctx, kind, id, reason)
}

// RecordAttempt appends one immutable resolution-attempt record.
func (s *Store) RecordAttempt(ctx context.Context, attempt *ResolutionAttempt) error {
	if attempt == nil || attempt.EpisodeID == "" || attempt.SourceID == "" {
		return errors.New("attempt requires episode and source ids")
	}
	attemptedAt := attempt.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now()
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO resolution_attempts (episode_id, source_id, attempted_at, outcome, error_class, content_length, correlation_id)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.EpisodeID,
		attempt.SourceID,
		formatTime(attemptedAt),
		string(attempt.Outcome),
		nullableString(attempt.ErrorClass),
		attempt.ContentLength,
		nullableString(attempt.CorrelationID),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// SourceOutcomes returns the most recent attempt outcomes for a source,
// newest first, capped at windowSize. Success rates derive from this window
// so the registry needs no mutable counters.
func (s *Store) SourceOutcomes(ctx context.Context, sourceID string, windowSize int) ([]AttemptOutcome, error) {
	if windowSize <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome FROM resolution_attempts WHERE source_id = ? ORDER BY id DESC LIMIT ?`,
		sourceID, windowSize)
	if err != nil {
		return nil, fmt.Errorf("source outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []AttemptOutcome
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, AttemptOutcome(outcome))
	}
	return outcomes, rows.Err()
}

// AttemptsForEpisode returns the full attempt history of an episode in
// chronological order.
func (s *Store) AttemptsForEpisode(ctx context.Context, episodeID string) ([]*ResolutionAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, episode_id, source_id, attempted_at, outcome, error_class, content_length, correlation_id
         FROM resolution_attempts WHERE episode_id = ? ORDER BY id`,
		episodeID)
	if err != nil {
		return nil, fmt.Errorf("attempts for episode: %w", err)
	}
	defer rows.Close()

	var attempts []*ResolutionAttempt
	for rows.Next() {
		var (
			attempt       ResolutionAttempt
			attemptedRaw  string
			errorClass    sql.NullString
			correlationID sql.NullString
		)
		if err := rows.Scan(&attempt.ID, &attempt.EpisodeID, &attempt.SourceID, &attemptedRaw,
			&attempt.Outcome, &errorClass, &attempt.ContentLength, &correlationID); err != nil {
			return nil, err
		}
		attempt.ErrorClass = errorClass.String
		attempt.CorrelationID = correlationID.String
		if attemptedAt, err := parseTimeString(attemptedRaw); err == nil {
			attempt.AttemptedAt = attemptedAt
		}
		attempts = append(attempts, &attempt)
	}
	return attempts, rows.Err()
}

func collectSources(rows *sql.Rows) ([]*Source, error) {
	var sources []*Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

func scanSource(scanner interface{ Scan(dest ...any) error }) (*Source, error) {
	var (
		id           string
		displayName  string
		pathway      string
		showPattern  sql.NullString
		titlePattern sql.NullString
		hostPattern  sql.NullString
		baseURL      sql.NullString
		enabled      int
		priority     int
		requiresAuth int
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&id, &displayName, &pathway, &showPattern, &titlePattern, &hostPattern,
		&baseURL, &enabled, &priority, &requiresAuth, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	source := &Source{
		ID:               id,
		DisplayName:      displayName,
		Pathway:          Pathway(pathway),
		ShowPattern:      showPattern.String,
		TitlePattern:     titlePattern.String,
		AudioHostPattern: hostPattern.String,
		BaseURL:          baseURL.String,
		Enabled:          enabled != 0,
		Priority:         priority,
		RequiresAuth:     requiresAuth != 0,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		source.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		source.UpdatedAt = updated
	}
	return source, nil
}
