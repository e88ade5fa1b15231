package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const episodeColumns = "id, show_id, title, publish_time, audio_url, audio_local_path, state, " +
	"attempt_count, last_source_id, last_error_class, transcript_path, resolved_source_id, " +
	"next_attempt_at, claimed_by, last_heartbeat, resolved_at, created_at, updated_at"

// UpsertEpisode is the idempotent inbound interface: calling it twice with
// identical data produces no duplicate record and no state change. Metadata
// fields refresh; state, attempts, and transcript reference are untouched.
func (s *Store) UpsertEpisode(ctx context.Context, showID, id, title string, publishTime *time.Time, audioURL, audioLocalPath string) (*Episode, error) {
	if id == "" {
		return nil, errors.New("episode id is required")
	}
	if showID == "" {
		return nil, errors.New("show id is required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO episodes (id, show_id, title, publish_time, audio_url, audio_local_path, state, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             title = excluded.title,
             publish_time = COALESCE(excluded.publish_time, episodes.publish_time),
             audio_url = COALESCE(NULLIF(excluded.audio_url, ''), episodes.audio_url),
             audio_local_path = COALESCE(NULLIF(excluded.audio_local_path, ''), episodes.audio_local_path),
             updated_at = excluded.updated_at`,
		id,
		showID,
		title,
		nullableTime(publishTime),
		nullableString(audioURL),
		nullableString(audioLocalPath),
		StateUnassigned,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert episode: %w", err)
	}
	return s.GetEpisode(ctx, id)
}

// GetEpisode fetches an episode by identifier.
func (s *Store) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return episode, nil
}

// EpisodesByState returns episodes matching a state ordered by creation time.
func (s *Store) EpisodesByState(ctx context.Context, state State, limit int) ([]*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE state = ? ORDER BY created_at`
	args := []any{state}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("episodes by state: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

// EpisodesForShow returns all episodes of a show ordered by publish time.
func (s *Store) EpisodesForShow(ctx context.Context, showID string) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE show_id = ? ORDER BY publish_time, id`, showID)
	if err != nil {
		return nil, fmt.Errorf("episodes for show: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

// MarkPathwayAssigned moves an unassigned episode into the claimable pool.
func (s *Store) MarkPathwayAssigned(ctx context.Context, id string) error {
	return s.transition(ctx,
		`UPDATE episodes SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		StatePathwayAssigned, formatTime(time.Now()), id, StateUnassigned)
}

// ClaimBatch atomically claims up to limit episodes that are ready for a
// resolution attempt: pathway_assigned, or retry_wait whose backoff expired.
// Each claim is a compare-and-set on the state read, so two workers racing
// for the same episode leave exactly one holding it.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*Episode, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state FROM episodes
         WHERE state = ? OR (state = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
         ORDER BY updated_at
         LIMIT ?`,
		StatePathwayAssigned, StateRetryWait, formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}
	type candidate struct {
		id    string
		state State
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.state); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*Episode
	for _, c := range candidates {
		if err := s.ClaimEpisode(ctx, c.id, c.state, workerID); err != nil {
			if errors.Is(err, ErrStateConflict) {
				continue
			}
			return claimed, err
		}
		episode, err := s.GetEpisode(ctx, c.id)
		if err != nil {
			return claimed, err
		}
		if episode != nil {
			claimed = append(claimed, episode)
		}
	}
	return claimed, nil
}

// ClaimEpisode performs a single conditional claim. It succeeds only when the
// episode is still in the state the caller read.
func (s *Store) ClaimEpisode(ctx context.Context, id string, expected State, workerID string) error {
	now := formatTime(time.Now())
	return s.transition(ctx,
		`UPDATE episodes
         SET state = ?, claimed_by = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateAttempting, workerID, now, now, id, expected)
}

// UpdateHeartbeat refreshes the claim heartbeat for an in-flight episode.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	ctx = ensureContext(ctx)
	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE episodes SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
			now, now, id)
		return err
	}); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleClaims returns episodes whose worker stopped heartbeating to
// the claimable pool. No partial state from the abandoned attempt survives.
func (s *Store) ReclaimStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes
         SET state = ?, claimed_by = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE state = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatePathwayAssigned,
		formatTime(time.Now()),
		StateAttempting,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return res.RowsAffected()
}

// MarkFetched records the resolved transcript and finishes the episode.
// Legal from attempting (online resolution) and needs_transcription (worker
// import). The transcript reference is set exactly once.
func (s *Store) MarkFetched(ctx context.Context, id string, from State, sourceID, transcriptPath string) error {
	if from != StateAttempting && from != StateNeedsTranscription {
		return fmt.Errorf("%w: cannot fetch from %s", ErrStateConflict, from)
	}
	now := formatTime(time.Now())
	return s.transition(ctx,
		`UPDATE episodes
         SET state = ?, transcript_path = ?, resolved_source_id = ?, last_source_id = ?,
             last_error_class = NULL, resolved_at = ?, claimed_by = NULL, last_heartbeat = NULL,
             next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND state = ? AND transcript_path IS NULL`,
		StateFetched, transcriptPath, sourceID, sourceID, now, now, id, from)
}

// MarkRetryWait schedules another pass through the fallback chain.
func (s *Store) MarkRetryWait(ctx context.Context, id, lastSourceID, errorClass string, nextAttempt time.Time) error {
	now := formatTime(time.Now())
	return s.transition(ctx,
		`UPDATE episodes
         SET state = ?, attempt_count = attempt_count + 1, last_source_id = ?, last_error_class = ?,
             next_attempt_at = ?, claimed_by = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateRetryWait, nullableString(lastSourceID), errorClass, formatTime(nextAttempt), now, id, StateAttempting)
}

// MarkNeedsTranscription hands the episode to the transcription coordinator.
func (s *Store) MarkNeedsTranscription(ctx context.Context, id, lastSourceID string) error {
	now := formatTime(time.Now())
	return s.transition(ctx,
		`UPDATE episodes
         SET state = ?, last_source_id = ?, claimed_by = NULL, last_heartbeat = NULL,
             next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateNeedsTranscription, nullableString(lastSourceID), now, id, StateAttempting)
}

// MarkFailedPermanent parks the episode for triage. Legal from any
// non-terminal state; the stored error class drives the status surface.
func (s *Store) MarkFailedPermanent(ctx context.Context, id string, from State, errorClass string) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: cannot fail from %s", ErrStateConflict, from)
	}
	now := formatTime(time.Now())
	return s.transition(ctx,
		`UPDATE episodes
         SET state = ?, last_error_class = ?, claimed_by = NULL, last_heartbeat = NULL,
             next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateFailedPermanent, errorClass, now, id, from)
}

// ReopenEpisode is the administrative re-open of a permanently failed
// episode back into the claimable pool.
func (s *Store) ReopenEpisode(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	if err := s.transition(ctx,
		`UPDATE episodes
         SET state = ?, attempt_count = 0, last_error_class = NULL, next_attempt_at = NULL, updated_at = ?
         WHERE id = ? AND state = ?`,
		StatePathwayAssigned, now, id, StateFailedPermanent); err != nil {
		return err
	}
	return s.AppendAudit(ctx, AuditEpisodeReopened, id, "administrative re-open")
}

// SweepReopen re-opens a bounded number of permanently failed episodes per
// show so the weekly sweep can re-probe sources whose health changed.
func (s *Store) SweepReopen(ctx context.Context, perShow int) (int64, error) {
	if perShow <= 0 {
		return 0, nil
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes
         SET state = ?, attempt_count = 0, last_error_class = NULL, next_attempt_at = NULL, updated_at = ?
         WHERE id IN (
             SELECT id FROM (
                 SELECT id, ROW_NUMBER() OVER (PARTITION BY show_id ORDER BY updated_at) AS rn
                 FROM episodes WHERE state = ?
             ) WHERE rn <= ?
         )`,
		StatePathwayAssigned, now, StateFailedPermanent, perShow,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep reopen: %w", err)
	}
	reopened, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if reopened > 0 {
		_ = s.AppendAudit(ctx, AuditSweepReopened, "sweep", fmt.Sprintf("re-opened %d episodes", reopened))
	}
	return reopened, nil
}

// CountResolvedSince returns how many episodes reached fetched after cutoff.
// The watchdog uses this as its throughput signal.
func (s *Store) CountResolvedSince(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM episodes WHERE resolved_at IS NOT NULL AND resolved_at >= ?`,
		formatTime(cutoff)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count resolved: %w", err)
	}
	return count, nil
}

// CountOpen returns the number of episodes still progressing through the pipeline.
func (s *Store) CountOpen(ctx context.Context) (int, error) {
	placeholders := makePlaceholders(len(openStates))
	args := make([]any, len(openStates))
	for i, state := range openStates {
		args[i] = state
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM episodes WHERE state IN (`+placeholders+`)`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open: %w", err)
	}
	return count, nil
}

// StatusReport aggregates episode counts per state, pathway, and show.
func (s *Store) StatusReport(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{
		PerState:   make(map[State]int),
		PerPathway: make(map[Pathway]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM episodes GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("status per state: %w", err)
	}
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			rows.Close()
			return nil, err
		}
		report.PerState[state] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT COALESCE(shows.pathway, ''), COUNT(1)
         FROM episodes JOIN shows ON shows.id = episodes.show_id
         GROUP BY shows.pathway`)
	if err != nil {
		return nil, fmt.Errorf("status per pathway: %w", err)
	}
	for rows.Next() {
		var pathway string
		var count int
		if err := rows.Scan(&pathway, &count); err != nil {
			rows.Close()
			return nil, err
		}
		report.PerPathway[Pathway(pathway)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT show_id, state, COUNT(1) FROM episodes GROUP BY show_id, state ORDER BY show_id`)
	if err != nil {
		return nil, fmt.Errorf("status per show: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry ShowStateCount
		if err := rows.Scan(&entry.ShowID, &entry.State, &entry.Count); err != nil {
			return nil, err
		}
		report.PerShow = append(report.PerShow, entry)
	}
	return report, rows.Err()
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("episode transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStateConflict
	}
	return nil
}

func collectEpisodes(rows *sql.Rows) ([]*Episode, error) {
	var episodes []*Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	return episodes, rows.Err()
}

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*Episode, error) {
	var (
		id             string
		showID         string
		title          string
		publishRaw     sql.NullString
		audioURL       sql.NullString
		audioLocal     sql.NullString
		stateStr       string
		attemptCount   int
		lastSourceID   sql.NullString
		lastErrorClass sql.NullString
		transcriptPath sql.NullString
		resolvedSource sql.NullString
		nextAttemptRaw sql.NullString
		claimedBy      sql.NullString
		heartbeatRaw   sql.NullString
		resolvedRaw    sql.NullString
		createdRaw     string
		updatedRaw     string
	)

	if err := scanner.Scan(
		&id, &showID, &title, &publishRaw, &audioURL, &audioLocal, &stateStr,
		&attemptCount, &lastSourceID, &lastErrorClass, &transcriptPath, &resolvedSource,
		&nextAttemptRaw, &claimedBy, &heartbeatRaw, &resolvedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	episode := &Episode{
		ID:               id,
		ShowID:           showID,
		Title:            title,
		AudioURL:         audioURL.String,
		AudioLocalPath:   audioLocal.String,
		State:            State(stateStr),
		AttemptCount:     attemptCount,
		LastSourceID:     lastSourceID.String,
		LastErrorClass:   lastErrorClass.String,
		TranscriptPath:   transcriptPath.String,
		ResolvedSourceID: resolvedSource.String,
		ClaimedBy:        claimedBy.String,
	}
	episode.PublishTime = parseTimePtr(publishRaw)
	episode.NextAttemptAt = parseTimePtr(nextAttemptRaw)
	episode.LastHeartbeat = parseTimePtr(heartbeatRaw)
	episode.ResolvedAt = parseTimePtr(resolvedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		episode.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		episode.UpdatedAt = updated
	}
	return episode, nil
}
