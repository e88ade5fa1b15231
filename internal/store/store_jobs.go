package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, episode_id, audio_path, staged_at, acked_at, completed_at, output_path, " +
	"restage_count, archived_at, created_at, updated_at"

// ErrJobExists is returned when an episode already has a live transcription job.
var ErrJobExists = errors.New("live transcription job already exists")

// CreateJob opens a transcription job for an episode. The partial unique
// index on live jobs enforces at most one in-flight job per episode, which
// keeps repeated hand-off polls idempotent.
func (s *Store) CreateJob(ctx context.Context, episodeID, audioPath string) (*TranscriptionJob, error) {
	if episodeID == "" {
		return nil, errors.New("episode id is required")
	}
	id := uuid.NewString()
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO transcription_jobs (id, episode_id, audio_path, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id, episodeID, audioPath, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrJobExists
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*TranscriptionJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transcription_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// LiveJobForEpisode returns the episode's unarchived job, if any.
func (s *Store) LiveJobForEpisode(ctx context.Context, episodeID string) (*TranscriptionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs WHERE episode_id = ? AND archived_at IS NULL`,
		episodeID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("live job for episode: %w", err)
	}
	return job, nil
}

// ListLiveJobs returns all unarchived jobs ordered by creation time.
func (s *Store) ListLiveJobs(ctx context.Context) ([]*TranscriptionJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs WHERE archived_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list live jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*TranscriptionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkJobStaged records that the audio file was placed in the worker inbound
// directory.
func (s *Store) MarkJobStaged(ctx context.Context, id string) error {
	return s.updateJob(ctx, `UPDATE transcription_jobs SET staged_at = ?, updated_at = ? WHERE id = ?`, id)
}

// MarkJobAcked records that the worker picked up the staged audio.
func (s *Store) MarkJobAcked(ctx context.Context, id string) error {
	return s.updateJob(ctx, `UPDATE transcription_jobs SET acked_at = ?, updated_at = ? WHERE id = ?`, id)
}

// MarkJobCompleted records the imported transcript location.
func (s *Store) MarkJobCompleted(ctx context.Context, id, outputPath string) error {
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`UPDATE transcription_jobs SET completed_at = ?, output_path = ?, updated_at = ? WHERE id = ?`,
		now, outputPath, now, id,
	)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// IncrementRestage bumps the restage counter after re-copying stale audio.
func (s *Store) IncrementRestage(ctx context.Context, id string) (int, error) {
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`UPDATE transcription_jobs SET restage_count = restage_count + 1, staged_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return 0, fmt.Errorf("increment restage: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT restage_count FROM transcription_jobs WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read restage count: %w", err)
	}
	return count, nil
}

// ArchiveJob closes out a job, freeing the episode for a future job if one
// is ever needed again.
func (s *Store) ArchiveJob(ctx context.Context, id string) error {
	return s.updateJob(ctx, `UPDATE transcription_jobs SET archived_at = ?, updated_at = ? WHERE id = ?`, id)
}

func (s *Store) updateJob(ctx context.Context, query, id string) error {
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx, query, now, now, id); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint violation")
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*TranscriptionJob, error) {
	var (
		id           string
		episodeID    string
		audioPath    string
		stagedRaw    sql.NullString
		ackedRaw     sql.NullString
		completedRaw sql.NullString
		outputPath   sql.NullString
		restageCount int
		archivedRaw  sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&id, &episodeID, &audioPath, &stagedRaw, &ackedRaw, &completedRaw,
		&outputPath, &restageCount, &archivedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	job := &TranscriptionJob{
		ID:           id,
		EpisodeID:    episodeID,
		AudioPath:    audioPath,
		OutputPath:   outputPath.String,
		RestageCount: restageCount,
	}
	job.StagedAt = parseTimePtr(stagedRaw)
	job.AckedAt = parseTimePtr(ackedRaw)
	job.CompletedAt = parseTimePtr(completedRaw)
	job.ArchivedAt = parseTimePtr(archivedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
