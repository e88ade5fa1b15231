package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const showColumns = "id, display_name, feed_url, pathway, pathway_reason, pathway_assigned_at, created_at, updated_at"

// UpsertShow creates a show on first contact or refreshes its display name
// and feed URL. The assigned pathway is never touched here; a later partial
// failure must not silently overwrite it.
func (s *Store) UpsertShow(ctx context.Context, id, displayName, feedURL string) (*Show, error) {
	if id == "" {
		return nil, errors.New("show id is required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO shows (id, display_name, feed_url, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             display_name = excluded.display_name,
             feed_url = COALESCE(NULLIF(excluded.feed_url, ''), shows.feed_url),
             updated_at = excluded.updated_at`,
		id,
		displayName,
		nullableString(feedURL),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert show: %w", err)
	}
	return s.GetShow(ctx, id)
}

// GetShow fetches a show by identifier.
func (s *Store) GetShow(ctx context.Context, id string) (*Show, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id)
	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get show: %w", err)
	}
	return show, nil
}

// ListShows returns all shows ordered by identifier.
func (s *Store) ListShows(ctx context.Context) ([]*Show, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+showColumns+` FROM shows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer rows.Close()

	var shows []*Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, rows.Err()
}

// ShowsWithoutPathway returns shows awaiting their first pathway assignment.
func (s *Store) ShowsWithoutPathway(ctx context.Context) ([]*Show, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+showColumns+` FROM shows WHERE pathway IS NULL OR pathway = '' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("shows without pathway: %w", err)
	}
	defer rows.Close()

	var shows []*Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, rows.Err()
}

// SetShowPathway records a pathway assignment and an audit event. A change of
// an already-assigned pathway affects every open episode of the show, so the
// audit trail distinguishes first assignment from reassignment.
func (s *Store) SetShowPathway(ctx context.Context, id string, pathway Pathway, reason string) error {
	show, err := s.GetShow(ctx, id)
	if err != nil {
		return err
	}
	if show == nil {
		return fmt.Errorf("show %q not found", id)
	}

	now := time.Now()
	_, err = s.execWithRetry(
		ctx,
		`UPDATE shows
         SET pathway = ?, pathway_reason = ?, pathway_assigned_at = ?, updated_at = ?
         WHERE id = ?`,
		string(pathway),
		reason,
		formatTime(now),
		formatTime(now),
		id,
	)
	if err != nil {
		return fmt.Errorf("set show pathway: %w", err)
	}

	kind := AuditPathwayAssigned
	detail := fmt.Sprintf("pathway %s: %s", pathway, reason)
	if show.Pathway != "" && show.Pathway != pathway {
		kind = AuditPathwayReassigned
		detail = fmt.Sprintf("pathway %s -> %s: %s", show.Pathway, pathway, reason)
	}
	return s.AppendAudit(ctx, kind, id, detail)
}

func scanShow(scanner interface{ Scan(dest ...any) error }) (*Show, error) {
	var (
		id            string
		displayName   string
		feedURL       sql.NullString
		pathway       sql.NullString
		pathwayReason sql.NullString
		assignedRaw   sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(&id, &displayName, &feedURL, &pathway, &pathwayReason, &assignedRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	show := &Show{
		ID:            id,
		DisplayName:   displayName,
		FeedURL:       feedURL.String,
		Pathway:       Pathway(pathway.String),
		PathwayReason: pathwayReason.String,
	}
	show.PathwayAssignedAt = parseTimePtr(assignedRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		show.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		show.UpdatedAt = updated
	}
	return show, nil
}
