package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendAudit records one administrative or automatic event.
func (s *Store) AppendAudit(ctx context.Context, kind, subjectID, detail string) error {
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO audit_events (occurred_at, kind, subject_id, detail) VALUES (?, ?, ?, ?)`,
		formatTime(time.Now()), kind, subjectID, nullableString(detail),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAuditEvents returns the newest events first, capped at limit.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurred_at, kind, subject_id, detail
         FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			event       AuditEvent
			occurredRaw string
			detail      sql.NullString
		)
		if err := rows.Scan(&event.ID, &occurredRaw, &event.Kind, &event.SubjectID, &detail); err != nil {
			return nil, err
		}
		event.Detail = detail.String
		if occurred, err := parseTimeString(occurredRaw); err == nil {
			event.OccurredAt = occurred
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
