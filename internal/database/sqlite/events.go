package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

// AppendEvent stores an access event
func (s *Store) AppendEvent(ctx context.Context, event database.AccessEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_events (label, subject_kind, event_kind, at, image_ref) VALUES (?, ?, ?, ?, ?)`,
		event.Label, string(event.SubjectKind), string(event.EventKind), event.At.UnixMilli(), event.ImageRef)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first
func (s *Store) ListEvents(ctx context.Context, filter database.EventFilter) ([]database.AccessEvent, error) {
	var (
		where []string
		args  []any
	)
	if !filter.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if filter.SubjectKind != "" {
		where = append(where, "subject_kind = ?")
		args = append(args, string(filter.SubjectKind))
	}
	if filter.Label != "" {
		where = append(where, "label = ?")
		args = append(args, filter.Label)
	}

	query := `SELECT id, label, subject_kind, event_kind, at, image_ref FROM access_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var events []database.AccessEvent
	for rows.Next() {
		var (
			e                  database.AccessEvent
			subject, direction string
			atMS               int64
		)
		if err := rows.Scan(&e.ID, &e.Label, &subject, &direction, &atMS, &e.ImageRef); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		e.SubjectKind = database.SubjectKind(subject)
		e.EventKind = database.EventKind(direction)
		e.At = time.UnixMilli(atMS).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access events: %w", err)
	}
	return events, nil
}

// PurgeEventsBefore deletes events older than cutoff
func (s *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_events WHERE at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge access events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge access events: %w", err)
	}
	return n, nil
}
