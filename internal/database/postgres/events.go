package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

// AppendEvent stores an access event.
func (s *Store) AppendEvent(ctx context.Context, event database.AccessEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_events (label, subject_kind, event_kind, at, image_ref)
		VALUES ($1, $2, $3, $4, $5)`,
		event.Label, string(event.SubjectKind), string(event.EventKind), event.At.UTC(), event.ImageRef)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, filter database.EventFilter) ([]database.AccessEvent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.Since.IsZero() {
		where = append(where, "at >= "+arg(filter.Since.UTC()))
	}
	if filter.SubjectKind != "" {
		where = append(where, "subject_kind = "+arg(string(filter.SubjectKind)))
	}
	if filter.Label != "" {
		where = append(where, "label = "+arg(filter.Label))
	}

	query := `SELECT id, label, subject_kind, event_kind, at, image_ref FROM access_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var events []database.AccessEvent
	for rows.Next() {
		var (
			e                  database.AccessEvent
			subject, direction string
		)
		if err := rows.Scan(&e.ID, &e.Label, &subject, &direction, &e.At, &e.ImageRef); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		e.SubjectKind = database.SubjectKind(subject)
		e.EventKind = database.EventKind(direction)
		e.At = e.At.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access events: %w", err)
	}
	return events, nil
}

// PurgeEventsBefore deletes events older than cutoff.
func (s *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.pool.Exec(ctx, `DELETE FROM access_events WHERE at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge access events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge access events: %w", err)
	}
	return n, nil
}
