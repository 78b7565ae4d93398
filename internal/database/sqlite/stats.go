package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

// Summary returns general statistics about the access log
func (s *Store) Summary(ctx context.Context, now time.Time) (*database.Summary, error) {
	var (
		summary         database.Summary
		firstMS, lastMS   sql.NullInt64
	)
	y, m, d := now.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
	weekStart := now.Add(-7 * 24 * time.Hour).UnixMilli()

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM residents WHERE active = 1),
			(SELECT COUNT(*) FROM visitors WHERE active = 1),
			COUNT(*),
			COALESCE(SUM(CASE WHEN at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN at >= ? THEN 1 ELSE 0 END), 0),
			MIN(at),
			MAX(at)
		FROM access_events`, dayStart, weekStart).Scan(
		&summary.ActiveResidents,
		&summary.ActiveVisitors,
		&summary.TotalEvents,
		&summary.EventsToday,
		&summary.EventsLastWeek,
		&firstMS,
		&lastMS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if firstMS.Valid {
		t := time.UnixMilli(firstMS.Int64).UTC()
		summary.FirstEventAt = &t
	}
	if lastMS.Valid {
		t := time.UnixMilli(lastMS.Int64).UTC()
		summary.LastEventAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_kind, event_kind, COUNT(*)
		FROM access_events
		GROUP BY subject_kind, event_kind
		ORDER BY subject_kind, event_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to get counts by kind: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kc                 database.KindCount
			subject, direction string
		)
		if err := rows.Scan(&subject, &direction, &kc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		kc.SubjectKind = database.SubjectKind(subject)
		kc.EventKind = database.EventKind(direction)
		summary.ByKind = append(summary.ByKind, kc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kind counts: %w", err)
	}
	return &summary, nil
}

// PeakHours returns event counts per UTC hour of day, busiest first
func (s *Store) PeakHours(ctx context.Context) ([]database.HourCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			CAST(strftime('%H', at / 1000, 'unixepoch') AS INTEGER) AS hour,
			COUNT(*) AS total,
			SUM(CASE WHEN subject_kind = 'resident' THEN 1 ELSE 0 END),
			SUM(CASE WHEN subject_kind = 'visitor' THEN 1 ELSE 0 END)
		FROM access_events
		GROUP BY hour
		ORDER BY total DESC, hour ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get peak hours: %w", err)
	}
	defer rows.Close()

	var hours []database.HourCount
	for rows.Next() {
		var hc database.HourCount
		if err := rows.Scan(&hc.Hour, &hc.Total, &hc.Residents, &hc.Visitors); err != nil {
			return nil, fmt.Errorf("failed to scan hour count: %w", err)
		}
		hours = append(hours, hc)
	}
	return hours, rows.Err()
}

// VisitsPerDay returns per-day counts since the given time, newest first
func (s *Store) VisitsPerDay(ctx context.Context, since time.Time) ([]database.DayCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			strftime('%Y-%m-%d', at / 1000, 'unixepoch') AS day,
			COUNT(*),
			SUM(CASE WHEN subject_kind = 'resident' THEN 1 ELSE 0 END),
			SUM(CASE WHEN subject_kind = 'visitor' THEN 1 ELSE 0 END),
			COUNT(DISTINCT label)
		FROM access_events
		WHERE at >= ?
		GROUP BY day
		ORDER BY day DESC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to get visits per day: %w", err)
	}
	defer rows.Close()

	var days []database.DayCount
	for rows.Next() {
		var dc database.DayCount
		if err := rows.Scan(&dc.Day, &dc.Total, &dc.Residents, &dc.Visitors, &dc.DistinctLabels); err != nil {
			return nil, fmt.Errorf("failed to scan day count: %w", err)
		}
		days = append(days, dc)
	}
	return days, rows.Err()
}

// TopResidents returns the residents with the most events
func (s *Store) TopResidents(ctx context.Context, limit int) ([]database.ResidentActivity, error) {
	query := `
		SELECT label, COUNT(*) AS total, MAX(at)
		FROM access_events
		WHERE subject_kind = 'resident'
		GROUP BY label
		ORDER BY total DESC, label ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get top residents: %w", err)
	}
	defer rows.Close()

	var out []database.ResidentActivity
	for rows.Next() {
		var (
			a      database.ResidentActivity
			lastMS int64
		)
		if err := rows.Scan(&a.Name, &a.Total, &lastMS); err != nil {
			return nil, fmt.Errorf("failed to scan resident activity: %w", err)
		}
		a.LastAt = time.UnixMilli(lastMS).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
