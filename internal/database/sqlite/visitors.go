package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

// CreateVisitor stores a new active visitor
func (s *Store) CreateVisitor(ctx context.Context, token string, embedding []float32, firstSeenAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO visitors (token, embedding, first_seen_at, active) VALUES (?, ?, ?, 1)`,
		token, database.EncodeEmbedding(embedding), firstSeenAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert visitor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("visitor id: %w", err)
	}
	return id, nil
}

// DeactivateVisitor marks a visitor inactive
func (s *Store) DeactivateVisitor(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE visitors SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate visitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate visitor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", database.ErrVisitorNotFound, id)
	}
	return nil
}

// ListActiveVisitors returns active visitors ordered by id
func (s *Store) ListActiveVisitors(ctx context.Context) ([]database.VisitorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, embedding, first_seen_at FROM visitors WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query visitors: %w", err)
	}
	defer rows.Close()

	var visitors []database.VisitorRecord
	for rows.Next() {
		var (
			v       database.VisitorRecord
			blob    []byte
			firstMS int64
		)
		if err := rows.Scan(&v.ID, &v.Token, &blob, &firstMS); err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		if v.Embedding, err = database.DecodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("visitor %d: %w", v.ID, err)
		}
		v.FirstSeenAt = time.UnixMilli(firstMS).UTC()
		v.Active = true
		visitors = append(visitors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visitors: %w", err)
	}
	return visitors, nil
}
