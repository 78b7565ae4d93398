package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

// CreateVisitor stores a new active visitor.
func (s *Store) CreateVisitor(ctx context.Context, token string, embedding []float32, firstSeenAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO visitors (token, embedding, first_seen_at)
		VALUES ($1, $2, $3)
		RETURNING id`, token, pgvector.NewVector(embedding), firstSeenAt.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert visitor: %w", err)
	}
	return id, nil
}

// DeactivateVisitor marks a visitor inactive.
func (s *Store) DeactivateVisitor(ctx context.Context, id int64) error {
	res, err := s.pool.Exec(ctx, `UPDATE visitors SET active = FALSE WHERE id = $1`, id)
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

// ListActiveVisitors returns active visitors ordered by id.
func (s *Store) ListActiveVisitors(ctx context.Context) ([]database.VisitorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, token, embedding, first_seen_at FROM visitors WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query visitors: %w", err)
	}
	defer rows.Close()

	var visitors []database.VisitorRecord
	for rows.Next() {
		var (
			v   database.VisitorRecord
			vec pgvector.Vector
		)
		if err := rows.Scan(&v.ID, &v.Token, &vec, &v.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		v.Embedding = vec.Slice()
		v.FirstSeenAt = v.FirstSeenAt.UTC()
		v.Active = true
		visitors = append(visitors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visitors: %w", err)
	}
	return visitors, nil
}
