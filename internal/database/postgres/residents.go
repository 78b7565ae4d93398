package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
)

const residentColumns = `id, name, image_path, embedding, active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResident(row rowScanner, extra ...any) (*database.Resident, error) {
	var (
		r   database.Resident
		vec pgvector.Vector
	)
	dest := append([]any{&r.ID, &r.Name, &r.ImagePath, &vec, &r.Active, &r.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Embedding = vec.Slice()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// ListActiveResidents returns active residents ordered by id.
func (s *Store) ListActiveResidents(ctx context.Context) ([]database.Resident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query residents: %w", err)
	}
	defer rows.Close()

	var residents []database.Resident
	for rows.Next() {
		r, err := scanResident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resident: %w", err)
		}
		residents = append(residents, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate residents: %w", err)
	}
	return residents, nil
}

// GetResidentByName looks a resident up by normalized name, active or not.
func (s *Store) GetResidentByName(ctx context.Context, name string) (*database.Resident, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE name_key = $1`, facematch.NameKey(name))
	r, err := scanResident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resident: %w", err)
	}
	return r, nil
}

// CountResidents returns the number of active residents.
func (s *Store) CountResidents(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM residents WHERE active").Scan(&count); err != nil {
		return 0, fmt.Errorf("count residents: %w", err)
	}
	return count, nil
}

// FindNearestResidents lets pgvector rank active residents by L2 distance.
func (s *Store) FindNearestResidents(ctx context.Context, embedding []float32, limit int) ([]database.Resident, []float64, error) {
	if limit <= 0 {
		limit = 1
	}
	query := `
		SELECT ` + residentColumns + `, embedding <-> $1::vector AS distance
		FROM residents
		WHERE active AND vector_dims(embedding) = $2
		ORDER BY distance, id
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), len(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query nearest residents: %w", err)
	}
	defer rows.Close()

	var (
		residents []database.Resident
		distances []float64
	)
	for rows.Next() {
		var dist float64
		r, err := scanResident(rows, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("scan resident: %w", err)
		}
		residents = append(residents, *r)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate residents: %w", err)
	}
	return residents, distances, nil
}

// EnrollResident inserts a resident, or reactivates a removed one with the same name.
func (s *Store) EnrollResident(ctx context.Context, name, imagePath string, embedding []float32) (int64, error) {
	if len(embedding) == 0 {
		return 0, errors.New("embedding is required")
	}
	key := facematch.NameKey(name)
	vec := pgvector.NewVector(embedding)

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var (
		id     int64
		active bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, active FROM residents WHERE name_key = $1 FOR UPDATE`, key).Scan(&id, &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO residents (name, name_key, image_path, embedding)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, name, key, imagePath, vec).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("%w: %s", database.ErrResidentExists, name)
			}
			return 0, fmt.Errorf("insert resident: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup resident: %w", err)
	case active:
		return 0, fmt.Errorf("%w: %s", database.ErrResidentExists, name)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE residents SET name = $1, image_path = $2, embedding = $3, active = TRUE WHERE id = $4`,
			name, imagePath, vec, id); err != nil {
			return 0, fmt.Errorf("reactivate resident: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit resident: %w", err)
	}
	return id, nil
}

// DeactivateResident logically removes a resident.
func (s *Store) DeactivateResident(ctx context.Context, name string) error {
	res, err := s.pool.Exec(ctx,
		`UPDATE residents SET active = FALSE WHERE name_key = $1 AND active`, facematch.NameKey(name))
	if err != nil {
		return fmt.Errorf("deactivate resident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate resident: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", database.ErrResidentNotFound, name)
	}
	return nil
}
