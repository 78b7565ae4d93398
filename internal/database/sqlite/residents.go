package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
)

const residentColumns = `id, name, image_path, embedding, active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResident(row rowScanner) (*database.Resident, error) {
	var (
		r         database.Resident
		blob      []byte
		active    int
		createdMS int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.ImagePath, &blob, &active, &createdMS); err != nil {
		return nil, err
	}
	emb, err := database.DecodeEmbedding(blob)
	if err != nil {
		return nil, fmt.Errorf("resident %d: %w", r.ID, err)
	}
	r.Embedding = emb
	r.Active = active != 0
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	return &r, nil
}

// ListActiveResidents returns active residents ordered by id
func (s *Store) ListActiveResidents(ctx context.Context) ([]database.Resident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE active = 1 ORDER BY id`)
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

// GetResidentByName looks a resident up by normalized name, active or not
func (s *Store) GetResidentByName(ctx context.Context, name string) (*database.Resident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+residentColumns+` FROM residents WHERE name_key = ?`, facematch.NameKey(name))
	r, err := scanResident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resident: %w", err)
	}
	return r, nil
}

// CountResidents returns the number of active residents
func (s *Store) CountResidents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM residents WHERE active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count residents: %w", err)
	}
	return n, nil
}

// FindNearestResidents ranks active residents by Euclidean distance with a linear scan
func (s *Store) FindNearestResidents(ctx context.Context, embedding []float32, limit int) ([]database.Resident, []float64, error) {
	residents, err := s.ListActiveResidents(ctx)
	if err != nil {
		return nil, nil, err
	}
	return database.RankResidents(residents, embedding, limit)
}

// EnrollResident inserts a resident, or reactivates a removed one with the same name
func (s *Store) EnrollResident(ctx context.Context, name, imagePath string, embedding []float32) (int64, error) {
	if len(embedding) == 0 {
		return 0, errors.New("embedding is required")
	}
	key := facematch.NameKey(name)
	blob := database.EncodeEmbedding(embedding)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		id     int64
		active int
	)
	err = tx.QueryRowContext(ctx, `SELECT id, active FROM residents WHERE name_key = ?`, key).Scan(&id, &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO residents (name, name_key, image_path, embedding, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
			name, key, imagePath, blob, time.Now().UnixMilli())
		if err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("%w: %s", database.ErrResidentExists, name)
			}
			return 0, fmt.Errorf("insert resident: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("resident id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup resident: %w", err)
	case active != 0:
		return 0, fmt.Errorf("%w: %s", database.ErrResidentExists, name)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE residents SET name = ?, image_path = ?, embedding = ?, active = 1 WHERE id = ?`,
			name, imagePath, blob, id); err != nil {
			return 0, fmt.Errorf("reactivate resident: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit resident: %w", err)
	}
	return id, nil
}

// DeactivateResident logically removes a resident
func (s *Store) DeactivateResident(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE residents SET active = 0 WHERE name_key = ? AND active = 1`, facematch.NameKey(name))
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
