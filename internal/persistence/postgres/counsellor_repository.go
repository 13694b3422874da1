package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/counselling-scheduler/internal/persistence"
)

// CounsellorRepository implements persistence.CounsellorRepository on PostgreSQL.
type CounsellorRepository struct {
	db *sql.DB
}

func NewCounsellorRepository(db *sql.DB) *CounsellorRepository {
	return &CounsellorRepository{db: db}
}

func (r *CounsellorRepository) GetCounsellor(ctx context.Context, id string) (persistence.Counsellor, error) {
	if id == "" {
		return persistence.Counsellor{}, persistence.ErrNotFound
	}
	var c persistence.Counsellor
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, specialty, created_at, updated_at
		FROM counsellors
		WHERE id = $1
	`, id).Scan(&c.ID, &c.DisplayName, &c.Specialty, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return persistence.Counsellor{}, mapError(err)
	}
	return c, nil
}

func (r *CounsellorRepository) ListCounsellors(ctx context.Context) ([]persistence.Counsellor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, specialty, created_at, updated_at
		FROM counsellors
		ORDER BY display_name ASC, id ASC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var counsellors []persistence.Counsellor
	for rows.Next() {
		var c persistence.Counsellor
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Specialty, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan counsellor: %w", err)
		}
		counsellors = append(counsellors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counsellors: %w", err)
	}
	return counsellors, nil
}

func (r *CounsellorRepository) UpsertCounsellor(ctx context.Context, counsellor persistence.Counsellor) error {
	if counsellor.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO counsellors (id, display_name, specialty)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			specialty = EXCLUDED.specialty,
			updated_at = NOW()
	`, counsellor.ID, counsellor.DisplayName, counsellor.Specialty)
	if err != nil {
		return mapError(err)
	}
	return nil
}
