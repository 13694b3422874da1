package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/counselling-scheduler/internal/persistence"
)

// CounsellorRepository implements persistence.CounsellorRepository using SQLite.
type CounsellorRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

func NewCounsellorRepository(pool *ConnectionPool) *CounsellorRepository {
	return &CounsellorRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

// GetCounsellor retrieves a counsellor by ID.
func (r *CounsellorRepository) GetCounsellor(ctx context.Context, id string) (persistence.Counsellor, error) {
	if id == "" {
		return persistence.Counsellor{}, persistence.ErrNotFound
	}

	row := r.pool.DB().QueryRowContext(ctx, `
		SELECT id, display_name, specialty, created_at, updated_at
		FROM counsellors
		WHERE id = ?
	`, id)

	var counsellor persistence.Counsellor
	var createdAt, updatedAt string
	if err := row.Scan(&counsellor.ID, &counsellor.DisplayName, &counsellor.Specialty, &createdAt, &updatedAt); err != nil {
		return persistence.Counsellor{}, r.mapper.MapError(err)
	}

	var err error
	if counsellor.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Counsellor{}, err
	}
	if counsellor.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Counsellor{}, err
	}
	return counsellor, nil
}

// ListCounsellors returns all counsellors ordered by display name.
func (r *CounsellorRepository) ListCounsellors(ctx context.Context) ([]persistence.Counsellor, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT id, display_name, specialty, created_at, updated_at
		FROM counsellors
		ORDER BY display_name ASC, id ASC
	`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var counsellors []persistence.Counsellor
	for rows.Next() {
		var counsellor persistence.Counsellor
		var createdAt, updatedAt string
		if err := rows.Scan(&counsellor.ID, &counsellor.DisplayName, &counsellor.Specialty, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan counsellor: %w", err)
		}
		if counsellor.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if counsellor.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		counsellors = append(counsellors, counsellor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counsellors: %w", err)
	}
	return counsellors, nil
}

// UpsertCounsellor inserts a counsellor or refreshes its name and specialty.
func (r *CounsellorRepository) UpsertCounsellor(ctx context.Context, counsellor persistence.Counsellor) error {
	if counsellor.ID == "" {
		return persistence.ErrConstraintViolation
	}
	now := formatTimestamp(r.now())

	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO counsellors (id, display_name, specialty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			specialty = excluded.specialty,
			updated_at = excluded.updated_at
	`, counsellor.ID, counsellor.DisplayName, counsellor.Specialty, now, now)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}
