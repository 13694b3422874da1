package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/counselling-scheduler/internal/persistence"
)

const sessionColumns = `id, counsellor_id, student_id, session_date, start_time, end_time,
	session_type, location, status, confirmed, notes, cancellation_reason,
	report_available, report_content, created_at, updated_at`

// SessionRepository implements persistence.SessionRepository using SQLite.
// Transactions begin IMMEDIATE (see Config.DSN), so writers are serialised by
// the database lock and the partial unique index backs the overlap check.
type SessionRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	return getSession(ctx, r.pool.DB(), r.mapper, id)
}

// ListSessions returns sessions matching filter ordered by date and start time.
func (r *SessionRepository) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	return listSessions(ctx, r.pool.DB(), r.mapper, filter)
}

// WithinTransaction runs fn inside one write transaction.
func (r *SessionRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.SessionTx) error) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &sessionTx{tx: tx, mapper: r.mapper, now: r.now})
	})
}

type sessionTx struct {
	tx     *sql.Tx
	mapper *ErrorMapper
	now    func() time.Time
}

// LockCounsellorDays is a no-op: BEGIN IMMEDIATE already holds the write lock.
func (t *sessionTx) LockCounsellorDays(ctx context.Context, counsellorID string, dates ...string) error {
	return nil
}

func (t *sessionTx) GetSessionForUpdate(ctx context.Context, id string) (persistence.Session, error) {
	return getSession(ctx, t.tx, t.mapper, id)
}

func (t *sessionTx) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	return listSessions(ctx, t.tx, t.mapper, filter)
}

func (t *sessionTx) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" || session.CounsellorID == "" {
		return persistence.ErrConstraintViolation
	}
	now := t.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID,
		session.CounsellorID,
		session.StudentID,
		session.SessionDate,
		session.StartTime,
		session.EndTime,
		session.SessionType,
		nullString(session.Location),
		session.Status,
		session.Confirmed,
		session.Notes,
		nullString(session.CancellationReason),
		session.ReportAvailable,
		nullString(session.ReportContent),
		formatTimestamp(session.CreatedAt),
		formatTimestamp(session.UpdatedAt),
	)
	if err != nil {
		return t.mapper.MapError(err)
	}
	return nil
}

func (t *sessionTx) UpdateSession(ctx context.Context, session persistence.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = t.now().UTC()
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET session_date = ?, start_time = ?, end_time = ?, session_type = ?, location = ?,
			status = ?, confirmed = ?, notes = ?, cancellation_reason = ?,
			report_available = ?, report_content = ?, updated_at = ?
		WHERE id = ?
	`,
		session.SessionDate,
		session.StartTime,
		session.EndTime,
		session.SessionType,
		nullString(session.Location),
		session.Status,
		session.Confirmed,
		session.Notes,
		nullString(session.CancellationReason),
		session.ReportAvailable,
		nullString(session.ReportContent),
		formatTimestamp(session.UpdatedAt),
		session.ID,
	)
	if err != nil {
		return t.mapper.MapError(err)
	}
	return requireOneRow(result, persistence.ErrNotFound)
}

func getSession(ctx context.Context, q querier, mapper *ErrorMapper, id string) (persistence.Session, error) {
	if id == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return persistence.Session{}, mapper.MapError(err)
	}
	return session, nil
}

func listSessions(ctx context.Context, q querier, mapper *ErrorMapper, filter persistence.SessionFilter) ([]persistence.Session, error) {
	query, args := buildListQuery(filter)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapper.MapError(err)
	}
	defer rows.Close()

	var sessions []persistence.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func buildListQuery(filter persistence.SessionFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.CounsellorID != "" {
		conditions = append(conditions, "counsellor_id = ?")
		args = append(args, filter.CounsellorID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.SessionDate != "" {
		conditions = append(conditions, "session_date = ?")
		args = append(args, filter.SessionDate)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY session_date ASC, start_time ASC, id ASC"
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var session persistence.Session
	var location, cancellationReason, reportContent sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&session.ID,
		&session.CounsellorID,
		&session.StudentID,
		&session.SessionDate,
		&session.StartTime,
		&session.EndTime,
		&session.SessionType,
		&location,
		&session.Status,
		&session.Confirmed,
		&session.Notes,
		&cancellationReason,
		&session.ReportAvailable,
		&reportContent,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Session{}, err
	}

	session.Location = stringPtr(location)
	session.CancellationReason = stringPtr(cancellationReason)
	session.ReportContent = stringPtr(reportContent)
	if session.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Session{}, err
	}
	if session.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Session{}, err
	}
	return session, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
