package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/example/counselling-scheduler/internal/persistence"
)

const sessionColumns = `id, counsellor_id, student_id, to_char(session_date, 'YYYY-MM-DD'), start_time, end_time,
	session_type, location, status, confirmed, notes, cancellation_reason,
	report_available, report_content, created_at, updated_at`

// SessionRepository implements persistence.SessionRepository on PostgreSQL.
// Writers serialise per counsellor day through transaction scoped advisory
// locks; the partial unique index on active slots is the final guard.
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	return getSession(ctx, r.db, id, false)
}

func (r *SessionRepository) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	return listSessions(ctx, r.db, filter)
}

// WithinTransaction runs fn in a READ COMMITTED transaction, committing when fn returns nil.
func (r *SessionRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.SessionTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &sessionTx{tx: tx, now: r.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type sessionTx struct {
	tx  *sql.Tx
	now func() time.Time
}

// LockCounsellorDays takes one advisory lock per counsellor day in sorted
// order so two transactions touching the same days cannot deadlock.
func (t *sessionTx) LockCounsellorDays(ctx context.Context, counsellorID string, dates ...string) error {
	keys := make([]string, 0, len(dates))
	for _, date := range dates {
		keys = append(keys, counsellorID+"|"+date)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, key := range keys {
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("failed to lock calendar %s: %w", key, err)
		}
	}
	return nil
}

func (t *sessionTx) GetSessionForUpdate(ctx context.Context, id string) (persistence.Session, error) {
	return getSession(ctx, t.tx, id, true)
}

func (t *sessionTx) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	return listSessions(ctx, t.tx, filter)
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
		INSERT INTO sessions (id, counsellor_id, student_id, session_date, start_time, end_time,
			session_type, location, status, confirmed, notes, cancellation_reason,
			report_available, report_content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
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
		session.CreatedAt,
		session.UpdatedAt,
	)
	return mapError(err)
}

func (t *sessionTx) UpdateSession(ctx context.Context, session persistence.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = t.now().UTC()
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET session_date = $1, start_time = $2, end_time = $3, session_type = $4, location = $5,
			status = $6, confirmed = $7, notes = $8, cancellation_reason = $9,
			report_available = $10, report_content = $11, updated_at = $12
		WHERE id = $13
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
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		return mapError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func getSession(ctx context.Context, q querier, id string, forUpdate bool) (persistence.Session, error) {
	if id == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	session, err := scanSession(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return persistence.Session{}, mapError(err)
	}
	return session, nil
}

func listSessions(ctx context.Context, q querier, filter persistence.SessionFilter) ([]persistence.Session, error) {
	query, args := buildListQuery(filter)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
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
	add := func(column, value string) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.CounsellorID != "" {
		add("counsellor_id", filter.CounsellorID)
	}
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.SessionDate != "" {
		add("session_date", filter.SessionDate)
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
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return persistence.Session{}, err
	}
	session.Location = stringPtr(location)
	session.CancellationReason = stringPtr(cancellationReason)
	session.ReportContent = stringPtr(reportContent)
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
