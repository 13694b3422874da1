package persistence

import "context"

// CounsellorRepository exposes the read side of the counsellor directory plus
// the upsert used when a directory snapshot is synchronised.
type CounsellorRepository interface {
	GetCounsellor(ctx context.Context, id string) (Counsellor, error)
	ListCounsellors(ctx context.Context) ([]Counsellor, error)
	UpsertCounsellor(ctx context.Context, counsellor Counsellor) error
}

// SessionRepository stores counselling sessions. All writes go through
// WithinTransaction so that a precondition check and the write it guards
// observe the same state.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx SessionTx) error) error
}

// SessionTx is the unit of work handed to WithinTransaction callbacks.
type SessionTx interface {
	// LockCounsellorDays serialises writers touching the given calendar days of
	// one counsellor until the transaction ends.
	LockCounsellorDays(ctx context.Context, counsellorID string, dates ...string) error
	// GetSessionForUpdate loads a session and holds it against concurrent writers.
	GetSessionForUpdate(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	CreateSession(ctx context.Context, session Session) error
	UpdateSession(ctx context.Context, session Session) error
}

// Store bundles every repository a backend provides.
type Store interface {
	CounsellorRepository
	SessionRepository
	Ping(ctx context.Context) error
	Close() error
}
