package application

import (
	"context"
	"time"

	"github.com/example/counselling-scheduler/internal/scheduler"
)

// CounsellorDirectory exposes counsellor lookups.
type CounsellorDirectory interface {
	GetCounsellor(ctx context.Context, id string) (Counsellor, error)
	ListCounsellors(ctx context.Context) ([]Counsellor, error)
}

// CounsellorWriter accepts directory snapshots from the external directory.
type CounsellorWriter interface {
	UpsertCounsellor(ctx context.Context, counsellor Counsellor) error
}

// SessionStore captures the persistence interactions needed by SessionService.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, query SessionQuery) ([]Session, error)
	// WithinTransaction runs fn atomically. fn may be invoked more than once
	// when the backend retries on lock contention.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx SessionTx) error) error
}

// SessionTx is the transactional view used by lifecycle operations.
type SessionTx interface {
	LockCounsellorDays(ctx context.Context, counsellorID string, days ...scheduler.Date) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListCounsellorDay(ctx context.Context, counsellorID string, day scheduler.Date) ([]Session, error)
	CreateSession(ctx context.Context, session Session) error
	UpdateSession(ctx context.Context, session Session) error
}

// EventPublisher forwards committed lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}

// OperationObserver records per operation outcomes, typically as metrics.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
	ObserveAvailableSlots(count int)
}

type nopPublisher struct{}

func (nopPublisher) PublishSessionEvent(context.Context, SessionEvent) error { return nil }

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}
func (nopObserver) ObserveAvailableSlots(int)                      {}
