// Package memory provides a process local persistence backend used for demos
// and tests. Every unit of work holds a single store wide lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/counselling-scheduler/internal/persistence"
)

// Storage keeps counsellors and sessions in maps guarded by one mutex.
type Storage struct {
	mu          sync.RWMutex
	counsellors map[string]persistence.Counsellor
	sessions    map[string]persistence.Session
	now         func() time.Time
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		counsellors: make(map[string]persistence.Counsellor),
		sessions:    make(map[string]persistence.Session),
		now:         time.Now,
	}
}

// Close is a no-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Ping always succeeds for the in-memory implementation.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- CounsellorRepository implementation ---

func (s *Storage) GetCounsellor(ctx context.Context, id string) (persistence.Counsellor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counsellor, ok := s.counsellors[id]
	if !ok {
		return persistence.Counsellor{}, persistence.ErrNotFound
	}
	return counsellor, nil
}

// ListCounsellors returns all counsellors ordered by display name.
func (s *Storage) ListCounsellors(ctx context.Context) ([]persistence.Counsellor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counsellors := make([]persistence.Counsellor, 0, len(s.counsellors))
	for _, counsellor := range s.counsellors {
		counsellors = append(counsellors, counsellor)
	}
	sort.Slice(counsellors, func(i, j int) bool {
		if counsellors[i].DisplayName == counsellors[j].DisplayName {
			return counsellors[i].ID < counsellors[j].ID
		}
		return counsellors[i].DisplayName < counsellors[j].DisplayName
	})
	return counsellors, nil
}

// UpsertCounsellor inserts or replaces a directory entry, keeping the original CreatedAt.
func (s *Storage) UpsertCounsellor(ctx context.Context, counsellor persistence.Counsellor) error {
	if counsellor.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.counsellors[counsellor.ID]; ok {
		counsellor.CreatedAt = existing.CreatedAt
	} else {
		counsellor.CreatedAt = now
	}
	counsellor.UpdatedAt = now
	s.counsellors[counsellor.ID] = counsellor
	return nil
}

// --- SessionRepository implementation ---

func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(id)
}

// ListSessions returns matching sessions ordered by date, start time and id.
func (s *Storage) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSessionsLocked(filter), nil
}

// WithinTransaction runs fn under the write lock. Writes are staged and only
// applied when fn returns nil.
func (s *Storage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx persistence.SessionTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{storage: s, staged: make(map[string]persistence.Session)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, session := range tx.staged {
		s.sessions[id] = cloneSession(session)
	}
	return nil
}

func (s *Storage) getSessionLocked(id string) (persistence.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Storage) listSessionsLocked(filter persistence.SessionFilter) []persistence.Session {
	sessions := make([]persistence.Session, 0)
	for _, session := range s.sessions {
		if filter.Matches(session) {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sortSessions(sessions)
	return sessions
}

// ensureSlotFreeLocked mirrors the partial unique index of the SQL backends.
func ensureSlotFreeLocked(sessions map[string]persistence.Session, candidate persistence.Session) error {
	if candidate.Status == "CANCELLED" {
		return nil
	}
	for id, existing := range sessions {
		if id == candidate.ID || existing.Status == "CANCELLED" {
			continue
		}
		if existing.CounsellorID == candidate.CounsellorID &&
			existing.SessionDate == candidate.SessionDate &&
			existing.StartTime == candidate.StartTime {
			return persistence.ErrDuplicate
		}
	}
	return nil
}

type transaction struct {
	storage *Storage
	staged  map[string]persistence.Session
}

// LockCounsellorDays is satisfied by the store wide lock already held.
func (t *transaction) LockCounsellorDays(ctx context.Context, counsellorID string, dates ...string) error {
	return ctx.Err()
}

func (t *transaction) GetSessionForUpdate(ctx context.Context, id string) (persistence.Session, error) {
	if session, ok := t.staged[id]; ok {
		return cloneSession(session), nil
	}
	return t.storage.getSessionLocked(id)
}

func (t *transaction) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	merged := t.view()
	sessions := make([]persistence.Session, 0)
	for _, session := range merged {
		if filter.Matches(session) {
			sessions = append(sessions, cloneSession(session))
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

func (t *transaction) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" || session.CounsellorID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := t.storage.counsellors[session.CounsellorID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	view := t.view()
	if _, exists := view[session.ID]; exists {
		return persistence.ErrDuplicate
	}
	if err := ensureSlotFreeLocked(view, session); err != nil {
		return err
	}
	now := t.storage.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	t.staged[session.ID] = cloneSession(session)
	return nil
}

func (t *transaction) UpdateSession(ctx context.Context, session persistence.Session) error {
	view := t.view()
	if _, exists := view[session.ID]; !exists {
		return persistence.ErrNotFound
	}
	if err := ensureSlotFreeLocked(view, session); err != nil {
		return err
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = t.storage.now().UTC()
	}
	t.staged[session.ID] = cloneSession(session)
	return nil
}

// view overlays staged writes on committed state.
func (t *transaction) view() map[string]persistence.Session {
	merged := make(map[string]persistence.Session, len(t.storage.sessions)+len(t.staged))
	for id, session := range t.storage.sessions {
		merged[id] = session
	}
	for id, session := range t.staged {
		merged[id] = session
	}
	return merged
}

func sortSessions(sessions []persistence.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.SessionDate != b.SessionDate {
			return a.SessionDate < b.SessionDate
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

func cloneSession(session persistence.Session) persistence.Session {
	session.Location = cloneStringPtr(session.Location)
	session.CancellationReason = cloneStringPtr(session.CancellationReason)
	session.ReportContent = cloneStringPtr(session.ReportContent)
	return session
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
