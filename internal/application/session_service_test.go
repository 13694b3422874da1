package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/scheduler"
)

// sessionStoreStub keeps sessions in memory and serialises transactions with
// a single mutex. Writes are staged and only applied when fn succeeds.
type sessionStoreStub struct {
	mu       sync.Mutex
	sessions map[string]Session
	lockErr  error
	listErr  error
	locked   []string
}

func newSessionStoreStub(seed ...Session) *sessionStoreStub {
	store := &sessionStoreStub{sessions: make(map[string]Session)}
	for _, session := range seed {
		store.sessions[session.ID] = session
	}
	return store
}

func (s *sessionStoreStub) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *sessionStoreStub) ListSessions(ctx context.Context, query SessionQuery) ([]Session, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, session := range s.sessions {
		if query.CounsellorID != "" && session.CounsellorID != query.CounsellorID {
			continue
		}
		if query.StudentID != "" && session.StudentID != query.StudentID {
			continue
		}
		if query.Status != "" && session.Status != query.Status {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *sessionStoreStub) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx SessionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &sessionTxStub{store: s, staged: make(map[string]Session)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, session := range tx.staged {
		s.sessions[id] = session
	}
	return nil
}

func (s *sessionStoreStub) get(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

type sessionTxStub struct {
	store  *sessionStoreStub
	staged map[string]Session
}

func (t *sessionTxStub) lookup(id string) (Session, bool) {
	if session, ok := t.staged[id]; ok {
		return session, true
	}
	session, ok := t.store.sessions[id]
	return session, ok
}

func (t *sessionTxStub) LockCounsellorDays(ctx context.Context, counsellorID string, days ...scheduler.Date) error {
	if t.store.lockErr != nil {
		return t.store.lockErr
	}
	for _, day := range days {
		t.store.locked = append(t.store.locked, counsellorID+"|"+day.String())
	}
	return nil
}

func (t *sessionTxStub) GetSession(ctx context.Context, id string) (Session, error) {
	session, ok := t.lookup(id)
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (t *sessionTxStub) ListCounsellorDay(ctx context.Context, counsellorID string, day scheduler.Date) ([]Session, error) {
	var out []Session
	for id := range t.store.sessions {
		session, _ := t.lookup(id)
		if session.CounsellorID == counsellorID && session.Date == day {
			out = append(out, session)
		}
	}
	for id, session := range t.staged {
		if _, existed := t.store.sessions[id]; existed {
			continue
		}
		if session.CounsellorID == counsellorID && session.Date == day {
			out = append(out, session)
		}
	}
	return out, nil
}

func (t *sessionTxStub) CreateSession(ctx context.Context, session Session) error {
	if _, exists := t.lookup(session.ID); exists {
		return persistence.ErrDuplicate
	}
	t.staged[session.ID] = session
	return nil
}

func (t *sessionTxStub) UpdateSession(ctx context.Context, session Session) error {
	if _, exists := t.lookup(session.ID); !exists {
		return persistence.ErrNotFound
	}
	t.staged[session.ID] = session
	return nil
}

type counsellorDirectoryStub struct {
	counsellors map[string]Counsellor
	err         error
}

func newCounsellorDirectoryStub(ids ...string) *counsellorDirectoryStub {
	stub := &counsellorDirectoryStub{counsellors: make(map[string]Counsellor)}
	for _, id := range ids {
		stub.counsellors[id] = Counsellor{ID: id, DisplayName: "Counsellor " + id}
	}
	return stub
}

func (c *counsellorDirectoryStub) GetCounsellor(ctx context.Context, id string) (Counsellor, error) {
	if c.err != nil {
		return Counsellor{}, c.err
	}
	counsellor, ok := c.counsellors[id]
	if !ok {
		return Counsellor{}, persistence.ErrNotFound
	}
	return counsellor, nil
}

func (c *counsellorDirectoryStub) ListCounsellors(ctx context.Context) ([]Counsellor, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Counsellor, 0, len(c.counsellors))
	for _, counsellor := range c.counsellors {
		out = append(out, counsellor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type publisherStub struct {
	mu          sync.Mutex
	events      []SessionEvent
	err         error
	cancellable []bool
}

func (p *publisherStub) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.cancellable = append(p.cancellable, ctx.Done() != nil)
	return p.err
}

func (p *publisherStub) types() []SessionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SessionEventType, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type observerStub struct {
	mu       sync.Mutex
	outcomes map[string][]string
	slots    []int
}

func (o *observerStub) ObserveOperation(operation, outcome string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string][]string)
	}
	o.outcomes[operation] = append(o.outcomes[operation], outcome)
}

func (o *observerStub) ObserveAvailableSlots(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slots = append(o.slots, count)
}

type sessionServiceHarness struct {
	service   *SessionService
	store     *sessionStoreStub
	publisher *publisherStub
	observer  *observerStub
	now       time.Time
}

// referenceNow is Monday 2025-01-06 10:00 UTC.
var referenceNow = time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)

func newSessionServiceHarness(t *testing.T, seed ...Session) *sessionServiceHarness {
	t.Helper()
	h := &sessionServiceHarness{
		store:     newSessionStoreStub(seed...),
		publisher: &publisherStub{},
		observer:  &observerStub{},
		now:       referenceNow,
	}
	var seq atomic.Int64
	h.service = NewSessionService(
		h.store,
		newCounsellorDirectoryStub("c1", "c2"),
		func() string { return fmt.Sprintf("session-%d", seq.Add(1)) },
		func() time.Time { return h.now },
		WithEventPublisher(h.publisher),
		WithOperationObserver(h.observer),
	)
	return h
}

func bookParams(date scheduler.Date, hour int) BookParams {
	return BookParams{
		CounsellorID: "c1",
		StudentID:    "student-1",
		Date:         date,
		Start:        scheduler.NewTimeOfDay(hour, 0),
		Type:         scheduler.SessionTypeVideoCall,
	}
}

var (
	tuesday   = scheduler.NewDate(2025, time.January, 7)
	wednesday = scheduler.NewDate(2025, time.January, 8)
)

func TestSessionService_Book(t *testing.T) {
	t.Parallel()

	t.Run("creates scheduled session", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		location := "  Room 4  "
		params := bookParams(wednesday, 14)
		params.Location = &location

		session, err := h.service.Book(context.Background(), params)
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		if session.Status != scheduler.StatusScheduled || session.Confirmed {
			t.Fatalf("expected unconfirmed SCHEDULED session, got %+v", session)
		}
		if session.End != scheduler.NewTimeOfDay(15, 0) {
			t.Fatalf("expected session to last one hour, got end %s", session.End)
		}
		if session.Location == nil || *session.Location != "Room 4" {
			t.Fatalf("expected trimmed location, got %v", session.Location)
		}
		if stored := h.store.get(session.ID); stored.ID != session.ID {
			t.Fatalf("expected session to be persisted")
		}
		if got := h.publisher.types(); len(got) != 1 || got[0] != EventSessionBooked {
			t.Fatalf("expected booked event, got %v", got)
		}
		if got := h.observer.outcomes["book"]; len(got) != 1 || got[0] != "ok" {
			t.Fatalf("expected ok outcome to be observed, got %v", got)
		}
	})

	t.Run("rejects double booking", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()
		if _, err := h.service.Book(ctx, bookParams(tuesday, 9)); err != nil {
			t.Fatalf("first booking failed: %v", err)
		}

		second := bookParams(tuesday, 9)
		second.StudentID = "student-2"
		if _, err := h.service.Book(ctx, second); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("expected ErrSlotUnavailable, got %v", err)
		}
		if got := h.observer.outcomes["book"]; len(got) != 2 || got[1] != "slot_unavailable" {
			t.Fatalf("expected slot_unavailable outcome, got %v", got)
		}
		if got := h.publisher.types(); len(got) != 1 {
			t.Fatalf("expected rejected booking to publish nothing, got %v", got)
		}
	})

	t.Run("rejects partial overlap", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()
		if _, err := h.service.Book(ctx, bookParams(tuesday, 9)); err != nil {
			t.Fatalf("first booking failed: %v", err)
		}
		overlapping := bookParams(tuesday, 9)
		overlapping.Start = scheduler.NewTimeOfDay(9, 30)
		if _, err := h.service.Book(ctx, overlapping); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("expected ErrSlotUnavailable for 09:30, got %v", err)
		}
		adjacent := bookParams(tuesday, 10)
		if _, err := h.service.Book(ctx, adjacent); err != nil {
			t.Fatalf("expected back-to-back booking to succeed, got %v", err)
		}
	})

	t.Run("other counsellor is unaffected", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()
		if _, err := h.service.Book(ctx, bookParams(tuesday, 9)); err != nil {
			t.Fatalf("first booking failed: %v", err)
		}
		other := bookParams(tuesday, 9)
		other.CounsellorID = "c2"
		if _, err := h.service.Book(ctx, other); err != nil {
			t.Fatalf("expected booking with another counsellor to succeed, got %v", err)
		}
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		_, err := h.service.Book(context.Background(), BookParams{
			Start: scheduler.NewTimeOfDay(23, 30),
			Type:  "CARRIER_PIGEON",
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"counsellor_id", "student_id", "session_type", "date"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s error, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("rejects sessions crossing midnight", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		params := bookParams(tuesday, 23)
		params.Start = scheduler.NewTimeOfDay(23, 30)
		_, err := h.service.Book(context.Background(), params)
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["start"] == "" {
			t.Fatalf("expected start validation error, got %v", err)
		}
	})

	t.Run("rejects past start", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		_, err := h.service.Book(context.Background(), bookParams(scheduler.NewDate(2025, time.January, 6), 9))
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError for past start, got %v", err)
		}
	})

	t.Run("unknown counsellor", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		params := bookParams(tuesday, 9)
		params.CounsellorID = "ghost"
		if _, err := h.service.Book(context.Background(), params); !errors.Is(err, ErrCounsellorNotFound) {
			t.Fatalf("expected ErrCounsellorNotFound, got %v", err)
		}
	})

	t.Run("lock failure is unexpected", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		h.store.lockErr = errors.New("lock timeout")
		_, err := h.service.Book(context.Background(), bookParams(tuesday, 9))
		if err == nil || ErrorKind(err) != "unexpected" {
			t.Fatalf("expected unexpected error, got %v", err)
		}
	})
}

func TestSessionService_Book_ConcurrentRequestsForSameSlot(t *testing.T) {
	t.Parallel()

	h := newSessionServiceHarness(t)
	const attempts = 16

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			params := bookParams(tuesday, 12)
			params.StudentID = fmt.Sprintf("student-%d", i)
			_, err := h.service.Book(context.Background(), params)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrSlotUnavailable):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || conflicts.Load() != attempts-1 {
		t.Fatalf("expected exactly one success, got %d successes and %d conflicts", successes.Load(), conflicts.Load())
	}
}

func TestSessionService_Confirm(t *testing.T) {
	t.Parallel()

	t.Run("marks session confirmed", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		booked, err := h.service.Book(context.Background(), bookParams(tuesday, 9))
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		confirmed, err := h.service.Confirm(context.Background(), booked.ID)
		if err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}
		if !confirmed.Confirmed || confirmed.Status != scheduler.StatusConfirmed {
			t.Fatalf("expected CONFIRMED session, got %+v", confirmed)
		}
		if got := h.publisher.types(); len(got) != 2 || got[1] != EventSessionConfirmed {
			t.Fatalf("expected confirmed event, got %v", got)
		}
	})

	t.Run("completed session is left untouched", func(t *testing.T) {
		t.Parallel()
		completed := storedSession("done", tuesday, 9, scheduler.StatusCompleted)
		completed.ReportAvailable = true
		h := newSessionServiceHarness(t, completed)

		got, err := h.service.Confirm(context.Background(), "done")
		if err != nil {
			t.Fatalf("expected confirm on completed session to succeed, got %v", err)
		}
		if got.Status != scheduler.StatusCompleted || got.Confirmed {
			t.Fatalf("expected completed session unchanged, got %+v", got)
		}
		if stored := h.store.get("done"); stored.Status != scheduler.StatusCompleted {
			t.Fatalf("expected stored session unchanged, got %+v", stored)
		}
		if events := h.publisher.types(); len(events) != 0 {
			t.Fatalf("expected no events, got %v", events)
		}
	})

	t.Run("cancelled session is an invalid transition", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t, storedSession("gone", tuesday, 9, scheduler.StatusCancelled))
		if _, err := h.service.Confirm(context.Background(), "gone"); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		if _, err := h.service.Confirm(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestSessionService_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("inside notice window is rejected", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		params := bookParams(scheduler.NewDate(2025, time.January, 6), 20)
		booked, err := h.service.Book(context.Background(), params)
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}

		_, err = h.service.Cancel(context.Background(), booked.ID, "feeling unwell")
		if !errors.Is(err, ErrCancellationWindow) {
			t.Fatalf("expected ErrCancellationWindow, got %v", err)
		}
		if stored := h.store.get(booked.ID); stored.Status != scheduler.StatusScheduled {
			t.Fatalf("expected session to stay SCHEDULED, got %s", stored.Status)
		}
	})

	t.Run("exactly twenty four hours ahead is allowed", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		booked, err := h.service.Book(context.Background(), bookParams(tuesday, 10))
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		if _, err := h.service.Cancel(context.Background(), booked.ID, "clash"); err != nil {
			t.Fatalf("expected cancellation at the boundary to succeed, got %v", err)
		}
	})

	t.Run("frees the slot", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()

		before, err := h.service.ListAvailableSlots(ctx, "c1")
		if err != nil {
			t.Fatalf("ListAvailableSlots returned error: %v", err)
		}
		booked, err := h.service.Book(ctx, bookParams(wednesday, 12))
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		during, _ := h.service.ListAvailableSlots(ctx, "c1")
		if len(during) != len(before)-1 {
			t.Fatalf("expected booked slot to disappear, got %d slots (was %d)", len(during), len(before))
		}

		cancelled, err := h.service.Cancel(ctx, booked.ID, "exam moved")
		if err != nil {
			t.Fatalf("Cancel returned error: %v", err)
		}
		if cancelled.Status != scheduler.StatusCancelled || cancelled.CancellationReason == nil || *cancelled.CancellationReason != "exam moved" {
			t.Fatalf("expected cancelled session with reason, got %+v", cancelled)
		}
		after, _ := h.service.ListAvailableSlots(ctx, "c1")
		if len(after) != len(before) {
			t.Fatalf("expected slot to reappear, got %d slots (want %d)", len(after), len(before))
		}

		rebook := bookParams(wednesday, 12)
		rebook.StudentID = "student-2"
		if _, err := h.service.Book(ctx, rebook); err != nil {
			t.Fatalf("expected cancelled slot to be bookable again, got %v", err)
		}
	})

	t.Run("reason is required", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		_, err := h.service.Cancel(context.Background(), "missing", "   ")
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["reason"] == "" {
			t.Fatalf("expected reason validation error before lookup, got %v", err)
		}
	})

	t.Run("terminal sessions cannot be cancelled", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t,
			storedSession("done", wednesday, 9, scheduler.StatusCompleted),
			storedSession("gone", wednesday, 12, scheduler.StatusCancelled),
		)
		for _, id := range []string{"done", "gone"} {
			if _, err := h.service.Cancel(context.Background(), id, "why not"); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition for %s, got %v", id, err)
			}
		}
	})
}

func TestSessionService_Reschedule(t *testing.T) {
	t.Parallel()

	t.Run("moves session and keeps confirmation", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()
		booked, err := h.service.Book(ctx, bookParams(tuesday, 9))
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		if _, err := h.service.Confirm(ctx, booked.ID); err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}

		moved, err := h.service.Reschedule(ctx, RescheduleParams{SessionID: booked.ID, Date: wednesday, Start: scheduler.NewTimeOfDay(14, 0)})
		if err != nil {
			t.Fatalf("Reschedule returned error: %v", err)
		}
		if moved.Status != scheduler.StatusPendingReschedule || !moved.Confirmed {
			t.Fatalf("expected PENDING_RESCHEDULE with confirmation kept, got %+v", moved)
		}
		if moved.Date != wednesday || moved.End != scheduler.NewTimeOfDay(15, 0) {
			t.Fatalf("expected session moved to Wednesday 14:00-15:00, got %s %s-%s", moved.Date, moved.Start, moved.End)
		}
		if len(h.store.locked) == 0 {
			t.Fatalf("expected counsellor days to be locked")
		}
	})

	t.Run("overlapping its own slot is allowed", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()
		booked, err := h.service.Book(ctx, bookParams(tuesday, 9))
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		_, err = h.service.Reschedule(ctx, RescheduleParams{SessionID: booked.ID, Date: tuesday, Start: scheduler.NewTimeOfDay(9, 30)})
		if err != nil {
			t.Fatalf("expected reschedule within own slot to succeed, got %v", err)
		}
	})

	t.Run("collision leaves session unchanged", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		ctx := context.Background()
		first, err := h.service.Book(ctx, bookParams(tuesday, 9))
		if err != nil {
			t.Fatalf("Book returned error: %v", err)
		}
		if _, err := h.service.Confirm(ctx, first.ID); err != nil {
			t.Fatalf("Confirm returned error: %v", err)
		}
		blockerParams := bookParams(wednesday, 14)
		blockerParams.StudentID = "student-2"
		if _, err := h.service.Book(ctx, blockerParams); err != nil {
			t.Fatalf("Book returned error: %v", err)
		}

		_, err = h.service.Reschedule(ctx, RescheduleParams{SessionID: first.ID, Date: wednesday, Start: scheduler.NewTimeOfDay(14, 0)})
		if !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("expected ErrSlotUnavailable, got %v", err)
		}
		stored := h.store.get(first.ID)
		if stored.Status != scheduler.StatusConfirmed || stored.Date != tuesday || stored.Start != scheduler.NewTimeOfDay(9, 0) {
			t.Fatalf("expected session unchanged, got %+v", stored)
		}
	})

	t.Run("terminal session", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t, storedSession("done", tuesday, 9, scheduler.StatusCompleted))
		_, err := h.service.Reschedule(context.Background(), RescheduleParams{SessionID: "done", Date: wednesday, Start: scheduler.NewTimeOfDay(9, 0)})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("validates placement", func(t *testing.T) {
		t.Parallel()
		h := newSessionServiceHarness(t)
		_, err := h.service.Reschedule(context.Background(), RescheduleParams{SessionID: "any", Start: scheduler.NewTimeOfDay(9, 0)})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["date"] == "" {
			t.Fatalf("expected date validation error, got %v", err)
		}
	})
}

func TestSessionService_Complete(t *testing.T) {
	t.Parallel()

	h := newSessionServiceHarness(t)
	ctx := context.Background()
	booked, err := h.service.Book(ctx, bookParams(tuesday, 9))
	if err != nil {
		t.Fatalf("Book returned error: %v", err)
	}

	completed, err := h.service.Complete(ctx, booked.ID, "Discussed revision plan.")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if completed.Status != scheduler.StatusCompleted || !completed.ReportAvailable || completed.ReportContent != "Discussed revision plan." {
		t.Fatalf("expected completed session with report, got %+v", completed)
	}

	if _, err := h.service.Complete(ctx, booked.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for second completion, got %v", err)
	}
	if _, err := h.service.Cancel(ctx, booked.ID, "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition when cancelling completed session, got %v", err)
	}
	if got, err := h.service.Confirm(ctx, booked.ID); err != nil || got.Status != scheduler.StatusCompleted {
		t.Fatalf("expected confirm to be a no-op on completed session, got %+v, %v", got, err)
	}
}

func TestSessionService_ListAvailableSlots(t *testing.T) {
	t.Parallel()

	h := newSessionServiceHarness(t, storedSession("busy", tuesday, 9, scheduler.StatusScheduled))
	slots, err := h.service.ListAvailableSlots(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListAvailableSlots returned error: %v", err)
	}
	// five weekdays in the horizon with four windows each, minus the booked one
	if len(slots) != 19 {
		t.Fatalf("expected 19 slots, got %d", len(slots))
	}
	if slots[0].Date != tuesday || slots[0].Start != scheduler.NewTimeOfDay(12, 0) {
		t.Fatalf("expected first open slot Tuesday 12:00, got %s", slots[0].Label())
	}
	if len(h.observer.slots) != 1 || h.observer.slots[0] != 19 {
		t.Fatalf("expected slot count to be observed, got %v", h.observer.slots)
	}

	if _, err := h.service.ListAvailableSlots(context.Background(), "ghost"); !errors.Is(err, ErrCounsellorNotFound) {
		t.Fatalf("expected ErrCounsellorNotFound, got %v", err)
	}
}

func TestSessionService_ListSessions(t *testing.T) {
	t.Parallel()

	past := storedSession("past", scheduler.NewDate(2025, time.January, 3), 9, scheduler.StatusCompleted)
	upcomingLate := storedSession("up-late", wednesday, 9, scheduler.StatusScheduled)
	upcomingSoon := storedSession("up-soon", tuesday, 9, scheduler.StatusConfirmed)
	cancelledOld := storedSession("c-old", scheduler.NewDate(2025, time.January, 2), 9, scheduler.StatusCancelled)
	cancelledNew := storedSession("c-new", tuesday, 14, scheduler.StatusCancelled)
	other := storedSession("other", tuesday, 9, scheduler.StatusScheduled)
	other.CounsellorID = "c2"

	h := newSessionServiceHarness(t, past, upcomingLate, upcomingSoon, cancelledOld, cancelledNew, other)

	sessions, err := h.service.ListSessions(context.Background(), SessionQuery{CounsellorID: "c1"})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	want := []string{"up-soon", "up-late", "past", "c-new", "c-old"}
	if len(sessions) != len(want) {
		t.Fatalf("expected %d sessions, got %d", len(want), len(sessions))
	}
	for i, id := range want {
		if sessions[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, sessions[i].ID)
		}
	}

	filtered, err := h.service.ListSessions(context.Background(), SessionQuery{CounsellorID: "c1", Status: scheduler.StatusCancelled})
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 cancelled sessions, got %d", len(filtered))
	}

	_, err = h.service.ListSessions(context.Background(), SessionQuery{Status: "ARCHIVED"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestSessionService_PublishFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()

	h := newSessionServiceHarness(t)
	h.publisher.err = errors.New("broker down")
	if _, err := h.service.Book(context.Background(), bookParams(tuesday, 9)); err != nil {
		t.Fatalf("expected booking to succeed despite publish failure, got %v", err)
	}
}

func TestSessionService_PublishIgnoresRequestCancellation(t *testing.T) {
	t.Parallel()

	h := newSessionServiceHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := h.service.Book(ctx, bookParams(tuesday, 9)); err != nil {
		t.Fatalf("Book returned error: %v", err)
	}

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	if len(h.publisher.cancellable) != 1 || h.publisher.cancellable[0] {
		t.Fatalf("expected event to be published on a context detached from the request, got %v", h.publisher.cancellable)
	}
}

func TestMapSessionRepoError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "not found", in: persistence.ErrNotFound, want: ErrSessionNotFound},
		{name: "duplicate", in: fmt.Errorf("insert: %w", persistence.ErrDuplicate), want: ErrSlotUnavailable},
		{name: "foreign key", in: persistence.ErrForeignKeyViolation, want: ErrCounsellorNotFound},
		{name: "passthrough", in: ErrCancellationWindow, want: ErrCancellationWindow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapSessionRepoError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("mapSessionRepoError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	var vErr *ValidationError
	if !errors.As(mapSessionRepoError(persistence.ErrConstraintViolation), &vErr) {
		t.Fatalf("expected constraint violation to map to ValidationError")
	}
	if mapSessionRepoError(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func storedSession(id string, date scheduler.Date, hour int, status scheduler.Status) Session {
	start := scheduler.NewTimeOfDay(hour, 0)
	return Session{
		ID:           id,
		CounsellorID: "c1",
		StudentID:    "student-1",
		Date:         date,
		Start:        start,
		End:          start.Add(scheduler.SessionDuration),
		Type:         scheduler.SessionTypeInPerson,
		Status:       status,
		Confirmed:    status == scheduler.StatusConfirmed,
		CreatedAt:    referenceNow.Add(-72 * time.Hour),
		UpdatedAt:    referenceNow.Add(-72 * time.Hour),
	}
}
