package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/scheduler"
)

// DefaultCancellationNotice is the minimum notice required to cancel a session.
const DefaultCancellationNotice = 24 * time.Hour

// SessionService drives sessions through their lifecycle. It is the only writer of sessions.
type SessionService struct {
	sessions    SessionStore
	counsellors CounsellorDirectory
	events      EventPublisher
	observer    OperationObserver
	slots       scheduler.SlotGenerator
	location    *time.Location
	notice      time.Duration
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// SessionServiceOption configures optional collaborators of SessionService.
type SessionServiceOption func(*SessionService)

// WithLocation sets the zone in which session dates and times are interpreted.
func WithLocation(loc *time.Location) SessionServiceOption {
	return func(s *SessionService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithHorizonDays sets how many calendar days ListAvailableSlots scans.
func WithHorizonDays(days int) SessionServiceOption {
	return func(s *SessionService) {
		if days > 0 {
			s.slots.HorizonDays = days
		}
	}
}

// WithEventPublisher sets the sink for committed lifecycle events.
func WithEventPublisher(publisher EventPublisher) SessionServiceOption {
	return func(s *SessionService) {
		if publisher != nil {
			s.events = publisher
		}
	}
}

// WithOperationObserver sets the metrics sink.
func WithOperationObserver(observer OperationObserver) SessionServiceOption {
	return func(s *SessionService) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// NewSessionService constructs a session service with the provided dependencies.
func NewSessionService(sessions SessionStore, counsellors CounsellorDirectory, idGenerator func() string, now func() time.Time, opts ...SessionServiceOption) *SessionService {
	return NewSessionServiceWithLogger(sessions, counsellors, idGenerator, now, nil, opts...)
}

// NewSessionServiceWithLogger constructs a session service with a specified logger.
func NewSessionServiceWithLogger(sessions SessionStore, counsellors CounsellorDirectory, idGenerator func() string, now func() time.Time, logger *slog.Logger, opts ...SessionServiceOption) *SessionService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	s := &SessionService{
		sessions:    sessions,
		counsellors: counsellors,
		events:      nopPublisher{},
		observer:    nopObserver{},
		slots:       scheduler.NewSlotGenerator(scheduler.DefaultHorizonDays, time.UTC),
		location:    time.UTC,
		notice:      DefaultCancellationNotice,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots.Location = s.location
	return s
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionService", operation, attrs...)
}

// track logs and records the outcome of an operation. Call it deferred with a
// pointer to the named error result.
func (s *SessionService) track(ctx context.Context, logger *slog.Logger, operation string, started time.Time, errp *error, success func() (string, []any)) {
	err := *errp
	outcome := "ok"
	if err != nil {
		outcome = ErrorKind(err)
		if outcome == "unexpected" {
			logger.ErrorContext(ctx, "session operation failed", "error", err, "error_kind", outcome)
		} else {
			logger.WarnContext(ctx, "session operation rejected", "error", err, "error_kind", outcome)
		}
	} else if success != nil {
		msg, attrs := success()
		logger.InfoContext(ctx, msg, attrs...)
	}
	s.observer.ObserveOperation(operation, outcome, time.Since(started))
}

// ListAvailableSlots returns the open one hour windows of a counsellor over the horizon.
func (s *SessionService) ListAvailableSlots(ctx context.Context, counsellorID string) (slots []scheduler.Slot, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "ListAvailableSlots", "counsellor_id", counsellorID)
	defer s.track(ctx, logger, "list_slots", started, &err, func() (string, []any) {
		return "slots listed", []any{"count", len(slots)}
	})

	if err = s.ensureCounsellor(ctx, counsellorID); err != nil {
		return
	}

	var existing []Session
	existing, err = s.sessions.ListSessions(ctx, SessionQuery{CounsellorID: counsellorID})
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}

	bookings := make([]scheduler.Booking, 0, len(existing))
	for _, session := range existing {
		bookings = append(bookings, session.Booking())
	}
	slots = s.slots.Generate(counsellorID, bookings, s.now())
	s.observer.ObserveAvailableSlots(len(slots))
	return
}

// Book reserves a one hour session in status SCHEDULED.
func (s *SessionService) Book(ctx context.Context, params BookParams) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Book",
		"counsellor_id", params.CounsellorID,
		"date", params.Date.String(),
		"start", params.Start.String(),
	)
	defer s.track(ctx, logger, "book", started, &err, func() (string, []any) {
		return "session booked", []any{"session_id", session.ID}
	})

	vErr := &ValidationError{}
	if strings.TrimSpace(params.CounsellorID) == "" {
		vErr.add("counsellor_id", "counsellor is required")
	}
	if strings.TrimSpace(params.StudentID) == "" {
		vErr.add("student_id", "student is required")
	}
	if _, ok := scheduler.ParseSessionType(string(params.Type)); !ok {
		vErr.add("session_type", "session type must be one of VIDEO_CALL, IN_PERSON, PHONE")
	}
	vErr.merge(s.validatePlacement(params.Date, params.Start))
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.ensureCounsellor(ctx, params.CounsellorID); err != nil {
		return
	}

	now := s.now()
	candidate := Session{
		ID:           s.idGenerator(),
		CounsellorID: params.CounsellorID,
		StudentID:    strings.TrimSpace(params.StudentID),
		Date:         params.Date,
		Start:        params.Start,
		End:          params.Start.Add(scheduler.SessionDuration),
		Type:         params.Type,
		Location:     normalizeOptionalString(params.Location),
		Status:       scheduler.StatusScheduled,
		Notes:        params.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.sessions.WithinTransaction(ctx, func(ctx context.Context, tx SessionTx) error {
		if err := s.ensureSlotFree(ctx, tx, candidate); err != nil {
			return err
		}
		return tx.CreateSession(ctx, candidate)
	})
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}

	session = candidate
	s.publish(ctx, logger, EventSessionBooked, session)
	return
}

// Confirm marks a session as confirmed. Confirming a completed session leaves
// it untouched; confirming a cancelled one is an invalid transition.
func (s *SessionService) Confirm(ctx context.Context, sessionID string) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Confirm", "session_id", sessionID)
	defer s.track(ctx, logger, "confirm", started, &err, func() (string, []any) {
		return "session confirmed", []any{"status", session.Status}
	})

	changed := false
	err = s.sessions.WithinTransaction(ctx, func(ctx context.Context, tx SessionTx) error {
		changed = false
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		switch current.Status {
		case scheduler.StatusCompleted:
			session = current
			return nil
		case scheduler.StatusCancelled:
			return &TransitionError{Operation: "confirm", From: current.Status}
		}

		current.Confirmed = true
		current.Status = scheduler.StatusConfirmed
		current.UpdatedAt = s.now()
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		session = current
		changed = true
		return nil
	})
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}

	if changed {
		s.publish(ctx, logger, EventSessionConfirmed, session)
	}
	return
}

// Cancel cancels a session given at least the configured notice before it starts.
func (s *SessionService) Cancel(ctx context.Context, sessionID, reason string) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Cancel", "session_id", sessionID)
	defer s.track(ctx, logger, "cancel", started, &err, func() (string, []any) {
		return "session cancelled", nil
	})

	reason = strings.TrimSpace(reason)
	if reason == "" {
		err = NewValidationError("reason", "reason is required")
		return
	}

	err = s.sessions.WithinTransaction(ctx, func(ctx context.Context, tx SessionTx) error {
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return &TransitionError{Operation: "cancel", From: current.Status}
		}
		now := s.now()
		if current.Date.At(current.Start, s.location).Sub(now) < s.notice {
			return ErrCancellationWindow
		}

		current.Status = scheduler.StatusCancelled
		current.CancellationReason = &reason
		current.UpdatedAt = now
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		session = current
		return nil
	})
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}

	s.publish(ctx, logger, EventSessionCancelled, session)
	return
}

// Reschedule moves a session to a new date and start time and marks it PENDING_RESCHEDULE.
// The confirmed flag is preserved.
func (s *SessionService) Reschedule(ctx context.Context, params RescheduleParams) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Reschedule",
		"session_id", params.SessionID,
		"date", params.Date.String(),
		"start", params.Start.String(),
	)
	defer s.track(ctx, logger, "reschedule", started, &err, func() (string, []any) {
		return "session rescheduled", nil
	})

	if vErr := s.validatePlacement(params.Date, params.Start); vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.sessions.WithinTransaction(ctx, func(ctx context.Context, tx SessionTx) error {
		current, err := tx.GetSession(ctx, params.SessionID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return &TransitionError{Operation: "reschedule", From: current.Status}
		}
		if err := tx.LockCounsellorDays(ctx, current.CounsellorID, current.Date, params.Date); err != nil {
			return err
		}

		moved := current
		moved.Date = params.Date
		moved.Start = params.Start
		moved.End = params.Start.Add(scheduler.SessionDuration)
		moved.Status = scheduler.StatusPendingReschedule
		moved.UpdatedAt = s.now()

		if err := s.ensureSlotFree(ctx, tx, moved); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, moved); err != nil {
			return err
		}
		session = moved
		return nil
	})
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}

	s.publish(ctx, logger, EventSessionRescheduled, session)
	return
}

// Complete closes a session and attaches the counsellor's report.
func (s *SessionService) Complete(ctx context.Context, sessionID, reportContent string) (session Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Complete", "session_id", sessionID)
	defer s.track(ctx, logger, "complete", started, &err, func() (string, []any) {
		return "session completed", nil
	})

	err = s.sessions.WithinTransaction(ctx, func(ctx context.Context, tx SessionTx) error {
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return &TransitionError{Operation: "complete", From: current.Status}
		}

		current.Status = scheduler.StatusCompleted
		current.ReportAvailable = true
		current.ReportContent = reportContent
		current.UpdatedAt = s.now()
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		session = current
		return nil
	})
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}

	s.publish(ctx, logger, EventSessionCompleted, session)
	return
}

// GetSession returns a single session.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if s == nil {
		return Session{}, fmt.Errorf("SessionService is nil")
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, mapSessionRepoError(err)
	}
	return session, nil
}

// ListSessions returns sessions ordered for display: upcoming first, then
// past, then cancelled with the most recent first.
func (s *SessionService) ListSessions(ctx context.Context, query SessionQuery) (sessions []Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "ListSessions")
	defer s.track(ctx, logger, "list_sessions", started, &err, nil)

	if query.Status != "" {
		if _, ok := scheduler.ParseStatus(string(query.Status)); !ok {
			err = NewValidationError("status", "status is not recognised")
			return
		}
	}

	sessions, err = s.sessions.ListSessions(ctx, query)
	if err != nil {
		err = mapSessionRepoError(err)
		return
	}
	scheduler.SortForDisplay(sessions, Session.Booking, s.now(), s.location)
	return
}

// Location returns the zone in which dates and times are interpreted.
func (s *SessionService) Location() *time.Location {
	return s.location
}

func (s *SessionService) ensureCounsellor(ctx context.Context, counsellorID string) error {
	if strings.TrimSpace(counsellorID) == "" {
		return ErrCounsellorNotFound
	}
	if s.counsellors == nil {
		return fmt.Errorf("counsellor directory not configured")
	}
	if _, err := s.counsellors.GetCounsellor(ctx, counsellorID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, ErrCounsellorNotFound) {
			return ErrCounsellorNotFound
		}
		return err
	}
	return nil
}

// ensureSlotFree locks the candidate's day and rejects it when any other
// slot-holding session of the counsellor overlaps it.
func (s *SessionService) ensureSlotFree(ctx context.Context, tx SessionTx, candidate Session) error {
	if err := tx.LockCounsellorDays(ctx, candidate.CounsellorID, candidate.Date); err != nil {
		return err
	}
	sameDay, err := tx.ListCounsellorDay(ctx, candidate.CounsellorID, candidate.Date)
	if err != nil {
		return err
	}
	bookings := make([]scheduler.Booking, 0, len(sameDay))
	for _, existing := range sameDay {
		bookings = append(bookings, existing.Booking())
	}
	if scheduler.HasConflict(bookings, scheduler.Candidate{
		CounsellorID: candidate.CounsellorID,
		ExcludeID:    candidate.ID,
		Date:         candidate.Date,
		Start:        candidate.Start,
		End:          candidate.End,
	}) {
		return ErrSlotUnavailable
	}
	return nil
}

func (s *SessionService) validatePlacement(date scheduler.Date, start scheduler.TimeOfDay) *ValidationError {
	vErr := &ValidationError{}
	if date.IsZero() {
		vErr.add("date", "date is required")
	}
	if !start.Valid() {
		vErr.add("start", "start must be a time of day")
	} else if start.Add(scheduler.SessionDuration) > scheduler.EndOfDay {
		vErr.add("start", "session must end by midnight")
	}
	if !vErr.HasErrors() && !date.At(start, s.location).After(s.now()) {
		vErr.add("start", "start must be in the future")
	}
	return vErr
}

// publish hands a committed transition to the event sink. A client that
// disconnects after commit must not cancel the hand-off.
func (s *SessionService) publish(ctx context.Context, logger *slog.Logger, eventType SessionEventType, session Session) {
	event := newSessionEvent(eventType, session, s.now())
	if err := s.events.PublishSessionEvent(context.WithoutCancel(ctx), event); err != nil {
		logger.WarnContext(ctx, "failed to publish session event", "event", string(eventType), "error", err)
	}
}

func mapSessionRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrCancellationWindow),
		errors.Is(err, ErrCounsellorNotFound):
		return err
	case errors.Is(err, persistence.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrSlotUnavailable
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return ErrCounsellorNotFound
	case errors.Is(err, persistence.ErrConstraintViolation):
		return NewValidationError("session", "session violates a storage constraint")
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return err
	}
	return fmt.Errorf("session store: %w", err)
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
