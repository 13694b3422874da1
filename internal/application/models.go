package application

import (
	"time"

	"github.com/example/counselling-scheduler/internal/scheduler"
)

// Counsellor describes a counsellor exposed by the directory.
type Counsellor struct {
	ID          string
	DisplayName string
	Specialty   string
}

// Session is a counselling session between one student and one counsellor.
type Session struct {
	ID                 string
	CounsellorID       string
	StudentID          string
	Date               scheduler.Date
	Start              scheduler.TimeOfDay
	End                scheduler.TimeOfDay
	Type               scheduler.SessionType
	Location           *string
	Status             scheduler.Status
	Confirmed          bool
	Notes              string
	CancellationReason *string
	ReportAvailable    bool
	ReportContent      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Booking returns the calendar footprint used for overlap checks and ordering.
func (s Session) Booking() scheduler.Booking {
	return scheduler.Booking{
		ID:           s.ID,
		CounsellorID: s.CounsellorID,
		Date:         s.Date,
		Start:        s.Start,
		End:          s.End,
		Status:       s.Status,
	}
}

// BookParams captures the request to reserve a slot.
type BookParams struct {
	CounsellorID string
	StudentID    string
	Date         scheduler.Date
	Start        scheduler.TimeOfDay
	Type         scheduler.SessionType
	Location     *string
	Notes        string
}

// RescheduleParams moves an existing session to a new date and start time.
type RescheduleParams struct {
	SessionID string
	Date      scheduler.Date
	Start     scheduler.TimeOfDay
}

// SessionQuery narrows ListSessions. Empty fields are ignored and populated
// fields are combined.
type SessionQuery struct {
	CounsellorID string
	StudentID    string
	Status       scheduler.Status
}

// SessionEventType names a committed lifecycle transition.
type SessionEventType string

const (
	EventSessionBooked      SessionEventType = "session.booked"
	EventSessionConfirmed   SessionEventType = "session.confirmed"
	EventSessionCancelled   SessionEventType = "session.cancelled"
	EventSessionRescheduled SessionEventType = "session.rescheduled"
	EventSessionCompleted   SessionEventType = "session.completed"
)

// SessionEvent is handed to the EventPublisher after a transition commits.
type SessionEvent struct {
	Type         SessionEventType
	SessionID    string
	CounsellorID string
	StudentID    string
	Status       scheduler.Status
	Date         scheduler.Date
	Start        scheduler.TimeOfDay
	OccurredAt   time.Time
}

func newSessionEvent(eventType SessionEventType, session Session, at time.Time) SessionEvent {
	return SessionEvent{
		Type:         eventType,
		SessionID:    session.ID,
		CounsellorID: session.CounsellorID,
		StudentID:    session.StudentID,
		Status:       session.Status,
		Date:         session.Date,
		Start:        session.Start,
		OccurredAt:   at,
	}
}
