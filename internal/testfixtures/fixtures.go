package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/counselling-scheduler/internal/application"
	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/scheduler"
)

var (
	counsellorCounter uint64
	sessionCounter    uint64
)

// referenceTime is a Monday morning so that the following days are bookable weekdays.
var referenceTime = time.Date(2025, time.January, 6, 10, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical "now" used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate returns the calendar day of ReferenceTime shifted by offset days.
func ReferenceDate(offset int) scheduler.Date {
	return scheduler.DateOf(referenceTime, time.UTC).AddDays(offset)
}

// ----------------------------- Counsellor fixtures -----------------------------

// CounsellorFixture is a deterministic directory entry.
type CounsellorFixture struct {
	ID          string
	DisplayName string
	Specialty   string
}

// CounsellorOption configures the generated counsellor fixture.
type CounsellorOption func(*CounsellorFixture)

// NewCounsellorFixture returns a counsellor with a unique id.
func NewCounsellorFixture(opts ...CounsellorOption) CounsellorFixture {
	idx := atomic.AddUint64(&counsellorCounter, 1)
	fixture := CounsellorFixture{
		ID:          fmt.Sprintf("counsellor-%03d", idx),
		DisplayName: fmt.Sprintf("Counsellor %03d", idx),
		Specialty:   "General wellbeing",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithCounsellorID(id string) CounsellorOption {
	return func(f *CounsellorFixture) {
		f.ID = id
	}
}

func WithCounsellorName(name string) CounsellorOption {
	return func(f *CounsellorFixture) {
		f.DisplayName = name
	}
}

// Application returns the fixture as an application.Counsellor value.
func (f CounsellorFixture) Application() application.Counsellor {
	return application.Counsellor{ID: f.ID, DisplayName: f.DisplayName, Specialty: f.Specialty}
}

// Persistence returns the fixture as a persistence.Counsellor value.
func (f CounsellorFixture) Persistence() persistence.Counsellor {
	return persistence.Counsellor{ID: f.ID, DisplayName: f.DisplayName, Specialty: f.Specialty}
}

// ----------------------------- Session fixtures -----------------------------

// SessionFixture is a deterministic one hour session. By default it is a
// scheduled video call on the day after ReferenceTime at 09:00.
type SessionFixture struct {
	ID                 string
	CounsellorID       string
	StudentID          string
	Date               scheduler.Date
	Start              scheduler.TimeOfDay
	Type               scheduler.SessionType
	Location           *string
	Status             scheduler.Status
	Confirmed          bool
	Notes              string
	CancellationReason *string
	ReportContent      *string
	CreatedAt          time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a session fixture with a unique id.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:           fmt.Sprintf("session-%03d", idx),
		CounsellorID: "counsellor-001",
		StudentID:    fmt.Sprintf("student-%03d", idx),
		Date:         ReferenceDate(1),
		Start:        scheduler.NewTimeOfDay(9, 0),
		Type:         scheduler.SessionTypeVideoCall,
		Status:       scheduler.StatusScheduled,
		CreatedAt:    referenceTime.Add(-time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

func WithSessionCounsellor(id string) SessionOption {
	return func(f *SessionFixture) {
		f.CounsellorID = id
	}
}

func WithSessionStudent(id string) SessionOption {
	return func(f *SessionFixture) {
		f.StudentID = id
	}
}

// WithSessionAt places the session on date at hour:minute.
func WithSessionAt(date scheduler.Date, hour, minute int) SessionOption {
	return func(f *SessionFixture) {
		f.Date = date
		f.Start = scheduler.NewTimeOfDay(hour, minute)
	}
}

// WithSessionStatus sets the status. CONFIRMED also sets the confirmed flag.
func WithSessionStatus(status scheduler.Status) SessionOption {
	return func(f *SessionFixture) {
		f.Status = status
		if status == scheduler.StatusConfirmed {
			f.Confirmed = true
		}
	}
}

func WithSessionType(sessionType scheduler.SessionType, location string) SessionOption {
	return func(f *SessionFixture) {
		f.Type = sessionType
		if location != "" {
			f.Location = &location
		}
	}
}

func WithCancellationReason(reason string) SessionOption {
	return func(f *SessionFixture) {
		f.Status = scheduler.StatusCancelled
		f.CancellationReason = &reason
	}
}

func WithReport(content string) SessionOption {
	return func(f *SessionFixture) {
		f.Status = scheduler.StatusCompleted
		f.ReportContent = &content
	}
}

// End returns the exclusive end of the session.
func (f SessionFixture) End() scheduler.TimeOfDay {
	return f.Start.Add(scheduler.SessionDuration)
}

// Application returns the fixture as an application.Session value.
func (f SessionFixture) Application() application.Session {
	session := application.Session{
		ID:                 f.ID,
		CounsellorID:       f.CounsellorID,
		StudentID:          f.StudentID,
		Date:               f.Date,
		Start:              f.Start,
		End:                f.End(),
		Type:               f.Type,
		Location:           cloneString(f.Location),
		Status:             f.Status,
		Confirmed:          f.Confirmed,
		Notes:              f.Notes,
		CancellationReason: cloneString(f.CancellationReason),
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.CreatedAt,
	}
	if f.ReportContent != nil {
		session.ReportAvailable = true
		session.ReportContent = *f.ReportContent
	}
	return session
}

// Persistence returns the fixture as a persistence.Session row.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:                 f.ID,
		CounsellorID:       f.CounsellorID,
		StudentID:          f.StudentID,
		SessionDate:        f.Date.String(),
		StartTime:          f.Start.String(),
		EndTime:            f.End().String(),
		SessionType:        string(f.Type),
		Location:           cloneString(f.Location),
		Status:             string(f.Status),
		Confirmed:          f.Confirmed,
		Notes:              f.Notes,
		CancellationReason: cloneString(f.CancellationReason),
		ReportAvailable:    f.ReportContent != nil,
		ReportContent:      cloneString(f.ReportContent),
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.CreatedAt,
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
