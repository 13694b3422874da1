package scheduler

import "time"

// SessionDuration is the fixed length of every counselling session.
const SessionDuration = time.Hour

// Status is the lifecycle state of a counselling session.
type Status string

const (
	StatusScheduled         Status = "SCHEDULED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusPendingReschedule Status = "PENDING_RESCHEDULE"
	StatusCancelled         Status = "CANCELLED"
	StatusCompleted         Status = "COMPLETED"
)

// ParseStatus converts a stored or requested value into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(value)
	switch status {
	case StatusScheduled, StatusConfirmed, StatusPendingReschedule, StatusCancelled, StatusCompleted:
		return status, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// OccupiesSlot reports whether a session in status s blocks its time range.
func (s Status) OccupiesSlot() bool {
	return s != StatusCancelled
}

// SessionType is the delivery channel of a session.
type SessionType string

const (
	SessionTypeVideoCall SessionType = "VIDEO_CALL"
	SessionTypeInPerson  SessionType = "IN_PERSON"
	SessionTypePhone     SessionType = "PHONE"
)

// ParseSessionType converts a stored or requested value into a SessionType.
func ParseSessionType(value string) (SessionType, bool) {
	kind := SessionType(value)
	switch kind {
	case SessionTypeVideoCall, SessionTypeInPerson, SessionTypePhone:
		return kind, true
	}
	return "", false
}

// Booking is the calendar footprint of a session: who it belongs to, when it
// runs and whether it still holds its time range.
type Booking struct {
	ID           string
	CounsellorID string
	Date         Date
	Start        TimeOfDay
	End          TimeOfDay
	Status       Status
}

// StartsAt returns the instant the booking begins in loc.
func (b Booking) StartsAt(loc *time.Location) time.Time {
	return b.Date.At(b.Start, loc)
}
