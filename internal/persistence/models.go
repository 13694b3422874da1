package persistence

import "time"

// Counsellor is a directory entry mirrored from the external staff directory.
type Counsellor struct {
	ID          string
	DisplayName string
	Specialty   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is a counselling session row. Dates are stored as YYYY-MM-DD and
// times as zero padded HH:MM so lexical and chronological order agree.
type Session struct {
	ID                 string
	CounsellorID       string
	StudentID          string
	SessionDate        string
	StartTime          string
	EndTime            string
	SessionType        string
	Location           *string
	Status             string
	Confirmed          bool
	Notes              string
	CancellationReason *string
	ReportAvailable    bool
	ReportContent      *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SessionFilter narrows session queries. Empty fields are ignored.
type SessionFilter struct {
	CounsellorID string
	StudentID    string
	Status       string
	SessionDate  string
}

// Matches reports whether session satisfies every populated filter field.
func (f SessionFilter) Matches(session Session) bool {
	if f.CounsellorID != "" && session.CounsellorID != f.CounsellorID {
		return false
	}
	if f.StudentID != "" && session.StudentID != f.StudentID {
		return false
	}
	if f.Status != "" && session.Status != f.Status {
		return false
	}
	if f.SessionDate != "" && session.SessionDate != f.SessionDate {
		return false
	}
	return true
}
