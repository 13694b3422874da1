package scheduler

// Overlaps reports whether the half-open ranges [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 TimeOfDay) bool {
	return s1 < e2 && s2 < e1
}

// Candidate is a proposed placement checked against existing bookings.
// ExcludeID names a booking that must be ignored, typically the session being moved.
type Candidate struct {
	CounsellorID string
	ExcludeID    string
	Date         Date
	Start        TimeOfDay
	End          TimeOfDay
}

// Conflict details an existing booking that collides with a candidate.
type Conflict struct {
	WithSessionID string
	Date          Date
	Start         TimeOfDay
	End           TimeOfDay
}

// DetectConflicts lists every slot-holding booking of the candidate's
// counsellor that overlaps the candidate on the same date.
func DetectConflicts(existing []Booking, candidate Candidate) []Conflict {
	var conflicts []Conflict
	for _, booking := range existing {
		if !collides(booking, candidate) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithSessionID: booking.ID,
			Date:          booking.Date,
			Start:         booking.Start,
			End:           booking.End,
		})
	}
	return conflicts
}

// HasConflict is the boolean form of DetectConflicts.
func HasConflict(existing []Booking, candidate Candidate) bool {
	for _, booking := range existing {
		if collides(booking, candidate) {
			return true
		}
	}
	return false
}

func collides(booking Booking, candidate Candidate) bool {
	if !booking.Status.OccupiesSlot() {
		return false
	}
	if candidate.ExcludeID != "" && booking.ID == candidate.ExcludeID {
		return false
	}
	if candidate.CounsellorID != "" && booking.CounsellorID != candidate.CounsellorID {
		return false
	}
	if booking.Date != candidate.Date {
		return false
	}
	return Overlaps(booking.Start, booking.End, candidate.Start, candidate.End)
}
