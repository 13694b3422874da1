package scheduler

import (
	"fmt"
	"time"
)

// DefaultHorizonDays is the number of calendar days scanned for open slots.
const DefaultHorizonDays = 7

// DefaultWindows are the daily start times offered to students.
var DefaultWindows = []TimeOfDay{
	NewTimeOfDay(9, 0),
	NewTimeOfDay(12, 0),
	NewTimeOfDay(14, 0),
	NewTimeOfDay(16, 0),
}

// Slot is a bookable one hour window.
type Slot struct {
	Date  Date
	Start TimeOfDay
	End   TimeOfDay
}

// Label renders the slot for display, e.g. "Mon 06 Jan 2025, 09:00-10:00".
func (s Slot) Label() string {
	day := s.Date.At(0, time.UTC)
	return fmt.Sprintf("%s, %s-%s", day.Format("Mon 02 Jan 2006"), s.Start, s.End)
}

// SlotGenerator computes open slots over a rolling horizon of weekdays.
type SlotGenerator struct {
	Windows     []TimeOfDay
	HorizonDays int
	Location    *time.Location
}

// NewSlotGenerator returns a generator with the default windows.
// Non-positive horizons fall back to DefaultHorizonDays and a nil location means UTC.
func NewSlotGenerator(horizonDays int, loc *time.Location) SlotGenerator {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return SlotGenerator{Windows: DefaultWindows, HorizonDays: horizonDays, Location: loc}
}

// Generate lists the counsellor's open slots starting tomorrow relative to now.
// Weekends are skipped but still count towards the horizon. A window is
// dropped when any slot-holding booking of the counsellor overlaps it.
func (g SlotGenerator) Generate(counsellorID string, existing []Booking, now time.Time) []Slot {
	windows := g.Windows
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}

	busy := make(map[Date][]Booking)
	for _, booking := range existing {
		if booking.CounsellorID != counsellorID || !booking.Status.OccupiesSlot() {
			continue
		}
		busy[booking.Date] = append(busy[booking.Date], booking)
	}

	today := DateOf(now, loc)
	slots := make([]Slot, 0, g.HorizonDays*len(windows))
	for offset := 1; offset <= g.HorizonDays; offset++ {
		day := today.AddDays(offset)
		if day.IsWeekend() {
			continue
		}
		for _, start := range windows {
			end := start.Add(SessionDuration)
			candidate := Candidate{CounsellorID: counsellorID, Date: day, Start: start, End: end}
			if HasConflict(busy[day], candidate) {
				continue
			}
			slots = append(slots, Slot{Date: day, Start: start, End: end})
		}
	}
	return slots
}

// GenerateSlots is a convenience wrapper around SlotGenerator using the default windows.
func GenerateSlots(counsellorID string, existing []Booking, now time.Time, horizonDays int, loc *time.Location) []Slot {
	return NewSlotGenerator(horizonDays, loc).Generate(counsellorID, existing, now)
}
