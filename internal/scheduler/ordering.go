package scheduler

import (
	"slices"
	"strings"
	"time"
)

type displayGroup int

const (
	groupUpcoming displayGroup = iota
	groupPast
	groupCancelled
)

func groupOf(b Booking, now time.Time, loc *time.Location) displayGroup {
	if b.Status == StatusCancelled {
		return groupCancelled
	}
	if b.StartsAt(loc).After(now) {
		return groupUpcoming
	}
	return groupPast
}

// SortForDisplay orders items in place: upcoming sessions ascending, then past
// sessions ascending, then cancelled sessions with the most recent date first.
// view extracts the calendar footprint of each item.
func SortForDisplay[T any](items []T, view func(T) Booking, now time.Time, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	slices.SortStableFunc(items, func(x, y T) int {
		a, b := view(x), view(y)
		ga, gb := groupOf(a, now, loc), groupOf(b, now, loc)
		if ga != gb {
			return cmpInt(int(ga), int(gb))
		}
		c := compareWhen(a, b)
		if ga == groupCancelled {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func compareWhen(a, b Booking) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmpInt(int(a.Start), int(b.Start))
}
