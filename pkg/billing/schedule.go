package billing

import (
	"time"

	"github.com/leaseward/leaseward/pkg/leases"
)

// All schedule arithmetic happens in a single civil timezone (the
// business's operating zone) and every result is normalized to the start
// of the day. Day-level normalization keeps comparisons idempotent and
// avoids drift across daylight-saving boundaries.

// StartOfDay normalizes the instant t to 00:00:00 of its day in loc.
// Use it for real instants (wall clocks, request timestamps); for
// calendar-date values use CivilDate instead.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CivilDate rebuilds the calendar day t names, at midnight in loc,
// without converting the instant. DATE columns scan as midnight in the
// driver session zone and client payloads carry their own zone;
// re-interpreting either instant in a billing zone west of it would
// shift the date back a day.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AddCycles returns the date n cycles after origin, preserving origin's
// day-of-month where possible and clamping to the last valid day of a
// shorter month. Computed directly from origin rather than by repeated
// single-cycle hops, so a clamped month (e.g. Jan 31 -> Feb 28) never
// shifts later periods off the origin's day.
func AddCycles(origin time.Time, cycle leases.Cycle, n int, loc *time.Location) time.Time {
	origin = StartOfDay(origin, loc)
	if n == 0 {
		return origin
	}
	y, m, d := origin.Date()
	months := cycle.Months() * n

	// Anchor at the first of the target month, then clamp the day.
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, loc)
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, loc)
}

// NextDueDate advances anchor by exactly one cycle
func NextDueDate(anchor time.Time, cycle leases.Cycle, loc *time.Location) time.Time {
	return AddCycles(anchor, cycle, 1, loc)
}

// NextOnSchedule returns the earliest date on the cycle schedule anchored
// at start that falls strictly after current. Advancing a billable's
// cursor through this function keeps the cursor monotonically increasing
// and aligned to the cycle boundary relative to the start date, even when
// the cursor itself sits on a clamped (month-end) day.
//
// cycle must be a valid cadence; requests and storage reads both reject
// unknown cycle values before any schedule arithmetic runs.
func NextOnSchedule(start, current time.Time, cycle leases.Cycle, loc *time.Location) time.Time {
	start = StartOfDay(start, loc)
	current = StartOfDay(current, loc)
	if current.Before(start) {
		return start
	}

	// Estimate the period index from elapsed months, then walk to the
	// first schedule point past current. The estimate is off by at most
	// one due to day clamping.
	cy, cm, _ := current.Date()
	sy, sm, _ := start.Date()
	elapsedMonths := (cy-sy)*12 + int(cm-sm)
	n := elapsedMonths / cycle.Months()
	if n < 0 {
		n = 0
	}
	for !AddCycles(start, cycle, n, loc).After(current) {
		n++
	}
	return AddCycles(start, cycle, n, loc)
}

// periodsElapsed returns the number of complete billing periods between
// start and asOf: periods whose end boundary (the next schedule point)
// is at or before asOf. Zero when asOf precedes the end of the first
// period.
func periodsElapsed(start, asOf time.Time, cycle leases.Cycle, loc *time.Location) int {
	start = StartOfDay(start, loc)
	asOf = StartOfDay(asOf, loc)
	if asOf.Before(start) {
		return 0
	}
	n := 0
	for !AddCycles(start, cycle, n+1, loc).After(asOf) {
		n++
	}
	return n
}
