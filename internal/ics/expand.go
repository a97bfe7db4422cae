package ics

import (
	"iter"
	"math"
	"time"

	"pawcal/internal/apperr"
	"pawcal/internal/recurrence"
)

// MaxOccurrenceIterations caps how many candidates Occurrences inspects for
// a single rule, regardless of the window size.
const MaxOccurrenceIterations = 10000

// maxYear keeps occurrences representable as YYYYMMDD in calendar output.
const maxYear = 9999

var fixedStep = map[recurrence.Unit]time.Duration{
	recurrence.Hours: time.Hour,
	recurrence.Days:  24 * time.Hour,
	recurrence.Weeks: 7 * 24 * time.Hour,
}

// NextOccurrence returns the occurrence afterCount steps after anchor.
//
//   - once: anchor itself.
//   - hours/days/weeks: fixed-length arithmetic, no calendar irregularities.
//   - months/years: calendar shift from the anchor, clamping the day of month
//     to the last valid day of the target month (Jan 31 + 1 month = Feb 28/29).
func NextOccurrence(anchor time.Time, rule recurrence.Rule, afterCount int) (time.Time, error) {
	if anchor.IsZero() {
		return time.Time{}, apperr.InvalidAnchor("anchor", "anchor date-time is missing")
	}
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}
	if afterCount < 0 {
		return time.Time{}, apperr.InvalidRecurrence("after_count", "must not be negative, got %d", afterCount)
	}
	return nthOccurrence(anchor, rule, afterCount)
}

// nthOccurrence assumes validated inputs.
func nthOccurrence(anchor time.Time, rule recurrence.Rule, k int) (time.Time, error) {
	if rule.IsOnce() || k == 0 {
		return anchor, nil
	}

	steps, ok := mulInt(k, rule.Interval)
	if !ok {
		return time.Time{}, apperr.InvalidRecurrence("interval", "step %d x %d overflows", k, rule.Interval)
	}

	var out time.Time
	switch rule.Unit {
	case recurrence.Hours, recurrence.Days, recurrence.Weeks:
		unit := fixedStep[rule.Unit]
		if int64(steps) > math.MaxInt64/int64(unit) {
			return time.Time{}, apperr.InvalidRecurrence("interval", "offset of %d %s overflows", steps, rule.Unit)
		}
		out = anchor.Add(time.Duration(steps) * unit)
	case recurrence.Months:
		out = addMonthsClamped(anchor, steps)
	case recurrence.Years:
		months, ok := mulInt(steps, 12)
		if !ok {
			return time.Time{}, apperr.InvalidRecurrence("interval", "offset of %d years overflows", steps)
		}
		out = addMonthsClamped(anchor, months)
	}

	if out.Year() > maxYear || out.Before(anchor) {
		return time.Time{}, apperr.InvalidRecurrence("interval", "occurrence beyond year %d", maxYear)
	}
	return out, nil
}

// addMonthsClamped shifts t by n calendar months without rolling over into
// the following month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()

	// Year arithmetic in int64 so huge n cannot wrap; callers check maxYear.
	total := int64(m-1) + int64(n)
	year := int64(y) + total/12
	month := time.Month(total%12 + 1)
	if year > maxYear+1 {
		year = maxYear + 1
	}

	if last := daysIn(int(year), month); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(int(year), month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func mulInt(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a || c < 0 {
		return 0, false
	}
	return c, true
}

// Occurrences returns the occurrences of rule anchored at anchor that fall in
// the inclusive window [windowStart, windowEnd]. The sequence is lazy and
// finite: it stops past windowEnd, on arithmetic overflow, or after
// MaxOccurrenceIterations candidates.
func Occurrences(anchor time.Time, rule recurrence.Rule, windowStart, windowEnd time.Time) (iter.Seq[time.Time], error) {
	if anchor.IsZero() {
		return nil, apperr.InvalidAnchor("anchor", "anchor date-time is missing")
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	return func(yield func(time.Time) bool) {
		if windowEnd.Before(windowStart) {
			return
		}
		if rule.IsOnce() {
			if inWindow(anchor, windowStart, windowEnd) {
				yield(anchor)
			}
			return
		}

		k := firstCandidate(anchor, rule, windowStart)
		for i := 0; i < MaxOccurrenceIterations; i, k = i+1, k+1 {
			occ, err := nthOccurrence(anchor, rule, k)
			if err != nil || occ.After(windowEnd) {
				return
			}
			if occ.Before(windowStart) {
				continue
			}
			if !yield(occ) {
				return
			}
		}
	}, nil
}

// Window collects Occurrences into a slice.
func Window(anchor time.Time, rule recurrence.Rule, windowStart, windowEnd time.Time) ([]time.Time, error) {
	seq, err := Occurrences(anchor, rule, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0)
	for t := range seq {
		out = append(out, t)
	}
	return out, nil
}

// firstCandidate estimates the first step index whose occurrence could be at
// or after windowStart. It may undershoot (the caller skips early candidates)
// but never overshoots.
func firstCandidate(anchor time.Time, rule recurrence.Rule, windowStart time.Time) int {
	if !windowStart.After(anchor) {
		return 0
	}

	switch rule.Unit {
	case recurrence.Hours, recurrence.Days, recurrence.Weeks:
		gap := windowStart.Sub(anchor)
		step := time.Duration(rule.Interval) * fixedStep[rule.Unit]
		if step <= 0 || rule.Interval > int(math.MaxInt64/int64(fixedStep[rule.Unit])) {
			return 0
		}
		return int(gap / step)
	case recurrence.Months, recurrence.Years:
		months := (windowStart.Year()-anchor.Year())*12 + int(windowStart.Month()-anchor.Month())
		per := rule.Interval
		if rule.Unit == recurrence.Years {
			per *= 12
		}
		if per <= 0 {
			return 0
		}
		k := months/per - 1
		if k < 0 {
			return 0
		}
		return k
	}
	return 0
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
