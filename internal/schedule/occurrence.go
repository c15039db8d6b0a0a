package schedule

import "time"

const (
	day = 24 * time.Hour

	daySeconds  = int64(day / time.Second)
	weekSeconds = 7 * daySeconds

	// DueWindow is how long an announcement stays live after each occurrence.
	DueWindow = day
)

// IsDue reports whether asOf falls inside the due window of an occurrence
// of r, within the rule's start and end bounds.
func IsDue(r Rule, asOf time.Time) bool {
	if !r.freq.Valid() || asOf.Before(r.start) {
		return false
	}
	if r.end != nil && asOf.After(*r.end) {
		return false
	}

	occ, ok := LatestOccurrence(r, asOf)
	if !ok {
		return false
	}
	return asOf.Before(occ.Add(DueWindow))
}

// LatestOccurrence returns the last occurrence at or before asOf, ignoring
// the rule end. It reports false before the first occurrence.
func LatestOccurrence(r Rule, asOf time.Time) (time.Time, bool) {
	if !r.freq.Valid() || asOf.Before(r.start) {
		return time.Time{}, false
	}
	return r.occurrence(r.indexAtOrBefore(asOf)), true
}

// NextOccurrence returns the smallest occurrence strictly after after. It
// reports false once the rule end has been passed.
func NextOccurrence(r Rule, after time.Time) (time.Time, bool) {
	if !r.freq.Valid() {
		return time.Time{}, false
	}

	next := r.start
	if !after.Before(r.start) {
		next = r.occurrence(r.indexAtOrBefore(after) + 1)
	}
	if r.end != nil && next.After(*r.end) {
		return time.Time{}, false
	}
	return next, true
}

// Occurrences lists up to limit occurrences strictly after after.
func Occurrences(r Rule, after time.Time, limit int) []time.Time {
	if limit <= 0 {
		return nil
	}

	out := make([]time.Time, 0, limit)
	cursor := after
	for len(out) < limit {
		next, ok := NextOccurrence(r, cursor)
		if !ok {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out
}

// occurrence returns the n-th occurrence, n >= 0.
func (r Rule) occurrence(n int) time.Time {
	switch r.freq {
	case FrequencyDaily:
		return r.start.UTC().AddDate(0, 0, n)
	case FrequencyWeekly:
		return r.start.UTC().AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return r.monthlyOccurrence(n)
	default:
		return r.start
	}
}

// monthlyOccurrence is always derived from the start's day of month so a
// clamp in a short month never carries into later months.
func (r Rule) monthlyOccurrence(n int) time.Time {
	loc := r.offset.Location()
	start := r.start.In(loc)

	months := int(start.Month()) - 1 + n
	year := start.Year() + months/12
	month := time.Month(months%12 + 1)

	d := start.Day()
	if last := DaysIn(year, month); d > last {
		d = last
	}
	return time.Date(year, month, d, start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), loc).UTC()
}

// indexAtOrBefore returns the largest n with occurrence(n) <= t. t must not
// precede the start.
func (r Rule) indexAtOrBefore(t time.Time) int {
	switch r.freq {
	case FrequencyDaily:
		return r.fixedIndex(t, daySeconds)
	case FrequencyWeekly:
		return r.fixedIndex(t, weekSeconds)
	case FrequencyMonthly:
		loc := r.offset.Location()
		start := r.start.In(loc)
		local := t.In(loc)
		n := (local.Year()-start.Year())*12 + int(local.Month()) - int(start.Month())
		if n > 0 && r.monthlyOccurrence(n).After(t) {
			n--
		}
		return n
	default:
		return 0
	}
}

// fixedIndex counts whole periods between the start and t in Unix seconds,
// which stays exact across the full civil year range where a time.Duration
// would saturate.
func (r Rule) fixedIndex(t time.Time, periodSeconds int64) int {
	n := int((t.Unix() - r.start.Unix()) / periodSeconds)
	if n > 0 && r.occurrence(n).After(t) {
		n--
	}
	return n
}
