package accounting

import "time"

// AddMonths adds n calendar months to t. When the day of month does not
// exist in the target month the result is clamped to its last day, so
// Jan 31 + 1 month is Feb 28 (or 29) and never Mar 3.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// ElapsedMonths returns the number of whole calendar months from from to to,
// using AddMonths arithmetic. A month is complete once AddMonths(from, k)
// is not after to. It returns 0 when to is before from.
func ElapsedMonths(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}

	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	for n > 0 && AddMonths(from, n).After(to) {
		n--
	}
	return max(n, 0)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
