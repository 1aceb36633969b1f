package license

import "time"

// AddMonths advances a timestamp by whole calendar months. When the source
// day does not exist in the target month (Jan 31 + 1 month), the result is
// clamped to the last valid day of the target month rather than rolling over
// into the following month, which is what time.AddDate would do.
func AddMonths(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	hour, min, sec := from.Clock()

	// Normalize the target year/month first, then clamp the day.
	target := time.Date(year, month+time.Month(months), 1, hour, min, sec, from.Nanosecond(), from.Location())
	if last := lastDayOfMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, from.Nanosecond(), from.Location())
}

// IsExpired reports whether a license expiring at expiresAt is expired at
// now. The boundary counts as expired: expiresAt == now is not usable.
func IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.After(now)
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
