package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"plain month", date(2026, time.March, 15), 1, date(2026, time.April, 15)},
		{"across year boundary", date(2026, time.November, 10), 3, date(2027, time.February, 10)},
		{"jan 31 clamps to feb 28", date(2026, time.January, 31), 1, date(2026, time.February, 28)},
		{"jan 31 leap year clamps to feb 29", date(2028, time.January, 31), 1, date(2028, time.February, 29)},
		{"march 31 clamps to april 30", date(2026, time.March, 31), 1, date(2026, time.April, 30)},
		{"clamp only when needed", date(2026, time.February, 28), 1, date(2026, time.March, 28)},
		{"six months", date(2026, time.September, 1), 6, date(2027, time.March, 1)},
		{"twelve months", date(2026, time.June, 30), 12, date(2027, time.June, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonths(tt.from, tt.months))
		})
	}
}

func TestAddMonthsPreservesClock(t *testing.T) {
	from := time.Date(2026, time.January, 31, 23, 59, 58, 123, time.UTC)
	got := AddMonths(from, 1)
	assert.Equal(t, time.Date(2026, time.February, 28, 23, 59, 58, 123, time.UTC), got)
}

func TestIsExpired(t *testing.T) {
	now := date(2026, time.September, 1)

	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"future", now.Add(time.Hour), false},
		{"past", now.Add(-time.Hour), true},
		{"exact boundary counts as expired", now, true},
		{"one nanosecond left", now.Add(time.Nanosecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, IsExpired(tt.expiresAt, now))
		})
	}
}
