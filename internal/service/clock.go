package service

import "time"

// Clock produces calendar dates in the sync time zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock builds a clock for loc. A nil now uses time.Now.
func NewClock(loc *time.Location, now func() time.Time) Clock {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Clock{loc: loc, now: now}
}

// Now returns the current instant in the sync time zone.
func (c Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the sync time zone.
func (c Clock) Location() *time.Location {
	return c.loc
}

// Today returns the current date as YYYY-MM-DD.
func (c Clock) Today() string {
	return c.Now().Format(time.DateOnly)
}

// DaysFromToday shifts today by n days; negative n looks back.
func (c Clock) DaysFromToday(n int) string {
	return c.Now().AddDate(0, 0, n).Format(time.DateOnly)
}

// MonthsAgo returns the date n months before today.
func (c Clock) MonthsAgo(n int) string {
	return c.Now().AddDate(0, -n, 0).Format(time.DateOnly)
}

// Date formats t as a date in the sync time zone.
func (c Clock) Date(t time.Time) string {
	return t.In(c.loc).Format(time.DateOnly)
}
