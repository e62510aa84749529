package shared

import "time"

// Clock abstracts wall-clock access so date-boundary logic stays deterministic in tests.
type Clock interface {
	Now() time.Time
	// Today returns midnight UTC of the current day.
	Today() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current UTC day truncated to midnight.
func (SystemClock) Today() time.Time {
	return Midnight(time.Now().UTC())
}

// FixedClock pins the clock to a single instant.
type FixedClock struct {
	At time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time {
	return c.At
}

// Today returns the pinned instant's UTC midnight.
func (c FixedClock) Today() time.Time {
	return Midnight(c.At)
}

// Midnight truncates t to midnight UTC.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
