package engine

import "time"

// Clock supplies the current time to every lifecycle and scheduling
// decision. Tests substitute a manual clock to advance time explicitly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// timestampPrecision is the resolution every stored timestamp is truncated
// to. Postgres TIMESTAMPTZ keeps microseconds, so ledger bases computed from
// stored values compare equal on every backend.
const timestampPrecision = time.Microsecond

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(timestampPrecision)
}
