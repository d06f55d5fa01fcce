package billing

import "time"

// Clock supplies lifecycle timestamps (confirmed_at, paid_at, ...)
type Clock interface {
	Now() time.Time
}

// SystemClock returns the current UTC time
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant; tests advance it explicitly
type FixedClock struct {
	At time.Time
}

func (f *FixedClock) Now() time.Time {
	return f.At
}

func (f *FixedClock) Advance(d time.Duration) {
	f.At = f.At.Add(d)
}

var clock Clock = SystemClock{}

// SetClock swaps the package clock and returns a function restoring the previous one
func SetClock(c Clock) (restore func()) {
	prev := clock
	clock = c
	return func() { clock = prev }
}

// Now exposes the package clock to services that stamp events
func Now() time.Time {
	return clock.Now()
}
