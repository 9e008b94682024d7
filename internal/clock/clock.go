// Package clock abstracts time so build durations are deterministic in
// tests.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// RealClock implements Clock using the system time.
type RealClock struct{}

// Now returns the current system time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// FakeClock implements Clock for tests. Each call to Now advances the time
// by Step after returning it.
type FakeClock struct {
	current time.Time

	// Step is added to the time on every call to Now.
	Step time.Duration
}

// NewFakeClock creates a FakeClock stopped at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time and then advances it by Step.
func (c *FakeClock) Now() time.Time {
	now := c.current
	c.current = c.current.Add(c.Step)
	return now
}

// Set updates the fake time.
func (c *FakeClock) Set(t time.Time) {
	c.current = t
}

// Advance moves the fake time forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

// Timer measures the time elapsed on a Clock since it was started.
type Timer struct {
	clock Clock
	start time.Time
}

// Start returns a Timer started at c's current time. A nil clock uses the
// system time.
func Start(c Clock) Timer {
	if c == nil {
		c = &RealClock{}
	}
	return Timer{clock: c, start: c.Now()}
}

// Started returns the start time.
func (t Timer) Started() time.Time {
	return t.start
}

// Elapsed returns the time since the timer started.
func (t Timer) Elapsed() time.Duration {
	return t.clock.Now().Sub(t.start)
}
