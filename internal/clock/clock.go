// Package clock abstracts the timer operations a repeater schedules its runs with.
// Production code uses RealClock; tests inject testutil.MockClock to step time by hand.
package clock

import "time"

// Clock provides the time source and one-shot timers.
type Clock interface {
	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	AfterFunc(d time.Duration, f func()) Timer
	// Now returns the current time.
	Now() time.Time
}

// Timer represents a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call was stopped,
	// false if the timer has already expired or been stopped.
	Stop() bool
	// Reset re-arms the timer to call its function again after d, whether or not
	// it has already fired. Returns true if the timer was still pending.
	Reset(d time.Duration) bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// AfterFunc implements Clock.AfterFunc using time.AfterFunc.
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

// Now implements Clock.Now using time.Now.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

func (t *realTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

// Default is the clock used when none is configured.
var Default Clock = NewRealClock()
