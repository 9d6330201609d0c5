// Package clock abstracts wall-clock time so that timers can be driven
// deterministically in tests. Production code takes a Clock and uses Real();
// tests use Fake() and move time forward with Advance.
package clock

import "time"

// Clock is the subset of the time package the session components need.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer can cancel
	// the pending call. On a fake clock f runs synchronously inside Advance.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It reports whether the call stopped
// a pending timer.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are dropped
// when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
