package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time only moves when Advance is
// called; timers and tickers whose deadlines are passed fire during that
// call, in deadline order. AfterFunc callbacks run on the goroutine that
// calls Advance, so a test driving the clock is the only execution context.
//
// Do not call Advance from inside an AfterFunc callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	seq      uint64
	deadline time.Time
	callback func()         // AfterFunc waiters
	channel  chan time.Time // ticker waiters
	interval time.Duration  // non-zero for tickers
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock that starts at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock has been advanced by d.
// If d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := c.addLocked(d)
	w.callback = f
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// NewTicker returns a ticker that fires every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	ch := make(chan time.Time, 1)
	c.mu.Lock()
	w := c.addLocked(d)
	w.channel = ch
	w.interval = d
	c.mu.Unlock()

	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}}
}

func (c *FakeClock) addLocked(d time.Duration) *fakeWaiter {
	c.seq++
	w := &fakeWaiter{seq: c.seq, deadline: c.current.Add(d)}
	c.waiters = append(c.waiters, w)
	return w
}

// Advance moves the clock forward by d and fires every timer and ticker
// whose deadline is at or before the new time. A ticker spanning several
// intervals fires once per interval; ticks that overflow its buffer are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectExpired(target)
		if len(due) == 0 {
			return
		}
		for _, w := range due {
			if w.callback != nil {
				w.callback()
				continue
			}
			select {
			case w.channel <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeWaiter
	for _, w := range c.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			due = append(due, w)
		default:
			remaining = append(remaining, w)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, w := range due {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		} else {
			w.fired = true
		}
	}
	c.waiters = remaining
	return due
}

// PendingCount returns the number of timers and tickers that are still
// armed.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
