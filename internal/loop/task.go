package loop

import (
	"sync"
	"time"

	"github.com/large-farva/attention-stream/internal/clock"
)

// Task is a timer whose body runs on an Executor. Once Stop has been
// called the body never runs again, even if a fire was already posted.
type Task struct {
	clk    clock.Clock
	exec   Executor
	period time.Duration // zero for one-shot tasks
	fn     func()

	mu       sync.Mutex
	timer    *clock.Timer
	deadline time.Time
	stopped  bool
}

// After runs fn once on exec after d. A non-positive d posts fn right away.
func After(clk clock.Clock, d time.Duration, exec Executor, fn func()) *Task {
	t := &Task{clk: clk, exec: exec, fn: fn}
	if d <= 0 {
		t.deadline = clk.Now()
		exec.Post(t.run)
		return t
	}
	t.mu.Lock()
	t.armLocked(clk.Now().Add(d))
	t.mu.Unlock()
	return t
}

// Every runs fn on exec every d, starting d from now. Fires are scheduled
// against the previous deadline rather than the time fn finished; if the
// executor falls a whole period behind, missed fires are skipped.
func Every(clk clock.Clock, d time.Duration, exec Executor, fn func()) *Task {
	if d <= 0 {
		panic("loop: non-positive period for Every")
	}
	t := &Task{clk: clk, exec: exec, period: d, fn: fn}
	t.mu.Lock()
	t.armLocked(clk.Now().Add(d))
	t.mu.Unlock()
	return t
}

func (t *Task) armLocked(deadline time.Time) {
	t.deadline = deadline
	t.timer = t.clk.AfterFunc(deadline.Sub(t.clk.Now()), func() {
		t.exec.Post(t.run)
	})
}

func (t *Task) run() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.period == 0 {
		t.stopped = true
	}
	t.mu.Unlock()

	t.fn()

	if t.period == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	now := t.clk.Now()
	next := t.deadline.Add(t.period)
	if !next.After(now) {
		next = now.Add(t.period)
	}
	t.armLocked(next)
}

// Deadline returns the time the task is next due.
func (t *Task) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Stop cancels the task. It is safe to call more than once and on a nil
// Task.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Stopped reports whether the task has been stopped or, for a one-shot
// task, has already run.
func (t *Task) Stopped() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
