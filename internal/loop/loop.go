// Package loop provides the single execution context the session runs on.
// Every piece of session state is mutated only from closures posted to an
// Executor, so components never need locks. Transport goroutines and timer
// callbacks hand work to the executor instead of touching state directly.
package loop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned by Do once the loop has stopped running.
var ErrStopped = errors.New("loop: stopped")

// Executor runs posted closures one at a time, in the order they were
// posted.
type Executor interface {
	Post(f func())
}

// Runner is an Executor that can also run a closure and wait for it.
type Runner interface {
	Executor
	Do(ctx context.Context, f func()) error
}

// Loop is a serial executor backed by one goroutine. Post never blocks;
// the queue is unbounded.
type Loop struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	started bool
}

// New returns a Loop. Call Run to start draining it.
func New(logger *zap.SugaredLogger) *Loop {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loop{
		log:  logger,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post appends f to the queue. Closures posted after the loop has stopped
// are discarded.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts f and waits until it has run. It must not be called from a
// closure already running on the loop.
func (l *Loop) Do(ctx context.Context, f func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		f()
	})

	select {
	case <-ran:
		return nil
	case <-l.done:
		// The loop may have drained f on its way out.
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run drains the queue until ctx is cancelled. It may be called once.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		panic("loop: Run called twice")
	}
	l.started = true
	l.mu.Unlock()

	defer close(l.done)

	for {
		for {
			f, ok := l.next()
			if !ok {
				break
			}
			l.exec(f)
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f, true
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorw("panic in loop task", "panic", r)
		}
	}()
	f()
}

// Inline runs every closure immediately on the caller's goroutine. It is
// the executor used by unit tests that drive a fake clock by hand.
type Inline struct{}

// Post runs f.
func (Inline) Post(f func()) { f() }

// Do runs f.
func (Inline) Do(_ context.Context, f func()) error {
	f()
	return nil
}

// Queue collects posted closures until Drain is called. Tests use it to
// interleave events in a chosen order and to check that callbacks are
// never re-entered.
type Queue struct {
	mu      sync.Mutex
	pending []func()
}

// Post enqueues f.
func (q *Queue) Post(f func()) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	q.mu.Unlock()
}

// Do enqueues f and drains the queue.
func (q *Queue) Do(_ context.Context, f func()) error {
	q.Post(f)
	q.Drain()
	return nil
}

// Len returns the number of closures waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Step runs the oldest pending closure. It reports false if there was none.
func (q *Queue) Step() bool {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	f := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	f()
	return true
}

// Drain runs closures until the queue is empty, including any posted while
// draining. It returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for q.Step() {
		n++
	}
	return n
}
