package display

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopStopped is returned when work is posted to a loop that has exited.
var ErrLoopStopped = errors.New("display loop stopped")

// Timer is a cancellation token for a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. Calling it more than once is
	// harmless.
	Stop()
}

// Scheduler runs a callback on the foreground context after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
}

// Loop executes posted functions one at a time, in FIFO order.
type Loop struct {
	tasks    chan func()
	quit     chan struct{}
	quitOnce sync.Once
}

func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		quit:  make(chan struct{}),
	}
}

// Run drains the task queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.quitOnce.Do(func() { close(l.quit) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.quit
}

// Post queues fn for the loop. It may be called from any goroutine except
// the loop itself when the queue is full. It reports false once the loop
// has exited.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-l.quit:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After must be called from the loop. The callback is delivered through the
// task queue, and Stop (also on the loop) marks the timer so a delivery that
// is already queued is discarded.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

type loopTimer struct {
	timer   *time.Timer
	stopped bool // touched only on the loop goroutine
}

func (t *loopTimer) Stop() {
	t.stopped = true
	t.timer.Stop()
}
