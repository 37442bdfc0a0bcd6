package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrLoopClosed = errors.New("loop closed")

// Loop is the single logical thread the engine state lives on. Timer callbacks and
// external requests are posted as closures and executed one at a time by Run.
type Loop struct {
	calls chan func()
	done  chan struct{}
	once  sync.Once
}

func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{
		calls: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

// Run executes posted closures until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.calls:
			fn()
		}
	}
}

// Close stops Run and makes further posts fail. Safe to call more than once.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Post queues fn for execution. It blocks while the queue is full and returns false
// once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.calls <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.calls <- wrapped:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loopTimer struct {
	stopped atomic.Bool
	quit    chan struct{}
	once    sync.Once
	t       *time.Timer
}

func (t *loopTimer) Stop() {
	t.stopped.Store(true)
	if t.t != nil {
		t.t.Stop()
	}
	if t.quit != nil {
		t.once.Do(func() { close(t.quit) })
	}
}

// guard drops the callback when the timer was stopped between firing and execution.
func (t *loopTimer) guard(fn func()) func() {
	return func() {
		if t.stopped.Load() {
			return
		}
		fn()
	}
}

func (l *Loop) After(delay time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(delay, func() {
		if t.stopped.Load() {
			return
		}
		l.Post(t.guard(fn))
	})
	return t
}

func (l *Loop) Every(interval time.Duration, fn func()) Timer {
	t := &loopTimer{quit: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				if t.stopped.Load() {
					return
				}
				l.Post(t.guard(fn))
			}
		}
	}()
	return t
}
