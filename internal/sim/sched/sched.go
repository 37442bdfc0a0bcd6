// Package sched provides the timing primitives the maintenance engine runs on: a
// single-owner executor for production and a virtual clock for tests.
package sched

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Timer is a cancellation token for a scheduled callback.
type Timer interface {
	// Stop cancels the timer. Callbacks that have not started yet never run after Stop
	// returns on the owning goroutine.
	Stop()
}

// Scheduler runs callbacks periodically or once after a delay. All callbacks of one
// scheduler run serially.
type Scheduler interface {
	Clock
	Every(interval time.Duration, fn func()) Timer
	After(delay time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// StopTimer stops t if it is non-nil.
func StopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
