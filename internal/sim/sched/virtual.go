package sched

import (
	"sort"
	"time"
)

// Virtual is a deterministic Scheduler driven by Advance. It is not safe for
// concurrent use.
type Virtual struct {
	now    time.Time
	seq    uint64
	timers []*virtualTimer
}

type virtualTimer struct {
	v        *Virtual
	seq      uint64
	at       time.Time
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *virtualTimer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	t.v.remove(t)
}

func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time { return v.now }

func (v *Virtual) After(delay time.Duration, fn func()) Timer {
	return v.add(delay, 0, fn)
}

func (v *Virtual) Every(interval time.Duration, fn func()) Timer {
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return v.add(interval, interval, fn)
}

// Pending reports the number of armed timers.
func (v *Virtual) Pending() int { return len(v.timers) }

// Advance moves the clock forward by d, firing every callback that becomes due in
// time order. Callbacks may schedule or stop other timers.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	for {
		next := v.nextDue(target)
		if next == nil {
			break
		}
		v.now = next.at
		if next.interval > 0 {
			next.at = next.at.Add(next.interval)
			v.sortTimers()
		} else {
			next.stopped = true
			v.remove(next)
		}
		next.fn()
	}
	v.now = target
}

func (v *Virtual) add(delay, interval time.Duration, fn func()) *virtualTimer {
	if delay < 0 {
		delay = 0
	}
	v.seq++
	t := &virtualTimer{v: v, seq: v.seq, at: v.now.Add(delay), interval: interval, fn: fn}
	v.timers = append(v.timers, t)
	v.sortTimers()
	return t
}

func (v *Virtual) nextDue(target time.Time) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	t := v.timers[0]
	if t.at.After(target) {
		return nil
	}
	return t
}

func (v *Virtual) remove(t *virtualTimer) {
	for i, cur := range v.timers {
		if cur == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return
		}
	}
}

func (v *Virtual) sortTimers() {
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].at.Equal(v.timers[j].at) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].at.Before(v.timers[j].at)
	})
}
