package guard

import (
	"time"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/sched"
)

const Window = time.Minute

// RateLimiter bounds accepted mutating commands per actor over a sliding one-minute
// window.
type RateLimiter struct {
	clock sched.Clock
	max   int
	hits  map[host.ActorID][]time.Time
}

func NewRateLimiter(clock sched.Clock, maxPerMinute int) *RateLimiter {
	if clock == nil {
		clock = sched.RealClock()
	}
	return &RateLimiter{clock: clock, max: maxPerMinute, hits: map[host.ActorID][]time.Time{}}
}

func (r *RateLimiter) SetMax(n int) { r.max = n }

// TryAccept records an attempt for actor and reports whether it fits in the window.
// A rejected attempt leaves the window untouched.
func (r *RateLimiter) TryAccept(actor host.ActorID) bool {
	now := r.clock.Now()
	hits := pruneOld(r.hits[actor], now.Add(-Window))
	if len(hits) >= r.max {
		r.hits[actor] = hits
		return false
	}
	r.hits[actor] = append(hits, now)
	return true
}

// RetryAfter is the time until the oldest accepted entry leaves the window.
func (r *RateLimiter) RetryAfter(actor host.ActorID) time.Duration {
	hits := r.hits[actor]
	if len(hits) == 0 {
		return 0
	}
	d := hits[0].Add(Window).Sub(r.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (r *RateLimiter) Count(actor host.ActorID) int {
	hits := pruneOld(r.hits[actor], r.clock.Now().Add(-Window))
	r.hits[actor] = hits
	return len(hits)
}

func (r *RateLimiter) Forget(actor host.ActorID) { delete(r.hits, actor) }

func (r *RateLimiter) Len() int { return len(r.hits) }

// pruneOld drops every timestamp at or before cutoff.
func pruneOld(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
