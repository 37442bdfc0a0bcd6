package guard

import (
	"time"

	"autorefill/internal/sim/host"
	"autorefill/internal/sim/sched"
)

// Cooldown enforces a minimum spacing between accepted mutating commands. Callers
// check the RateLimiter first and call Record only after both checks passed.
type Cooldown struct {
	clock sched.Clock
	min   time.Duration
	marks map[host.ActorID]time.Time
}

func NewCooldown(clock sched.Clock, spacing time.Duration) *Cooldown {
	if clock == nil {
		clock = sched.RealClock()
	}
	return &Cooldown{clock: clock, min: spacing, marks: map[host.ActorID]time.Time{}}
}

func (c *Cooldown) SetMin(d time.Duration) { c.min = d }

func (c *Cooldown) IsBlocked(actor host.ActorID) bool {
	return c.Remaining(actor) > 0
}

// Remaining is the time left before actor may mutate again.
func (c *Cooldown) Remaining(actor host.ActorID) time.Duration {
	if c.min <= 0 {
		return 0
	}
	last, ok := c.marks[actor]
	if !ok {
		return 0
	}
	left := c.min - c.clock.Now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

func (c *Cooldown) Record(actor host.ActorID) {
	c.marks[actor] = c.clock.Now()
}

func (c *Cooldown) Forget(actor host.ActorID) { delete(c.marks, actor) }

func (c *Cooldown) Len() int { return len(c.marks) }
