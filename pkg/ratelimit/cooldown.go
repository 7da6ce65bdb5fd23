package ratelimit

import (
	"sync"
	"time"
)

// Cooldown tracks the escalating wait imposed by HTTP 429 responses.
//
// Each 429 sleeps max(current, Floor), then the next cooldown becomes
// min(slept*Multiplier, Cap). The state never decays; it lives for the
// process and is shared by every fetcher the dispatcher owns, since the
// origin's limit applies per account, not per connection.
type Cooldown struct {
	Floor      time.Duration
	Cap        time.Duration
	Multiplier float64

	current time.Duration
	mu      sync.Mutex
}

// NewCooldown creates cooldown state with the given escalation bounds
func NewCooldown(floor, ceiling time.Duration, multiplier float64) *Cooldown {
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	return &Cooldown{
		Floor:      floor,
		Cap:        ceiling,
		Multiplier: multiplier,
	}
}

// Next returns the wait to apply for a 429 and escalates the stored
// state for the following one.
func (c *Cooldown) Next() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	wait := c.current
	if wait < c.Floor {
		wait = c.Floor
	}

	escalated := time.Duration(float64(wait) * c.Multiplier)
	if escalated > c.Cap {
		escalated = c.Cap
	}
	c.current = escalated

	return wait
}

// Current returns the cooldown that would apply to the next 429 before
// the floor is taken into account.
func (c *Cooldown) Current() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
