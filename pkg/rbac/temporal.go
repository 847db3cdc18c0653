package rbac

import (
	"sync"
	"time"
)

// IsActive reports whether a binding with the given window is in force
// at t. Both bounds are inclusive and a nil bound is open.
func IsActive(activatedAt, expiredAt *time.Time, t time.Time) bool {
	if activatedAt != nil && t.Before(*activatedAt) {
		return false
	}
	if expiredAt != nil && t.After(*expiredAt) {
		return false
	}
	return true
}

// Clock supplies the evaluation time for authorization decisions.
// Production code uses SystemClock; tests pin time with FixedClock.
type Clock interface {
	Now() time.Time
}

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock that returns a settable instant
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixedClock returns a clock stopped at t
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now returns the current fixed instant
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
