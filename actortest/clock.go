// Package actortest provides a deterministic, single-threaded simulation
// harness for testing actor package components without relying on real
// wall-clock timing or goroutine scheduling races.
package actortest

import (
	"sort"
	"sync"
	"time"

	"github.com/cafgo/actorcore/actor"
)

// virtualTimer is a single pending AfterFunc registration on a VirtualClock.
type virtualTimer struct {
	at        time.Time
	fn        func()
	cancelled bool
}

// Cancel implements actor.Disposable.
func (t *virtualTimer) Cancel() bool {
	if t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// VirtualClock is a test-controlled implementation of actor.Clock. Time only
// advances when Advance is called, making idle-timeout and request-timeout
// behavior fully deterministic: a test can dispatch a message, call Advance
// past a timeout boundary, and observe the exact resulting state transition
// without sleeping or racing a real timer.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
}

// NewVirtualClock creates a VirtualClock starting at the given time. Use
// time.Unix(0, 0) or any fixed epoch when the absolute value doesn't matter.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now implements actor.Clock.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements actor.Clock.
func (c *VirtualClock) AfterFunc(d time.Duration, f func()) actor.Disposable {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &virtualTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)

	return t
}

// Advance moves the clock forward by d, firing (in chronological order) any
// timer whose deadline falls at or before the new time. Firing happens
// synchronously on the calling goroutine, the same thread discipline a
// ScheduledActor's own resume loop relies on.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now

	due := make([]*virtualTimer, 0, len(c.timers))
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.cancelled && !t.at.After(deadline) {
			due = append(due, t)
		} else if !t.cancelled {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	c.mu.Unlock()

	for _, t := range due {
		if !t.cancelled {
			t.fn()
		}
	}
}

// TriggerNext force-fires the single earliest pending timer, jumping Now
// forward to that timer's deadline if it lies in the future, regardless of
// how far away it is. This backs the deterministic fixture's trigger_timeout
// control: a test that wants to fire "whatever's next" without
// computing the exact duration to pass to Advance. Returns false if no timer
// is pending.
func (c *VirtualClock) TriggerNext() bool {
	c.mu.Lock()

	idx := -1
	for i, t := range c.timers {
		if t.cancelled {
			continue
		}
		if idx == -1 || t.at.Before(c.timers[idx].at) {
			idx = i
		}
	}

	if idx == -1 {
		c.mu.Unlock()
		return false
	}

	t := c.timers[idx]
	c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
	if t.at.After(c.now) {
		c.now = t.at
	}

	c.mu.Unlock()

	t.fn()
	return true
}

// PendingTimers returns the number of timers that have not yet fired or been
// cancelled, useful for asserting that a behavior change correctly rearmed
// (or disarmed) an idle timeout.
func (c *VirtualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}
