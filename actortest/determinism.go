package actortest

import (
	"context"
	"time"

	"github.com/cafgo/actorcore/actor"
)

// Fixture is a deterministic, single-thread scheduler for tests: it drives
// a ScheduledActor's resume loop one envelope (or one batch) at a time on the calling goroutine, paired with a VirtualClock that
// never advances on its own. Construct a ScheduledActor against a System
// sharing the same clock, then call DispatchMessage/DispatchMessages/
// AdvanceTime/TriggerTimeout/PreponeAndExpect to drive it explicitly instead
// of calling ScheduledActor.Start (which spawns a background goroutine).
type Fixture struct {
	clock *VirtualClock
}

// NewFixture creates a deterministic Fixture driven by clock. Build the
// System under test with the same clock via NewSystem so the actor's
// idle and request timeouts are advanced in lockstep with the fixture.
func NewFixture(clock *VirtualClock) *Fixture {
	return &Fixture{clock: clock}
}

// DispatchMessage processes exactly one pending envelope on target's
// mailbox, if any, and reports whether one was actually dispatched.
func (f *Fixture) DispatchMessage(target *actor.ScheduledActor) bool {
	done := target.Resume(context.Background(), 1)
	return !done
}

// DispatchMessages drains target's mailbox, dispatching every currently
// buffered envelope, and returns how many were processed. A handler that
// enqueues a reply to the same
// actor mid-drain will have that reply processed too, since Resume's
// maxThroughput bound is per-call here, not per-Dispatch.
func (f *Fixture) DispatchMessages(target *actor.ScheduledActor) int {
	n := 0
	for f.DispatchMessage(target) {
		n++
	}
	return n
}

// AdvanceTime moves the fixture's VirtualClock forward by d, synchronously
// firing any idle or request timer whose deadline falls at or before the new
// time. The deterministic clock never advances except when told to.
func (f *Fixture) AdvanceTime(d time.Duration) {
	f.clock.Advance(d)
}

// TriggerTimeout force-fires the single earliest pending timer across every
// actor sharing this fixture's clock, without needing to know its exact
// deadline. It returns false if no timer is currently pending.
func (f *Fixture) TriggerTimeout() bool {
	return f.clock.TriggerNext()
}

// PreponeAndExpect reorders target's mailbox so the first buffered envelope
// satisfying match is dispatched next, then dispatches exactly that message.
// It returns false without dispatching anything if no buffered envelope
// matches. It lets a test reorder two already-enqueued envelopes and assert
// that the later-arriving handler observably runs first.
func (f *Fixture) PreponeAndExpect(target *actor.ScheduledActor, match func(actor.Message) bool) bool {
	if !target.Prepone(match) {
		return false
	}
	return f.DispatchMessage(target)
}

// PreponeAndExpectType is the generic form of PreponeAndExpect: it matches
// the next buffered envelope whose payload is of type T and, if with is
// non-nil, also satisfies with. It exists as a package-level function
// because Go methods cannot carry their own type parameters.
func PreponeAndExpectType[T actor.Message](f *Fixture, target *actor.ScheduledActor, with func(T) bool) bool {
	return f.PreponeAndExpect(target, func(m actor.Message) bool {
		v, ok := m.(T)
		if !ok {
			return false
		}
		if with == nil {
			return true
		}
		return with(v)
	})
}
