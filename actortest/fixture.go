package actortest

import (
	"context"
	"sync"
	"time"

	"github.com/cafgo/actorcore/actor"
)

// System is a minimal actor.SystemContext backed by a VirtualClock, for
// tests that construct a ScheduledActor directly. NewSystem builds an
// actor.ActorSystem internally only to borrow its receptionist and
// dead-letter actor; the clock is the VirtualClock.
type System struct {
	receptionist *actor.Receptionist
	deadLetters  actor.ActorRef[actor.Message, any]
	clock        *VirtualClock
}

// NewSystem builds a test System sharing clock for all actors constructed
// against it, so a single Advance call can drive every actor's idle and
// request timeouts in lockstep.
func NewSystem(clock *VirtualClock) *System {
	real := actor.NewActorSystemWithConfig(actor.SystemConfig{
		MailboxCapacity: 16,
		Clock:           clock,
	})

	return &System{
		receptionist: real.Receptionist(),
		deadLetters:  real.DeadLetters(),
		clock:        clock,
	}
}

// Receptionist implements actor.SystemContext.
func (s *System) Receptionist() *actor.Receptionist { return s.receptionist }

// DeadLetters implements actor.SystemContext.
func (s *System) DeadLetters() actor.ActorRef[actor.Message, any] { return s.deadLetters }

// Clock implements actor.SystemContext.
func (s *System) Clock() actor.Clock { return s.clock }

// Inbox is a TellOnlyRef[actor.Message] that records every message it
// receives, for asserting what a ScheduledActor under test sent out.
type Inbox struct {
	mu       sync.Mutex
	id       string
	received []actor.Message
	notify   chan struct{}
}

// NewInbox creates an empty, named Inbox.
func NewInbox(id string) *Inbox {
	return &Inbox{id: id, notify: make(chan struct{}, 1)}
}

// ID implements actor.BaseActorRef.
func (i *Inbox) ID() string { return i.id }

// Tell implements actor.TellOnlyRef.
func (i *Inbox) Tell(ctx context.Context, msg actor.Message) {
	i.mu.Lock()
	i.received = append(i.received, msg)
	i.mu.Unlock()

	select {
	case i.notify <- struct{}{}:
	default:
	}
}

// Messages returns a snapshot of every message received so far, in arrival
// order.
func (i *Inbox) Messages() []actor.Message {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]actor.Message, len(i.received))
	copy(out, i.received)
	return out
}

// Len returns the number of messages received so far.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.received)
}

// WaitFor blocks until at least n messages have been received or timeout
// elapses, returning false on timeout. This is the one place this package
// touches real wall-clock time, since it exists to bound a dedicated
// actor goroutine's asynchronous delivery in a test, not to drive the
// actor's own simulated timeouts.
func (i *Inbox) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if i.Len() >= n {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		select {
		case <-i.notify:
		case <-time.After(remaining):
			return i.Len() >= n
		}
	}
}
