package actor

import (
	"context"
	"sync"
)

// DynMailbox is the message queue backing a ScheduledActor or a
// BlockingActor, and the only mailbox type in the package. It carries two
// priority lanes, an urgent lane that always drains ahead of the normal
// lane, and supports putting a message back at the front of its lane.
// Skip/replay of unmatched messages does not go through the mailbox: it is
// kept in the BehaviorStack's skip buffer.
type DynMailbox interface {
	// Send enqueues env, blocking until accepted, ctx is cancelled, or
	// the mailbox is closed.
	Send(ctx context.Context, env dynEnvelope) bool

	// TrySend enqueues env without blocking, returning false if the
	// mailbox is closed.
	TrySend(env dynEnvelope) bool

	// Next blocks until a message is available, ctx is cancelled, or the
	// mailbox is closed and drained, returning ok=false in the latter
	// two cases. The urgent lane is always checked first.
	Next(ctx context.Context) (env dynEnvelope, ok bool)

	// TryNext dequeues the next available envelope without blocking,
	// returning ok=false if the mailbox is currently empty.
	TryNext() (env dynEnvelope, ok bool)

	// OnReady registers a callback invoked when a message arrives on an
	// empty mailbox, used by Scheduler-driven Resumables to know when to
	// reschedule.
	OnReady(fn func())

	// PutBack reinserts env at the front of its original lane, so the
	// next Next call returns it again.
	PutBack(env dynEnvelope)

	// Prepone scans both lanes for the first buffered envelope whose
	// payload satisfies match and moves it to the front of its lane,
	// reporting whether a match was found. This backs the deterministic
	// test fixture's prepone_and_expect control:
	// reordering arrival for a single test driver, not a concurrency
	// primitive for production senders.
	Prepone(match func(Message) bool) bool

	// Close marks the mailbox closed with reason, waking any blocked
	// Next call. Further Send/TrySend calls fail.
	Close(reason ExitReason)

	// CloseReason returns the reason passed to Close, and false if the
	// mailbox is still open.
	CloseReason() (ExitReason, bool)

	// Len returns the total number of buffered messages across both
	// lanes.
	Len() int

	// Drain removes and returns every envelope still buffered across
	// both lanes, urgent lane first. Intended for post-Close cleanup:
	// routing abandoned payloads to a dead-letter actor and failing
	// abandoned requests with the actor's exit reason.
	Drain() []dynEnvelope
}

// channelDynMailbox is a DynMailbox implementation backed by two slices
// protected by a mutex and condition variable. A slice-backed deque (rather
// than a channel) is necessary here because PutBack and priority-lane
// selection require random access that Go channels don't support.
type channelDynMailbox struct {
	mu   sync.Mutex
	cond *sync.Cond

	urgent []dynEnvelope
	normal []dynEnvelope

	closed      bool
	closeReason ExitReason

	// onReady, if set, is invoked (outside the lock) whenever a message
	// is accepted into a previously-empty mailbox, letting a Scheduler
	// re-schedule the owning Resumable instead of polling.
	onReady func()
}

// NewDynMailbox creates an empty two-lane mailbox.
func NewDynMailbox() DynMailbox {
	m := &channelDynMailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// TryNext dequeues the next available envelope without blocking, returning
// ok=false if the mailbox is currently empty (whether or not it's closed).
func (m *channelDynMailbox) TryNext() (dynEnvelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.popLocked()
}

// OnReady registers a callback invoked when a message arrives on a mailbox
// that a scheduler-driven Resumable might otherwise have no reason to
// revisit.
func (m *channelDynMailbox) OnReady(fn func()) {
	m.mu.Lock()
	m.onReady = fn
	m.mu.Unlock()
}

// Send implements DynMailbox.
func (m *channelDynMailbox) Send(ctx context.Context, env dynEnvelope) bool {
	// There's no backpressure limit on the dynamic mailbox, so Send never actually blocks; it
	// differs from TrySend only in honoring ctx cancellation.
	if ctx.Err() != nil {
		return false
	}
	return m.TrySend(env)
}

// TrySend implements DynMailbox.
func (m *channelDynMailbox) TrySend(env dynEnvelope) bool {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return false
	}

	wasEmpty := len(m.urgent) == 0 && len(m.normal) == 0

	if env.priority == PriorityUrgent {
		m.urgent = append(m.urgent, env)
	} else {
		m.normal = append(m.normal, env)
	}

	m.cond.Signal()
	onReady := m.onReady
	m.mu.Unlock()

	if wasEmpty && onReady != nil {
		onReady()
	}

	return true
}

// Next implements DynMailbox.
func (m *channelDynMailbox) Next(ctx context.Context) (dynEnvelope, bool) {
	// Wake the condition variable if ctx is cancelled while we're
	// waiting, since sync.Cond has no native context support.
	done := make(chan struct{})
	defer close(done)

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			case <-done:
			}
		}()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.urgent) == 0 && len(m.normal) == 0 && !m.closed {
		if ctx != nil && ctx.Err() != nil {
			return dynEnvelope{}, false
		}
		m.cond.Wait()
	}

	if env, ok := m.popLocked(); ok {
		return env, true
	}

	return dynEnvelope{}, false
}

// popLocked dequeues the next envelope, preferring the urgent lane. Caller
// must hold m.mu.
func (m *channelDynMailbox) popLocked() (dynEnvelope, bool) {
	if len(m.urgent) > 0 {
		env := m.urgent[0]
		m.urgent = m.urgent[1:]
		return env, true
	}

	if len(m.normal) > 0 {
		env := m.normal[0]
		m.normal = m.normal[1:]
		return env, true
	}

	return dynEnvelope{}, false
}

// PutBack implements DynMailbox.
func (m *channelDynMailbox) PutBack(env dynEnvelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if env.priority == PriorityUrgent {
		m.urgent = append([]dynEnvelope{env}, m.urgent...)
	} else {
		m.normal = append([]dynEnvelope{env}, m.normal...)
	}

	m.cond.Signal()
}

// Prepone implements DynMailbox.
func (m *channelDynMailbox) Prepone(match func(Message) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if preponeLocked(&m.urgent, match) {
		return true
	}
	return preponeLocked(&m.normal, match)
}

// preponeLocked finds the first envelope in lane satisfying match and moves
// it to index 0, preserving the relative order of every other envelope.
// Caller must hold the mailbox lock.
func preponeLocked(lane *[]dynEnvelope, match func(Message) bool) bool {
	idx := -1
	for i, env := range *lane {
		if match(env.payload) {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return idx == 0
	}

	reordered := make([]dynEnvelope, 0, len(*lane))
	reordered = append(reordered, (*lane)[idx])
	reordered = append(reordered, (*lane)[:idx]...)
	reordered = append(reordered, (*lane)[idx+1:]...)
	*lane = reordered
	return true
}

// Close implements DynMailbox.
func (m *channelDynMailbox) Close(reason ExitReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	m.closeReason = reason
	m.cond.Broadcast()
}

// CloseReason implements DynMailbox.
func (m *channelDynMailbox) CloseReason() (ExitReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeReason, m.closed
}

// Len implements DynMailbox.
func (m *channelDynMailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.urgent) + len(m.normal)
}

// Drain implements DynMailbox.
func (m *channelDynMailbox) Drain() []dynEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	drained := make([]dynEnvelope, 0, len(m.urgent)+len(m.normal))
	drained = append(drained, m.urgent...)
	drained = append(drained, m.normal...)
	m.urgent = nil
	m.normal = nil

	return drained
}
