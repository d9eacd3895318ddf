package actor

import (
	"context"
	"sync"
)

// DownMessage is delivered to a monitor when the monitored actor
// terminates. It is never delivered for a normal exit to a linked peer
// (links propagate abnormal exits only); monitors always receive it.
type DownMessage struct {
	BaseMessage

	// Source identifies the actor that terminated.
	Source TellOnlyRef[Message]

	// Reason is the terminated actor's exit reason.
	Reason ExitReason
}

// MessageType implements Message.
func (DownMessage) MessageType() string { return "actor.down" }

// ExitMessage is delivered to a linked peer when an actor terminates
// abnormally (any reason other than ExitNormal).
type ExitMessage struct {
	BaseMessage

	// Source identifies the actor that terminated.
	Source TellOnlyRef[Message]

	// Reason is the terminated actor's exit reason.
	Reason ExitReason
}

// MessageType implements Message.
func (ExitMessage) MessageType() string { return "actor.exit" }

// LinkSet tracks the bidirectional links and one-way monitors registered
// against a single actor, and delivers the appropriate notification when
// that actor terminates. Monitors registered after termination are notified
// immediately, so an observer receives exactly one notification regardless
// of whether it registered before or after the actor died.
type LinkSet struct {
	mu sync.Mutex

	links     map[string]TellOnlyRef[Message]
	monitors  map[string]TellOnlyRef[Message]
	callbacks map[uint64]func(ExitReason)
	nextCB    uint64

	terminated bool
	reason     ExitReason
	self       TellOnlyRef[Message]
}

// NewLinkSet creates an empty link/monitor set.
func NewLinkSet() *LinkSet {
	return &LinkSet{
		links:     make(map[string]TellOnlyRef[Message]),
		monitors:  make(map[string]TellOnlyRef[Message]),
		callbacks: make(map[uint64]func(ExitReason)),
	}
}

// Link registers this side of a bidirectional link to peer. Callers are
// expected to call Link on both sides, since this type only tracks one
// actor's outgoing links; ScheduledActor.Link does this for both ends when
// the peer is another ScheduledActor.
func (l *LinkSet) Link(peer TellOnlyRef[Message]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.links[peer.ID()] = peer
}

// Unlink removes a previously registered link.
func (l *LinkSet) Unlink(peer TellOnlyRef[Message]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.links, peer.ID())
}

// Monitor registers a one-way observer that receives a DownMessage when the
// monitored actor terminates, regardless of exit reason. If the actor has
// already terminated, the DownMessage is delivered immediately.
func (l *LinkSet) Monitor(observer TellOnlyRef[Message]) {
	l.mu.Lock()
	if l.terminated {
		self, reason := l.self, l.reason
		l.mu.Unlock()

		observer.Tell(context.Background(), DownMessage{
			Source: self, Reason: reason,
		})
		return
	}

	l.monitors[observer.ID()] = observer
	l.mu.Unlock()
}

// Demonitor removes a previously registered monitor.
func (l *LinkSet) Demonitor(observer TellOnlyRef[Message]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.monitors, observer.ID())
}

// monitorDisposable removes a callback monitor when cancelled.
type monitorDisposable struct {
	set *LinkSet
	id  uint64
}

// Cancel implements Disposable.
func (d *monitorDisposable) Cancel() bool {
	d.set.mu.Lock()
	defer d.set.mu.Unlock()

	if _, ok := d.set.callbacks[d.id]; !ok {
		return false
	}
	delete(d.set.callbacks, d.id)
	return true
}

// noopDisposable backs the already-fired case of MonitorFunc: there is
// nothing left to cancel.
type noopDisposable struct{}

// Cancel implements Disposable.
func (noopDisposable) Cancel() bool { return false }

// MonitorFunc registers cb to run once with the actor's exit reason instead
// of delivering a DownMessage. If the actor
// has already terminated, cb runs synchronously before MonitorFunc returns.
// Cancelling the returned Disposable removes the monitor; cancelling after
// the callback has fired is a no-op.
func (l *LinkSet) MonitorFunc(cb func(ExitReason)) Disposable {
	l.mu.Lock()
	if l.terminated {
		reason := l.reason
		l.mu.Unlock()

		cb(reason)
		return noopDisposable{}
	}

	id := l.nextCB
	l.nextCB++
	l.callbacks[id] = cb
	l.mu.Unlock()

	return &monitorDisposable{set: l, id: id}
}

// NotifyTermination delivers DownMessage to every monitor, runs every
// callback monitor, and delivers ExitMessage to every linked peer if reason
// is not a normal exit. It also records the terminal state
// so that late Monitor/MonitorFunc registrations are notified immediately.
// Only the first call has effect.
func (l *LinkSet) NotifyTermination(ctx context.Context, self TellOnlyRef[Message], reason ExitReason) {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return
	}
	l.terminated = true
	l.reason = reason
	l.self = self

	monitors := make([]TellOnlyRef[Message], 0, len(l.monitors))
	for _, m := range l.monitors {
		monitors = append(monitors, m)
	}
	l.monitors = make(map[string]TellOnlyRef[Message])

	callbacks := make([]func(ExitReason), 0, len(l.callbacks))
	for _, cb := range l.callbacks {
		callbacks = append(callbacks, cb)
	}
	l.callbacks = make(map[uint64]func(ExitReason))

	var peers []TellOnlyRef[Message]
	if !reason.IsNormal() {
		peers = make([]TellOnlyRef[Message], 0, len(l.links))
		for _, p := range l.links {
			peers = append(peers, p)
		}
	}
	l.links = make(map[string]TellOnlyRef[Message])
	l.mu.Unlock()

	for _, m := range monitors {
		m.Tell(ctx, DownMessage{Source: self, Reason: reason})
	}

	for _, cb := range callbacks {
		cb(reason)
	}

	for _, p := range peers {
		p.Tell(ctx, ExitMessage{Source: self, Reason: reason})
	}
}
