package actor

import (
	"sync"
	"sync/atomic"
	"time"
)

// nextActorID hands out the process-globally unique numeric id stamped into
// every ControlBlock. Ids are never reused within a process.
var nextActorID atomic.Uint64

// ControlBlock is the one stable rendezvous point for reaching a
// ScheduledActor: it carries the actor's globally unique
// numeric id, its home-system identity, a strong reference count governing
// the actor object's lifetime, a weak reference count governing the block's
// own lifetime, the live actor pointer while the actor is alive, and the
// terminal exit reason once set. StrongHandle and WeakAddress are the two
// reference flavors layered on top: strong handles keep the actor alive,
// weak addresses keep only the block alive.
//
// The strong domain collectively holds one weak count, so the block outlives
// the actor object for as long as any address still points at it.
type ControlBlock struct {
	id   uint64
	home NodeID

	mu     sync.Mutex
	strong int64
	weak   int64
	target *ScheduledActor
	reason ExitReason
	isSet  bool
}

// newControlBlock builds the block for target with a strong count of 1 (the
// actor's own self-reference, released when it terminates) and the strong
// domain's single weak count.
func newControlBlock(target *ScheduledActor, home NodeID) *ControlBlock {
	return &ControlBlock{
		id:     nextActorID.Add(1),
		home:   home,
		strong: 1,
		weak:   1,
		target: target,
	}
}

// NumericID returns the block's process-globally unique actor id.
func (cb *ControlBlock) NumericID() uint64 {
	return cb.id
}

// Home returns the identity of the actor system the actor was spawned in.
func (cb *ControlBlock) Home() NodeID {
	return cb.home
}

// StrongCount returns the current strong reference count. Zero means the
// actor object has been destroyed.
func (cb *ControlBlock) StrongCount() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.strong
}

// WeakCount returns the current weak reference count, including the single
// count held collectively by the strong domain while any strong handle
// remains.
func (cb *ControlBlock) WeakCount() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.weak
}

// TerminalReason returns the exit reason published at termination, and
// false while the actor is still alive.
func (cb *ControlBlock) TerminalReason() (ExitReason, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.reason, cb.isSet
}

// publishExit records the actor's terminal exit reason. The first reason
// wins; later publications are ignored so that a racing Stop and a handler
// error cannot overwrite each other.
func (cb *ControlBlock) publishExit(reason ExitReason) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.isSet {
		return
	}
	cb.reason = reason
	cb.isSet = true
}

// retainStrong increments the strong count, failing (without incrementing)
// if the actor object has already been destroyed: a dead actor cannot be
// resurrected by strengthening a stale address.
func (cb *ControlBlock) retainStrong() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.strong == 0 {
		return false
	}
	cb.strong++
	return true
}

// releaseStrong decrements the strong count. When it reaches zero the actor
// object is destroyed: its exit reason is published (normal, if no other
// reason was set first), the live pointer is cleared, the actor is told to
// stop if still running, and the strong domain's weak count is released.
func (cb *ControlBlock) releaseStrong() {
	cb.mu.Lock()
	cb.strong--
	if cb.strong > 0 {
		cb.mu.Unlock()
		return
	}

	if !cb.isSet {
		cb.reason = ExitNormal
		cb.isSet = true
	}
	target := cb.target
	cb.target = nil
	reason := cb.reason
	cb.mu.Unlock()

	if target != nil {
		target.ExitWith(reason)
	}

	cb.releaseWeak()
}

// retainWeak increments the weak count.
func (cb *ControlBlock) retainWeak() {
	cb.mu.Lock()
	cb.weak++
	cb.mu.Unlock()
}

// releaseWeak decrements the weak count. Once it reaches zero nothing holds
// the block anymore and the Go garbage collector reclaims it; no explicit
// destruction step is needed beyond the bookkeeping itself.
func (cb *ControlBlock) releaseWeak() {
	cb.mu.Lock()
	cb.weak--
	cb.mu.Unlock()
}

// deref returns the live actor pointer, or nil once the actor object has
// been destroyed.
func (cb *ControlBlock) deref() *ScheduledActor {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.target
}

// StrongHandle keeps the referenced actor alive until released. Handles are not safe for concurrent use by multiple goroutines;
// Clone one per goroutine instead.
type StrongHandle struct {
	cb       *ControlBlock
	released atomic.Bool
}

// Deref returns the live actor, or nil if this handle was already released.
func (h *StrongHandle) Deref() *ScheduledActor {
	if h.released.Load() {
		return nil
	}
	return h.cb.deref()
}

// Block returns the underlying control block.
func (h *StrongHandle) Block() *ControlBlock {
	return h.cb
}

// Clone returns an independent strong handle to the same actor.
func (h *StrongHandle) Clone() *StrongHandle {
	if h.released.Load() || !h.cb.retainStrong() {
		return nil
	}
	return &StrongHandle{cb: h.cb}
}

// Release drops this handle's strong count. Idempotent.
func (h *StrongHandle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.cb.releaseStrong()
	}
}

// Downgrade converts this handle into a weak address without consuming it;
// the caller still owns (and must eventually Release) the strong handle.
func (h *StrongHandle) Downgrade() *WeakAddress {
	if h.released.Load() {
		return nil
	}
	h.cb.retainWeak()
	return &WeakAddress{cb: h.cb}
}

// WeakAddress keeps only the control block alive: it
// names an actor without extending its lifetime, and can be upgraded back to
// a strong handle only while the actor is still alive.
type WeakAddress struct {
	cb       *ControlBlock
	released atomic.Bool
}

// NumericID returns the addressed actor's unique numeric id, which remains
// valid (as a name) even after the actor has died.
func (a *WeakAddress) NumericID() uint64 {
	return a.cb.id
}

// IsAlive reports whether the addressed actor object still exists.
func (a *WeakAddress) IsAlive() bool {
	return !a.released.Load() && a.cb.StrongCount() > 0
}

// Upgrade attempts to strengthen this address into a handle, returning nil
// if the actor has already died: strengthening an address whose target is
// gone fails to nil rather than resurrecting it.
func (a *WeakAddress) Upgrade() *StrongHandle {
	if a.released.Load() || !a.cb.retainStrong() {
		return nil
	}
	return &StrongHandle{cb: a.cb}
}

// Clone returns an independent weak address to the same block.
func (a *WeakAddress) Clone() *WeakAddress {
	if a.released.Load() {
		return nil
	}
	a.cb.retainWeak()
	return &WeakAddress{cb: a.cb}
}

// Release drops this address's weak count. Idempotent.
func (a *WeakAddress) Release() {
	if a.released.CompareAndSwap(false, true) {
		a.cb.releaseWeak()
	}
}

// Handle returns a fresh strong handle to this actor, or nil once the actor
// object has been destroyed. The caller owns the returned handle and must
// Release it.
func (a *ScheduledActor) Handle() *StrongHandle {
	if a.ctrl == nil || !a.ctrl.retainStrong() {
		return nil
	}
	return &StrongHandle{cb: a.ctrl}
}

// Address returns a fresh weak address for this actor. The caller owns the
// returned address and must Release it. Unlike Handle, Address succeeds even
// after the actor has died, since the block itself outlives the object.
func (a *ScheduledActor) Address() *WeakAddress {
	if a.ctrl == nil {
		return nil
	}
	a.ctrl.retainWeak()
	return &WeakAddress{cb: a.ctrl}
}

// Ctrl exposes the actor's control block for callers that need its numeric
// id, home system, or published exit reason directly.
func (a *ScheduledActor) Ctrl() *ControlBlock {
	return a.ctrl
}

// TypedFromHandle converts a strong handle into a typed handle advertising
// sigs. It returns nil if h has already been released or its actor has
// died: narrowing a dead handle fails to null the same way strengthening a
// dead address does. The typed handle does not itself hold a strong count;
// callers keep h (or another strong handle) alive for as long as the typed
// view is in use.
func TypedFromHandle(h *StrongHandle, requester *ScheduledActor,
	timeout time.Duration, sigs ...Signature,
) *TypedHandle {
	target := h.Deref()
	if target == nil {
		return nil
	}
	return NewTypedHandle(target.Self(), requester, timeout, sigs...)
}
