package actor

import (
	"context"
	"sync"
	"time"
)

// recorderRef is a TellOnlyRef that records everything told to it, for
// asserting on what an actor under test sent out. Unlike a channel-backed
// double it never blocks a sender, and its backlog can be inspected or
// drained in one shot.
type recorderRef[M Message] struct {
	id string

	mu   sync.Mutex
	cond *sync.Cond
	msgs []M
}

func newRecorderRef[M Message](id string) *recorderRef[M] {
	r := &recorderRef[M]{id: id}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ID implements BaseActorRef.
func (r *recorderRef[M]) ID() string { return r.id }

// Tell implements TellOnlyRef.
func (r *recorderRef[M]) Tell(_ context.Context, msg M) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.cond.Broadcast()
	r.mu.Unlock()
}

// take drains and returns everything recorded so far, in arrival order.
func (r *recorderRef[M]) take() []M {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.msgs
	r.msgs = nil
	return out
}

// next pops the oldest recorded message, waiting up to timeout for one to
// arrive. It returns false if the timeout expires first.
func (r *recorderRef[M]) next(timeout time.Duration) (M, bool) {
	deadline := time.Now().Add(timeout)

	// sync.Cond has no deadline support; wake the wait loop when the
	// timeout expires so it can observe the deadline.
	wake := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer wake.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.msgs) == 0 {
		if time.Now().After(deadline) {
			var zero M
			return zero, false
		}
		r.cond.Wait()
	}

	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, true
}

// Compile-time check that recorderRef implements TellOnlyRef.
var _ TellOnlyRef[Message] = (*recorderRef[Message])(nil)
