package actor

import (
	"context"
	"sync"
)

// BlockingActor is a thread-backed actor whose behavior runs
// synchronously on whatever goroutine calls its Receive family of methods,
// as opposed to ScheduledActor which is driven by the cooperative resume
// loop. It is
// useful for test helpers, CLI command handlers, and bridging into
// synchronous library code that cannot yield to a scheduler.
type BlockingActor struct {
	id      string
	mailbox DynMailbox
	ctx     context.Context
	cancel  context.CancelFunc
	ref     *blockingActorRef

	mu      sync.Mutex
	skipped []dynEnvelope
}

// NewBlockingActor creates a BlockingActor with the given id. Unlike
// ScheduledActor, there is no Start/background goroutine: callers drive
// message processing explicitly via Receive, ReceiveFor, ReceiveWhile, or
// DoReceiveUntil from their own goroutine.
func NewBlockingActor(id string) *BlockingActor {
	ctx, cancel := context.WithCancel(context.Background())

	a := &BlockingActor{
		id:      id,
		mailbox: NewDynMailbox(),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.ref = &blockingActorRef{actor: a}

	return a
}

// Self returns a TellOnlyRef other actors can use to send this actor
// messages.
func (a *BlockingActor) Self() TellOnlyRef[Message] {
	return a.ref
}

// Close terminates the actor, closing its mailbox so that any blocked
// Receive call returns false instead of waiting forever.
func (a *BlockingActor) Close() {
	a.cancel()
	a.mailbox.Close(ExitUserShutdown)
}

// Receive blocks until a message arrives matching one of behavior's
// entries, processes it, and returns true. It returns false if ctx is
// cancelled or the actor is closed before a match arrives. Messages that
// don't match behavior are buffered and retried, in arrival order, on the
// next call to any Receive-family method.
func (a *BlockingActor) Receive(ctx context.Context, behavior *Behavior) bool {
	a.mu.Lock()
	carried := a.skipped
	a.skipped = nil
	a.mu.Unlock()

	var stillSkipped []dynEnvelope

	defer func() {
		a.mu.Lock()
		a.skipped = append(stillSkipped, a.skipped...)
		a.mu.Unlock()
	}()

	for i, env := range carried {
		if behavior.dispatch(envCtx(ctx, env), env.payload) != OutcomeSkip {
			stillSkipped = append(stillSkipped, carried[i+1:]...)
			return true
		}
		stillSkipped = append(stillSkipped, env)
	}

	for {
		env, ok := a.mailbox.Next(ctx)
		if !ok {
			return false
		}

		if behavior.dispatch(envCtx(ctx, env), env.payload) != OutcomeSkip {
			return true
		}

		stillSkipped = append(stillSkipped, env)
	}
}

// envCtx returns the envelope's own caller context if it has one, else ctx.
func envCtx(ctx context.Context, env dynEnvelope) context.Context {
	if env.callerCtx != nil {
		return env.callerCtx
	}
	return ctx
}

// ReceiveFor calls Receive count times, stopping early if any call returns
// false.
func (a *BlockingActor) ReceiveFor(ctx context.Context, behavior *Behavior, count int) int {
	handled := 0
	for i := 0; i < count; i++ {
		if !a.Receive(ctx, behavior) {
			break
		}
		handled++
	}
	return handled
}

// ReceiveWhile calls Receive repeatedly while cond returns true.
func (a *BlockingActor) ReceiveWhile(ctx context.Context, behavior *Behavior, cond func() bool) {
	for cond() {
		if !a.Receive(ctx, behavior) {
			return
		}
	}
}

// DoReceiveUntil calls Receive repeatedly until until returns true.
func (a *BlockingActor) DoReceiveUntil(ctx context.Context, behavior *Behavior, until func() bool) {
	for {
		if !a.Receive(ctx, behavior) {
			return
		}
		if until() {
			return
		}
	}
}

// blockingActorRef is the TellOnlyRef view of a BlockingActor.
type blockingActorRef struct {
	actor *BlockingActor
}

// ID implements BaseActorRef.
func (r *blockingActorRef) ID() string { return r.actor.id }

// Tell implements TellOnlyRef.
func (r *blockingActorRef) Tell(ctx context.Context, msg Message) {
	r.actor.mailbox.TrySend(dynEnvelope{payload: msg, callerCtx: ctx})
}
