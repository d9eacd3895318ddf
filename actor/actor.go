package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// mergeContexts creates a new context that cancels when either parent context
// cancels, enabling actors to respect both system shutdown and caller deadlines
// simultaneously. It preserves the shortest deadline between the two contexts
// to ensure the most restrictive timeout is honored.
//
// A background goroutine monitors both parent contexts and cancels the merged
// context when either parent cancels. The goroutine exits as soon as any
// cancellation is detected, preventing goroutine leaks. Callers must call the
// returned cancel function to release resources when the merged context is no
// longer needed.
func mergeContexts(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	deadline1, hasDeadline1 := ctx1.Deadline()
	deadline2, hasDeadline2 := ctx2.Deadline()

	baseCtx := ctx1
	if hasDeadline2 {
		if !hasDeadline1 || deadline2.Before(deadline1) {
			baseCtx = ctx2
		}
	}

	mergedCtx, cancel := context.WithCancel(baseCtx)

	go func() {
		select {
		case <-ctx1.Done():
			cancel()
		case <-ctx2.Done():
			cancel()
		case <-mergedCtx.Done():
		}
	}()

	return mergedCtx, cancel
}

// ActorConfig holds the configuration parameters for creating a new Actor.
// It is generic over M (Message type) and R (Response type) to accommodate
// the actor's specific behavior.
type ActorConfig[M Message, R any] struct {
	// ID is the unique identifier for the actor.
	ID string

	// Behavior defines how the actor responds to messages.
	Behavior ActorBehavior[M, R]

	// DLO is a reference to the dead letter office for this actor system.
	// If nil, undeliverable messages during shutdown are dropped instead
	// of being routed anywhere.
	DLO ActorRef[Message, any]

	// MailboxSize is accepted for callers that size mailboxes explicitly,
	// but is otherwise unused: the ScheduledActor this type wraps queues
	// on a DynMailbox, which is unbounded.
	MailboxSize int

	// Wg is an optional WaitGroup for tracking actor lifecycle. If
	// non-nil, the actor will call Add(1) when starting and Done() when
	// its process loop exits. This enables deterministic shutdown.
	Wg *sync.WaitGroup

	// CleanupTimeout specifies the maximum duration for OnStop cleanup.
	// If None, a default of 5 seconds is used.
	CleanupTimeout fn.Option[time.Duration]

	// System, if set, supplies the Clock this actor's underlying
	// ScheduledActor uses for idle/request timers, letting a typed Actor
	// share a deterministic clock with the rest of an actortest-driven
	// system. If nil, a real wall clock is used.
	System SystemContext
}

// responseWrapper carries an Ask reply's R value through the dynamically-
// typed Message plumbing that ScheduledActor's ResponsePromise requires.
// Unlike typed_actor.go's Narrow/Widen (which require R to already satisfy
// Message so a reply can be asserted back to R directly), ActorBehavior's R
// is unconstrained (any), so a reply of an arbitrary type needs a concrete
// Message envelope to travel through Reply/ResponsePromise.Deliver.
type responseWrapper[R any] struct {
	BaseMessage
	value R
}

// MessageType implements Message.
func (*responseWrapper[R]) MessageType() string { return "actor.ask_response" }

// askCatcher bridges a single typed Ask call into the dynamically-typed
// request/response machinery: it is a throwaway TellOnlyRef[Message] handed
// to ReceiveRequest as the "sender" of one correlated request, and its Tell
// is invoked exactly once with the resulting responseEnvelope, which it
// unwraps into the caller's Promise[R].
type askCatcher[R any] struct {
	id      string
	promise Promise[R]
}

// ID implements BaseActorRef.
func (c *askCatcher[R]) ID() string { return c.id }

// Tell implements TellOnlyRef: it expects exactly one *responseEnvelope,
// produced by ResponsePromise.complete, and completes the captured promise
// from it.
func (c *askCatcher[R]) Tell(_ context.Context, msg Message) {
	resp, ok := msg.(*responseEnvelope)
	if !ok {
		return
	}

	if resp.err != nil {
		c.promise.Complete(fn.Err[R](resp.err))
		return
	}

	wrapped, ok := resp.payload.(*responseWrapper[R])
	if !ok {
		c.promise.Complete(fn.Err[R](RuntimeErrorFrom(ErrNoMatchingHandler)))
		return
	}

	c.promise.Complete(fn.Ok(wrapped.value))
}

// Actor is a typed actor: a narrow, compile-time-checkable
// Tell/Ask interface over exactly one (M, R) message/response signature,
// implemented as a single-entry Behavior driving a dynamically-typed
// ScheduledActor. The narrowing happens entirely in the Behavior and in
// actorRefImpl's Tell/Ask, so there is exactly one mailbox implementation
// (DynMailbox) in the whole package.
type Actor[M Message, R any] struct {
	// id is the unique identifier for the actor.
	id string

	// sa is the dynamically-typed actor this type narrows down to a
	// single (M, R) signature.
	sa *ScheduledActor

	// behavior is retained so OnStop can be invoked if it implements
	// Stoppable.
	behavior ActorBehavior[M, R]

	// dlo is a reference to the dead letter office for this actor system.
	dlo ActorRef[Message, any]

	// cleanupTimeout is the maximum duration for OnStop cleanup.
	cleanupTimeout time.Duration

	// ref is the cached ActorRef for this actor.
	ref ActorRef[M, R]
}

// NewActor creates a new actor instance with the given ID and behavior.
// It initializes the actor's internal structures but does not start its
// message processing goroutine. The Start() method must be called to begin
// processing messages.
func NewActor[M Message, R any](cfg ActorConfig[M, R]) *Actor[M, R] {
	a := &Actor[M, R]{
		id:             cfg.ID,
		behavior:       cfg.Behavior,
		dlo:            cfg.DLO,
		cleanupTimeout: cfg.CleanupTimeout.UnwrapOr(5 * time.Second),
	}

	signatureBehavior := NewBehavior(
		On[M](func(ctx context.Context, msg M) bool {
			handlerCtx := a.sa.ctx
			if _, hasPromise := ResponsePromiseFromContext(ctx); hasPromise {
				merged, cancel := mergeContexts(a.sa.ctx, ctx)
				defer cancel()
				handlerCtx = merged
			}

			log.TraceS(handlerCtx, "Actor processing message",
				"actor_id", a.id, "msg_type", msg.MessageType())

			result := cfg.Behavior.Receive(handlerCtx, msg)

			val, err := result.Unpack()
			if err != nil {
				ReplyError(ctx, err)
			} else {
				Reply(ctx, &responseWrapper[R]{value: val})
			}

			return true
		}),
	)

	a.sa = NewScheduledActor(ScheduledActorConfig{
		ID:          cfg.ID,
		Behavior:    signatureBehavior,
		System:      cfg.System,
		Wg:          cfg.Wg,
		OnTerminate: a.onTerminated,
	})

	a.ref = &actorRefImpl[M, R]{actor: a}

	return a
}

// Start initiates the actor's message processing loop in a new goroutine.
// This method should be called exactly once after actor creation; repeated
// calls are safe but have no effect.
func (a *Actor[M, R]) Start() {
	log.DebugS(context.Background(), "Starting actor", "actor_id", a.id)
	a.sa.Start()
}

// Stop signals the actor to terminate its processing loop and shut down.
// The mailbox is also closed directly here rather than left for the
// processing goroutine to close on its way out: Actor[M,R] instances are
// sometimes constructed and stopped without ever calling Start (e.g.
// newStoppedActorRef in system.go, used to hand back a safe non-nil ref when
// spawning fails), and DynMailbox.Close is idempotent, so this has no effect
// beyond that case when the actor is actually running.
func (a *Actor[M, R]) Stop() {
	a.sa.Stop()
	a.sa.mailbox.Close(ExitUserShutdown)
}

// onTerminated runs once the underlying ScheduledActor's mailbox has closed
// and its exit reason is published, before links/monitors are notified: it
// drains any envelopes that were still buffered, routing every abandoned
// payload (Tells and Asks alike) to the DLO and failing abandoned Asks with
// an actor-terminated error, then invokes the behavior's Stoppable hook if
// it implements one, bounded by cleanupTimeout.
func (a *Actor[M, R]) onTerminated(reason ExitReason) {
	drained := a.sa.mailbox.Drain()

	for _, env := range drained {
		log.TraceS(context.Background(), "Draining message from terminated actor",
			"actor_id", a.id, "msg_type", env.payload.MessageType(),
			"has_dlo", a.dlo != nil)

		if a.dlo != nil {
			a.dlo.Tell(context.Background(), env.payload)
		}

		if env.sender != nil && !env.correlationID.IsAsync() && !env.correlationID.IsResponse() {
			env.sender.Tell(context.Background(), &responseEnvelope{
				correlationID: env.correlationID.AsResponse(),
				err:           ActorTerminatedError(),
			})
		}
	}

	if stoppable, ok := a.behavior.(Stoppable); ok {
		cleanupCtx, cancel := context.WithTimeout(
			context.Background(), a.cleanupTimeout,
		)
		defer cancel()

		if err := stoppable.OnStop(cleanupCtx); err != nil {
			log.WarnS(context.Background(), "Actor cleanup error during shutdown",
				err, "actor_id", a.id)
		}
	}

	log.DebugS(context.Background(), "Actor terminated",
		"actor_id", a.id, "reason", string(reason), "drained_messages", len(drained))
}

// actorRefImpl provides a concrete implementation of the ActorRef interface. It
// holds a reference to the target Actor instance, enabling message sending.
type actorRefImpl[M Message, R any] struct {
	actor *Actor[M, R]
}

// Tell sends a message without waiting for a response. If the actor has
// already terminated, the message is routed to the DLO instead of silently
// dropped.
func (ref *actorRefImpl[M, R]) Tell(ctx context.Context, msg M) {
	log.TraceS(ctx, "Sending Tell message",
		"actor_id", ref.actor.id, "msg_type", msg.MessageType())

	if ref.actor.sa.mailbox.TrySend(dynEnvelope{payload: msg, callerCtx: ctx}) {
		return
	}

	log.DebugS(ctx, "Tell failed, routing to DLO",
		"actor_id", ref.actor.id, "msg_type", msg.MessageType())
	ref.trySendToDLO(msg)
}

// Ask sends a message and returns a Future for the response. The Future will
// be completed with the actor's reply, or with an error if the target has
// already terminated.
func (ref *actorRefImpl[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	log.TraceS(ctx, "Sending Ask message",
		"actor_id", ref.actor.id, "msg_type", msg.MessageType())

	promise := NewPromise[R]()
	catcher := &askCatcher[R]{id: ref.actor.id + "-ask", promise: promise}

	// correlationID only needs to be nonzero with the response bit
	// unset, so dispatchEnvelope attaches a ResponsePromise; the catcher
	// is single-use, so there is no shared pending-response table to key
	// it against.
	ref.actor.sa.ReceiveRequest(ctx, CorrelationID(1), catcher, msg)

	return promise.Future()
}

// trySendToDLO attempts to send the message to the actor's DLO if configured.
func (ref *actorRefImpl[M, R]) trySendToDLO(msg M) {
	if ref.actor.dlo != nil {
		ref.actor.dlo.Tell(context.Background(), msg)
	}
}

// ID returns the unique identifier for this actor.
func (ref *actorRefImpl[M, R]) ID() string {
	return ref.actor.id
}

// Ref returns an ActorRef for this actor. This allows clients to interact with
// the actor (send messages) without having direct access to the Actor struct
// itself, promoting encapsulation and location transparency.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.ref
}

// TellRef returns a TellOnlyRef for this actor. This allows clients to send
// messages to the actor using only the "tell" pattern (fire-and-forget),
// without having access to "ask" capabilities.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.ref
}
