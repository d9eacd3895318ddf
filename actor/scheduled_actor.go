package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// RequestTarget is implemented by actor references that can accept a
// correlated request, i.e. one whose eventual reply must be routed back to
// the original sender tagged with a specific CorrelationID. A
// plain TellOnlyRef has no way to carry that extra bookkeeping through its
// Tell method, so ScheduledActor.Request type-asserts for this interface and
// falls back to an uncorrelated Tell when the target doesn't implement it.
type RequestTarget interface {
	ReceiveRequest(ctx context.Context, correlationID CorrelationID, sender TellOnlyRef[Message], msg Message)
}

type responsePromiseKey struct{}

// WithResponsePromise attaches promise to ctx so a handler invoked via
// Behavior dispatch can retrieve it with ResponsePromiseFromContext and call
// Reply/ReplyError.
func WithResponsePromise(ctx context.Context, promise *ResponsePromise) context.Context {
	return context.WithValue(ctx, responsePromiseKey{}, promise)
}

// ResponsePromiseFromContext retrieves the ResponsePromise attached by the
// ScheduledActor resume loop while processing a request, if any. A message
// delivered via Tell (correlation id zero) carries no promise.
func ResponsePromiseFromContext(ctx context.Context) (*ResponsePromise, bool) {
	p, ok := ctx.Value(responsePromiseKey{}).(*ResponsePromise)
	return p, ok
}

// Reply completes the request's ResponsePromise found in ctx with payload.
// It is a no-op if ctx carries no pending promise (the message was a Tell,
// not a Request).
func Reply(ctx context.Context, payload Message) {
	if p, ok := ResponsePromiseFromContext(ctx); ok {
		p.Deliver(ctx, payload)
	}
}

// ReplyError completes the request's ResponsePromise found in ctx with err.
func ReplyError(ctx context.Context, err error) {
	if p, ok := ResponsePromiseFromContext(ctx); ok {
		p.DeliverError(ctx, err)
	}
}

// DefaultStrategy selects what a ScheduledActor does with a message that no
// handler in the active behavior matched. Requests go through the same
// strategy: under StrategySkip an unmatched request keeps its promise pending
// while it is buffered; under every other strategy its promise is released
// undelivered, so the requester receives a broken_promise error.
type DefaultStrategy int

const (
	// StrategySkip buffers the unmatched message for replay after the
	// next behavior change. This is the
	// default, since become/unbecome workflows depend on it.
	StrategySkip DefaultStrategy = iota

	// StrategyPrintAndDrop logs the unmatched message and discards it.
	StrategyPrintAndDrop

	// StrategyReflectAndQuit sends the unmatched message back to its
	// sender, then terminates the actor with ExitUnexpectedMessage.
	StrategyReflectAndQuit

	// StrategyTerminate terminates the actor with ExitUnexpectedMessage.
	StrategyTerminate
)

// TimerStrength selects how an armed idle handler relates to the actor's
// lifetime. Timers here never contribute a reference count of their own:
// the actor keeps a strong self-reference until it terminates, so while it
// is running both flavors behave identically. The distinction shows at the
// margin — a TimerWeak firing that races object destruction (every strong
// reference gone, including the self-reference released at termination) is
// discarded, whereas a TimerStrong firing in the same window still runs.
type TimerStrength int

const (
	// TimerStrong handlers run whenever their tick is still current,
	// regardless of the actor's reference state.
	TimerStrong TimerStrength = iota

	// TimerWeak handlers are additionally discarded once the actor's
	// strong count has reached zero.
	TimerWeak
)

// TimerCardinality controls whether an idle handler fires once and disarms,
// or re-arms itself after every firing.
type TimerCardinality int

const (
	// TimerOnce disarms the idle handler after its first firing.
	TimerOnce TimerCardinality = iota

	// TimerRepeat re-arms the idle handler after each firing.
	TimerRepeat
)

// idleHandler is the actor-level idle timeout installed by SetIdleHandler,
// distinct from a Behavior's own After() timeout (which takes precedence
// while that behavior is active).
type idleHandler struct {
	d           time.Duration
	strength    TimerStrength
	cardinality TimerCardinality
	fn          func()
}

// idleTick is the internal message enqueued by a ScheduledActor's own idle
// timer. gen guards against a timer that fired just as a newer one was
// armed from delivering a stale tick.
type idleTick struct {
	BaseMessage
	gen uint64
}

// MessageType implements Message.
func (idleTick) MessageType() string { return "actor.idle_tick" }

// ScheduledActor is a cooperatively scheduled, dynamically-typed
// actor: its mailbox can carry any Message, dispatch is driven by an
// ordered Behavior with become/unbecome support, and requests are correlated
// via CorrelationID rather than a single static response type. It
// complements the statically-typed Actor[M,R] (actor.go), which remains the
// implementation for the narrow typed-actor interface.
type ScheduledActor struct {
	id string

	mailbox DynMailbox
	stack   *BehaviorStack
	links   *LinkSet
	clock   Clock
	sys     SystemContext

	ctx    context.Context
	cancel context.CancelFunc

	wg *sync.WaitGroup

	startOnce    sync.Once
	stopOnce     sync.Once
	finalizeOnce sync.Once

	corrCounter atomic.Uint64
	pending     *pendingResponseTable
	pendingMu   sync.Mutex

	idleGen     atomic.Uint64
	idleTimer   Disposable
	idleHandler *idleHandler

	defaultStrategy DefaultStrategy

	// awaitingID, when non-zero, defers every envelope except the one
	// resolving that correlation id, implementing request(...).await's
	// skip-all-but-awaited ordering. Touched only from the
	// actor's own processing loop.
	awaitingID CorrelationID
	deferred   []dynEnvelope

	ctrl *ControlBlock

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	ref *scheduledActorRef

	exitReason ExitReason

	// onTerminate, if set, runs once after the mailbox closes and the exit
	// reason is published, before still-buffered requests are failed and
	// links are notified, and before the dedicated goroutine (or the
	// scheduler's Resume call) considers this actor fully stopped. It is the seam
	// Actor[M,R] (actor.go) uses to drain abandoned envelopes to its DLO
	// and invoke an ActorBehavior's Stoppable.OnStop hook.
	onTerminate func(ExitReason)
}

// ScheduledActorConfig configures a new ScheduledActor.
type ScheduledActorConfig struct {
	ID       string
	Behavior *Behavior
	System   SystemContext
	Wg       *sync.WaitGroup

	// DefaultStrategy selects what happens to messages no handler
	// matched, requests included. The zero value, StrategySkip, buffers them for
	// replay after the next behavior change.
	DefaultStrategy DefaultStrategy

	// OnTerminate, if set, is invoked once the mailbox has closed, before
	// still-buffered requests are failed and links/monitors are notified,
	// with the actor's final ExitReason.
	OnTerminate func(ExitReason)
}

// NewScheduledActor constructs a ScheduledActor with the given initial
// behavior. Call Start to begin its processing loop.
func NewScheduledActor(cfg ScheduledActorConfig) *ScheduledActor {
	ctx, cancel := context.WithCancel(context.Background())

	a := &ScheduledActor{
		id:              cfg.ID,
		mailbox:         NewDynMailbox(),
		stack:           NewBehaviorStack(cfg.Behavior),
		links:           NewLinkSet(),
		sys:             cfg.System,
		ctx:             ctx,
		cancel:          cancel,
		wg:              cfg.Wg,
		pending:         newPendingResponseTable(),
		defaultStrategy: cfg.DefaultStrategy,
		onTerminate:     cfg.OnTerminate,
	}

	if cfg.System != nil {
		a.clock = cfg.System.Clock()
	} else {
		a.clock = NewWallClock()
	}

	var home NodeID
	if n, ok := cfg.System.(interface{ NodeID() NodeID }); ok {
		home = n.NodeID()
	}
	a.ctrl = newControlBlock(a, home)

	a.ref = &scheduledActorRef{actor: a}

	return a
}

// Self returns a TellOnlyRef for this actor that also supports correlated
// requests and delegation (RequestTarget, DelegateTarget).
func (a *ScheduledActor) Self() TellOnlyRef[Message] {
	return a.ref
}

// Start begins the actor's processing goroutine. Safe to call multiple
// times; only the first call has effect.
func (a *ScheduledActor) Start() {
	a.startOnce.Do(func() {
		if a.wg != nil {
			a.wg.Add(1)
		}
		a.armIdleTimer()
		go a.run()
	})
}

// Stop signals the actor to terminate with ExitUserShutdown.
func (a *ScheduledActor) Stop() {
	a.stopOnce.Do(func() {
		a.exitReason = ExitUserShutdown
		a.cancel()
	})
}

// ExitWith signals the actor to terminate immediately with reason, the
// external-kill counterpart to Stop used to drive link/monitor
// propagation. Like Stop,
// it only takes effect the first time it or Stop is called.
func (a *ScheduledActor) ExitWith(reason ExitReason) {
	a.stopOnce.Do(func() {
		a.exitReason = reason
		a.cancel()
	})
}

// StartOnScheduler runs this actor as a Resumable on sched instead of giving
// it a dedicated goroutine, for deployments running many lightweight actors
// over a bounded thread pool. The mailbox's
// OnReady hook reschedules the actor whenever a message arrives while it has
// no other work queued.
func (a *ScheduledActor) StartOnScheduler(sched *Scheduler) {
	a.startOnce.Do(func() {
		if a.wg != nil {
			a.wg.Add(1)
		}
		a.armIdleTimer()

		a.mailbox.OnReady(func() { sched.Schedule(a) })
		sched.Schedule(a)
	})
}

// Resume implements Resumable: it processes up to maxThroughput messages
// without blocking, returning true once the mailbox is drained (or the
// actor's context is cancelled), at which point the scheduler moves on and
// relies on the mailbox's OnReady hook to reschedule later.
func (a *ScheduledActor) Resume(ctx context.Context, maxThroughput int) bool {
	for i := 0; i < maxThroughput; i++ {
		if a.ctx.Err() != nil {
			a.finalizeOnce.Do(func() {
				a.finalizeRun()
				if a.wg != nil {
					a.wg.Done()
				}
			})
			return true
		}

		env, ok := a.mailbox.TryNext()
		if !ok {
			return true
		}

		a.dispatchEnvelope(env)
	}

	return false
}

// finalizeRun closes the mailbox and notifies links/monitors, mirroring the
// cleanup run() performs at the end of its dedicated goroutine's loop.
func (a *ScheduledActor) finalizeRun() {
	reason := a.exitReason
	if reason == "" {
		reason = ExitNormal
	}

	a.terminate(reason)
}

// terminate performs the full shutdown sequence: publish the exit
// reason, run the termination hook, fail every still-buffered request with
// it, notify monitors and links, and release the actor's self-reference so
// the control block can observe object destruction.
func (a *ScheduledActor) terminate(reason ExitReason) {
	a.mailbox.Close(reason)
	a.ctrl.publishExit(reason)

	if a.idleTimer != nil {
		a.idleTimer.Cancel()
		a.idleTimer = nil
	}

	ctx := context.Background()

	// The hook runs before the drain below so it still sees the
	// envelopes left in the mailbox.
	if a.onTerminate != nil {
		a.onTerminate(reason)
	}

	// Requests still buffered in the mailbox, deferred behind an await,
	// or parked in the skip buffer fail back to their senders with the
	// exit reason; plain tells are dropped.
	drained := a.mailbox.Drain()
	drained = append(drained, a.deferred...)
	a.deferred = nil

	for _, env := range drained {
		if env.correlationID.IsAsync() ||
			env.correlationID.IsResponse() || env.sender == nil {

			continue
		}

		env.sender.Tell(ctx, &responseEnvelope{
			correlationID: env.correlationID.AsResponse(),
			err:           ActorTerminatedError(),
		})
	}

	for _, sm := range a.stack.TakeSkipped() {
		if p, ok := ResponsePromiseFromContext(sm.ctx); ok {
			p.DeliverError(sm.ctx, ActorTerminatedError())
			p.Release(sm.ctx)
		}
	}

	a.links.NotifyTermination(ctx, a.ref, reason)

	a.ctrl.releaseStrong()
}

// Become pushes next as the active behavior.
func (a *ScheduledActor) Become(next *Behavior) {
	a.stack.Become(next)
	a.onBehaviorChanged()
}

// BecomeReplace swaps the active behavior without stacking.
func (a *ScheduledActor) BecomeReplace(next *Behavior) {
	a.stack.BecomeReplace(next)
	a.onBehaviorChanged()
}

// Unbecome pops back to the previous behavior.
func (a *ScheduledActor) Unbecome() {
	a.stack.Unbecome()
	a.onBehaviorChanged()
}

// onBehaviorChanged replays any buffered skipped messages against the new
// top of stack and rearms the idle timer for the new behavior's duration.
// A replayed request that now matches releases the reference retained for
// its buffered context, so the handler's reply (or lack of one) resolves
// the promise the usual way.
func (a *ScheduledActor) onBehaviorChanged() {
	a.stack.ReplaySkipped(func(ctx context.Context, msg Message) Outcome {
		p, _ := ResponsePromiseFromContext(ctx)
		outcome := a.invokeBehavior(ctx, msg, p)
		if outcome != OutcomeSkip && p != nil {
			p.Release(ctx)
		}
		return outcome
	})
	a.armIdleTimer()
}

// Prepone reorders this actor's mailbox so the first buffered envelope whose
// payload satisfies match will be the next one dispatched, reporting whether
// a match was found. It is intended for the deterministic test fixture's
// prepone_and_expect control and should not be
// called from production code: it does not preserve per-sender FIFO
// ordering for the reordered message.
func (a *ScheduledActor) Prepone(match func(Message) bool) bool {
	return a.mailbox.Prepone(match)
}

// Link establishes a bidirectional link with peer. When peer is another
// ScheduledActor's Self ref the reverse link is registered on it too; for
// any other kind of ref only this actor's side is recorded.
func (a *ScheduledActor) Link(peer TellOnlyRef[Message]) {
	a.links.Link(peer)
	if p, ok := peer.(*scheduledActorRef); ok {
		p.actor.links.Link(a.ref)
	}
}

// Monitor registers observer as a one-way monitor of this actor. An
// observer registering after the actor has already terminated is still
// delivered its DownMessage, immediately.
func (a *ScheduledActor) Monitor(observer TellOnlyRef[Message]) {
	a.links.Monitor(observer)
}

// MonitorFunc registers cb to run once with this actor's exit reason, in
// place of a DownMessage delivery. Cancelling the returned Disposable
// removes the monitor before it fires.
func (a *ScheduledActor) MonitorFunc(cb func(ExitReason)) Disposable {
	return a.links.MonitorFunc(cb)
}

// Request sends msg to target and returns a ResponseHandle for registering
// reply/error continuations. timeout bounds how long the request waits for
// a response before failing with RequestTimeoutError; a non-positive timeout disables the bound.
func (a *ScheduledActor) Request(ctx context.Context, target TellOnlyRef[Message], msg Message, timeout time.Duration) ResponseHandle {
	corrID := CorrelationID(a.corrCounter.Add(1))

	a.pendingMu.Lock()
	a.pending.reserve(corrID)
	a.pending.setTarget(corrID, target.ID())
	a.pendingMu.Unlock()

	breaker := a.breakerFor(target.ID())
	if breaker.State() == gobreaker.StateOpen {
		a.mailbox.TrySend(dynEnvelope{
			payload: &circuitOpenTick{
				correlationID: corrID,
				target:        target.ID(),
			},
			priority: PriorityUrgent,
		})

		return ResponseHandle{correlationID: corrID, table: a.pending, actor: a}
	}

	if rt, ok := target.(RequestTarget); ok {
		rt.ReceiveRequest(ctx, corrID, a.ref, msg)
	} else {
		target.Tell(ctx, msg)
	}

	if timeout > 0 {
		disposable := a.clock.AfterFunc(timeout, func() {
			a.mailbox.TrySend(dynEnvelope{
				payload:       &requestTimeoutTick{correlationID: corrID},
				correlationID: 0,
				priority:      PriorityUrgent,
			})
		})

		a.pendingMu.Lock()
		a.pending.setTimeout(corrID, disposable)
		a.pendingMu.Unlock()
	}

	return ResponseHandle{correlationID: corrID, table: a.pending, actor: a}
}

// requestTimeoutTick is delivered to the requesting actor's own mailbox when
// a Request's timeout elapses before a response arrived.
type requestTimeoutTick struct {
	BaseMessage
	correlationID CorrelationID
}

// MessageType implements Message.
func (requestTimeoutTick) MessageType() string { return "actor.request_timeout" }

// circuitOpenTick is delivered to the requesting actor's own mailbox when a
// Request is short-circuited locally because the target's breaker is open,
// tripped after a run of consecutive timeouts to the same unreachable
// target.
type circuitOpenTick struct {
	BaseMessage
	correlationID CorrelationID
	target        string
}

// MessageType implements Message.
func (circuitOpenTick) MessageType() string { return "actor.circuit_open" }

// breakerFor returns (creating if necessary) the circuit breaker tracking
// consecutive request timeouts to the actor identified by id. Each target
// gets its own breaker so one unreachable peer doesn't short-circuit
// requests to every other target.
func (a *ScheduledActor) breakerFor(id string) *gobreaker.CircuitBreaker {
	a.breakersMu.Lock()
	defer a.breakersMu.Unlock()

	if a.breakers == nil {
		a.breakers = make(map[string]*gobreaker.CircuitBreaker)
	}

	cb, ok := a.breakers[id]
	if ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "request:" + id,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	a.breakers[id] = cb

	return cb
}

// ReceiveRequest implements RequestTarget: enqueue msg tagged with the
// caller's correlation id and sender so the eventual Reply routes back
// correctly. If the mailbox has already closed (the actor terminated before
// this request arrived), the would-have-failed signal is reported
// synchronously to sender as an actor-terminated response rather than
// silently dropping the request.
func (a *ScheduledActor) ReceiveRequest(ctx context.Context, correlationID CorrelationID, sender TellOnlyRef[Message], msg Message) {
	ok := a.mailbox.TrySend(dynEnvelope{
		sender:        sender,
		correlationID: correlationID,
		payload:       msg,
		callerCtx:     ctx,
	})
	if ok || sender == nil {
		return
	}

	sender.Tell(ctx, &responseEnvelope{
		correlationID: correlationID.AsResponse(),
		err:           ActorTerminatedError(),
	})
}

// RouteDelegated implements DelegateTarget, used by ResponsePromise.Delegate:
// it is functionally identical to ReceiveRequest, enqueuing msg under the
// original request's correlation id and sender so this actor's eventual
// Reply satisfies the original requester.
func (a *ScheduledActor) RouteDelegated(ctx context.Context, correlationID CorrelationID, originalSender TellOnlyRef[Message], msg Message) {
	a.ReceiveRequest(ctx, correlationID, originalSender, msg)
}

// armIdleTimer (re)schedules the idle-timeout tick for the current
// behavior's After() duration if it has one, else for the actor-level
// handler installed by SetIdleHandler, invalidating any previously armed
// timer via the generation counter.
func (a *ScheduledActor) armIdleTimer() {
	if a.idleTimer != nil {
		a.idleTimer.Cancel()
		a.idleTimer = nil
	}

	d := time.Duration(0)
	if behavior := a.stack.Current(); behavior != nil && behavior.idleTimeout > 0 {
		d = behavior.idleTimeout
	} else if a.idleHandler != nil {
		d = a.idleHandler.d
	}
	if d <= 0 {
		return
	}

	gen := a.idleGen.Add(1)

	a.idleTimer = a.clock.AfterFunc(d, func() {
		a.mailbox.TrySend(dynEnvelope{payload: idleTick{gen: gen}})
	})
}

// SetIdleHandler arms fn to run whenever no message has been delivered for
// d. A TimerWeak handler stops firing once the actor's strong
// count reaches zero; TimerRepeat re-arms after every firing. A Behavior's
// own After() timeout takes precedence while that behavior is active.
// Arming with a non-positive duration is the unbounded-idle error case and
// terminates the actor with ExitRuntimeError.
func (a *ScheduledActor) SetIdleHandler(d time.Duration, strength TimerStrength,
	cardinality TimerCardinality, fn func(),
) {
	if d <= 0 {
		log.ErrorS(a.ctx, "Rejecting unbounded idle timeout",
			ErrIdleTimeoutInfinite, "actor_id", a.id)
		a.ExitWith(ExitRuntimeError)
		return
	}

	a.idleHandler = &idleHandler{
		d:           d,
		strength:    strength,
		cardinality: cardinality,
		fn:          fn,
	}
	a.armIdleTimer()
}

// run is the resume loop: dequeue, dispatch against the current
// behavior, replay skipped messages on become/unbecome, and notify links and
// monitors on termination.
func (a *ScheduledActor) run() {
	if a.wg != nil {
		defer a.wg.Done()
	}

	reason := ExitNormal

	for {
		// Once stopped, nothing more is dispatched: envelopes still
		// buffered are left for terminate to fail or hand to the hook.
		if a.ctx.Err() != nil {
			if a.exitReason != "" {
				reason = a.exitReason
			}
			break
		}

		env, ok := a.mailbox.Next(a.ctx)
		if !ok {
			if a.ctx.Err() != nil && a.exitReason != "" {
				reason = a.exitReason
			}
			break
		}

		a.dispatchEnvelope(env)
	}

	a.terminate(reason)

	log.DebugS(context.Background(), "ScheduledActor terminated",
		"actor_id", a.id, "reason", string(reason))
}

// envResolvesAwait reports whether env is the response, timeout, or
// circuit-open outcome for the given in-flight correlation id.
func envResolvesAwait(env dynEnvelope, id CorrelationID) bool {
	switch m := env.payload.(type) {
	case *responseEnvelope:
		return m.correlationID.RequestID() == id
	case *requestTimeoutTick:
		return m.correlationID == id
	case *circuitOpenTick:
		return m.correlationID == id
	}
	return false
}

// replayDeferred re-dispatches every envelope deferred behind an await, in
// original arrival order.
func (a *ScheduledActor) replayDeferred() {
	pending := a.deferred
	a.deferred = nil

	for _, env := range pending {
		a.dispatchEnvelope(env)
	}
}

// dispatchEnvelope routes a single dequeued envelope: responses and timeout
// ticks resolve pending requests, idle ticks invoke the armed idle handler
// (if still current), and everything else is matched against the active
// Behavior, buffering it for replay on a skip.
func (a *ScheduledActor) dispatchEnvelope(env dynEnvelope) {
	// While awaiting a specific response, every other envelope is
	// deferred in arrival order.
	if a.awaitingID != 0 && !envResolvesAwait(env, a.awaitingID) {
		a.deferred = append(a.deferred, env)
		return
	}

	switch msg := env.payload.(type) {
	case *responseEnvelope:
		a.resolveResponse(msg.correlationID.RequestID(), msg.payload, msg.err)
		return

	case *requestTimeoutTick:
		a.resolveResponse(msg.correlationID, nil, RequestTimeoutError(msg.correlationID))
		return

	case *circuitOpenTick:
		a.resolveResponse(msg.correlationID, nil,
			fmt.Errorf("%w: target %s", ErrCircuitOpen, msg.target))
		return

	case idleTick:
		a.dispatchIdleTick(msg)
		return
	}

	// Any real envelope delivery cancels the pending idle timer and
	// re-arms it for the current behavior.
	a.armIdleTimer()

	ctx := env.callerCtx
	if ctx == nil {
		ctx = a.ctx
	}

	var promise *ResponsePromise
	if !env.correlationID.IsAsync() && !env.correlationID.IsResponse() {
		promise = NewResponsePromise(env.correlationID, env.sender)
		ctx = WithResponsePromise(ctx, promise)
	}

	outcome := a.invokeBehavior(ctx, env.payload, promise)

	if outcome == OutcomeSkip {
		if exit, ok := env.payload.(ExitMessage); ok && !exit.Reason.IsNormal() {
			// An unhandled non-normal exit from a linked peer
			// propagates by default, terminating this actor with
			// the same reason. An actor that wants different behavior
			// registers its own ExitMessage handler, which makes
			// dispatch above return something other than OutcomeSkip.
			a.exitReason = exit.Reason
			a.cancel()
			return
		}

		switch a.defaultStrategy {
		case StrategyPrintAndDrop:
			log.WarnS(ctx, "Dropping unmatched message", nil,
				"actor_id", a.id, "msg_type", env.payload.MessageType())

		case StrategyReflectAndQuit:
			if env.sender != nil {
				env.sender.Tell(ctx, env.payload)
			}
			a.exitReason = ExitUnexpectedMessage
			a.cancel()

		case StrategyTerminate:
			a.exitReason = ExitUnexpectedMessage
			a.cancel()

		default:
			// Retain a reference for the buffered context so a later
			// replay can still reply; the release below then leaves
			// the promise pending rather than breaking it.
			if promise != nil {
				promise.Clone()
			}
			a.stack.Skip(ctx, env.payload)
		}
	}

	if promise != nil {
		promise.Release(ctx)
	}
}

// invokeBehavior dispatches payload through the top of the behavior stack,
// converting a handler panic into either a runtime-error response (for a
// request) or actor termination with ExitRuntimeError (for an asynchronous
// message).
func (a *ScheduledActor) invokeBehavior(ctx context.Context, payload Message, promise *ResponsePromise) (outcome Outcome) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		err := RuntimeErrorFrom(fmt.Errorf("handler panic: %v", r))
		log.ErrorS(ctx, "Handler panicked", err, "actor_id", a.id)

		if promise != nil {
			promise.DeliverError(ctx, err)
		} else {
			a.exitReason = ExitRuntimeError
			a.cancel()
		}

		outcome = OutcomeHandled
	}()

	return a.stack.Current().dispatch(ctx, payload)
}

// dispatchIdleTick runs the armed idle handler if the tick is still current:
// a Behavior's own After() handler takes precedence, otherwise the
// actor-level handler installed by SetIdleHandler runs, honoring its
// strength and cardinality.
func (a *ScheduledActor) dispatchIdleTick(tick idleTick) {
	if tick.gen != a.idleGen.Load() {
		return
	}

	behavior := a.stack.Current()
	if behavior != nil && behavior.onIdle != nil {
		a.dispatchEnvelope(dynEnvelope{payload: behavior.onIdle()})
		return
	}

	h := a.idleHandler
	if h == nil {
		return
	}

	// A weak handler does not outlive the actor object: a tick that
	// raced object destruction is dropped. See TimerStrength for why
	// this only matters at the destruction margin.
	if h.strength == TimerWeak && a.ctrl.StrongCount() == 0 {
		return
	}

	h.fn()

	if h.cardinality == TimerRepeat {
		a.armIdleTimer()
	} else {
		a.idleHandler = nil
	}
}

// resolveResponse looks up correlationID in the pending table and invokes
// the registered continuation, or discards the response if Then was never
// called (the table entry was reserved but never registered).
func (a *ScheduledActor) resolveResponse(correlationID CorrelationID, payload Message, err error) {
	a.pendingMu.Lock()
	entry, ok := a.pending.resolve(correlationID)
	a.pendingMu.Unlock()

	if a.awaitingID == correlationID {
		a.awaitingID = 0
		defer a.replayDeferred()
	}

	if !ok {
		return
	}

	if entry.targetID != "" {
		breaker := a.breakerFor(entry.targetID)
		_, _ = breaker.Execute(func() (any, error) { return nil, err })
	}

	if err != nil {
		if entry.onError != nil {
			entry.onError(a.ctx, err)
		}
		return
	}

	if entry.onReply != nil {
		entry.onReply(a.ctx, payload)
	}
}

// scheduledActorRef is the TellOnlyRef/RequestTarget/DelegateTarget view of
// a ScheduledActor handed out to other actors.
type scheduledActorRef struct {
	actor *ScheduledActor
}

// ID implements BaseActorRef.
func (r *scheduledActorRef) ID() string { return r.actor.id }

// Tell implements TellOnlyRef: an uncorrelated, fire-and-forget send.
func (r *scheduledActorRef) Tell(ctx context.Context, msg Message) {
	r.actor.mailbox.TrySend(dynEnvelope{payload: msg, callerCtx: ctx})
}

// ReceiveRequest implements RequestTarget.
func (r *scheduledActorRef) ReceiveRequest(ctx context.Context, correlationID CorrelationID, sender TellOnlyRef[Message], msg Message) {
	r.actor.ReceiveRequest(ctx, correlationID, sender, msg)
}

// RouteDelegated implements DelegateTarget.
func (r *scheduledActorRef) RouteDelegated(ctx context.Context, correlationID CorrelationID, originalSender TellOnlyRef[Message], msg Message) {
	r.actor.RouteDelegated(ctx, correlationID, originalSender, msg)
}
