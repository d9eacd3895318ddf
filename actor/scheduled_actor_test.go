package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualClock is a Clock whose timers fire only when the test says so,
// keeping idle/scheduled-send tests fully deterministic without pulling the
// actortest package into this one.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock     *manualClock
	fn        func()
	cancelled bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(0, 0)}
}

// Now implements Clock.
func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// AfterFunc implements Clock. The duration is recorded only implicitly: fire
// runs every pending timer regardless of deadline.
func (c *manualClock) AfterFunc(_ time.Duration, fn func()) Disposable {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Cancel implements Disposable.
func (t *manualTimer) Cancel() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// fire runs every pending, uncancelled timer and reports how many ran.
func (c *manualClock) fire() int {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil

	var fns []func()
	for _, t := range timers {
		if !t.cancelled {
			t.cancelled = true
			fns = append(fns, t.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// pending reports how many uncancelled timers are armed.
func (c *manualClock) pending() int {
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

// clockOnlyContext is the minimal SystemContext needed to hand a
// ScheduledActor a substitutable clock.
type clockOnlyContext struct {
	clock Clock
}

func (c *clockOnlyContext) Receptionist() *Receptionist         { return newReceptionist() }
func (c *clockOnlyContext) DeadLetters() ActorRef[Message, any] { return nil }
func (c *clockOnlyContext) Clock() Clock                        { return c.clock }

// TestRequestHandlerPanicSendsRuntimeErrorResponse verifies that a panic
// inside a request handler becomes a runtime-category error response to the
// sender rather than killing the responder.
func TestRequestHandlerPanicSendsRuntimeErrorResponse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	responder := NewScheduledActor(ScheduledActorConfig{
		ID: "panicky",
		Behavior: NewBehavior(
			On[*testMsg](func(_ context.Context, _ *testMsg) bool {
				panic("boom")
			}),
		),
	})
	requester := NewScheduledActor(ScheduledActorConfig{
		ID: "requester", Behavior: NewBehavior(),
	})

	handle := requester.Request(ctx, responder.Self(), newTestMsg("hi"), 0)

	var gotErr error
	handle.Then(
		func(_ context.Context, _ Message) { t.Fatal("unexpected reply") },
		func(_ context.Context, err error) { gotErr = err },
	)

	responder.Resume(ctx, 8)
	requester.Resume(ctx, 8)

	var coreErr *CoreError
	require.ErrorAs(t, gotErr, &coreErr)
	require.Equal(t, CategoryRuntime, coreErr.Category)

	// The responder survives and keeps processing.
	_, terminated := responder.Ctrl().TerminalReason()
	require.False(t, terminated)
}

// TestAsyncHandlerPanicTerminatesActor verifies the termination half of the
// panic policy: a panic while processing a plain tell terminates the actor
// with runtime_error.
func TestAsyncHandlerPanicTerminatesActor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID: "async-panic",
		Behavior: NewBehavior(
			On[*testMsg](func(_ context.Context, _ *testMsg) bool {
				panic("boom")
			}),
		),
	})

	sa.Self().Tell(ctx, newTestMsg("hi"))
	require.True(t, sa.Resume(ctx, 8))

	reason, terminated := sa.Ctrl().TerminalReason()
	require.True(t, terminated)
	require.Equal(t, ExitRuntimeError, reason)
}

// TestDefaultStrategyTerminateOnUnmatched verifies StrategyTerminate kills
// the actor with unexpected_message instead of buffering the stray.
func TestDefaultStrategyTerminateOnUnmatched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID:              "strict",
		Behavior:        NewBehavior(),
		DefaultStrategy: StrategyTerminate,
	})

	sa.Self().Tell(ctx, newTestMsg("stray"))
	require.True(t, sa.Resume(ctx, 8))

	reason, terminated := sa.Ctrl().TerminalReason()
	require.True(t, terminated)
	require.Equal(t, ExitUnexpectedMessage, reason)
}

// TestDefaultStrategyReflectAndQuitFailsRequest verifies an unmatched
// request under StrategyReflectAndQuit bounces the payload to the sender and
// terminates; the requester's continuation observes the undelivered promise.
func TestDefaultStrategyReflectAndQuitFailsRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	responder := NewScheduledActor(ScheduledActorConfig{
		ID:              "reflector",
		Behavior:        NewBehavior(),
		DefaultStrategy: StrategyReflectAndQuit,
	})
	requester := NewScheduledActor(ScheduledActorConfig{
		ID: "requester", Behavior: NewBehavior(),
	})

	handle := requester.Request(ctx, responder.Self(), newTestMsg("hi"), 0)

	var gotErr error
	handle.Then(
		func(_ context.Context, _ Message) { t.Fatal("unexpected reply") },
		func(_ context.Context, err error) { gotErr = err },
	)

	responder.Resume(ctx, 8)

	// The reflected payload and the failed-promise response both landed in
	// the requester's mailbox.
	require.Equal(t, 2, requester.mailbox.Len())

	requester.Resume(ctx, 8)

	require.ErrorIs(t, gotErr, ErrBrokenPromise)

	reason, terminated := responder.Ctrl().TerminalReason()
	require.True(t, terminated)
	require.Equal(t, ExitUnexpectedMessage, reason)
}

// TestDefaultStrategyPrintAndDropDiscards verifies dropped strays are not
// retained for replay.
func TestDefaultStrategyPrintAndDropDiscards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID:              "dropper",
		Behavior:        NewBehavior(),
		DefaultStrategy: StrategyPrintAndDrop,
	})

	sa.Self().Tell(ctx, newTestMsg("stray"))
	require.True(t, sa.Resume(ctx, 8))

	require.Empty(t, sa.stack.TakeSkipped())

	_, terminated := sa.Ctrl().TerminalReason()
	require.False(t, terminated)
}

// TestAwaitDefersUnrelatedEnvelopes is the await ordering contract: while
// a request is awaited, other envelopes are deferred and only
// replayed after the awaited reply's continuation has run.
func TestAwaitDefersUnrelatedEnvelopes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var order []string

	responder := NewScheduledActor(ScheduledActorConfig{
		ID: "echo",
		Behavior: NewBehavior(
			On[*testMsg](func(hctx context.Context, msg *testMsg) bool {
				Reply(hctx, newTestMsg("reply:"+msg.data))
				return true
			}),
		),
	})

	requester := NewScheduledActor(ScheduledActorConfig{
		ID: "awaiter",
		Behavior: NewBehavior(
			On[*testMsg](func(_ context.Context, msg *testMsg) bool {
				order = append(order, "tell:"+msg.data)
				return true
			}),
		),
	})

	handle := requester.Request(ctx, responder.Self(), newTestMsg("q"), 0)
	handle.Await(
		func(_ context.Context, msg Message) {
			order = append(order, msg.(*testMsg).data)
		},
		func(_ context.Context, err error) { t.Fatalf("unexpected error: %v", err) },
	)

	// Arrives before the reply, but must be processed after it.
	requester.Self().Tell(ctx, newTestMsg("early"))
	requester.Resume(ctx, 8)
	require.Empty(t, order)

	responder.Resume(ctx, 8)
	requester.Resume(ctx, 8)

	require.Equal(t, []string{"reply:q", "tell:early"}, order)
}

// TestSetIdleHandlerOnce verifies a TimerOnce idle handler fires a single
// time and disarms.
func TestSetIdleHandlerOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mc := newManualClock()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID:       "idle-once",
		Behavior: NewBehavior(),
		System:   &clockOnlyContext{clock: mc},
	})

	fired := 0
	sa.SetIdleHandler(50*time.Millisecond, TimerStrong, TimerOnce, func() {
		fired++
	})
	require.Equal(t, 1, mc.pending())

	require.Equal(t, 1, mc.fire())
	sa.Resume(ctx, 8)

	require.Equal(t, 1, fired)
	require.Zero(t, mc.pending())
}

// TestSetIdleHandlerRepeatRearms verifies TimerRepeat re-arms after every
// firing.
func TestSetIdleHandlerRepeatRearms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mc := newManualClock()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID:       "idle-repeat",
		Behavior: NewBehavior(),
		System:   &clockOnlyContext{clock: mc},
	})

	fired := 0
	sa.SetIdleHandler(50*time.Millisecond, TimerStrong, TimerRepeat, func() {
		fired++
	})

	mc.fire()
	sa.Resume(ctx, 8)
	require.Equal(t, 1, fired)
	require.Equal(t, 1, mc.pending())

	mc.fire()
	sa.Resume(ctx, 8)
	require.Equal(t, 2, fired)
}

// TestSetIdleHandlerRejectsNonPositiveDuration is the unbounded-idle error
// case: arming with a non-positive duration terminates the actor.
func TestSetIdleHandlerRejectsNonPositiveDuration(t *testing.T) {
	t.Parallel()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID: "idle-invalid", Behavior: NewBehavior(),
	})

	sa.SetIdleHandler(0, TimerStrong, TimerOnce, func() {
		t.Fatal("handler must never fire")
	})

	require.True(t, sa.Resume(context.Background(), 1))

	reason, terminated := sa.Ctrl().TerminalReason()
	require.True(t, terminated)
	require.Equal(t, ExitRuntimeError, reason)
}

// TestStaleIdleTickDiscarded verifies the generation guard: a tick armed
// before the handler was replaced is ignored once a newer one exists.
func TestStaleIdleTickDiscarded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mc := newManualClock()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID:       "idle-stale",
		Behavior: NewBehavior(),
		System:   &clockOnlyContext{clock: mc},
	})

	sa.SetIdleHandler(time.Second, TimerStrong, TimerOnce, func() {
		t.Fatal("stale handler must not fire")
	})
	mc.fire() // enqueues a tick tagged with the first generation

	fired := 0
	sa.SetIdleHandler(time.Second, TimerStrong, TimerOnce, func() {
		fired++
	})

	sa.Resume(ctx, 8)
	require.Zero(t, fired)
}

// TestWeakIdleTimerDiscardedAfterStrongCountZero verifies TimerWeak firings
// are dropped once the actor's strong count has reached zero, while a
// TimerStrong handler in the same state still runs.
func TestWeakIdleTimerDiscardedAfterStrongCountZero(t *testing.T) {
	t.Parallel()

	fired := 0

	sa := NewScheduledActor(ScheduledActorConfig{
		ID: "idle-weak", Behavior: NewBehavior(),
	})
	sa.idleHandler = &idleHandler{
		d: time.Second, strength: TimerWeak, cardinality: TimerOnce,
		fn: func() { fired++ },
	}

	sa.ctrl.releaseStrong()
	require.EqualValues(t, 0, sa.ctrl.StrongCount())

	sa.dispatchIdleTick(idleTick{gen: sa.idleGen.Load()})
	require.Zero(t, fired)

	sa.idleHandler = &idleHandler{
		d: time.Second, strength: TimerStrong, cardinality: TimerOnce,
		fn: func() { fired++ },
	}
	sa.dispatchIdleTick(idleTick{gen: sa.idleGen.Load()})
	require.Equal(t, 1, fired)
}

// TestIdleTimerRearmsOnDelivery verifies every real envelope delivery
// cancels and re-arms the pending idle timer.
func TestIdleTimerRearmsOnDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mc := newManualClock()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID: "idle-rearm",
		Behavior: NewBehavior(
			On[*testMsg](func(_ context.Context, _ *testMsg) bool { return true }),
		),
		System: &clockOnlyContext{clock: mc},
	})

	fired := 0
	sa.SetIdleHandler(time.Second, TimerStrong, TimerOnce, func() { fired++ })

	genBefore := sa.idleGen.Load()

	sa.Self().Tell(ctx, newTestMsg("activity"))
	sa.Resume(ctx, 8)

	// Delivery bumped the generation and left exactly one armed timer.
	require.Greater(t, sa.idleGen.Load(), genBefore)
	require.Equal(t, 1, mc.pending())

	mc.fire()
	sa.Resume(ctx, 8)
	require.Equal(t, 1, fired)
}

// TestTellAfterDeliversOnFire covers the scheduled-send timer kind: the
// message lands in the target's mailbox when the clock fires, and a
// cancelled send never lands at all.
func TestTellAfterDeliversOnFire(t *testing.T) {
	t.Parallel()

	mc := newManualClock()
	target := newRecorderRef[Message]("sink")

	TellAfter[Message](mc, time.Second, target, newTestMsg("later"))

	d := TellAfter[Message](mc, time.Second, target, newTestMsg("never"))
	require.True(t, d.Cancel())

	mc.fire()

	msg, ok := target.next(time.Second)
	require.True(t, ok)
	require.Equal(t, "later", msg.(*testMsg).data)

	require.Empty(t, target.take(), "cancelled send must not deliver")
}

// TestTerminatedActorFailsBufferedRequests verifies the terminal drain
// rule: a request still queued when the target dies fails back to the
// sender with an actor-terminated error.
func TestTerminatedActorFailsBufferedRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	responder := NewScheduledActor(ScheduledActorConfig{
		ID: "dying", Behavior: NewBehavior(),
	})
	requester := NewScheduledActor(ScheduledActorConfig{
		ID: "requester", Behavior: NewBehavior(),
	})

	handle := requester.Request(ctx, responder.Self(), newTestMsg("q"), 0)

	var gotErr error
	handle.Then(
		func(_ context.Context, _ Message) { t.Fatal("unexpected reply") },
		func(_ context.Context, err error) { gotErr = err },
	)

	// Die without ever dispatching the buffered request.
	responder.Stop()
	require.True(t, responder.Resume(ctx, 1))

	requester.Resume(ctx, 8)

	require.ErrorIs(t, gotErr, ErrActorTerminated)
	require.True(t, errors.Is(gotErr, ErrActorTerminated))
}
