package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestDynMailboxUrgentDrainsFirst verifies that the urgent lane always
// dequeues ahead of the normal lane regardless of enqueue order.
func TestDynMailboxUrgentDrainsFirst(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()

	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 1}, priority: PriorityNormal}))
	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 2}, priority: PriorityNormal}))
	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 3}, priority: PriorityUrgent}))

	env, ok := mb.TryNext()
	require.True(t, ok)
	require.Equal(t, 3, env.payload.(*testMessage).value, "urgent envelope dequeues first")

	env, ok = mb.TryNext()
	require.True(t, ok)
	require.Equal(t, 1, env.payload.(*testMessage).value)

	env, ok = mb.TryNext()
	require.True(t, ok)
	require.Equal(t, 2, env.payload.(*testMessage).value)
}

// TestDynMailboxPutBackReplaysAtFront verifies that PutBack reinserts an
// envelope at the front of its original lane so a skipped message is the
// next one a resumed behavior sees.
func TestDynMailboxPutBackReplaysAtFront(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()

	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 1}}))
	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 2}}))

	env, ok := mb.TryNext()
	require.True(t, ok)
	require.Equal(t, 1, env.payload.(*testMessage).value)

	mb.PutBack(env)

	env, ok = mb.TryNext()
	require.True(t, ok)
	require.Equal(t, 1, env.payload.(*testMessage).value, "put-back envelope replays before later arrivals")
}

// TestDynMailboxPrepone verifies that Prepone moves the first envelope
// satisfying match to the front of its lane without disturbing the relative
// order of the rest, backing the deterministic test fixture's
// prepone_and_expect control.
func TestDynMailboxPrepone(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()

	for i := 1; i <= 4; i++ {
		require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: i}}))
	}

	found := mb.Prepone(func(m Message) bool {
		return m.(*testMessage).value == 3
	})
	require.True(t, found)

	var order []int
	for {
		env, ok := mb.TryNext()
		if !ok {
			break
		}
		order = append(order, env.payload.(*testMessage).value)
	}
	require.Equal(t, []int{3, 1, 2, 4}, order)

	require.False(t, mb.Prepone(func(Message) bool { return true }), "empty mailbox has nothing to prepone")
}

// TestDynMailboxNextBlocksUntilSend verifies the blocking Next call wakes up
// once a message is enqueued from another goroutine.
func TestDynMailboxNextBlocksUntilSend(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()

	type result struct {
		env dynEnvelope
		ok  bool
	}
	done := make(chan result, 1)

	go func() {
		env, ok := mb.Next(context.Background())
		done <- result{env, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 7}}))

	select {
	case r := <-done:
		require.True(t, r.ok)
		require.Equal(t, 7, r.env.payload.(*testMessage).value)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up after Send")
	}
}

// TestDynMailboxNextUnblocksOnCtxCancel verifies that a blocked Next call
// returns ok=false once its context is cancelled, rather than hanging
// forever on an empty mailbox.
func TestDynMailboxNextUnblocksOnCtxCancel(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := mb.Next(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock on context cancellation")
	}
}

// TestDynMailboxCloseRejectsFurtherSends verifies that TrySend/Send fail
// once Close has run, and that CloseReason reports the reason given to
// Close.
func TestDynMailboxCloseRejectsFurtherSends(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()
	mb.Close(ExitNormal)

	require.False(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 1}}))
	require.False(t, mb.Send(context.Background(), dynEnvelope{payload: &testMessage{value: 1}}))

	reason, closed := mb.CloseReason()
	require.True(t, closed)
	require.Equal(t, ExitNormal, reason)

	// Closing twice is a no-op; the original reason sticks.
	mb.Close(ExitReason("other"))
	reason, _ = mb.CloseReason()
	require.Equal(t, ExitNormal, reason)
}

// TestDynMailboxDrainReturnsBothLanesUrgentFirst verifies Drain empties both
// lanes in a single call, urgent messages ahead of normal ones, leaving the
// mailbox empty afterward.
func TestDynMailboxDrainReturnsBothLanesUrgentFirst(t *testing.T) {
	t.Parallel()

	mb := NewDynMailbox()

	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 1}, priority: PriorityNormal}))
	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 2}, priority: PriorityUrgent}))
	require.True(t, mb.TrySend(dynEnvelope{payload: &testMessage{value: 3}, priority: PriorityNormal}))

	drained := mb.Drain()
	require.Len(t, drained, 3)
	require.Equal(t, 2, drained[0].payload.(*testMessage).value)
	require.Equal(t, 0, mb.Len())

	// A second Drain on an already-drained mailbox yields nothing.
	require.Empty(t, mb.Drain())
}

// TestActorDrainsToDLOOnStop verifies that when a typed Actor stops with
// envelopes still queued, onTerminated routes each abandoned payload to the
// DLO and fails each abandoned Ask with an actor_terminated error, exercising
// Actor[M,R]'s ScheduledActor-backed shutdown path end to end rather than a
// standalone mailbox in isolation.
func TestActorDrainsToDLOOnStop(t *testing.T) {
	t.Parallel()

	const numQueuedTells = 4
	dloReceived := make(chan *testMessage, numQueuedTells)

	dloBehavior := NewFunctionBehavior(
		func(_ context.Context, msg Message) fn.Result[any] {
			if tm, ok := msg.(*testMessage); ok {
				dloReceived <- tm
			}
			return fn.Ok[any](nil)
		},
	)

	dloActor := NewActor(ActorConfig[Message, any]{ID: "drain-dlo", Behavior: dloBehavior})
	dloActor.Start()
	defer dloActor.Stop()

	var wg sync.WaitGroup
	blocking := make(chan struct{})

	blockingBehavior := NewFunctionBehavior(
		func(ctx context.Context, msg *testMessage) fn.Result[string] {
			if msg.value == 0 {
				close(blocking)
				<-ctx.Done()
			}
			return fn.Ok("processed")
		},
	)

	target := NewActor(ActorConfig[*testMessage, string]{
		ID:       "drain-target",
		Behavior: blockingBehavior,
		DLO:      dloActor.Ref(),
		Wg:       &wg,
	})
	target.Start()

	ctx := context.Background()
	target.Ref().Tell(ctx, &testMessage{value: 0})
	<-blocking

	// These queue up behind the blocking message and, since no handler
	// runs before Stop, end up drained by onTerminated instead.
	var askFutures []Future[string]
	for i := 1; i <= numQueuedTells; i++ {
		askFutures = append(askFutures, target.Ref().Ask(ctx, &testMessage{value: i}))
	}

	target.Stop()
	wg.Wait()

	for _, future := range askFutures {
		result := future.Await(ctx)
		require.True(t, result.IsErr(), "abandoned ask should fail once the actor terminates")
		require.ErrorIs(t, result.Err(), ErrActorTerminated)
	}

	received := make([]int, 0, numQueuedTells)
	timeout := time.After(2 * time.Second)
	for len(received) < numQueuedTells {
		select {
		case msg := <-dloReceived:
			received = append(received, msg.value)
		case <-timeout:
			t.Fatalf("timed out waiting for DLO messages, got %v", received)
		}
	}

	for i := 1; i <= numQueuedTells; i++ {
		require.Contains(t, received, i)
	}
	require.NotContains(t, received, 0, "the message being actively processed is not drained")
}
