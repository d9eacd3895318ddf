package actor

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// echoIDBehavior replies with the id it was constructed for, letting router
// tests observe which actor behind a service key handled each ask.
func echoIDBehavior(id string) ActorBehavior[*testMsg, string] {
	return NewFunctionBehavior(
		func(_ context.Context, _ *testMsg) fn.Result[string] {
			return fn.Ok(id)
		},
	)
}

// TestShutdownStopsEveryRegisteredActor verifies the graceful-stop sequence:
// both a typed actor and a Spawned ScheduledActor leave the registry, their
// control blocks publish a terminal reason, and post-shutdown asks fail with
// ErrActorTerminated.
func TestShutdownStopsEveryRegisteredActor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sys := NewActorSystem()

	key := NewServiceKey[*testMsg, string]("shutdown-svc")
	typedRef := key.Spawn(sys, "typed-one", echoIDBehavior("typed-one"))

	sa := Spawn(sys, "dyn-one", NewBehavior())
	require.EqualValues(t, 3, sys.RunningCount(), "dead-letters + 2")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(shutdownCtx))

	reason, terminated := sa.Ctrl().TerminalReason()
	require.True(t, terminated)
	require.Equal(t, ExitUserShutdown, reason)

	_, err := typedRef.Ask(ctx, newTestMsg("late")).Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)

	require.Zero(t, sys.RunningCount())
}

// TestShutdownIsIdempotent verifies a second Shutdown call returns cleanly
// with nothing left to stop.
func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	sys := NewActorSystem()
	Spawn(sys, "once", NewBehavior())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sys.Shutdown(ctx))
	require.NoError(t, sys.Shutdown(ctx))
}

// TestRegisterAfterShutdownReturnsStoppedRef verifies late registrations
// against a shut-down system hand back a safe ref that fails instead of a
// nil that panics.
func TestRegisterAfterShutdownReturnsStoppedRef(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sys := NewActorSystem()
	require.NoError(t, sys.Shutdown(ctx))

	key := NewServiceKey[*testMsg, string]("late-svc")
	ref := key.Spawn(sys, "too-late", echoIDBehavior("too-late"))
	require.NotNil(t, ref)

	_, err := ref.Ask(ctx, newTestMsg("x")).Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)
}

// stopRecordingBehavior closes its channel from OnStop, so tests can assert
// the Stoppable hook ran during shutdown.
type stopRecordingBehavior struct {
	stopped chan struct{}
}

func (b *stopRecordingBehavior) Receive(_ context.Context, _ *testMsg) fn.Result[string] {
	return fn.Ok("ok")
}

func (b *stopRecordingBehavior) OnStop(_ context.Context) error {
	close(b.stopped)
	return nil
}

// TestStoppableHookRunsOnShutdown verifies a behavior implementing Stoppable
// gets its OnStop callback during system shutdown.
func TestStoppableHookRunsOnShutdown(t *testing.T) {
	t.Parallel()

	sys := NewActorSystem()

	behavior := &stopRecordingBehavior{stopped: make(chan struct{})}
	key := NewServiceKey[*testMsg, string]("stoppable-svc")
	key.Spawn(sys, "stoppable-one", behavior)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	select {
	case <-behavior.stopped:
	default:
		t.Fatal("OnStop never ran")
	}
}

// TestHiddenSpawnStaysOutOfRegistry verifies the Hidden option keeps a
// housekeeping actor out of the system's running count and shutdown
// accounting.
func TestHiddenSpawnStaysOutOfRegistry(t *testing.T) {
	t.Parallel()

	sys := NewActorSystem()
	baseline := sys.RunningCount()

	hidden := Spawn(sys, "housekeeper", NewBehavior(), Hidden())
	require.Equal(t, baseline, sys.RunningCount())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	// Shutdown did not touch the hidden actor; it is still alive and
	// must be stopped by its owner.
	_, terminated := hidden.Ctrl().TerminalReason()
	require.False(t, terminated)
	hidden.Stop()
}

// TestRunningCountPrunesDeadEntries verifies the registry drops an entry on
// its own once the actor's strong count reaches zero, without an explicit
// StopAndRemoveActor.
func TestRunningCountPrunesDeadEntries(t *testing.T) {
	t.Parallel()

	sys := NewActorSystem()
	baseline := sys.RunningCount()

	sa := NewScheduledActor(ScheduledActorConfig{
		ID: "short-lived", Behavior: NewBehavior(), System: sys,
	})
	sys.register(sa.id, sa, sa.Ctrl())
	require.Equal(t, baseline+1, sys.RunningCount())

	sa.ExitWith(ExitNormal)
	require.True(t, sa.Resume(context.Background(), 1))

	require.Equal(t, baseline, sys.RunningCount())
}

// TestAwaitRunningCountEqual verifies the wait unblocks once enough actors
// have stopped, and times out while the count is still above the target.
func TestAwaitRunningCountEqual(t *testing.T) {
	t.Parallel()

	sys := NewActorSystem()
	baseline := sys.RunningCount()

	Spawn(sys, "worker-a", NewBehavior())
	Spawn(sys, "worker-b", NewBehavior())

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	require.Error(t, sys.AwaitRunningCountEqual(short, baseline))

	go func() {
		time.Sleep(10 * time.Millisecond)
		sys.StopAndRemoveActor("worker-a")
		sys.StopAndRemoveActor("worker-b")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.AwaitRunningCountEqual(ctx, baseline))
}

// TestServiceKeyRouterRoundRobins verifies key.Ref's default strategy
// alternates across every actor registered under the key.
func TestServiceKeyRouterRoundRobins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sys := NewActorSystem()
	defer func() { _ = sys.Shutdown(context.Background()) }()

	key := NewServiceKey[*testMsg, string]("rr-svc")
	key.Spawn(sys, "rr-a", echoIDBehavior("rr-a"))
	key.Spawn(sys, "rr-b", echoIDBehavior("rr-b"))

	router := key.Ref(sys)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		id, err := router.Ask(ctx, newTestMsg("hi")).Await(ctx).Unpack()
		require.NoError(t, err)
		seen[id]++
	}

	require.Equal(t, 2, seen["rr-a"])
	require.Equal(t, 2, seen["rr-b"])
}

// TestServiceKeyBroadcastAndUnregisterAll verifies Broadcast fans out to
// every registered actor and UnregisterAll empties the key without stopping
// the actors.
func TestServiceKeyBroadcastAndUnregisterAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sys := NewActorSystem()
	defer func() { _ = sys.Shutdown(context.Background()) }()

	key := NewServiceKey[*testMsg, string]("bcast-svc")
	key.Spawn(sys, "bcast-a", echoIDBehavior("bcast-a"))
	key.Spawn(sys, "bcast-b", echoIDBehavior("bcast-b"))

	require.Equal(t, 2, key.Broadcast(sys, ctx, newTestMsg("fanout")))

	require.Equal(t, 2, key.UnregisterAll(sys))
	require.Zero(t, key.Broadcast(sys, ctx, newTestMsg("empty")))

	// The actors themselves keep running; only the advertisement is
	// gone.
	require.Equal(t, 0, len(FindInReceptionist(sys.Receptionist(), key)))
}

// TestServiceKeyUnregisterSingleRef verifies removing one of several refs
// leaves the rest advertised, and that dropping the last ref releases the
// name's type pinning for re-registration with different types.
func TestServiceKeyUnregisterSingleRef(t *testing.T) {
	t.Parallel()

	sys := NewActorSystem()
	defer func() { _ = sys.Shutdown(context.Background()) }()

	key := NewServiceKey[*testMsg, string]("unreg-svc")
	refA := key.Spawn(sys, "unreg-a", echoIDBehavior("unreg-a"))
	key.Spawn(sys, "unreg-b", echoIDBehavior("unreg-b"))

	require.True(t, key.Unregister(sys, refA))
	require.False(t, key.Unregister(sys, refA))
	require.Len(t, FindInReceptionist(sys.Receptionist(), key), 1)

	require.Equal(t, 1, key.UnregisterAll(sys))

	// With every ref gone the name is free for a different signature.
	intKey := NewServiceKey[*testMessage, int]("unreg-svc")
	ref := intKey.Spawn(sys, "unreg-int", NewFunctionBehavior(
		func(_ context.Context, m *testMessage) fn.Result[int] {
			return fn.Ok(m.value)
		},
	))
	require.NotNil(t, ref)
	require.Len(t, FindInReceptionist(sys.Receptionist(), intKey), 1)
}
