package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestReceiveMatchesFirstUnskippedInArrivalOrder verifies the receive
// contract: Receive returns exactly when the behavior
// matches the first envelope, in arrival order, that no earlier scan
// consumed; non-matching envelopes stay buffered for later scans.
func TestReceiveMatchesFirstUnskippedInArrivalOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ba := NewBlockingActor("blocking-order")
	defer ba.Close()

	ba.Self().Tell(ctx, &testMessage{value: 1})
	ba.Self().Tell(ctx, newTestMsg("a"))
	ba.Self().Tell(ctx, &testMessage{value: 2})

	var strings []string
	onString := NewBehavior(
		On[*testMsg](func(_ context.Context, msg *testMsg) bool {
			strings = append(strings, msg.data)
			return true
		}),
	)

	// The int at the head doesn't match; the scan skips past it and
	// consumes the string.
	require.True(t, ba.Receive(ctx, onString))
	require.Equal(t, []string{"a"}, strings)

	// The skipped ints are still buffered, in their original order.
	var ints []int
	onInt := NewBehavior(
		On[*testMessage](func(_ context.Context, msg *testMessage) bool {
			ints = append(ints, msg.value)
			return true
		}),
	)

	require.True(t, ba.Receive(ctx, onInt))
	require.True(t, ba.Receive(ctx, onInt))
	require.Equal(t, []int{1, 2}, ints)
}

// TestReceiveBlocksUntilMessageArrives verifies Receive parks the calling
// goroutine on the mailbox until a matching envelope is delivered.
func TestReceiveBlocksUntilMessageArrives(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ba := NewBlockingActor("blocking-park")
	defer ba.Close()

	got := make(chan string, 1)
	go func() {
		behavior := NewBehavior(
			On[*testMsg](func(_ context.Context, msg *testMsg) bool {
				got <- msg.data
				return true
			}),
		)
		ba.Receive(ctx, behavior)
	}()

	// Give the receiver a moment to park before the send.
	time.Sleep(10 * time.Millisecond)
	ba.Self().Tell(ctx, newTestMsg("wake"))

	select {
	case data := <-got:
		require.Equal(t, "wake", data)
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up")
	}
}

// TestDoReceiveUntilStopsAtPredicate exercises the do_receive(...).until(...)
// builder shape: processing continues until the predicate holds.
func TestDoReceiveUntilStopsAtPredicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ba := NewBlockingActor("blocking-until")
	defer ba.Close()

	for i := 1; i <= 5; i++ {
		ba.Self().Tell(ctx, &testMessage{value: i})
	}

	sum := 0
	behavior := NewBehavior(
		On[*testMessage](func(_ context.Context, msg *testMessage) bool {
			sum += msg.value
			return true
		}),
	)

	ba.DoReceiveUntil(ctx, behavior, func() bool { return sum >= 6 })

	// 1+2+3 crosses the threshold; 4 and 5 remain unread.
	require.Equal(t, 6, sum)
}

// TestReceiveForProcessesExactlyCount verifies the bounded receive variant.
func TestReceiveForProcessesExactlyCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ba := NewBlockingActor("blocking-count")
	defer ba.Close()

	for i := 0; i < 4; i++ {
		ba.Self().Tell(ctx, &testMessage{value: i})
	}

	seen := 0
	behavior := NewBehavior(
		On[*testMessage](func(_ context.Context, _ *testMessage) bool {
			seen++
			return true
		}),
	)

	require.Equal(t, 2, ba.ReceiveFor(ctx, behavior, 2))
	require.Equal(t, 2, seen)
}

// TestCloseUnblocksReceive verifies Close wakes a parked Receive with a
// false return instead of leaving it blocked forever.
func TestCloseUnblocksReceive(t *testing.T) {
	t.Parallel()

	ba := NewBlockingActor("blocking-close")

	done := make(chan bool, 1)
	go func() {
		done <- ba.Receive(context.Background(), NewBehavior())
	}()

	time.Sleep(10 * time.Millisecond)
	ba.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Receive did not observe Close")
	}
}
