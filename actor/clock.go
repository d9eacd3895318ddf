package actor

import (
	"context"
	"sync/atomic"
	"time"
)

// Disposable cancels a scheduled action. Cancelling after the action has
// already fired is a no-op that returns false.
type Disposable interface {
	// Cancel prevents a pending scheduled action from firing. It returns
	// true if the action was successfully cancelled before it fired.
	Cancel() bool
}

// Clock abstracts wall-clock time and deferred execution so that idle
// timeouts and scheduled sends can be driven by either
// real time or, in tests, a deterministic virtual clock advanced
// step-by-step (see the actortest package).
type Clock interface {
	// Now returns the clock's current time.
	Now() time.Time

	// AfterFunc schedules f to run once d has elapsed on this clock. The
	// returned Disposable can cancel the pending call.
	AfterFunc(d time.Duration, f func()) Disposable
}

// timerDisposable adapts *time.Timer to the Disposable interface.
type timerDisposable struct {
	timer *time.Timer
}

// Cancel implements Disposable.
func (d *timerDisposable) Cancel() bool {
	return d.timer.Stop()
}

// WallClock is the production Clock implementation, backed directly by the
// Go runtime's monotonic clock.
type WallClock struct{}

// NewWallClock returns a Clock backed by real time.
func NewWallClock() *WallClock {
	return &WallClock{}
}

// Now implements Clock.
func (WallClock) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Clock.
func (WallClock) AfterFunc(d time.Duration, f func()) Disposable {
	return &timerDisposable{timer: time.AfterFunc(d, f)}
}

// TellAfter schedules a one-shot delayed send of msg to target once d has
// elapsed on clock, returning a Disposable that cancels the send if it has
// not yet fired. The message enters target's mailbox exactly as if a peer
// had Telled it at the deadline.
func TellAfter[M Message](clock Clock, d time.Duration, target TellOnlyRef[M], msg M) Disposable {
	return clock.AfterFunc(d, func() {
		target.Tell(context.Background(), msg)
	})
}

// ClockTick is the message a Ticker delivers to its target on every period.
// It carries the clock's notion of "now" at the moment the tick fired so a
// receiver driven by a deterministic clock observes the same value the
// scheduling decision was made against.
type ClockTick struct {
	BaseMessage

	At time.Time
}

// MessageType implements Message.
func (ClockTick) MessageType() string { return "actor.ClockTick" }

// tickerDisposable cancels a Ticker's recurring schedule. Unlike a single
// Clock.AfterFunc call, stopping a Ticker must prevent it from re-arming
// itself after the in-flight tick fires. cancelled is read and written from
// both the caller's goroutine (Cancel) and the clock's timer goroutine
// (the re-arm closure), hence atomic.Bool rather than a plain bool.
type tickerDisposable struct {
	cancelled atomic.Bool
	current   Disposable
}

// Cancel implements Disposable.
func (t *tickerDisposable) Cancel() bool {
	t.cancelled.Store(true)
	return t.current.Cancel()
}

// NewTicker arms a recurring notification every d on clock, Telling target a
// ClockTick each time until the returned Disposable is cancelled. This is
// the generic notification producer that MapInputRef (see map_input_ref.go)
// exists to adapt into an actor's own domain message type: a Ticker only
// ever knows how to Tell a ClockTick, so a caller wanting its own message
// shape wraps target in a MapInputRef before passing it here.
func NewTicker(
	clock Clock, d time.Duration, target TellOnlyRef[ClockTick],
) Disposable {
	disp := &tickerDisposable{}

	var arm func()
	arm = func() {
		disp.current = clock.AfterFunc(d, func() {
			if disp.cancelled.Load() {
				return
			}

			target.Tell(context.Background(), ClockTick{At: clock.Now()})

			if !disp.cancelled.Load() {
				arm()
			}
		})
	}
	arm()

	return disp
}
