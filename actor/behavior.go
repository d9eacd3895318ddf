package actor

import (
	"context"
	"reflect"
	"time"
)

// Outcome classifies how a HandlerEntry disposed of a message: consumed,
// skipped, or delegated.
type Outcome int

const (
	// OutcomeHandled means the handler consumed the message and, for a
	// request, produced a reply via its ResponsePromise.
	OutcomeHandled Outcome = iota

	// OutcomeSkip means the handler's predicate didn't match and the
	// next entry in the behavior should be tried.
	OutcomeSkip

	// OutcomeDelegated means the handler transferred the reply
	// obligation elsewhere via ResponsePromise.Delegate; the caller
	// should not treat the message as unhandled.
	OutcomeDelegated
)

// HandlerEntry is one case within a Behavior: a type-matched message handler
// plus the logic to invoke it against an arbitrary Message. Because Go
// forbids generic methods, the constructor for a type-safe entry is the
// package-level generic function On[T], not a method on Behavior.
type HandlerEntry struct {
	msgType reflect.Type
	invoke  func(ctx context.Context, msg Message) Outcome
}

// On builds a HandlerEntry matching messages whose concrete type is T (or,
// when T is an interface type, any message implementing T), invoking fn
// with the narrowed value. This is a package-level generic
// function because methods cannot have their own type parameters in Go.
//
// fn returns true if it handled the message (including delegating it) or
// false to fall through to the next entry in the behavior, so a handler
// participates in dispatch only when both the payload type and its own
// predicate agree.
func On[T Message](fn func(ctx context.Context, msg T) bool) HandlerEntry {
	var zero T
	return HandlerEntry{
		msgType: reflect.TypeOf(zero),
		invoke: func(ctx context.Context, msg Message) Outcome {
			typed, ok := msg.(T)
			if !ok {
				return OutcomeSkip
			}

			if fn(ctx, typed) {
				return OutcomeHandled
			}

			return OutcomeSkip
		},
	}
}

// Behavior is an ordered list of HandlerEntry cases tried in turn against
// each inbound message. The first
// entry whose type matches and whose fn returns true wins; unmatched
// messages either fall through to a default handler or are routed as
// unexpected.
type Behavior struct {
	entries []HandlerEntry

	// idleTimeout, when non-zero, arms an idle-timeout message delivered
	// if no message is processed within the duration.
	idleTimeout time.Duration

	// onIdle builds the synthetic message delivered when idleTimeout
	// elapses with no intervening activity.
	onIdle func() Message
}

// NewBehavior constructs a Behavior trying entries in the given order.
func NewBehavior(entries ...HandlerEntry) *Behavior {
	return &Behavior{entries: entries}
}

// After arms an idle timeout: if no message is handled within d, make()'s
// message is delivered to the actor's own mailbox as if it had arrived
// normally. d must be finite; passing a non-positive duration
// disables the timeout rather than firing immediately.
func (b *Behavior) After(d time.Duration, make func() Message) *Behavior {
	b.idleTimeout = d
	b.onIdle = make
	return b
}

// dispatch tries each entry against msg in order, returning the outcome of
// the first non-skip result, or OutcomeSkip if no entry matched.
func (b *Behavior) dispatch(ctx context.Context, msg Message) Outcome {
	msgType := reflect.TypeOf(msg)

	for _, entry := range b.entries {
		// An interface-typed entry has a nil msgType; its invoke does
		// the type check itself.
		if entry.msgType != nil && entry.msgType != msgType {
			continue
		}

		if outcome := entry.invoke(ctx, msg); outcome != OutcomeSkip {
			return outcome
		}
	}

	return OutcomeSkip
}
