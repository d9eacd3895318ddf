package actor

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Signature is one (request type, response type) pair a typed handle
// advertises support for: a typed
// actor may expose more than one request/response pair, narrowed or widened
// as needed at the boundary between the static ActorRef[M,R] world and the
// dynamically-typed ScheduledActor world.
type Signature struct {
	Request  reflect.Type
	Response reflect.Type
}

// signatureHash computes a stable, order-independent fingerprint of a
// signature set. Narrowing is validated at runtime rather than at compile
// time, since Go's lack of sum-typed interface lists makes the latter
// impractical for an arbitrary set of signatures. The fingerprint is the
// sorted signature strings joined together; Narrow checks the requested
// signature against the handle's list directly and uses the fingerprint
// only to identify the handle in its error message.
func signatureHash(sigs []Signature) string {
	names := make([]string, len(sigs))
	for i, s := range sigs {
		names[i] = s.Request.String() + "->" + s.Response.String()
	}
	sort.Strings(names)

	hash := ""
	for _, n := range names {
		hash += n + ";"
	}
	return hash
}

// TypedHandle is a reference to a ScheduledActor advertised as supporting a
// fixed set of request/response signatures, narrowing the dynamically-typed
// runtime down to a statically checkable surface. It is produced by a ScheduledActor's
// owner declaring which signatures that actor supports, and consumed via
// Narrow to recover a statically-typed ActorRef[M,R].
type TypedHandle struct {
	target     TellOnlyRef[Message]
	signatures []Signature
	hash       string
	requester  *ScheduledActor
	timeout    time.Duration
}

// NewTypedHandle declares that target implements every signature in sigs.
// requester is the ScheduledActor used to issue correlated requests when a
// narrowed ActorRef's Ask method is called; it may be nil if only Tell-style
// narrowing (TellOnlyRef) is needed.
func NewTypedHandle(target TellOnlyRef[Message], requester *ScheduledActor, timeout time.Duration, sigs ...Signature) *TypedHandle {
	return &TypedHandle{
		target:     target,
		signatures: sigs,
		hash:       signatureHash(sigs),
		requester:  requester,
		timeout:    timeout,
	}
}

// supports reports whether the handle's signature set includes (M -> R).
func (h *TypedHandle) supports(reqType, respType reflect.Type) bool {
	for _, s := range h.signatures {
		if s.Request == reqType && s.Response == respType {
			return true
		}
	}
	return false
}

// Narrow recovers a statically-typed ActorRef[M,R] from h, validating that
// (M, R) is among the signatures h was constructed with. It returns an error
// — rather than panicking — if the signature is absent, since a mismatch is
// a caller bug detectable only at runtime given Go's lack of existential
// typed-signature lists.
func Narrow[M Message, R any](h *TypedHandle) (ActorRef[M, R], error) {
	reqType := reflect.TypeOf((*M)(nil)).Elem()
	respType := reflect.TypeOf((*R)(nil)).Elem()

	if !h.supports(reqType, respType) {
		return nil, fmt.Errorf(
			"%w: typed handle (hash %s) has no signature %s -> %s",
			ErrNoMatchingHandler, h.hash, reqType, respType,
		)
	}

	return &narrowedRef[M, R]{handle: h}, nil
}

// Widen converts a statically-typed ActorRef[M,R] into a TellOnlyRef[Message]
// suitable for passing into the dynamically-typed ScheduledActor world,
// e.g. as the target of a Request call. Responses from a widened ref cannot
// be correlated back through ScheduledActor's pending-response table since
// the underlying Actor[M,R] uses its own Promise[R] mechanism instead of
// CorrelationID; callers needing a reply should use Ask on the original
// typed ref directly.
func Widen[M Message, R any](ref ActorRef[M, R]) TellOnlyRef[Message] {
	return &widenedRef[M, R]{ref: ref}
}

// narrowedRef adapts a TypedHandle to ActorRef[M,R].
type narrowedRef[M Message, R any] struct {
	handle *TypedHandle
}

// ID implements BaseActorRef.
func (n *narrowedRef[M, R]) ID() string { return n.handle.target.ID() }

// Tell implements TellOnlyRef.
func (n *narrowedRef[M, R]) Tell(ctx context.Context, msg M) {
	n.handle.target.Tell(ctx, msg)
}

// Ask implements ActorRef by issuing a correlated Request through the
// handle's requester actor. It returns at once; the Future completes when
// the reply or timeout arrives.
func (n *narrowedRef[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	promise := NewPromise[R]()

	if n.handle.requester == nil {
		promise.Complete(fn.Err[R](ErrActorTerminated))
		return promise.Future()
	}

	handle := n.handle.requester.Request(ctx, n.handle.target, msg, n.handle.timeout)
	handle.Then(
		func(ctx context.Context, reply Message) {
			typed, ok := reply.(R)
			if !ok {
				promise.Complete(fn.Err[R](fmt.Errorf(
					"%w: reply type mismatch", ErrNoMatchingHandler,
				)))
				return
			}
			promise.Complete(fn.Ok(typed))
		},
		func(ctx context.Context, err error) {
			promise.Complete(fn.Err[R](err))
		},
	)

	return promise.Future()
}

// widenedRef adapts ActorRef[M,R] down to TellOnlyRef[Message].
type widenedRef[M Message, R any] struct {
	ref ActorRef[M, R]
}

// ID implements BaseActorRef.
func (w *widenedRef[M, R]) ID() string { return w.ref.ID() }

// Tell implements TellOnlyRef, narrowing msg back down to M. It silently
// drops the message if msg is not assignable to M, since TellOnlyRef[Message]
// offers no error return.
func (w *widenedRef[M, R]) Tell(ctx context.Context, msg Message) {
	typed, ok := msg.(M)
	if !ok {
		log.WarnS(ctx, "Widened ref dropped message of mismatched type", nil,
			"actor_id", w.ref.ID(), "msg_type", msg.MessageType())
		return
	}
	w.ref.Tell(ctx, typed)
}
