package actor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrNoActorsAvailable is returned by a RoutingStrategy when no candidate
// actor is registered under the service key being routed.
var ErrNoActorsAvailable = errors.New("no actors available for routing")

// RoutingStrategy selects one ActorRef out of a set of candidates registered
// under the same ServiceKey. Implementations decide how load is balanced
// across the candidates.
type RoutingStrategy[M Message, R any] interface {
	// Select picks one ref from actors, or returns ErrNoActorsAvailable
	// if actors is empty.
	Select(actors []ActorRef[M, R]) (ActorRef[M, R], error)
}

// RoundRobinStrategy cycles through candidates in order, distributing load
// evenly across every actor registered under a service key.
type RoundRobinStrategy[M Message, R any] struct {
	next atomic.Uint64
}

// NewRoundRobinStrategy creates a RoutingStrategy that cycles through
// candidates in registration order.
func NewRoundRobinStrategy[M Message, R any]() *RoundRobinStrategy[M, R] {
	return &RoundRobinStrategy[M, R]{}
}

// Select implements RoutingStrategy.
func (s *RoundRobinStrategy[M, R]) Select(
	actors []ActorRef[M, R],
) (ActorRef[M, R], error) {
	if len(actors) == 0 {
		var zero ActorRef[M, R]
		return zero, ErrNoActorsAvailable
	}

	idx := s.next.Add(1) - 1

	return actors[idx%uint64(len(actors))], nil
}

// router is a virtual ActorRef that resolves the actual destination actor on
// every send by querying the receptionist for the current set of actors
// registered under a service key, then applying a RoutingStrategy to pick
// one. This gives callers location transparency: they hold a stable
// reference even as concrete actors behind a service key come and go.
type router[M Message, R any] struct {
	id           string
	receptionist *Receptionist
	key          ServiceKey[M, R]
	strategy     RoutingStrategy[M, R]
	deadLetters  ActorRef[Message, any]
}

// NewRouter constructs a virtual ActorRef that load-balances across the
// actors currently registered under key, falling back to deadLetters when no
// candidate is available.
func NewRouter[M Message, R any](
	receptionist *Receptionist, key ServiceKey[M, R],
	strategy RoutingStrategy[M, R], deadLetters ActorRef[Message, any],
) ActorRef[M, R] {
	return &router[M, R]{
		id:           "router:" + key.name,
		receptionist: receptionist,
		key:          key,
		strategy:     strategy,
		deadLetters:  deadLetters,
	}
}

// ID implements BaseActorRef.
func (r *router[M, R]) ID() string {
	return r.id
}

// resolve picks a destination actor using the configured strategy.
func (r *router[M, R]) resolve() (ActorRef[M, R], error) {
	candidates := FindInReceptionist(r.receptionist, r.key)
	return r.strategy.Select(candidates)
}

// Tell implements TellOnlyRef. If no actor is currently registered under the
// service key, the message is routed to the system's dead letter office
// instead of being silently dropped.
func (r *router[M, R]) Tell(ctx context.Context, msg M) {
	dest, err := r.resolve()
	if err != nil {
		log.WarnS(ctx, "Router found no registered actor, routing to "+
			"dead letters", err, "service_key", r.key.name)

		if r.deadLetters != nil {
			r.deadLetters.Tell(ctx, msg)
		}

		return
	}

	dest.Tell(ctx, msg)
}

// Ask implements ActorRef. If no actor is currently registered under the
// service key, the returned future completes immediately with
// ErrActorTerminated.
func (r *router[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	dest, err := r.resolve()
	if err != nil {
		log.WarnS(ctx, "Router found no registered actor for ask",
			err, "service_key", r.key.name)

		promise := NewPromise[R]()
		promise.Complete(fn.Err[R](ErrActorTerminated))

		return promise.Future()
	}

	return dest.Ask(ctx, msg)
}
