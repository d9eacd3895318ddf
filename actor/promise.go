package actor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Future represents the result of an asynchronous computation. It allows
// consumers to wait for the result (Await), apply transformations upon
// completion (ThenApply), or register a callback to be executed when the
// result is available (OnComplete).
type Future[T any] interface {
	// Await blocks until the result is available or the context is
	// cancelled, then returns it.
	Await(ctx context.Context) fn.Result[T]

	// ThenApply registers a function to transform the result of a
	// future. The original future is not modified, a new instance of the
	// future is returned. If the passed context is cancelled while
	// waiting for the original future to complete, the new future will
	// complete with the context's error.
	ThenApply(ctx context.Context, fn func(T) T) Future[T]

	// OnComplete registers a function to be called when the result of
	// the future is ready. If the passed context is cancelled before the
	// future completes, the callback function will be invoked with the
	// context's error.
	OnComplete(ctx context.Context, fn func(fn.Result[T]))
}

// Promise is an interface that allows for the completion of an associated
// Future. It provides a way to set the result of an asynchronous operation.
// The producer of an asynchronous result uses a Promise to set the outcome,
// while consumers use the associated Future to retrieve it.
type Promise[T any] interface {
	// Future returns the Future interface associated with this Promise.
	// Consumers can use this to Await the result or register callbacks.
	Future() Future[T]

	// Complete attempts to set the result of the future. It returns true
	// if this call successfully set the result (i.e., it was the first
	// to complete it), and false if the future had already been
	// completed.
	Complete(result fn.Result[T]) bool
}

// promiseImpl is the concrete Promise/Future implementation shared by both
// the typed ask/tell layer (actor.go) and the dynamically-typed request
// machinery (scheduled_actor.go, response_handle.go).
type promiseImpl[T any] struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	result fn.Result[T]
}

// NewPromise creates a new, uncompleted Promise/Future pair.
func NewPromise[T any]() Promise[T] {
	return &promiseImpl[T]{done: make(chan struct{})}
}

// Future returns the Future view of this promise.
func (p *promiseImpl[T]) Future() Future[T] {
	return p
}

// Complete sets the result exactly once; subsequent calls are no-ops that
// return false.
func (p *promiseImpl[T]) Complete(result fn.Result[T]) bool {
	completed := false

	p.once.Do(func() {
		p.mu.Lock()
		p.result = result
		p.mu.Unlock()

		close(p.done)
		completed = true
	})

	return completed
}

// Await blocks until the result is available or ctx is cancelled.
func (p *promiseImpl[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// ThenApply returns a new Future whose value is fn applied to this future's
// successful result. Errors pass through unchanged.
func (p *promiseImpl[T]) ThenApply(ctx context.Context, apply func(T) T) Future[T] {
	next := &promiseImpl[T]{done: make(chan struct{})}

	go func() {
		result := p.Await(ctx)

		val, err := result.Unpack()
		if err != nil {
			next.Complete(fn.Err[T](err))
			return
		}

		next.Complete(fn.Ok(apply(val)))
	}()

	return next
}

// OnComplete invokes fn once the result is available, or with a
// context-error result if ctx is cancelled first.
func (p *promiseImpl[T]) OnComplete(ctx context.Context, fn func(fn.Result[T])) {
	go func() {
		fn(p.Await(ctx))
	}()
}

// ResponsePromise is the obligation a ScheduledActor handler captures to
// delay its reply to a request. Unlike the generic
// Promise[T], it tracks strong references explicitly (Clone/Release) so that
// the last-reference-drops-without-delivery case can synchronously produce a
// broken_promise error, matching the control block's own strong/weak
// refcounting discipline.
type ResponsePromise struct {
	correlationID CorrelationID
	sender        TellOnlyRef[Message]

	refs  atomic.Int64
	state atomic.Int32 // 0 pending, 1 fulfilled, 2 broken

	mu        sync.Mutex
	delivered bool
}

const (
	promisePending = iota
	promiseFulfilled
	promiseBroken
)

// NewResponsePromise creates a ResponsePromise for a request keyed by
// correlationID whose eventual reply should be sent to sender. The initial
// strong reference count is 1; callers that stash the promise elsewhere
// (e.g. to delegate it) must call Clone first and Release when done.
func NewResponsePromise(correlationID CorrelationID, sender TellOnlyRef[Message]) *ResponsePromise {
	p := &ResponsePromise{correlationID: correlationID, sender: sender}
	p.refs.Store(1)
	return p
}

// Clone increments the strong reference count and returns the same promise,
// mirroring the control block's strong-handle semantics.
func (p *ResponsePromise) Clone() *ResponsePromise {
	p.refs.Add(1)
	return p
}

// Deliver completes the promise with a successful payload, producing exactly
// one response envelope keyed by the captured correlation id.
// It is a no-op if the promise was already fulfilled or broken.
func (p *ResponsePromise) Deliver(ctx context.Context, payload Message) {
	p.complete(ctx, payload, nil)
}

// DeliverError completes the promise with an error value.
func (p *ResponsePromise) DeliverError(ctx context.Context, err error) {
	p.complete(ctx, nil, err)
}

// Delegate transfers the reply obligation to target: the original sender's
// response handle becomes correlated with target's eventual reply. This is
// modeled by forwarding a synthetic request envelope to target carrying the
// same correlation id and original sender, then marking this promise
// fulfilled so Release does not also produce a broken_promise.
func (p *ResponsePromise) Delegate(ctx context.Context, target TellOnlyRef[Message], msg Message) {
	p.mu.Lock()
	if p.delivered {
		p.mu.Unlock()
		return
	}
	p.delivered = true
	p.mu.Unlock()

	p.state.Store(promiseFulfilled)

	// The target is expected to be a ScheduledActor's ref accepting a
	// delegated envelope; RouteDelegated is provided by scheduled_actor.go
	// for actors that support it.
	if delegatable, ok := target.(DelegateTarget); ok {
		delegatable.RouteDelegated(ctx, p.correlationID, p.sender, msg)
		return
	}

	// Fall back to a plain Tell if the target doesn't support delegated
	// routing; the reply correlation is lost in that case, which callers
	// should avoid by only delegating to ScheduledActor-backed refs.
	target.Tell(ctx, msg)
}

func (p *ResponsePromise) complete(ctx context.Context, payload Message, err error) {
	p.mu.Lock()
	if p.delivered {
		p.mu.Unlock()
		return
	}
	p.delivered = true
	p.mu.Unlock()

	if err != nil {
		p.state.Store(promiseBroken)
	} else {
		p.state.Store(promiseFulfilled)
	}

	if p.sender == nil {
		return
	}

	resp := &responseEnvelope{
		correlationID: p.correlationID.AsResponse(),
		payload:       payload,
		err:           err,
	}
	p.sender.Tell(ctx, resp)
}

// Release decrements the strong reference count. When it reaches zero
// without the promise having been delivered or delegated, it synchronously
// completes the promise with a broken_promise error.
func (p *ResponsePromise) Release(ctx context.Context) {
	if p.refs.Add(-1) > 0 {
		return
	}

	p.mu.Lock()
	alreadyDelivered := p.delivered
	p.mu.Unlock()

	if alreadyDelivered {
		return
	}

	p.complete(ctx, nil, BrokenPromiseError())
}

// DelegateTarget is implemented by actor refs that can accept a delegated
// request obligation.
type DelegateTarget interface {
	RouteDelegated(ctx context.Context, correlationID CorrelationID, originalSender TellOnlyRef[Message], msg Message)
}

// responseEnvelope is a reserved internal Message wrapping a completed
// request's outcome, delivered back to the original requester's mailbox so
// it can be matched against the pending-response table.
type responseEnvelope struct {
	BaseMessage

	correlationID CorrelationID
	payload       Message
	err           error
}

// MessageType implements Message.
func (r *responseEnvelope) MessageType() string { return "actor.response" }
