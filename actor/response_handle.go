package actor

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ResponseHandle is returned by ScheduledActor.Request, giving the caller a
// place to register what should happen when the correlated reply (or
// timeout) arrives, continuation style.
// Unlike Future[T], a ResponseHandle's continuations run inline on the
// requesting actor's own processing loop when the response envelope is
// dequeued, preserving the single-threaded-per-actor guarantee.
type ResponseHandle struct {
	correlationID CorrelationID
	table         *pendingResponseTable
	actor         *ScheduledActor
}

// Then registers onReply to run with the response payload when it arrives,
// and onError to run with the error if the request times out, the target's
// circuit breaker is open, or the responder reports an error (a CoreError
// for timeouts and terminated or broken-promise failures; otherwise whatever
// error the responder or breaker produced). Only one of the two is ever invoked. Calling
// Then more than once on the same handle replaces the previously registered
// continuations.
func (h ResponseHandle) Then(onReply func(ctx context.Context, msg Message), onError func(ctx context.Context, err error)) {
	h.table.register(h.correlationID, onReply, onError)
}

// Await registers the same continuation pair as Then and additionally
// defers every other envelope until this request resolves: while awaiting,
// the requesting actor buffers everything except the awaited response (or
// its timeout) and replays the buffered envelopes, in arrival order, once
// the continuation has run. Must be called
// from the requesting actor's own processing loop, like Then.
func (h ResponseHandle) Await(onReply func(ctx context.Context, msg Message), onError func(ctx context.Context, err error)) {
	h.Then(onReply, onError)
	if h.actor != nil {
		h.actor.awaitingID = h.correlationID
	}
}

// AsFuture exposes the eventual reply as a Future, the single-value
// observable surface of a request: the future completes with the reply
// message, or with the timeout/terminated error. Unlike Then/Await
// continuations, the future's consumers may run on any goroutine.
func (h ResponseHandle) AsFuture() Future[Message] {
	promise := NewPromise[Message]()

	h.Then(
		func(_ context.Context, msg Message) {
			promise.Complete(fn.Ok(msg))
		},
		func(_ context.Context, err error) {
			promise.Complete(fn.Err[Message](err))
		},
	)

	return promise.Future()
}

// pendingResponseEntry is the bookkeeping kept for an in-flight request.
type pendingResponseEntry struct {
	onReply  func(ctx context.Context, msg Message)
	onError  func(ctx context.Context, err error)
	timeout  Disposable
	targetID string
}

// pendingResponseTable tracks in-flight requests made by a single
// ScheduledActor, keyed by the request's CorrelationID.
type pendingResponseTable struct {
	entries map[CorrelationID]*pendingResponseEntry
}

func newPendingResponseTable() *pendingResponseTable {
	return &pendingResponseTable{entries: make(map[CorrelationID]*pendingResponseEntry)}
}

// reserve allocates a slot for correlationID before continuations are known,
// so setTarget and setTimeout have an entry to annotate. register then
// attaches (or overwrites) the handler pair. A response resolved before
// register runs finds no continuation and is discarded.
func (t *pendingResponseTable) reserve(correlationID CorrelationID) {
	if _, ok := t.entries[correlationID]; !ok {
		t.entries[correlationID] = &pendingResponseEntry{}
	}
}

func (t *pendingResponseTable) register(correlationID CorrelationID, onReply func(ctx context.Context, msg Message), onError func(ctx context.Context, err error)) {
	entry, ok := t.entries[correlationID]
	if !ok {
		entry = &pendingResponseEntry{}
		t.entries[correlationID] = entry
	}
	entry.onReply = onReply
	entry.onError = onError
}

func (t *pendingResponseTable) setTimeout(correlationID CorrelationID, d Disposable) {
	if entry, ok := t.entries[correlationID]; ok {
		entry.timeout = d
	}
}

// setTarget records which actor a request was addressed to, so its outcome
// can be reported to that target's circuit breaker when the entry resolves.
func (t *pendingResponseTable) setTarget(correlationID CorrelationID, targetID string) {
	if entry, ok := t.entries[correlationID]; ok {
		entry.targetID = targetID
	}
}

// resolve looks up and removes the entry for correlationID, cancelling its
// timeout if still armed.
func (t *pendingResponseTable) resolve(correlationID CorrelationID) (*pendingResponseEntry, bool) {
	entry, ok := t.entries[correlationID]
	if !ok {
		return nil, false
	}

	delete(t.entries, correlationID)

	if entry.timeout != nil {
		entry.timeout.Cancel()
	}

	return entry, true
}
