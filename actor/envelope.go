package actor

import "context"

// CorrelationID identifies a request/response pairing: zero for an async
// tell, positive for a request. The high bit (bit 63) is the is-response
// flag; the remaining 63 bits are the request's ordinal.
type CorrelationID uint64

// responseFlag is the high bit marking a correlation id as carrying a
// response rather than the original request.
const responseFlag CorrelationID = 1 << 63

// IsAsync reports whether this correlation id represents a fire-and-forget
// (tell) message, i.e. the zero value.
func (c CorrelationID) IsAsync() bool {
	return c == 0
}

// IsResponse reports whether the high bit is set, marking this id as
// carrying a response to an earlier request.
func (c CorrelationID) IsResponse() bool {
	return c&responseFlag != 0
}

// AsResponse returns the same correlation id with the is-response bit set,
// used when constructing the reply envelope for a request.
func (c CorrelationID) AsResponse() CorrelationID {
	return c | responseFlag
}

// RequestID strips the is-response bit, recovering the original request's
// ordinal for pending-response table lookups.
func (c CorrelationID) RequestID() CorrelationID {
	return c &^ responseFlag
}

// Priority is the processing lane an envelope is enqueued into:
// urgent items are always dequeued before normal ones; within a lane,
// delivery is FIFO per sender.
type Priority int

const (
	// PriorityNormal is the default lane.
	PriorityNormal Priority = iota

	// PriorityUrgent drains ahead of the normal lane.
	PriorityUrgent
)

// String implements fmt.Stringer for Priority.
func (p Priority) String() string {
	if p == PriorityUrgent {
		return "urgent"
	}
	return "normal"
}

// dynEnvelope is the inbound message wrapper used by ScheduledActor and
// BlockingActor: sender, correlation id, priority lane,
// and a type-erased payload. The static Actor[M,R] layer uses it too; a
// dynEnvelope's payload can be any Message, enabling ordered multi-type
// behavior matching.
type dynEnvelope struct {
	sender        TellOnlyRef[Message]
	correlationID CorrelationID
	priority      Priority
	payload       Message

	// callerCtx carries the sender's request-scoped context so a
	// ScheduledActor can merge it with its own lifecycle context, the
	// same pattern actor.go's mergeContexts establishes for the typed
	// layer.
	callerCtx context.Context
}

// sendOption configures an outbound dynEnvelope.
type sendOption func(*dynEnvelope)

// WithPriority marks an outbound message as urgent or normal.
func WithPriority(p Priority) sendOption {
	return func(e *dynEnvelope) { e.priority = p }
}
