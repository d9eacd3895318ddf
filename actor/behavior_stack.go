package actor

import "context"

// BehaviorStack tracks the currently active Behavior for a ScheduledActor
// along with any previously pushed behaviors, implementing become and
// unbecome. Messages that don't match the active behavior are buffered
// and replayed against the new top whenever the stack changes, so that a
// message skipped under one behavior can still be handled once the actor
// transitions into a behavior that understands it.
type BehaviorStack struct {
	stack []*Behavior

	// skipped holds messages that fell through every entry of the
	// behavior active at the time they arrived. They are replayed in
	// arrival order the next time the stack changes.
	skipped []skippedMessage
}

// skippedMessage pairs a buffered message with the context it arrived with.
type skippedMessage struct {
	ctx context.Context
	msg Message
}

// NewBehaviorStack creates a stack with initial as the bottom (and
// initially only) behavior.
func NewBehaviorStack(initial *Behavior) *BehaviorStack {
	return &BehaviorStack{stack: []*Behavior{initial}}
}

// Current returns the active behavior, the top of the stack.
func (s *BehaviorStack) Current() *Behavior {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// Become pushes next as the new active behavior. The previous top remains
// on the stack and is restored by a matching Unbecome.
func (s *BehaviorStack) Become(next *Behavior) {
	s.stack = append(s.stack, next)
}

// BecomeReplace swaps the active behavior in place, discarding it rather
// than stacking, so a later Unbecome restores whatever was active before the
// replaced one.
func (s *BehaviorStack) BecomeReplace(next *Behavior) {
	if len(s.stack) == 0 {
		s.stack = []*Behavior{next}
		return
	}
	s.stack[len(s.stack)-1] = next
}

// Unbecome pops the active behavior, reverting to the one beneath it. It is
// a no-op if only one behavior remains on the stack, since the bottom
// behavior is never popped.
func (s *BehaviorStack) Unbecome() {
	if len(s.stack) <= 1 {
		return
	}
	s.stack = s.stack[:len(s.stack)-1]
}

// Depth returns the number of behaviors currently on the stack.
func (s *BehaviorStack) Depth() int {
	return len(s.stack)
}

// Skip buffers msg for replay against a future behavior, used when the
// active behavior's dispatch returns OutcomeSkip for every entry.
func (s *BehaviorStack) Skip(ctx context.Context, msg Message) {
	s.skipped = append(s.skipped, skippedMessage{ctx: ctx, msg: msg})
}

// TakeSkipped removes and returns every buffered skipped message, used at
// actor termination to fail buffered requests with the exit reason.
func (s *BehaviorStack) TakeSkipped() []skippedMessage {
	sk := s.skipped
	s.skipped = nil
	return sk
}

// ReplaySkipped tries every buffered message against the current top
// behavior, in original arrival order. Messages that still don't match
// remain buffered for the next stack change; messages that match are
// removed from the buffer. The caller supplies deliver to actually invoke
// dispatch and handle the resulting Outcome the same way the main receive
// loop would.
func (s *BehaviorStack) ReplaySkipped(
	deliver func(ctx context.Context, msg Message) Outcome,
) {
	if len(s.skipped) == 0 {
		return
	}

	pending := s.skipped
	s.skipped = nil

	for _, sm := range pending {
		if deliver(sm.ctx, sm.msg) == OutcomeSkip {
			s.skipped = append(s.skipped, sm)
		}
	}
}
