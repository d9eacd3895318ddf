package actor

// ExitReason identifies why an actor terminated. ExitNormal, and the empty
// zero value, which IsNormal treats the same way, are handled specially by
// link propagation: they are never forwarded to linked peers.
type ExitReason string

const (
	// ExitNormal is the reason set when an actor's behavior stack empties
	// with no pending idle timeout.
	ExitNormal ExitReason = "normal"

	// ExitUnhandledException is set when a handler panics and the panic
	// is not recovered by the runtime-error response path.
	ExitUnhandledException ExitReason = "unhandled_exception"

	// ExitUserShutdown is set when a caller explicitly requests shutdown.
	ExitUserShutdown ExitReason = "user_shutdown"

	// ExitKill is set when an actor is forcibly terminated without
	// running its normal shutdown path.
	ExitKill ExitReason = "kill"

	// ExitUnreachable is set when an actor's target cannot be resolved
	// (e.g. a dead address was strengthened).
	ExitUnreachable ExitReason = "unreachable"

	// ExitOutOfWorkflow is set when an actor receives a message outside
	// any behavior it currently supports and its default strategy is
	// terminate.
	ExitOutOfWorkflow ExitReason = "out_of_workflow"

	// ExitBrokenPromise is set on the actor side when it holds a pending
	// promise that is dropped without delivery; the CoreError with the
	// same name is what the requester observes.
	ExitBrokenPromise ExitReason = "broken_promise"

	// ExitRuntimeError is set when a handler invocation returns or
	// panics with an unrecoverable runtime error.
	ExitRuntimeError ExitReason = "runtime_error"

	// ExitUnexpectedMessage is set when the default handler strategy is
	// terminate and an unmatched message arrives.
	ExitUnexpectedMessage ExitReason = "unexpected_message"

	// ExitUnhandledRequestTimeout is set when a request timeout fires and
	// no fail continuation was installed to observe it.
	ExitUnhandledRequestTimeout ExitReason = "unhandled_request_timeout"
)

// IsNormal reports whether r is the zero/normal exit reason. An empty
// ExitReason (actor still alive) is also treated as normal for propagation
// purposes, since the reason stays empty until the actor is terminal.
func (r ExitReason) IsNormal() bool {
	return r == "" || r == ExitNormal
}
