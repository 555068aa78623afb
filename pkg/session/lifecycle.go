package session

// Reason describes why a session was closed.
type Reason string

const (
	ReasonTerminated Reason = "terminated"
	ReasonConnClosed Reason = "connection closed"
	ReasonConnError  Reason = "connection error"
	ReasonConnIdle   Reason = "connection idle timeout"
	ReasonReaped     Reason = "reaped"
	ReasonShutdown   Reason = "shutdown"
)

type Lifecycle interface {
	// OnSessionCreated is called after a session was added to the registry.
	OnSessionCreated(s *Session)

	// OnSessionClosed is called once per session, after it was removed and its connection closed.
	OnSessionClosed(s *Session, reason Reason)
}
