package headers

import (
	"net/http"
)

const (
	// HeaderKeySessionID carries the unified transport's session id on requests and on
	// the response that created the session.
	HeaderKeySessionID = "Mcp-Session-Id"
	// HeaderKeyLastEventID asks a unified stream to replay events after the given id.
	HeaderKeyLastEventID = "Last-Event-ID"
	// HeaderKeyProtocolVersion is sent by clients after initialization.
	HeaderKeyProtocolVersion = "Mcp-Protocol-Version"

	// Tells clients which gateway build and instance they're talking to.
	HeaderKeyServerVersion  = "X-Mcp-Gateway-Version"
	HeaderKeyServerInstance = "X-Mcp-Gateway-Instance"
)

const (
	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"
)

func StaticHeadersMiddleware(serverVersion, instanceID string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderKeyServerVersion, serverVersion)
			if instanceID != "" {
				w.Header().Set(HeaderKeyServerInstance, instanceID)
			}
			next.ServeHTTP(w, r)
		})
	}
}
