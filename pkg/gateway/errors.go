package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/eventstore"
	"github.com/dataforseo/mcp-gateway/pkg/jsonrpc"
	"github.com/dataforseo/mcp-gateway/pkg/session"
)

var (
	errParse              = errors.New("parse error")
	errInvalidRequest     = errors.New("invalid request")
	errAlreadyInitialized = errors.New("session already initialized")
	errBatchedInitialize  = errors.New("initialize must not be batched")
	errStreamConflict     = errors.New("stream already open")
	errNotAcceptable      = errors.New("not acceptable")
	errUnsupportedMedia   = errors.New("unsupported media type")
	errMethodNotAllowed   = errors.New("method not allowed")
	errBodyTooLarge       = errors.New("body too large")
	errInboxFull          = errors.New("session inbox full")
)

// Error is a transport-level failure.  It is written as a JSON-RPC error envelope with
// a null id, since it cannot be correlated with any request.
type Error struct {
	// Status is the HTTP status code.
	Status int
	// Code is the JSON-RPC error code.
	Code int
	// Message is shown to the client.
	Message string
	// Err is the root cause, never shown to the client.
	Err error
}

func (e Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// WriteHTTP writes the error envelope.
func (e Error) WriteHTTP(w http.ResponseWriter) {
	byt, _ := json.Marshal(jsonrpc.NewErrorResponse(nil, &jsonrpc.Error{Code: e.Code, Message: e.Message}))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_, _ = w.Write(byt)
}

// PublicError maps any error to the envelope the client sees.
func PublicError(err error) Error {
	var perr Error
	if errors.As(err, &perr) {
		return perr
	}

	wrap := func(status, code int, msg string) Error {
		return Error{Status: status, Code: code, Message: msg, Err: err}
	}

	switch {
	case errors.Is(err, auth.ErrAuthenticationRequired):
		return wrap(http.StatusUnauthorized, jsonrpc.CodeUnauthorized, "Authentication required. Provide DataForSEO credentials.")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return wrap(http.StatusUnauthorized, jsonrpc.CodeUnauthorized, "Invalid credentials")
	case errors.Is(err, session.ErrMissingSession):
		return wrap(http.StatusBadRequest, jsonrpc.CodeBadSession, "Bad Request: No valid session ID provided")
	case errors.Is(err, session.ErrUnknownSession):
		return wrap(http.StatusBadRequest, jsonrpc.CodeBadSession, "Bad Request: Session not found")
	case errors.Is(err, session.ErrTransportMismatch):
		return wrap(http.StatusBadRequest, jsonrpc.CodeTransportMismatch, "Bad Request: Session exists but uses a different transport protocol")
	case errors.Is(err, errParse):
		return wrap(http.StatusBadRequest, jsonrpc.CodeParseError, "Parse error")
	case errors.Is(err, errBodyTooLarge):
		return wrap(http.StatusRequestEntityTooLarge, jsonrpc.CodeInvalidRequest, "Request body too large")
	case errors.Is(err, errAlreadyInitialized):
		return wrap(http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request: Server already initialized")
	case errors.Is(err, errBatchedInitialize):
		return wrap(http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request: Only one initialization request is allowed")
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, jsonrpc.ErrEmptyBody),
		errors.Is(err, jsonrpc.ErrInvalidVersion),
		errors.Is(err, eventstore.ErrInvalidEventID):
		return wrap(http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request")
	case errors.Is(err, errStreamConflict):
		return wrap(http.StatusConflict, jsonrpc.CodeBadSession, "Conflict: Only one SSE stream is allowed per session")
	case errors.Is(err, errNotAcceptable):
		return wrap(http.StatusNotAcceptable, jsonrpc.CodeBadSession, "Not Acceptable: Client must accept application/json or text/event-stream")
	case errors.Is(err, errUnsupportedMedia):
		return wrap(http.StatusUnsupportedMediaType, jsonrpc.CodeBadSession, "Unsupported Media Type: Content-Type must be application/json")
	case errors.Is(err, errMethodNotAllowed):
		return wrap(http.StatusMethodNotAllowed, jsonrpc.CodeBadSession, "Method not allowed.")
	case errors.Is(err, errInboxFull):
		return wrap(http.StatusServiceUnavailable, jsonrpc.CodeBadSession, "Service Unavailable: Too many pending messages for session")
	default:
		return wrap(http.StatusInternalServerError, jsonrpc.CodeInternalError, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, err error) {
	PublicError(err).WriteHTTP(w)
}
