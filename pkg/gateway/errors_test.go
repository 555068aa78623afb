package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/eventstore"
	"github.com/dataforseo/mcp-gateway/pkg/jsonrpc"
	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicError(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		code    int
		message string
	}{
		{auth.ErrAuthenticationRequired, http.StatusUnauthorized, jsonrpc.CodeUnauthorized, "Authentication required. Provide DataForSEO credentials."},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, jsonrpc.CodeUnauthorized, "Invalid credentials"},
		{fmt.Errorf("resolving request: %w", auth.ErrInvalidCredentials), http.StatusUnauthorized, jsonrpc.CodeUnauthorized, "Invalid credentials"},
		{session.ErrMissingSession, http.StatusBadRequest, jsonrpc.CodeBadSession, "Bad Request: No valid session ID provided"},
		{session.ErrUnknownSession, http.StatusBadRequest, jsonrpc.CodeBadSession, "Bad Request: Session not found"},
		{session.ErrTransportMismatch, http.StatusBadRequest, jsonrpc.CodeTransportMismatch, "Bad Request: Session exists but uses a different transport protocol"},
		{fmt.Errorf("%w: unexpected EOF", errParse), http.StatusBadRequest, jsonrpc.CodeParseError, "Parse error"},
		{jsonrpc.ErrEmptyBody, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request"},
		{jsonrpc.ErrInvalidVersion, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request"},
		{eventstore.ErrInvalidEventID, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request"},
		{errAlreadyInitialized, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request: Server already initialized"},
		{errBatchedInitialize, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "Invalid Request: Only one initialization request is allowed"},
		{errStreamConflict, http.StatusConflict, jsonrpc.CodeBadSession, "Conflict: Only one SSE stream is allowed per session"},
		{errNotAcceptable, http.StatusNotAcceptable, jsonrpc.CodeBadSession, "Not Acceptable: Client must accept application/json or text/event-stream"},
		{errUnsupportedMedia, http.StatusUnsupportedMediaType, jsonrpc.CodeBadSession, "Unsupported Media Type: Content-Type must be application/json"},
		{errMethodNotAllowed, http.StatusMethodNotAllowed, jsonrpc.CodeBadSession, "Method not allowed."},
		{errBodyTooLarge, http.StatusRequestEntityTooLarge, jsonrpc.CodeInvalidRequest, "Request body too large"},
		{errInboxFull, http.StatusServiceUnavailable, jsonrpc.CodeBadSession, "Service Unavailable: Too many pending messages for session"},
		{errors.New("disk on fire"), http.StatusInternalServerError, jsonrpc.CodeInternalError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			perr := PublicError(tt.err)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.message, perr.Message)
			assert.ErrorIs(t, perr, tt.err)
		})
	}
}

func TestPublicErrorPassthrough(t *testing.T) {
	want := Error{Status: http.StatusTeapot, Code: -1, Message: "short and stout"}
	got := PublicError(fmt.Errorf("wrapped: %w", want))
	assert.Equal(t, want, got)
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, session.ErrUnknownSession)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"Bad Request: Session not found"}}`,
		rec.Body.String(),
	)
}

func TestErrorHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("dial tcp 10.0.0.1:6379: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}
