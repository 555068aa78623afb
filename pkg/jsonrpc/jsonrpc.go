// Package jsonrpc holds the JSON-RPC 2.0 message shapes spoken over both gateway transports.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const Version = "2.0"

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server defined codes.
	CodeBadSession        = -32000
	CodeUnauthorized      = -32001
	CodeTransportMismatch = -32002
)

const MethodInitialize = "initialize"

var (
	ErrEmptyBody      = fmt.Errorf("empty JSON-RPC payload")
	ErrInvalidVersion = fmt.Errorf(`JSON-RPC messages must set "jsonrpc": "2.0"`)

	nullID = json.RawMessage("null")
)

// Message is any JSON-RPC message: a request, a notification or a response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (m *Message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, nullID)
}

func (m *Message) IsRequest() bool {
	return m.Method != "" && m.hasID()
}

func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.hasID()
}

func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IsInitializeRequest reports whether m opens a new session.
func IsInitializeRequest(m *Message) bool {
	return m != nil && m.IsRequest() && m.Method == MethodInitialize
}

// Error is the error member of a response.  It doubles as a Go error so handlers can
// return protocol errors directly.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewResult builds a success response for the request id, encoding result as JSON.
func NewResult(id json.RawMessage, result any) (*Message, error) {
	byt, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("could not encode result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: byt}, nil
}

// NewErrorResponse builds an error response.  An empty id is sent as null, which is
// how transport-level errors that can't be correlated are reported.
func NewErrorResponse(id json.RawMessage, e *Error) *Message {
	if len(id) == 0 {
		id = nullID
	}
	return &Message{JSONRPC: Version, ID: id, Error: e}
}

// Parse decodes a single message or a batch.  The returned bool is true for batches.
func Parse(body []byte) ([]*Message, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, ErrEmptyBody
	}

	var (
		msgs  []*Message
		batch bool
	)
	if body[0] == '[' {
		batch = true
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, true, err
		}
		if len(msgs) == 0 {
			return nil, true, ErrEmptyBody
		}
	} else {
		m := &Message{}
		if err := json.Unmarshal(body, m); err != nil {
			return nil, false, err
		}
		msgs = []*Message{m}
	}

	for _, m := range msgs {
		if m == nil || m.JSONRPC != Version {
			return nil, batch, ErrInvalidVersion
		}
	}
	return msgs, batch, nil
}

// ContainsInitialize reports whether any message in the slice is an initialize request.
func ContainsInitialize(msgs []*Message) bool {
	for _, m := range msgs {
		if IsInitializeRequest(m) {
			return true
		}
	}
	return false
}

// HasRequests reports whether any message expects a response.
func HasRequests(msgs []*Message) bool {
	for _, m := range msgs {
		if m.IsRequest() {
			return true
		}
	}
	return false
}
