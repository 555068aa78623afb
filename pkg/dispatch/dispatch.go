// Package dispatch answers the JSON-RPC methods of the tool API on behalf of a session.
// It knows nothing about transports: the gateway hands it parsed messages together with
// the session's credentials and writes back whatever it returns.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/dataforseo"
	"github.com/dataforseo/mcp-gateway/pkg/jsonrpc"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/dataforseo/mcp-gateway/pkg/tools"
	"github.com/dataforseo/mcp-gateway/pkg/version"
)

const (
	MethodPing         = "ping"
	MethodToolsList    = "tools/list"
	MethodToolsCall    = "tools/call"
	MethodSetLogLevel  = "logging/setLevel"
	ProtocolLatest     = "2025-03-26"
	ProtocolLegacy     = "2024-11-05"
	DefaultCallTimeout = dataforseo.DefaultTimeout
)

var SupportedProtocolVersions = []string{ProtocolLatest, ProtocolLegacy}

var (
	ErrDownstreamTimeout = errors.New("downstream timeout")
	ErrDownstreamFailed  = errors.New("downstream error")
)

// DownstreamError is a failed tool call.  It is reported to the client as a tool result
// with isError set, never as a JSON-RPC error, and never affects the session.
type DownstreamError struct {
	Timeout bool
	Err     error
}

func (d DownstreamError) Error() string {
	return d.Err.Error()
}

func (d DownstreamError) Unwrap() []error {
	if d.Timeout {
		return []error{ErrDownstreamTimeout, d.Err}
	}
	return []error{ErrDownstreamFailed, d.Err}
}

// CallerFunc returns the upstream caller acting with the given credentials.
type CallerFunc func(creds auth.Credentials) tools.Caller

// Observer is notified after every tool call.
type Observer interface {
	ObserveToolCall(tool, status string, dur time.Duration)
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type ServerOpt func(s *Server)

func WithTimeout(d time.Duration) ServerOpt {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l logger.Logger) ServerOpt {
	return func(s *Server) {
		s.log = l
	}
}

func WithObserver(o Observer) ServerOpt {
	return func(s *Server) {
		s.observer = o
	}
}

type Server struct {
	tools    *tools.Set
	callers  CallerFunc
	timeout  time.Duration
	log      logger.Logger
	observer Observer
}

func NewServer(set *tools.Set, callers CallerFunc, opts ...ServerOpt) *Server {
	s := &Server{
		tools:   set,
		callers: callers,
		timeout: DefaultCallTimeout,
		log:     logger.VoidLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HandleBatch handles every message in order and returns the responses to requests.
func (s *Server) HandleBatch(ctx context.Context, creds auth.Credentials, msgs []*jsonrpc.Message) []*jsonrpc.Message {
	var out []*jsonrpc.Message
	for _, m := range msgs {
		if resp := s.Handle(ctx, creds, m); resp != nil {
			out = append(out, resp)
		}
	}
	return out
}

// Handle answers a single message.  Notifications and responses yield nil.
func (s *Server) Handle(ctx context.Context, creds auth.Credentials, msg *jsonrpc.Message) *jsonrpc.Message {
	if !msg.IsRequest() {
		if msg.IsNotification() {
			s.log.Trace("received notification", "method", msg.Method)
		}
		return nil
	}

	result, rpcErr := s.handleRequest(ctx, creds, msg)
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(msg.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResult(msg.ID, result)
	if err != nil {
		s.log.Error("error marshalling result", "method", msg.Method, "error", err)
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "Internal error"))
	}
	return resp
}

func (s *Server) handleRequest(ctx context.Context, creds auth.Credentials, msg *jsonrpc.Message) (any, *jsonrpc.Error) {
	switch msg.Method {
	case jsonrpc.MethodInitialize:
		return s.initialize(msg.Params)
	case MethodPing, MethodSetLogLevel:
		return struct{}{}, nil
	case MethodToolsList:
		return s.listTools(), nil
	case MethodToolsCall:
		return s.callTool(ctx, creds, msg.Params)
	default:
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found: %s", msg.Method)
	}
}

func (s *Server) initialize(params json.RawMessage) (any, *jsonrpc.Error) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params: %s", err)
		}
	}

	return InitializeResult{
		ProtocolVersion: NegotiateProtocolVersion(p.ProtocolVersion),
		Capabilities: map[string]any{
			"tools":   map[string]any{},
			"logging": map[string]any{},
		},
		ServerInfo: serverInfo{Name: version.Name, Version: version.Print()},
	}, nil
}

// NegotiateProtocolVersion echoes a supported requested version and otherwise offers
// the latest one.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return ProtocolLatest
}

func (s *Server) listTools() any {
	list := s.tools.List()
	out := make([]toolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, toolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return map[string]any{"tools": out}
}

func (s *Server) callTool(ctx context.Context, creds auth.Credentials, params json.RawMessage) (any, *jsonrpc.Error) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params: tool name is required")
	}

	tool, ok := s.tools.Get(p.Name)
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Tool %s not found", p.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := tool.Call(ctx, s.callers(creds), p.Arguments)
	dur := time.Since(start)

	if errors.Is(err, tools.ErrInvalidParams) {
		s.observe(p.Name, "invalid_params", dur)
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "%s", err)
	}
	if err != nil {
		derr := s.downstreamError(ctx, err)
		status := "error"
		if derr.Timeout {
			status = "timeout"
		}
		s.observe(p.Name, status, dur)
		s.log.Warn("tool call failed",
			"tool", p.Name,
			"timeout", derr.Timeout,
			"duration", dur,
			"error", err,
		)
		return ErrorResult(derr), nil
	}

	s.observe(p.Name, "ok", dur)

	res, err := TextResult(out)
	if err != nil {
		return ErrorResult(err), nil
	}
	return res, nil
}

func (s *Server) downstreamError(ctx context.Context, err error) DownstreamError {
	var terr dataforseo.TimeoutError
	if errors.As(err, &terr) {
		return DownstreamError{Timeout: true, Err: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return DownstreamError{Timeout: true, Err: dataforseo.TimeoutError{After: s.timeout}}
	}
	return DownstreamError{Err: err}
}

func (s *Server) observe(tool, status string, dur time.Duration) {
	if s.observer != nil {
		s.observer.ObserveToolCall(tool, status, dur)
	}
}

// TextResult renders v as indented JSON text content.
func TextResult(v any) (ToolResult, error) {
	byt, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ToolResult{}, fmt.Errorf("error formatting result: %w", err)
	}
	return ToolResult{Content: []Content{{Type: "text", Text: string(byt)}}}, nil
}

func ErrorResult(err error) ToolResult {
	return ToolResult{
		Content: []Content{{Type: "text", Text: "Error: " + err.Error()}},
		IsError: true,
	}
}
