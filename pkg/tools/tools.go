// Package tools defines the tools exposed through tools/list and tools/call, grouped
// into modules that can be switched on and off with ENABLED_MODULES.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dataforseo/mcp-gateway/pkg/dataforseo"
)

var ErrInvalidParams = errors.New("invalid params")

// Caller is the upstream API a tool calls.  It is satisfied by *dataforseo.Client.
type Caller interface {
	Request(ctx context.Context, method, endpoint string, body any, forceFull bool) (json.RawMessage, error)
	FullResponse() bool
}

var _ Caller = (*dataforseo.Client)(nil)

type Tool interface {
	Name() string
	Description() string
	// InputSchema is the JSON schema of the tool's arguments.
	InputSchema() json.RawMessage
	// Call runs the tool and returns the payload shown to the client.
	Call(ctx context.Context, c Caller, args json.RawMessage) (any, error)
}

type Module interface {
	Name() string
	Tools() []Tool
}

// InvalidParams wraps ErrInvalidParams with a message for the client.
func InvalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// decodeArgs unmarshals args into v, treating empty args as an empty object.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return InvalidParams("%s", err)
	}
	return nil
}

// ParseEnabledModules parses a comma separated module list.  Names are upper-cased; an
// empty list enables every module.
func ParseEnabledModules(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func IsModuleEnabled(name string, enabled []string) bool {
	if len(enabled) == 0 {
		return true
	}
	for _, e := range enabled {
		if strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}

// Modules returns every module shipped with the gateway.
func Modules() []Module {
	return []Module{
		SerpModule{},
		KeywordsDataModule{},
	}
}

// Set is the immutable collection of enabled tools.
type Set struct {
	tools map[string]Tool
	names []string
}

func NewSet(enabled []string, modules ...Module) *Set {
	s := &Set{tools: map[string]Tool{}}
	for _, m := range modules {
		if !IsModuleEnabled(m.Name(), enabled) {
			continue
		}
		for _, t := range m.Tools() {
			if _, ok := s.tools[t.Name()]; ok {
				continue
			}
			s.tools[t.Name()] = t
			s.names = append(s.names, t.Name())
		}
	}
	sort.Strings(s.names)
	return s
}

func (s *Set) Get(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// List returns the tools sorted by name.
func (s *Set) List() []Tool {
	out := make([]Tool, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.tools[n])
	}
	return out
}

func (s *Set) Len() int {
	return len(s.names)
}
