package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// argSchema is a tool's input schema, compiled once and used to validate every call's
// arguments before they are decoded.
type argSchema struct {
	raw    json.RawMessage
	schema *openapi3.Schema
}

// mustSchema compiles a tool input schema, panicking on a malformed schema since every
// schema is a package level literal.
func mustSchema(raw string) *argSchema {
	s := &openapi3.Schema{}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		panic(fmt.Sprintf("invalid tool input schema: %s", err))
	}
	return &argSchema{raw: json.RawMessage(raw), schema: s}
}

func (a *argSchema) JSON() json.RawMessage {
	return a.raw
}

// Validate checks args against the schema.  Empty args are treated as an empty object.
func (a *argSchema) Validate(args json.RawMessage) error {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return InvalidParams("%s", err)
	}
	if err := a.schema.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return InvalidParams("%s", strings.Join(schemaReasons(err), "; "))
	}
	return nil
}

// decode validates args and then unmarshals them into v.
func (a *argSchema) decode(args json.RawMessage, v any) error {
	if err := a.Validate(args); err != nil {
		return err
	}
	return decodeArgs(args, v)
}

// schemaReasons flattens validation errors into "field: reason" messages, leaving out
// the schema and value dumps kin-openapi adds by default.
func schemaReasons(err error) []string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []string
		for _, e := range multi {
			out = append(out, schemaReasons(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if !errors.As(err, &se) {
		return []string{err.Error()}
	}
	reason := se.Reason
	if reason == "" {
		reason = fmt.Sprintf("doesn't match schema %q", se.SchemaField)
	}
	if path := se.JSONPointer(); len(path) > 0 {
		return []string{strings.Join(path, ".") + ": " + reason}
	}
	return []string{reason}
}
