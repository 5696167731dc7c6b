package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sparkie/internal/domain"
)

// SchemaValidatingTool checks call arguments against the tool's JSON Schema
// before the tool runs. A mismatch is returned to the model as an error
// result it can correct.
type SchemaValidatingTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t. A tool without a parameter schema is
// returned unchanged.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	url := "sparkie://tools/" + t.Name() + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &SchemaValidatingTool{Tool: t, schema: compiled}, nil
}

func (s *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return ErrResult("invalid JSON arguments: %v", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return ErrResult("arguments do not match the %s schema: %s", s.Name(), describeValidation(err))
	}
	return s.Tool.Execute(ctx, params)
}

// describeValidation flattens a validation error to its innermost causes.
func describeValidation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}
