// Package tool implements the function calling subsystem that lets assistant
// turns invoke structured capabilities with schema validated arguments,
// consistent error handling and declarations suitable for model providers.
//
// Two tool variants exist: builtin tools wrap an in-process Go function and
// HTTP tools forward the raw argument payload to a remote endpoint. Both are
// registered on a Registry, which owns argument parsing, validation against
// the declared schema (validators are compiled once at registration) and
// result normalization.
package tool

import (
	"context"
	"fmt"

	"chatloop/internal/schema"
)

// Tool describes an invocable capability. Names are unique within a Registry
// and follow function naming conventions (snake_case recommended).
type Tool interface {
	// ID returns the stable identifier for this tool.
	ID() string

	// Name returns the unique registry key, exposed to the model.
	Name() string

	// Title returns the human-readable display title.
	Title() string

	// Description returns the natural language description provided to the
	// model to help it decide when to use the tool.
	Description() string

	// Schema returns a JSON schema describing the expected arguments.
	Schema() map[string]any

	// CollectionID returns the optional collection this tool belongs to.
	CollectionID() string
}

// Definition is the provider-neutral tool declaration shape included in model
// requests. Model adapters convert it to their vendor format.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type base struct {
	id           string
	name         string
	title        string
	description  string
	schema       map[string]any
	collectionID string
}

func (b *base) ID() string             { return b.id }
func (b *base) Name() string           { return b.name }
func (b *base) Title() string          { return b.title }
func (b *base) Description() string    { return b.description }
func (b *base) Schema() map[string]any { return b.schema }
func (b *base) CollectionID() string   { return b.collectionID }

// BuiltinTool wraps a plain Go function as a tool. It holds no mutable state
// after construction and is safe for concurrent use.
type BuiltinTool struct {
	base
	run func(ctx context.Context, args map[string]any) (any, error)
}

// NewBuiltinTool constructs a BuiltinTool from an explicit schema and function.
//
// Example:
//
//	sumTool := tool.NewBuiltinTool(
//	  "calculate_sum",
//	  "Sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(_ context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewBuiltinTool(
	name, title, description string,
	s map[string]any,
	run func(ctx context.Context, args map[string]any) (any, error),
) *BuiltinTool {
	return &BuiltinTool{
		base: base{
			id:          fmt.Sprintf("builtin:%s", name),
			name:        name,
			title:       title,
			description: description,
			schema:      s,
		},
		run: run,
	}
}

// NewBuiltinToolFromStruct derives the argument schema from a struct using
// reflection, equivalent to schema.CreateSchema(structType).
//
// Example:
//
//	type sumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sumTool := tool.NewBuiltinToolFromStruct("calculate_sum", "Sum",
//	  "Calculate the sum of two numbers", sumArgs{}, sumFn)
func NewBuiltinToolFromStruct(
	name, title, description string,
	structType any,
	run func(ctx context.Context, args map[string]any) (any, error),
) *BuiltinTool {
	return NewBuiltinTool(name, title, description, schema.CreateSchema(structType), run)
}

// HTTPTool forwards tool calls to a remote endpoint. The raw argument payload
// is sent as the request body and the response body is parsed as JSON.
type HTTPTool struct {
	base
	url     string
	method  string
	headers map[string]string
}

// HTTPToolSpec declares a remote tool endpoint.
type HTTPToolSpec struct {
	URL     string
	Method  string // defaults to POST
	Headers map[string]string
}

// NewHTTPTool constructs an HTTPTool.
func NewHTTPTool(id, name, title, description string, s map[string]any, spec HTTPToolSpec) *HTTPTool {
	method := spec.Method
	if method == "" {
		method = "POST"
	}
	return &HTTPTool{
		base: base{
			id:          id,
			name:        name,
			title:       title,
			description: description,
			schema:      s,
		},
		url:     spec.URL,
		method:  method,
		headers: spec.Headers,
	}
}

// WithCollectionID assigns the owning collection and returns the tool.
func (t *HTTPTool) WithCollectionID(collectionID string) *HTTPTool {
	t.collectionID = collectionID
	return t
}
