// Package tools holds the tool registry nodes draw from. Tools are
// registered as lazy factories so that expensive setup (API-key lookup,
// client construction) only happens for tools a workflow actually uses.
package tools

import (
	"context"

	"github.com/lyzr/graphflow/schema"
)

// Tool is one callable the model can invoke during a node's agent loop.
// Implementations must be safe for concurrent use; parallel branches may
// invoke the same instance.
type Tool interface {
	Name() string
	Description() string
	InputSchema() schema.Type
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Factory builds a tool on first use.
type Factory func() (Tool, error)

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	ToolDesc string
	Schema   schema.Type
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string             { return f.ToolName }
func (f *Func) Description() string      { return f.ToolDesc }
func (f *Func) InputSchema() schema.Type { return f.Schema }

func (f *Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}
