package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// WireMetaTool attaches the meta-tool's executor once the full registry
// (including itself) exists, since the meta-tool must look up other tools'
// schemas by name.
func (r *Registry) WireMetaTool() error {
	t, ok := r.Get(ToolMeta)
	if !ok {
		return fmt.Errorf("tools: %s not registered", ToolMeta)
	}
	t.Executor = func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		schema, ok := r.FullSchema(req.Name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", req.Name)
		}
		return map[string]any{"name": req.Name, "schema": schema}, nil
	}
	return nil
}

// LazyListing returns the lazy-schema-mode listing: only the meta-tool's
// full schema, and minimal stubs for every other tool.
func (r *Registry) LazyListing() (metaSchema string, stubs []Stub) {
	schema, _ := r.FullSchema(ToolMeta)
	return schema, r.Stubs(ToolMeta)
}
