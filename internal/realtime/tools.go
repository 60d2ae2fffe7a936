package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ToolHandler executes one tool invocation and returns the textual result
// that is handed back to the agent.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

type registeredTool struct {
	schema  ToolSchema
	handler ToolHandler
}

// toolRegistry maps tool names to their schema and handler.
type toolRegistry struct {
	mu    sync.Mutex
	tools map[string]registeredTool
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{tools: make(map[string]registeredTool)}
}

func (r *toolRegistry) register(schema ToolSchema, handler ToolHandler) {
	if schema.Type == "" {
		schema.Type = "function"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[schema.Name] = registeredTool{schema: schema, handler: handler}
}

func (r *toolRegistry) schemas() []ToolSchema {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.schema)
	}
	return out
}

// invoke parses the argument JSON and runs the named handler.
func (r *toolRegistry) invoke(ctx context.Context, name, argsJSON string) (string, error) {
	r.mu.Lock()
	tool, ok := r.tools[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("realtime: unknown tool %q", name)
	}

	args := make(map[string]any)
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("realtime: tool %q arguments: %w", name, err)
		}
	}
	return tool.handler(ctx, args)
}
