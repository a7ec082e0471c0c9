// Package tools defines the registry of functions the reply model may
// call during generation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds the tools offered to the model for one run.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates a registry containing the given tools. Nil
// entries are skipped so optional tools can be passed unconditionally.
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range tools {
		if t != nil {
			r.Register(t)
		}
	}
	return r
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in OpenAI function-calling format, sorted by
// name so request payloads are stable.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// Execute runs a tool by name with JSON-encoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	return tool.Handler(ctx, args)
}

// StringArg returns args[key] when it is a string, or "".
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
