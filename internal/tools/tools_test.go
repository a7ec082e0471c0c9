package tools

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes companyName",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"companyName": map[string]any{"type": "string"},
			},
			"required": []string{"companyName"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return "researched " + StringArg(args, "companyName"), nil
		},
	}
}

func TestRegistry_ListSortedOpenAIFormat(t *testing.T) {
	r := NewRegistry(echoTool("researchCompany"), nil, echoTool("forwardTool"))

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() = %d tools, want 2", len(list))
	}
	fn := list[0]["function"].(map[string]any)
	if fn["name"] != "forwardTool" {
		t.Errorf("first tool = %v, want forwardTool (sorted)", fn["name"])
	}
	if list[0]["type"] != "function" {
		t.Errorf("type = %v, want function", list[0]["type"])
	}
	if fn["parameters"] == nil {
		t.Error("parameters missing")
	}
}

func TestRegistry_ListDefaultsParameters(t *testing.T) {
	r := NewRegistry(&Tool{Name: "noop", Handler: func(context.Context, map[string]any) (string, error) { return "", nil }})
	fn := r.List()[0]["function"].(map[string]any)
	params, ok := fn["parameters"].(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("parameters = %v, want empty object schema", fn["parameters"])
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry(echoTool("researchCompany"))

	tests := []struct {
		name     string
		tool     string
		args     string
		want     string
		wantErr  bool
		wantMiss bool
	}{
		{name: "ok", tool: "researchCompany", args: `{"companyName":"Acme"}`, want: "researched Acme"},
		{name: "empty args", tool: "researchCompany", args: "", want: "researched "},
		{name: "bad json", tool: "researchCompany", args: `{"companyName":`, wantErr: true},
		{name: "unknown tool", tool: "forwardTool", args: `{}`, wantErr: true, wantMiss: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(context.Background(), tt.tool, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var unavailable *ErrToolUnavailable
			if errors.As(err, &unavailable) != tt.wantMiss {
				t.Errorf("ErrToolUnavailable match = %v, want %v", !tt.wantMiss, tt.wantMiss)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	r := NewRegistry()
	if r.Get("researchCompany") != nil {
		t.Error("empty registry should return nil")
	}
	r.Register(echoTool("researchCompany"))
	if r.Get("researchCompany") == nil {
		t.Error("registered tool not found")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "researchCompany" {
		t.Errorf("Names() = %v", names)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if ThreadIDFromContext(ctx) != "" || RunIDFromContext(ctx) != "" {
		t.Error("unset values should be empty")
	}
	ctx = WithThreadID(ctx, "thr_1")
	ctx = WithRunID(ctx, "run_1")
	if ThreadIDFromContext(ctx) != "thr_1" {
		t.Errorf("thread ID = %q", ThreadIDFromContext(ctx))
	}
	if RunIDFromContext(ctx) != "run_1" {
		t.Errorf("run ID = %q", RunIDFromContext(ctx))
	}
}
