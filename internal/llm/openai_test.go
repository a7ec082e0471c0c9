package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode: %v", err)
		}
		fmt.Fprint(w, `{
			"model": "gpt-4.1",
			"created": 1760000000,
			"choices": [{
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "researchCompany", "arguments": "{\"companyName\":\"Acme\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 90, "completion_tokens": 12}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1/", nil)
	resp, err := c.Chat(context.Background(), "gpt-4.1", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, []map[string]any{{"type": "function", "function": map[string]any{"name": "researchCompany"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != RoleSystem {
		t.Errorf("unexpected messages: %+v", gotReq.Messages)
	}
	if len(gotReq.Tools) != 1 {
		t.Errorf("tools = %d, want 1", len(gotReq.Tools))
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Arguments["companyName"] != "Acme" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if resp.InputTokens != 90 || resp.OutputTokens != 12 || resp.CreatedAt.IsZero() {
		t.Errorf("unexpected metadata: %+v", resp)
	}
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	chunks := []string{
		`{"model":"gpt-4.1","choices":[{"delta":{"role":"assistant","content":"Look"}}]}`,
		`{"model":"gpt-4.1","choices":[{"delta":{"content":"ing"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"forwardTool","arguments":"{\"forwardTo"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"EmailAddress\":\"max@acme.com\",\"note\":\"n\"}"}}]}}]}`,
		`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":9}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var started []string
	c := NewOpenAIClient("k", srv.URL, nil)
	resp, err := c.ChatStream(context.Background(), "gpt-4.1", []Message{{Role: RoleUser, Content: "hi"}}, nil, func(ev StreamEvent) {
		if ev.Kind == KindToolCallStart {
			started = append(started, ev.ToolCall.Function.Name)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Message.Content != "Looking" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Arguments["forwardToEmailAddress"] != "max@acme.com" {
		t.Errorf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if len(started) != 1 || started[0] != "forwardTool" {
		t.Errorf("tool call events = %v", started)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 9 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestConvertToOpenAI_ToolRoundTrip(t *testing.T) {
	msgs := convertToOpenAI([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{Function: FunctionCall{Name: "researchCompany", Arguments: map[string]any{"companyName": "Acme"}}}}},
		{Role: RoleTool, Content: "result", ToolCallID: "call_researchCompany_0"},
	})

	if msgs[0].Content != nil {
		t.Errorf("assistant tool-call message should send null content, got %q", *msgs[0].Content)
	}
	if msgs[0].ToolCalls[0].ID != "call_researchCompany_0" {
		t.Errorf("synthesized ID = %q", msgs[0].ToolCalls[0].ID)
	}
	if msgs[0].ToolCalls[0].Function.Arguments != `{"companyName":"Acme"}` {
		t.Errorf("arguments = %q", msgs[0].ToolCalls[0].Function.Arguments)
	}
	if msgs[1].ToolCallID != "call_researchCompany_0" {
		t.Errorf("tool_call_id = %q", msgs[1].ToolCallID)
	}
}

func TestOpenAIResponse_NoChoices(t *testing.T) {
	var r openAIResponse
	if _, err := r.toChatResponse(); err == nil {
		t.Error("expected error for empty choices")
	}
}
