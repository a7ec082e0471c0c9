package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

// scriptedClient returns canned content and records the messages it saw.
type scriptedClient struct {
	content string
	err     error
	pingErr error
	model   string
	msgs    []Message
}

func (s *scriptedClient) Chat(_ context.Context, model string, msgs []Message, _ []map[string]any) (*ChatResponse, error) {
	s.model = model
	s.msgs = msgs
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Model: model, Message: Message{Role: RoleAssistant, Content: s.content}, Done: true}, nil
}

func (s *scriptedClient) ChatStream(ctx context.Context, model string, msgs []Message, tools []map[string]any, _ StreamCallback) (*ChatResponse, error) {
	return s.Chat(ctx, model, msgs, tools)
}

func (s *scriptedClient) Ping(context.Context) error { return s.pingErr }

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{name: "bare", in: `{"companyName":"Acme"}`, want: `{"companyName":"Acme"}`, wantOK: true},
		{name: "fenced", in: "```json\n{\"websiteUrl\": \"https://acme.com\"}\n```", want: `{"websiteUrl": "https://acme.com"}`, wantOK: true},
		{name: "prose around", in: `Sure! {"a":{"b":1}} hope that helps`, want: `{"a":{"b":1}}`, wantOK: true},
		{name: "brace in prose first", in: `use {curly} then {"ok":true}`, want: `{"ok":true}`, wantOK: true},
		{name: "none", in: "I could not find it.", wantOK: false},
		{name: "truncated", in: `{"companyName": "Ac`, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONObjects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "none", in: "no json here"},
		{name: "one", in: `x {"a":1} y`, want: []string{`{"a":1}`}},
		{name: "two in order", in: `e.g. {"name":"v"} then {"responseHtml":"<p>{}</p>"}`, want: []string{`{"name":"v"}`, `{"responseHtml":"<p>{}</p>"}`}},
		{name: "nested not repeated", in: `{"a":{"b":1}} {"c":2}`, want: []string{`{"a":{"b":1}}`, `{"c":2}`}},
		{name: "skips broken", in: `{broken {"ok":true}`, want: []string{`{"ok":true}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JSONObjects(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
		{"日本語", 6, "日本..."},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.n, got)
		}
	}
}

func TestGenerateObject(t *testing.T) {
	client := &scriptedClient{content: "```json\n{\"companyName\": \"Acme Corp\"}\n```"}

	var out struct {
		CompanyName string `json:"companyName"`
	}
	err := GenerateObject(context.Background(), client, ObjectRequest{
		Model:  "gpt-4.1",
		System: "Extract the company.",
		Prompt: "emails...",
		Schema: StringSchema("companyName"),
	}, &out)
	if err != nil {
		t.Fatalf("GenerateObject: %v", err)
	}
	if out.CompanyName != "Acme Corp" {
		t.Errorf("CompanyName = %q", out.CompanyName)
	}
	if client.model != "gpt-4.1" {
		t.Errorf("model = %q", client.model)
	}
	if len(client.msgs) != 2 || client.msgs[0].Role != RoleSystem {
		t.Fatalf("messages = %+v", client.msgs)
	}
	if !strings.HasPrefix(client.msgs[0].Content, "Extract the company.") ||
		!strings.Contains(client.msgs[0].Content, `"companyName"`) {
		t.Errorf("system prompt missing instruction or schema: %q", client.msgs[0].Content)
	}
}

func TestGenerateObject_Malformed(t *testing.T) {
	client := &scriptedClient{content: "Acme Corp"}
	var out map[string]any
	err := GenerateObject(context.Background(), client, ObjectRequest{Model: "m", Schema: StringSchema("companyName")}, &out)
	if !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("err = %v, want ErrNoJSONObject", err)
	}
}

func TestGenerateObject_ProviderError(t *testing.T) {
	boom := errors.New("connection refused")
	client := &scriptedClient{err: boom}
	var out map[string]any
	if err := GenerateObject(context.Background(), client, ObjectRequest{Model: "m"}, &out); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want provider error", err)
	}
}

func TestMultiClient_Routing(t *testing.T) {
	anthropic := &scriptedClient{content: "from anthropic"}
	ollama := &scriptedClient{content: "from ollama"}

	m := NewMultiClient(ollama)
	m.AddProvider("anthropic", anthropic)
	m.AddProvider("ollama", ollama)
	m.AddModel("claude-sonnet-4-20250514", "anthropic")
	m.AddModel("gpt-4.1", "openai")

	tests := []struct {
		model   string
		want    string
		wantErr bool
	}{
		{model: "claude-sonnet-4-20250514", want: "from anthropic"},
		{model: "qwen3:4b", want: "from ollama"},
		{model: "gpt-4.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			resp, err := m.Chat(context.Background(), tt.model, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && resp.Message.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Message.Content, tt.want)
			}
		})
	}

	if got := m.Providers(); len(got) != 2 || got[0] != "anthropic" {
		t.Errorf("Providers() = %v", got)
	}
}

func TestMultiClient_Ping(t *testing.T) {
	m := NewMultiClient(nil)
	if err := m.Ping(context.Background()); err == nil {
		t.Error("expected error with no providers")
	}

	m.AddProvider("ok", &scriptedClient{})
	m.AddProvider("down", &scriptedClient{pingErr: errors.New("unreachable")})
	err := m.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "down: unreachable") {
		t.Errorf("Ping() = %v", err)
	}
}
