package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient is a client for OpenAI-compatible chat/completions APIs.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new OpenAI client. An empty baseURL selects
// the public OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithHeader("Authorization", "Bearer "+apiKey),
		),
	}
}

type openAIRequest struct {
	Model         string            `json:"model"`
	Messages      []openAIMessage   `json:"messages"`
	Tools         []map[string]any  `json:"tools,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *openAIStreamOpts `json:"stream_options,omitempty"`
}

type openAIStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"` // JSON-encoded string on the wire
	} `json:"function"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		Delta        openAIMessage `json:"delta"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request, streaming events via callback when
// it is non-nil.
func (c *OpenAIClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil
	req := openAIRequest{
		Model:    model,
		Messages: convertToOpenAI(messages),
		Tools:    tools,
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = &openAIStreamOpts{IncludeUsage: true}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Debug("preparing request", "model", model, "messages", len(messages), "tools", len(tools), "stream", stream)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		var parsed openAIResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		result, err := parsed.toChatResponse()
		if err != nil {
			return nil, err
		}
		c.logger.Debug("response received",
			"model", result.Model,
			"input_tokens", result.InputTokens,
			"output_tokens", result.OutputTokens,
			"tool_calls", len(result.Message.ToolCalls),
		)
		c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
		return result, nil
	}
	return c.handleStreaming(ctx, resp.Body, callback)
}

func (c *OpenAIClient) handleStreaming(ctx context.Context, body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		content  strings.Builder
		partials = map[int]*openAIToolCall{}
		out      = &ChatResponse{Done: true}
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != nil && *choice.Delta.Content != "" {
				content.WriteString(*choice.Delta.Content)
				callback(StreamEvent{Kind: KindToken, Token: *choice.Delta.Content})
			}
			for _, d := range choice.Delta.ToolCalls {
				p, ok := partials[d.Index]
				if !ok {
					p = &openAIToolCall{Index: d.Index}
					partials[d.Index] = p
				}
				if d.ID != "" {
					p.ID = d.ID
				}
				if d.Function.Name != "" {
					p.Function.Name = d.Function.Name
				}
				p.Function.Arguments += d.Function.Arguments
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	indexes := make([]int, 0, len(partials))
	for i := range partials {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out.Message = Message{Role: RoleAssistant, Content: content.String()}
	for _, i := range indexes {
		tc := partials[i].toToolCall()
		out.Message.ToolCalls = append(out.Message.ToolCalls, tc)
		callback(StreamEvent{Kind: KindToolCallStart, ToolCall: &tc})
	}
	callback(StreamEvent{Kind: KindDone, Response: out})

	c.logger.Debug("stream complete",
		"model", out.Model,
		"content_len", content.Len(),
		"tool_calls", len(out.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", out.Message.Content)
	return out, nil
}

// Ping lists models to verify the endpoint and key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("invalid API key")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from OpenAI API: %d", resp.StatusCode)
	}
	return nil
}

func convertToOpenAI(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		om := openAIMessage{Role: m.Role, Content: &content, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			if content == "" {
				om.Content = nil
			}
			for i, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				raw, _ := json.Marshal(args)
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%s_%d", tc.Function.Name, i)
				}
				otc := openAIToolCall{ID: id, Type: "function"}
				otc.Function.Name = tc.Function.Name
				otc.Function.Arguments = string(raw)
				om.ToolCalls = append(om.ToolCalls, otc)
			}
		}
		out = append(out, om)
	}
	return out
}

func (r *openAIResponse) toChatResponse() (*ChatResponse, error) {
	if len(r.Choices) == 0 {
		return nil, errors.New("openai response had no choices")
	}
	msg := r.Choices[0].Message
	out := &ChatResponse{
		Model: r.Model,
		Message: Message{
			Role: RoleAssistant,
		},
		Done: true,
	}
	if r.Created > 0 {
		out.CreatedAt = time.Unix(r.Created, 0)
	}
	if msg.Content != nil {
		out.Message.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, tc.toToolCall())
	}
	if r.Usage != nil {
		out.InputTokens = r.Usage.PromptTokens
		out.OutputTokens = r.Usage.CompletionTokens
	}
	return out, nil
}

func (tc *openAIToolCall) toToolCall() ToolCall {
	args := map[string]any{}
	if s := strings.TrimSpace(tc.Function.Arguments); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			args = map[string]any{"_raw": s}
		}
	}
	return ToolCall{ID: tc.ID, Function: FunctionCall{Name: tc.Function.Name, Arguments: args}}
}
