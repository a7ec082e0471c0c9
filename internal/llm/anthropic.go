package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

const (
	anthropicDefaultURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultMaxToks = 4096
	anthropicPingModel      = "claude-3-5-haiku-latest"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	url        string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicURL overrides the Messages API endpoint.
func WithAnthropicURL(url string) AnthropicOption {
	return func(c *AnthropicClient) { c.url = url }
}

// WithAnthropicMaxTokens sets max_tokens on every request.
func WithAnthropicMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) { c.maxTokens = n }
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger, opts ...AnthropicOption) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Long prompts with research context can take a while before the
	// first header arrives.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	c := &AnthropicClient{
		apiKey:    apiKey,
		url:       anthropicDefaultURL,
		maxTokens: anthropicDefaultMaxToks,
		logger:    logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			// Callers bound each round with a ctx deadline.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Chat sends a non-streaming chat completion request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request, streaming events via callback when
// it is non-nil.
func (c *AnthropicClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	msgs, system := convertToAnthropic(messages)
	req := anthropicRequest{
		Model:     model,
		Messages:  msgs,
		System:    system,
		MaxTokens: c.maxTokens,
		Stream:    stream,
		Tools:     convertToolsToAnthropic(tools),
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(msgs),
		"tools", len(req.Tools),
		"stream", stream,
		"system_len", len(system),
	)

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body)
	}
	return c.handleStreaming(ctx, resp.Body, callback)
}

// Ping sends a one-token request to verify the API key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	resp, err := c.post(ctx, anthropicRequest{
		Model:     anthropicPingModel,
		Messages:  []anthropicMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", resp.StatusCode)
	}
	return nil
}

func (c *AnthropicClient) post(ctx context.Context, req anthropicRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *AnthropicClient) handleNonStreaming(ctx context.Context, body io.Reader) (*ChatResponse, error) {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result := convertFromAnthropic(&resp)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"stop_reason", resp.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

func (c *AnthropicClient) handleStreaming(ctx context.Context, body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		content     strings.Builder
		toolCalls   []ToolCall
		currentTool *anthropicContent
		toolJSON    strings.Builder
		usage       anthropicUsage
		model       string
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

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentTool = event.ContentBlock
				toolJSON.Reset()
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				content.WriteString(event.Delta.Text)
				callback(StreamEvent{Kind: KindToken, Token: event.Delta.Text})
			case "input_json_delta":
				toolJSON.WriteString(event.Delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool == nil {
				continue
			}
			args := map[string]any{}
			if toolJSON.Len() > 0 {
				if err := json.Unmarshal([]byte(toolJSON.String()), &args); err != nil {
					args = map[string]any{"_raw": toolJSON.String()}
				}
			}
			tc := ToolCall{ID: currentTool.ID, Function: FunctionCall{Name: currentTool.Name, Arguments: args}}
			toolCalls = append(toolCalls, tc)
			callback(StreamEvent{Kind: KindToolCallStart, ToolCall: &tc})
			currentTool = nil

		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	resp := &ChatResponse{
		Model: model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		Done:         true,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
	callback(StreamEvent{Kind: KindDone, Response: resp})

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content_len", len(resp.Message.Content),
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", resp.Message.Content)

	return resp, nil
}

// convertToAnthropic converts messages to Anthropic format, lifting
// system messages into the separate system prompt.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: RoleAssistant, Content: msg.Content})
				continue
			}
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", tc.Function.Name, i)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    id,
					Name:  tc.Function.Name,
					Input: args,
				})
			}
			result = append(result, anthropicMessage{Role: RoleAssistant, Content: blocks})

		case RoleTool:
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			// Consecutive tool results belong in a single user turn.
			if n := len(result); n > 0 && result[n-1].Role == RoleUser {
				if prev, ok := result[n-1].Content.([]anthropicContent); ok && len(prev) > 0 && prev[0].Type == "tool_result" {
					result[n-1].Content = append(prev, block)
					continue
				}
			}
			result = append(result, anthropicMessage{Role: RoleUser, Content: []anthropicContent{block}})

		case RoleUser:
			result = append(result, anthropicMessage{Role: RoleUser, Content: msg.Content})
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

// convertToolsToAnthropic converts OpenAI-format tool definitions to Anthropic format.
func convertToolsToAnthropic(tools []map[string]any) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	var result []anthropicTool
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params := fn["parameters"]
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        name,
			Description: desc,
			InputSchema: params,
		})
	}
	return result
}

func convertFromAnthropic(resp *anthropicResponse) *ChatResponse {
	var content strings.Builder
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       block.ID,
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}

	return &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:      resp.Role,
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		Done:         true,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
