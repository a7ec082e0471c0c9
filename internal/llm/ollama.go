package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Local models loading from disk can take minutes before the first byte.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "ollama"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function FunctionCall `json:"function"`
}

// ollamaWireResponse is the /api/chat response body, also used for each
// newline-delimited chunk of a stream.
type ollamaWireResponse struct {
	Model              string        `json:"model"`
	CreatedAt          string        `json:"created_at"`
	Message            ollamaMessage `json:"message"`
	Done               bool          `json:"done"`
	TotalDuration      int64         `json:"total_duration,omitempty"`
	LoadDuration       int64         `json:"load_duration,omitempty"`
	PromptEvalCount    int           `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64         `json:"prompt_eval_duration,omitempty"`
	EvalCount          int           `json:"eval_count,omitempty"`
	EvalDuration       int64         `json:"eval_duration,omitempty"`
}

func (w *ollamaWireResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Model: w.Model,
		Message: Message{
			Role:    w.Message.Role,
			Content: w.Message.Content,
		},
		Done:          w.Done,
		InputTokens:   w.PromptEvalCount,
		OutputTokens:  w.EvalCount,
		TotalDuration: time.Duration(w.TotalDuration),
		LoadDuration:  time.Duration(w.LoadDuration),
		EvalDuration:  time.Duration(w.EvalDuration),
	}
	if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
		resp.CreatedAt = t
	}
	for _, tc := range w.Message.ToolCalls {
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{Function: tc.Function})
	}
	return resp
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request to Ollama, streaming events via
// callback when it is non-nil.
func (c *OllamaClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	req := ollamaRequest{
		Model:    model,
		Messages: convertToOllama(messages),
		Stream:   stream,
		Tools:    tools,
	}
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Debug("preparing request", "model", model, "messages", len(messages), "tools", len(tools), "stream", stream)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var result *ChatResponse
	if !stream {
		var wire ollamaWireResponse
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		result = wire.toChatResponse()
	} else {
		result, err = c.readStream(resp.Body, callback)
		if err != nil {
			return nil, err
		}
	}

	// Smaller local models often write tool calls into the content.
	if len(result.Message.ToolCalls) == 0 && result.Message.Content != "" {
		if parsed := parseTextToolCalls(result.Message.Content); len(parsed) > 0 {
			result.Message.ToolCalls = parsed
			result.Message.Content = ""
		}
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"elapsed", result.TotalDuration.Round(time.Millisecond),
	)
	if callback != nil {
		for i := range result.Message.ToolCalls {
			callback(StreamEvent{Kind: KindToolCallStart, ToolCall: &result.Message.ToolCalls[i]})
		}
		callback(StreamEvent{Kind: KindDone, Response: result})
	}
	return result, nil
}

func (c *OllamaClient) readStream(body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	var content strings.Builder
	var toolCalls []ollamaToolCall
	decoder := json.NewDecoder(body)

	for {
		var chunk ollamaWireResponse
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("stream ended before done")
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			callback(StreamEvent{Kind: KindToken, Token: chunk.Message.Content})
		}
		toolCalls = append(toolCalls, chunk.Message.ToolCalls...)

		if chunk.Done {
			chunk.Message.Content = content.String()
			chunk.Message.ToolCalls = toolCalls
			return chunk.toChatResponse(), nil
		}
	}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error %d", resp.StatusCode)
	}
	return nil
}

// convertToOllama drops tool call IDs, which Ollama neither assigns nor
// accepts.
func convertToOllama(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, ollamaToolCall{Function: tc.Function})
		}
	}
	return out
}

// parseTextToolCalls extracts tool calls that a model wrote into its
// content instead of the native tool_calls field. Handles a single JSON
// object, a JSON array, and either wrapped in <tool_call> tags.
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	var calls []FunctionCall
	if err := json.Unmarshal([]byte(content), &calls); err == nil && len(calls) > 0 {
		result := make([]ToolCall, 0, len(calls))
		for _, fc := range calls {
			if fc.Name == "" {
				continue
			}
			result = append(result, ToolCall{Function: fc})
		}
		return result
	}

	var single FunctionCall
	if err := json.Unmarshal([]byte(content), &single); err == nil && single.Name != "" {
		return []ToolCall{{Function: single}}
	}
	return nil
}
