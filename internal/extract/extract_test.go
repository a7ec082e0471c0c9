package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/llm"
)

type cannedLLM struct {
	reply string
	err   error
	model string
	msgs  []llm.Message
	calls int
}

func (c *cannedLLM) Chat(_ context.Context, model string, msgs []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	c.calls++
	c.model = model
	c.msgs = msgs
	if len(tools) != 0 {
		return nil, errors.New("extraction must not offer tools")
	}
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: c.reply}}, nil
}

func (c *cannedLLM) ChatStream(ctx context.Context, model string, msgs []llm.Message, tools []map[string]any, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return c.Chat(ctx, model, msgs, tools)
}

func (c *cannedLLM) Ping(context.Context) error { return nil }

func thread() *inbox.Thread {
	return &inbox.Thread{
		ID:      "thr_1",
		Subject: "Anvils",
		Emails: []inbox.Email{
			{ID: "e1", Direction: inbox.Inbound, From: "buyer@globex.com", Text: "Globex needs anvils."},
			{ID: "e2", Direction: inbox.Outbound, From: "sales@acme.com", Text: "Acme Anvils here, happy to help."},
			{ID: "e3", Direction: inbox.Inbound, From: "buyer@globex.com", Text: "How fast can you ship?"},
		},
	}
}

func TestExtract_InboundOnly(t *testing.T) {
	model := &cannedLLM{reply: "```json\n{\"companyName\": \" Globex \"}\n```"}
	e := New(model, "extract-model", nil)

	got, err := e.Extract(context.Background(), thread())
	require.NoError(t, err)

	assert.Equal(t, Company{Name: "Globex"}, got)
	assert.Equal(t, 1, model.calls, "exactly one call, no retries")
	assert.Equal(t, "extract-model", model.model)

	prompt := model.msgs[1].Content
	assert.Contains(t, prompt, "Globex needs anvils.")
	assert.Contains(t, prompt, "How fast can you ship?")
	assert.NotContains(t, prompt, "Acme Anvils here", "outbound emails are excluded by default")
	assert.Contains(t, model.msgs[0].Content, "extract the company name")
}

func TestExtract_FullThread(t *testing.T) {
	model := &cannedLLM{reply: `{"companyName":"Globex"}`}
	e := New(model, "m", nil, WithFullThread(true))

	_, err := e.Extract(context.Background(), thread())
	require.NoError(t, err)

	assert.Contains(t, model.msgs[1].Content, "Acme Anvils here")
	assert.Contains(t, model.msgs[0].Content, "emails we sent")
}

func TestExtract_NoInboundEmails(t *testing.T) {
	model := &cannedLLM{reply: `{"companyName":""}`}
	th := &inbox.Thread{ID: "t", Emails: []inbox.Email{
		{Direction: inbox.Outbound, From: "sales@acme.com", Text: "Following up"},
	}}

	got, err := New(model, "m", nil).Extract(context.Background(), th)
	require.NoError(t, err)
	assert.Empty(t, got.Name, "empty names pass through unvalidated")
	assert.NotContains(t, model.msgs[1].Content, "Following up")
}

func TestExtract_GenericNamePassesThrough(t *testing.T) {
	model := &cannedLLM{reply: `{"companyName":"Company"}`}

	got, err := New(model, "m", nil).Extract(context.Background(), thread())
	require.NoError(t, err)
	assert.Equal(t, "Company", got.Name)
}

func TestExtract_Errors(t *testing.T) {
	t.Run("provider", func(t *testing.T) {
		model := &cannedLLM{err: errors.New("503")}
		_, err := New(model, "m", nil).Extract(context.Background(), thread())
		assert.ErrorContains(t, err, "503")
	})

	t.Run("malformed", func(t *testing.T) {
		model := &cannedLLM{reply: "The company is Globex."}
		_, err := New(model, "m", nil).Extract(context.Background(), thread())
		assert.ErrorIs(t, err, llm.ErrNoJSONObject)
		assert.Equal(t, 1, model.calls)
	})
}
