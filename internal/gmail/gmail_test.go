package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nugget/salesreply/internal/inbox"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func header(name, value string) *gmailapi.MessagePartHeader {
	return &gmailapi.MessagePartHeader{Name: name, Value: value}
}

var (
	t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	inboundMsg = &gmailapi.Message{
		Id:           "M1",
		ThreadId:     "T1",
		LabelIds:     []string{"INBOX"},
		InternalDate: t0.UnixMilli(),
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailapi.MessagePartHeader{
				header("From", "Jane Doe <jane@initech.example>"),
				header("To", "Mr. Sales <sales@acme.example>, other@acme.example"),
				header("Subject", "Anvils"),
				header("Message-ID", "<m1@initech.example>"),
			},
			Parts: []*gmailapi.MessagePart{
				{MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("Do you sell anvils?\n")}},
				{MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: b64("<p>Do you sell anvils?</p>")}},
			},
		},
	}

	outboundMsg = &gmailapi.Message{
		Id:           "M2",
		ThreadId:     "T1",
		LabelIds:     []string{"SENT"},
		InternalDate: t0.Add(time.Hour).UnixMilli(),
		Payload: &gmailapi.MessagePart{
			MimeType: "text/html",
			Headers: []*gmailapi.MessagePartHeader{
				header("From", "sales@acme.example"),
				header("To", "jane@initech.example"),
				header("Subject", "Re: Anvils"),
				header("Message-ID", "<m2@acme.example>"),
				header("In-Reply-To", "<m1@initech.example>"),
				header("References", "<m1@initech.example>"),
			},
			Body: &gmailapi.MessagePartBody{Data: b64("<p>Yes we do.</p>")},
		},
	}
)

type fakeGmail struct {
	mu   sync.Mutex
	sent []*gmailapi.Message
}

func (f *fakeGmail) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "T1" {
			http.Error(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`, http.StatusNotFound)
			return
		}
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		// Newest first, to prove the provider sorts.
		writeJSON(t, w, &gmailapi.Thread{Id: "T1", Messages: []*gmailapi.Message{outboundMsg, inboundMsg}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "M1" {
			http.Error(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`, http.StatusNotFound)
			return
		}
		assert.Equal(t, "metadata", r.URL.Query().Get("format"))
		writeJSON(t, w, inboundMsg)
	})
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var m gmailapi.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		f.mu.Lock()
		f.sent = append(f.sent, &m)
		f.mu.Unlock()
		writeJSON(t, w, &gmailapi.Message{Id: "M9", ThreadId: m.ThreadId})
	})
	return mux
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func testProvider(t *testing.T) (*Provider, *fakeGmail) {
	t.Helper()
	fake := &fakeGmail{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := gmailapi.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return NewWithService(svc, Config{From: "Mr. Sales <sales@acme.example>"}, nil), fake
}

func decodeRaw(t *testing.T, m *gmailapi.Message) string {
	t.Helper()
	raw, err := base64.URLEncoding.DecodeString(m.Raw)
	require.NoError(t, err)
	return string(raw)
}

func TestRetrieveThread(t *testing.T) {
	p, _ := testProvider(t)

	thread, err := p.RetrieveThread(context.Background(), "T1")
	require.NoError(t, err)

	assert.Equal(t, "T1", thread.ID)
	assert.Equal(t, "Anvils", thread.Subject)
	require.Len(t, thread.Emails, 2)

	first := thread.Emails[0]
	assert.Equal(t, "M1", first.ID)
	assert.Equal(t, inbox.Inbound, first.Direction)
	assert.Equal(t, "jane@initech.example", first.From)
	assert.Equal(t, "Jane Doe", first.FromName)
	assert.Equal(t, []string{"sales@acme.example", "other@acme.example"}, first.To)
	assert.Equal(t, "Do you sell anvils?", first.Text)
	assert.Equal(t, "<p>Do you sell anvils?</p>", first.HTML)
	assert.Equal(t, "m1@initech.example", first.MessageID)
	assert.True(t, first.Date.Equal(t0))

	second := thread.Emails[1]
	assert.Equal(t, "M2", second.ID)
	assert.Equal(t, inbox.Outbound, second.Direction)
	assert.Equal(t, "<p>Yes we do.</p>", second.HTML)

	assert.True(t, thread.HasEmailFrom("sales@acme.example"))
}

func TestRetrieveThread_NotFound(t *testing.T) {
	p, _ := testProvider(t)

	_, err := p.RetrieveThread(context.Background(), "T404")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
}

func TestReplyToEmail(t *testing.T) {
	p, fake := testProvider(t)

	err := p.ReplyToEmail(context.Background(), "M1", inbox.ReplyOptions{
		From:     "sales@acme.example",
		FromName: "Mr. Sales",
		HTML:     "<p>Yes, 50 in stock.</p>",
	})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	sent := fake.sent[0]
	assert.Equal(t, "T1", sent.ThreadId)

	raw := decodeRaw(t, sent)
	assert.Contains(t, raw, "Subject: Re: Anvils")
	assert.Contains(t, raw, "In-Reply-To: <m1@initech.example>")
	assert.Contains(t, raw, "jane@initech.example")
	assert.Contains(t, raw, "Mr. Sales")
	assert.Contains(t, raw, "<p>Yes, 50 in stock.</p>")
}

func TestReplyToEmail_NotFound(t *testing.T) {
	p, fake := testProvider(t)

	err := p.ReplyToEmail(context.Background(), "M404", inbox.ReplyOptions{HTML: "<p>x</p>"})
	assert.ErrorIs(t, err, inbox.ErrNotFound)
	assert.Empty(t, fake.sent)
}

func TestForwardThread(t *testing.T) {
	p, fake := testProvider(t)

	err := p.ForwardThread(context.Background(), "T1", inbox.ForwardOptions{
		To:   "bulk@acme.example",
		Note: "Mr. Sales: bulk order",
	})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	sent := fake.sent[0]
	assert.Empty(t, sent.ThreadId, "forwards start a new conversation")

	raw := decodeRaw(t, sent)
	assert.Contains(t, raw, "Subject: Fwd: Anvils")
	assert.Contains(t, raw, "bulk@acme.example")
	assert.Contains(t, raw, "Mr. Sales: bulk order")
	assert.Contains(t, raw, "Do you sell anvils?")
	assert.True(t, strings.Index(raw, "Do you sell anvils?") < strings.Index(raw, "Yes we do."),
		"forwarded conversation should be oldest first")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "rt", From: "sales@acme.example"}
	assert.NoError(t, valid.Validate())

	tests := map[string]func(*Config){
		"missing client id":     func(c *Config) { c.ClientID = "" },
		"missing client secret": func(c *Config) { c.ClientSecret = "" },
		"missing refresh token": func(c *Config) { c.RefreshToken = "" },
		"missing from":          func(c *Config) { c.From = "" },
		"bad from":              func(c *Config) { c.From = "not an address" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMsgIDList(t *testing.T) {
	assert.Equal(t, []string{"a@x", "b@y"}, msgIDList(" <a@x>\r\n <b@y> "))
	assert.Empty(t, msgIDList(""))
}
