package email

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"
)

func parseRaw(t *testing.T, raw string) *Message {
	t.Helper()
	c := &Client{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	msg := &Message{}
	if err := c.parseBody(msg, strings.NewReader(raw)); err != nil {
		t.Fatalf("parseBody: %v", err)
	}
	return msg
}

// inquiry builds a prospect's message with the given content headers
// and body.
func inquiry(headers, body string) string {
	return "From: Jane Doe <jane@initech.example>\r\n" +
		"To: sales@acme.example\r\n" +
		"Subject: Anvil pricing\r\n" +
		"MIME-Version: 1.0\r\n" +
		headers +
		"\r\n" +
		body
}

func TestParseBody_Structures(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantHTML string
	}{
		{
			name:     "plain text",
			raw:      inquiry("Content-Type: text/plain; charset=utf-8\r\n", "How much for ten anvils?\r\n"),
			wantText: "How much for ten anvils?",
		},
		{
			name: "html only",
			raw: inquiry("Content-Type: text/html; charset=utf-8\r\n",
				"<p>How much for <b>ten</b> anvils?</p>\r\n"),
			wantHTML: "<p>How much for <b>ten</b> anvils?</p>",
		},
		{
			name: "alternative",
			raw: inquiry("Content-Type: multipart/alternative; boundary=\"alt\"\r\n",
				"--alt\r\n"+
					"Content-Type: text/plain; charset=utf-8\r\n\r\n"+
					"Do you ship to Ohio?\r\n"+
					"--alt\r\n"+
					"Content-Type: text/html; charset=utf-8\r\n\r\n"+
					"<p>Do you ship to Ohio?</p>\r\n"+
					"--alt--\r\n"),
			wantText: "Do you ship to Ohio?",
			wantHTML: "<p>Do you ship to Ohio?</p>",
		},
		{
			// Typical mail client layout: the signature logo sits in
			// multipart/related, the quote request in the alternative.
			name: "mixed related alternative with attachment",
			raw: inquiry("Content-Type: multipart/mixed; boundary=\"b1\"\r\n",
				"--b1\r\n"+
					"Content-Type: multipart/related; boundary=\"b2\"\r\n\r\n"+
					"--b2\r\n"+
					"Content-Type: multipart/alternative; boundary=\"b3\"\r\n\r\n"+
					"--b3\r\n"+
					"Content-Type: text/plain; charset=utf-8\r\n\r\n"+
					"Quote request attached.\r\n"+
					"--b3\r\n"+
					"Content-Type: text/html; charset=utf-8\r\n\r\n"+
					"<p>Quote request attached.</p>\r\n"+
					"--b3--\r\n"+
					"--b2--\r\n"+
					"--b1\r\n"+
					"Content-Type: text/plain\r\n"+
					"Content-Disposition: attachment; filename=\"rfq.txt\"\r\n\r\n"+
					"line items that must not become the body\r\n"+
					"--b1--\r\n"),
			wantText: "Quote request attached.",
			wantHTML: "<p>Quote request attached.</p>",
		},
		{
			name: "first text part wins",
			raw: inquiry("Content-Type: multipart/mixed; boundary=\"m\"\r\n",
				"--m\r\n"+
					"Content-Type: text/plain; charset=utf-8\r\n\r\n"+
					"Original question\r\n"+
					"--m\r\n"+
					"Content-Type: text/plain; charset=utf-8\r\n\r\n"+
					"Forwarded footer\r\n"+
					"--m--\r\n"),
			wantText: "Original question",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := parseRaw(t, tt.raw)
			if msg.TextBody != tt.wantText {
				t.Errorf("TextBody = %q, want %q", msg.TextBody, tt.wantText)
			}
			if msg.HTMLBody != tt.wantHTML {
				t.Errorf("HTMLBody = %q, want %q", msg.HTMLBody, tt.wantHTML)
			}
		})
	}
}

func TestParseBody_References(t *testing.T) {
	msg := parseRaw(t, inquiry(
		"References: <root@initech.example> <reply1@acme.example>\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n",
		"Following up on your quote.\r\n"))

	if len(msg.References) != 2 || msg.References[0] != "root@initech.example" || msg.References[1] != "reply1@acme.example" {
		t.Fatalf("References = %v", msg.References)
	}
	if got := msg.ThreadRoot(); got != "root@initech.example" {
		t.Errorf("ThreadRoot() = %q, want the References head", got)
	}
}

func TestParseBody_UnknownCharset(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHTML string
	}{
		{
			name: "top level",
			raw:  inquiry("Content-Type: text/plain; charset=x-fake-charset\r\n", "Body in an unknown charset\r\n"),
		},
		{
			name: "one part",
			raw: inquiry("Content-Type: multipart/alternative; boundary=\"cs\"\r\n",
				"--cs\r\n"+
					"Content-Type: text/plain; charset=x-nonexistent\r\n\r\n"+
					"Garbled plain text\r\n"+
					"--cs\r\n"+
					"Content-Type: text/html; charset=utf-8\r\n\r\n"+
					"<p>Clean HTML</p>\r\n"+
					"--cs--\r\n"),
			wantHTML: "<p>Clean HTML</p>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := parseRaw(t, tt.raw)
			// The bytes are kept undecoded rather than dropped.
			if msg.TextBody == "" {
				t.Error("TextBody is empty; undecodable text should be kept as-is")
			}
			if msg.HTMLBody != tt.wantHTML {
				t.Errorf("HTMLBody = %q, want %q", msg.HTMLBody, tt.wantHTML)
			}
		})
	}
}

func TestParseBody_Truncation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "ascii", body: strings.Repeat("X", maxBodySize+100)},
		// "é" is two bytes, so the limit falls inside a rune.
		{name: "multibyte boundary", body: "a" + strings.Repeat("é", maxBodySize/2+10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := parseRaw(t, inquiry("Content-Type: text/plain; charset=utf-8\r\n", tt.body+"\r\n"))

			if !strings.HasSuffix(msg.TextBody, "[truncated: message exceeds 32KB]") {
				t.Error("large body should end with the truncation marker")
			}
			if len(msg.TextBody) > maxBodySize+64 {
				t.Errorf("TextBody len = %d, should be bounded near maxBodySize", len(msg.TextBody))
			}
			if !utf8.ValidString(msg.TextBody) {
				t.Error("truncated body is not valid UTF-8")
			}
		})
	}
}
