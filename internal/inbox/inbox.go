// Package inbox defines the email and thread model shared by every inbox
// provider, the [Provider] contract the reply pipeline depends on, and a
// client for the hosted inbox REST API.
package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nugget/salesreply/internal/fetch"
)

// Direction tells whether an email in a thread was received or sent by us.
type Direction string

// Thread directions as reported by providers.
const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

// InboundEmail is a newly received message, as delivered by the inbound
// webhook or the mailbox poller. It is never modified after receipt.
type InboundEmail struct {
	ID       string   `json:"id"`
	To       []string `json:"toAddresses"`
	Cc       []string `json:"ccAddresses,omitempty"`
	From     string   `json:"fromAddress"`
	FromName string   `json:"fromName,omitempty"`
	ThreadID string   `json:"threadId"`
	Subject  string   `json:"subject"`
	Text     string   `json:"text,omitempty"`
	HTML     string   `json:"html,omitempty"`

	// MessageID is the RFC 5322 Message-ID, when the provider knows it.
	MessageID string `json:"messageId,omitempty"`
}

// Email is one message within a [Thread].
type Email struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	From      string    `json:"fromAddress"`
	FromName  string    `json:"fromName,omitempty"`
	To        []string  `json:"toAddresses"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Date      time.Time `json:"date"`
	MessageID string    `json:"messageId,omitempty"`
}

// Thread is a full conversation, oldest message first.
type Thread struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Emails  []Email `json:"emails"`
}

// ForwardOptions describes a thread forward to a human colleague.
type ForwardOptions struct {
	To   string `json:"to"`
	Note string `json:"note,omitempty"`
}

// ReplyOptions describes a reply to a specific email.
type ReplyOptions struct {
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	HTML     string `json:"html"`
}

// Provider is the inbox backend: it stores thread history and delivers
// outgoing mail.
type Provider interface {
	// RetrieveThread returns the full thread, oldest email first.
	RetrieveThread(ctx context.Context, threadID string) (*Thread, error)

	// ForwardThread forwards the whole thread to opts.To with a leading note.
	ForwardThread(ctx context.Context, threadID string, opts ForwardOptions) error

	// ReplyToEmail sends an HTML reply to the given email within its thread.
	ReplyToEmail(ctx context.Context, emailID string, opts ReplyOptions) error
}

// SameAddress reports whether two address strings name the same mailbox.
// Display names and surrounding whitespace are ignored and the
// comparison is case-insensitive.
func SameAddress(a, b string) bool {
	na, nb := NormalizeAddress(a), NormalizeAddress(b)
	return na != "" && na == nb
}

// NormalizeAddress returns the lower-cased bare address from a header
// value such as `"Mr. Sales" <Sales@Acme.com>`. Unparseable input is
// trimmed and lower-cased as-is.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(s)
}

// Inbound returns only the emails received from outside. The result is
// never nil, so it can be passed to [Render] as an explicit subset.
func (t *Thread) Inbound() []Email {
	out := make([]Email, 0, len(t.Emails))
	for _, e := range t.Emails {
		if e.Direction == Inbound {
			out = append(out, e)
		}
	}
	return out
}

// HasEmailFrom reports whether any email in the thread was sent from addr.
func (t *Thread) HasEmailFrom(addr string) bool {
	for _, e := range t.Emails {
		if SameAddress(e.From, addr) {
			return true
		}
	}
	return false
}

// Render formats a thread, or the given subset of its emails, as plain
// text for a model prompt. Pass nil to render every email.
func Render(t *Thread, emails []Email) string {
	if emails == nil {
		emails = t.Emails
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", t.Subject)
	for i, e := range emails {
		fmt.Fprintf(&b, "\n--- Email %d of %d (%s) ---\n", i+1, len(emails), strings.ToLower(string(e.Direction)))
		from := e.From
		if e.FromName != "" {
			from = fmt.Sprintf("%s <%s>", e.FromName, e.From)
		}
		fmt.Fprintf(&b, "From: %s\n", from)
		if len(e.To) > 0 {
			fmt.Fprintf(&b, "To: %s\n", strings.Join(e.To, ", "))
		}
		if !e.Date.IsZero() {
			fmt.Fprintf(&b, "Date: %s\n", e.Date.UTC().Format(time.RFC1123Z))
		}
		if e.Subject != "" && e.Subject != t.Subject {
			fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
		}
		b.WriteString("\n")
		b.WriteString(Body(e.Text, e.HTML))
		b.WriteString("\n")
	}
	return b.String()
}

// Body returns the plain-text body, falling back to text extracted from
// the HTML part.
func Body(text, html string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	if html == "" {
		return ""
	}
	return fetch.PlainText(html)
}
