package email

import (
	"bytes"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"

	"github.com/nugget/salesreply/internal/inbox"
)

// SortByDate orders messages oldest first. Messages with equal dates
// keep their relative order.
func SortByDate(msgs []*Message) {
	slices.SortStableFunc(msgs, func(a, b *Message) int {
		return a.Date.Compare(b.Date)
	})
}

// BuildThread converts fetched messages into an [inbox.Thread]. Messages
// from self are marked outbound. msgs must already be in date order.
func BuildThread(threadID, self string, msgs []*Message) *inbox.Thread {
	t := &inbox.Thread{
		ID:     threadID,
		Emails: make([]inbox.Email, 0, len(msgs)),
	}
	if len(msgs) > 0 {
		t.Subject = msgs[0].Subject
	}
	for _, msg := range msgs {
		t.Emails = append(t.Emails, toEmail(msg, self))
	}
	return t
}

func toEmail(msg *Message, self string) inbox.Email {
	addr, name := splitAddress(msg.From)
	e := inbox.Email{
		ID:        msg.id(),
		Direction: inbox.Inbound,
		From:      addr,
		FromName:  name,
		To:        bareAddresses(msg.To),
		Subject:   msg.Subject,
		Text:      msg.TextBody,
		HTML:      msg.HTMLBody,
		Date:      msg.Date,
		MessageID: msg.MessageID,
	}
	if inbox.SameAddress(msg.From, self) {
		e.Direction = inbox.Outbound
	}
	return e
}

// ToInbound converts a freshly received message into the pipeline's
// inbound email model.
func ToInbound(msg *Message) inbox.InboundEmail {
	addr, name := splitAddress(msg.From)
	return inbox.InboundEmail{
		ID:        msg.id(),
		To:        bareAddresses(msg.To),
		Cc:        bareAddresses(msg.Cc),
		From:      addr,
		FromName:  name,
		ThreadID:  msg.ThreadRoot(),
		Subject:   msg.Subject,
		Text:      msg.TextBody,
		HTML:      msg.HTMLBody,
		MessageID: msg.MessageID,
	}
}

// Sender returns the From header for an outgoing message: addr with
// the display name applied, or fallback when addr is empty.
func Sender(addr, name, fallback string) string {
	if addr == "" {
		addr = fallback
	}
	if name == "" {
		return addr
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return addr
	}
	parsed.Name = name
	return parsed.String()
}

// ComposeReply builds an HTML reply to orig, threaded under it, and
// returns the message and the address it goes to.
func ComposeReply(orig *Message, from, body string) (raw []byte, to string, err error) {
	to = orig.ReplyTo
	if to == "" {
		to = orig.From
	}
	raw, err = ComposeMessage(ComposeOptions{
		From:       from,
		To:         []string{to},
		Subject:    replySubject(orig.Subject),
		HTML:       body,
		InReplyTo:  orig.MessageID,
		References: replyReferences(orig),
	})
	if err != nil {
		return nil, "", fmt.Errorf("compose reply: %w", err)
	}
	return raw, to, nil
}

// ComposeForward builds a forward of the conversation msgs (oldest
// first) to a colleague, with note rendered as markdown on top.
func ComposeForward(msgs []*Message, from, to, note string) ([]byte, error) {
	var subject string
	if len(msgs) > 0 {
		subject = msgs[0].Subject
	}
	body, err := forwardHTML(note, subject, msgs)
	if err != nil {
		return nil, err
	}
	raw, err := ComposeMessage(ComposeOptions{
		From:    from,
		To:      []string{to},
		Subject: "Fwd: " + subject,
		HTML:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("compose forward: %w", err)
	}
	return raw, nil
}

// splitAddress separates "Name <addr>" into its parts.
func splitAddress(s string) (addr, name string) {
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address, a.Name
	}
	return strings.TrimSpace(s), ""
}

func bareAddresses(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		addr, _ := splitAddress(s)
		out = append(out, addr)
	}
	return out
}

func replySubject(s string) string {
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}

func replyReferences(orig *Message) []string {
	refs := slices.Clone(orig.References)
	if len(refs) == 0 {
		refs = append(refs, orig.InReplyTo...)
	}
	if orig.MessageID != "" {
		refs = append(refs, orig.MessageID)
	}
	return refs
}

// forwardHTML renders the forward body: the note as markdown, then each
// message of the conversation quoted as plain text.
func forwardHTML(note, subject string, msgs []*Message) (string, error) {
	var b bytes.Buffer
	if strings.TrimSpace(note) != "" {
		if err := goldmark.Convert([]byte(note), &b); err != nil {
			return "", fmt.Errorf("render note: %w", err)
		}
	}

	b.WriteString("<hr>\n<p>---------- Forwarded conversation ----------<br>\n")
	fmt.Fprintf(&b, "Subject: %s</p>\n", html.EscapeString(subject))
	for _, msg := range msgs {
		fmt.Fprintf(&b, "<p><b>From:</b> %s<br>\n", html.EscapeString(msg.From))
		if !msg.Date.IsZero() {
			fmt.Fprintf(&b, "<b>Date:</b> %s<br>\n", msg.Date.UTC().Format(time.RFC1123Z))
		}
		if len(msg.To) > 0 {
			fmt.Fprintf(&b, "<b>To:</b> %s<br>\n", html.EscapeString(strings.Join(msg.To, ", ")))
		}
		b.WriteString("</p>\n")
		fmt.Fprintf(&b, "<blockquote style=\"white-space: pre-wrap;\">%s</blockquote>\n",
			html.EscapeString(inbox.Body(msg.TextBody, msg.HTMLBody)))
	}
	return b.String(), nil
}
