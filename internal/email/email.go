// Package email provides an IMAP/SMTP inbox for the sales assistant.
// A [Mailbox] assembles threads from the IMAP server by Message-ID and
// References headers and sends replies and forwards over SMTP, and a
// [Poller] watches the inbox for new mail as an alternative to the
// inbound webhook.
package email

import (
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
)

// drainLiteral reads and discards the contents of an IMAP literal reader.
// This prevents blocking the IMAP stream when a body section is fetched
// but not consumed. Nil readers are handled gracefully.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// Envelope is the summary of a message found by [Client.Arrivals].
type Envelope struct {
	// UID is the IMAP unique identifier for this message within its folder.
	UID uint32

	// Date is the message's Date header.
	Date time.Time

	// From is the sender, formatted as "Name <addr>" or just the address.
	From string

	// To is the list of recipients.
	To []string

	// Subject is the message subject line.
	Subject string
}

// Message is a fully-fetched email with body content extracted from
// the MIME structure.
type Message struct {
	Envelope

	// Folder is the mailbox the message was fetched from.
	Folder string

	// ProviderID is the backend's own message identifier when it is not
	// the Message-ID (Gmail API message ids).
	ProviderID string

	// MessageID is the Message-ID header value (without angle brackets).
	MessageID string

	// InReplyTo contains Message-IDs this message is a reply to.
	InReplyTo []string

	// References contains the full References chain for threading.
	References []string

	// Cc is the list of CC recipients.
	Cc []string

	// ReplyTo is the Reply-To address, if different from From.
	ReplyTo string

	// TextBody is the plain-text body content.
	TextBody string

	// HTMLBody is the raw HTML body, if present.
	HTMLBody string
}

// ThreadRoot returns the Message-ID of the first message in the
// conversation: the head of References, else the parent named by
// In-Reply-To, else the message itself.
func (m *Message) ThreadRoot() string {
	if len(m.References) > 0 {
		return m.References[0]
	}
	if len(m.InReplyTo) > 0 {
		return m.InReplyTo[0]
	}
	return m.MessageID
}

// id returns the identifier the pipeline uses for this message.
func (m *Message) id() string {
	if m.ProviderID != "" {
		return m.ProviderID
	}
	return m.MessageID
}
