package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize is the maximum body size to include in a message.
// Larger bodies are truncated with a note.
const maxBodySize = 32 * 1024

// maxRawMessageSize is the maximum raw RFC822 message size to buffer
// when reading from the IMAP literal. Messages larger than this (e.g.
// with huge attachments) are truncated and the remainder of the literal
// is drained to keep the IMAP stream in sync. The parsed text body
// is further truncated at maxBodySize by parseBody.
const maxRawMessageSize = 5 * 1024 * 1024

// ReadMessage fetches one message the poller found and marks it \Seen,
// so a human reading the mailbox can tell which inquiries were already
// handed to the assistant.
func (c *Client) ReadMessage(ctx context.Context, folder string, uid uint32) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	if folder == "" {
		folder = "INBOX"
	}

	if _, err := c.selectFolder(folder); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	msgs, err := c.fetchMessages(folder, uidSet, false)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message UID %d not found in %s", uid, folder)
	}
	return msgs[0], nil
}

// fetchMessages fetches full messages for the given UIDs. With peek
// set, the \Seen flag is left untouched. Caller must hold c.mu and
// have folder selected.
func (c *Client) fetchMessages(folder string, uidSet imap.UIDSet, peek bool) ([]*Message, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: peek},
		},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var out []*Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		out = append(out, c.readFetched(folder, msg))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch messages from %s: %w", folder, err)
	}
	return out, nil
}

// readFetched consumes one FETCH response and parses its body.
func (c *Client) readFetched(folder string, msg *imapclient.FetchMessageData) *Message {
	result := &Message{Folder: folder}
	var rawBody []byte

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			result.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				result.Date = data.Envelope.Date
				result.Subject = data.Envelope.Subject
				result.MessageID = data.Envelope.MessageID
				result.InReplyTo = data.Envelope.InReplyTo
				if len(data.Envelope.From) > 0 {
					result.From = formatAddress(data.Envelope.From[0])
				}
				for _, addr := range data.Envelope.To {
					result.To = append(result.To, formatAddress(addr))
				}
				for _, addr := range data.Envelope.Cc {
					result.Cc = append(result.Cc, formatAddress(addr))
				}
				if len(data.Envelope.ReplyTo) > 0 {
					result.ReplyTo = formatAddress(data.Envelope.ReplyTo[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			// Consume the literal immediately. go-imap/v2 streams
			// data from the IMAP connection; msg.Next() advances
			// past unread literals, so deferring the read would
			// lose the body data.
			if data.Literal == nil {
				c.logger.Debug("nil body literal", "folder", folder)
				continue
			}
			var readErr error
			rawBody, readErr = io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
			// Drain any remaining data so the IMAP stream stays in sync.
			drainLiteral(data.Literal)
			if readErr != nil {
				c.logger.Debug("error reading body literal", "folder", folder, "error", readErr)
				rawBody = nil
			}
		}
	}

	if rawBody != nil {
		if err := c.parseBody(result, bytes.NewReader(rawBody)); err != nil {
			c.logger.Debug("body parse error", "uid", result.UID, "error", err)
		}
	}
	return result
}

// parseBody walks the MIME structure and extracts text content and
// the References header (not available from the IMAP Envelope).
//
// The go-message library's mail.CreateReader and NextPart may return
// both a valid reader/part AND an error when the message uses an
// unknown charset or transfer encoding. We treat those as non-fatal
// and continue parsing. The content may be slightly garbled but is
// still useful as model context.
func (c *Client) parseBody(msg *Message, r io.Reader) error {
	mailReader, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("create mail reader: %w", err)
	}
	if mailReader == nil {
		if err != nil {
			return fmt.Errorf("create mail reader returned nil: %w", err)
		}
		return fmt.Errorf("create mail reader returned nil")
	}
	if err != nil {
		c.logger.Debug("mail reader created with charset warning", "error", err)
	}

	// Extract References from the top-level mail header.
	// This is not available in the IMAP ENVELOPE; it must be parsed
	// from the raw message.
	if refs, err := mailReader.Header.MsgIDList("References"); err == nil && len(refs) > 0 {
		msg.References = refs
	}

	for {
		part, err := mailReader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}
		if err != nil {
			c.logger.Debug("part has charset warning", "error", err)
		}

		// Determine content type by checking the header type.
		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			// Skip attachment bodies.
			continue
		default:
			continue
		}

		var dst *string
		switch contentType {
		case "text/plain":
			dst = &msg.TextBody
		case "text/html":
			dst = &msg.HTMLBody
		}
		if dst == nil || *dst != "" {
			continue
		}
		text, err := readTextPart(part.Body)
		if err != nil {
			c.logger.Debug("error reading text part", "content_type", contentType, "error", err)
			continue
		}
		*dst = text
	}

	return nil
}

// readTextPart reads at most maxBodySize bytes of a text part. A longer
// part is cut on a rune boundary and marked as truncated.
func readTextPart(r io.Reader) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return "", err
	}
	if len(body) <= maxBodySize {
		return strings.TrimSpace(string(body)), nil
	}
	n := maxBodySize
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return strings.TrimSpace(string(body[:n])) + "\n\n[truncated: message exceeds 32KB]", nil
}
