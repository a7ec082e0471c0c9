// Package gmail is an [inbox.Provider] backed by the Gmail API. Threads
// and emails are identified by Gmail's own thread and message ids, so
// the inbound webhook can pass them through unchanged.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nugget/salesreply/internal/email"
	"github.com/nugget/salesreply/internal/inbox"
)

// Config holds OAuth credentials for the assistant's Gmail account.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`

	// User is the Gmail user id. Default: "me".
	User string `yaml:"user"`

	// From is the mailbox address. Messages from it are outbound, and
	// it is the sender of forwards.
	From string `yaml:"from"`

	// Endpoint overrides the API base URL.
	Endpoint string `yaml:"endpoint"`
}

// Validate checks that the credentials and mailbox address are set.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if c.RefreshToken == "" {
		return errors.New("refresh_token is required")
	}
	if c.From == "" {
		return errors.New("from is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("from %q: %w", c.From, err)
	}
	return nil
}

// Provider talks to one Gmail mailbox.
type Provider struct {
	svc    *gmailapi.Service
	user   string
	from   string
	logger *slog.Logger
}

var _ inbox.Provider = (*Provider)(nil)

// New creates a Provider that authenticates with the configured refresh
// token. Access tokens are refreshed automatically.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailModifyScope},
	}
	client := oc.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail.NewService failed: %w", err)
	}
	return NewWithService(svc, cfg, logger), nil
}

// NewWithService creates a Provider around an existing API service.
func NewWithService(svc *gmailapi.Service, cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	user := cfg.User
	if user == "" {
		user = "me"
	}
	return &Provider{
		svc:    svc,
		user:   user,
		from:   cfg.From,
		logger: logger.With("provider", "gmail"),
	}
}

// RetrieveThread fetches a thread with full message bodies.
func (p *Provider) RetrieveThread(ctx context.Context, threadID string) (*inbox.Thread, error) {
	msgs, err := p.threadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return email.BuildThread(threadID, p.from, msgs), nil
}

// ForwardThread sends the whole thread to opts.To as a new conversation.
func (p *Provider) ForwardThread(ctx context.Context, threadID string, opts inbox.ForwardOptions) error {
	msgs, err := p.threadMessages(ctx, threadID)
	if err != nil {
		return err
	}
	raw, err := email.ComposeForward(msgs, p.from, opts.To, opts.Note)
	if err != nil {
		return err
	}
	if err := p.send(ctx, raw, ""); err != nil {
		return err
	}
	p.logger.Info("thread forwarded", "thread_id", threadID, "to", opts.To, "emails", len(msgs))
	return nil
}

// ReplyToEmail sends an HTML reply within the email's thread.
func (p *Provider) ReplyToEmail(ctx context.Context, emailID string, opts inbox.ReplyOptions) error {
	m, err := p.svc.Users.Messages.Get(p.user, emailID).
		Format("metadata").
		MetadataHeaders("From", "Reply-To", "Subject", "Message-ID", "In-Reply-To", "References").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("messages.Get %s: %w", emailID, apiError(err))
	}

	orig := toMessage(m)
	from := email.Sender(opts.From, opts.FromName, p.from)
	raw, to, err := email.ComposeReply(orig, from, opts.HTML)
	if err != nil {
		return err
	}
	if err := p.send(ctx, raw, m.ThreadId); err != nil {
		return err
	}
	p.logger.Info("reply sent", "email_id", emailID, "thread_id", m.ThreadId, "to", to)
	return nil
}

func (p *Provider) threadMessages(ctx context.Context, threadID string) ([]*email.Message, error) {
	th, err := p.svc.Users.Threads.Get(p.user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("threads.Get %s: %w", threadID, apiError(err))
	}
	if len(th.Messages) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, inbox.ErrNotFound)
	}

	msgs := make([]*email.Message, 0, len(th.Messages))
	for _, m := range th.Messages {
		msgs = append(msgs, toMessage(m))
	}
	email.SortByDate(msgs)
	return msgs, nil
}

func (p *Provider) send(ctx context.Context, raw []byte, threadID string) error {
	start := time.Now()
	sent, err := p.svc.Users.Messages.Send(p.user, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("messages.Send: %w", apiError(err))
	}
	p.logger.Debug("mail delivered",
		"message_id", sent.Id,
		"thread_id", sent.ThreadId,
		"bytes", len(raw),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// apiError maps a Gmail 404 onto [inbox.ErrNotFound].
func apiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", inbox.ErrNotFound, err)
	}
	return err
}

// toMessage converts an API message into the shared email model.
func toMessage(m *gmailapi.Message) *email.Message {
	out := &email.Message{ProviderID: m.Id}
	if m.InternalDate > 0 {
		out.Date = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return out
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			out.From = h.Value
		case "to":
			out.To = addressList(h.Value)
		case "cc":
			out.Cc = addressList(h.Value)
		case "reply-to":
			out.ReplyTo = h.Value
		case "subject":
			out.Subject = h.Value
		case "message-id":
			out.MessageID = trimMsgID(h.Value)
		case "in-reply-to":
			out.InReplyTo = msgIDList(h.Value)
		case "references":
			out.References = msgIDList(h.Value)
		}
	}
	out.TextBody, out.HTMLBody = extractMessageBodies(m.Payload)
	return out
}

func addressList(v string) []string {
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{strings.TrimSpace(v)}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}

func trimMsgID(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func msgIDList(v string) []string {
	fields := strings.Fields(v)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if id := trimMsgID(f); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// extractMessageBodies walks the MIME tree for the first text/plain and
// text/html parts.
func extractMessageBodies(payload *gmailapi.MessagePart) (textBody, htmlBody string) {
	textBody, htmlBody = extractBodyFromPart(payload)

	for _, part := range payload.Parts {
		partText, partHTML := extractBodyFromPart(part)
		if textBody == "" {
			textBody = partText
		}
		if htmlBody == "" {
			htmlBody = partHTML
		}

		if len(part.Parts) > 0 {
			nestedText, nestedHTML := extractMessageBodies(part)
			if textBody == "" {
				textBody = nestedText
			}
			if htmlBody == "" {
				htmlBody = nestedHTML
			}
		}
	}

	return textBody, htmlBody
}

func extractBodyFromPart(part *gmailapi.MessagePart) (textBody, htmlBody string) {
	if part.Body == nil || part.Body.Data == "" {
		return "", ""
	}

	switch part.MimeType {
	case "text/plain":
		return strings.TrimSpace(decodeBase64URL(part.Body.Data)), ""
	case "text/html":
		return "", strings.TrimSpace(decodeBase64URL(part.Body.Data))
	default:
		return "", ""
	}
}

func decodeBase64URL(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return data
		}
	}
	return string(decoded)
}
