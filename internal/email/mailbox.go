package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/salesreply/internal/inbox"
)

// Store is the IMAP side of a [Mailbox]. [*Client] implements it.
type Store interface {
	SearchThread(ctx context.Context, folder, rootID string) ([]*Message, error)
	FindMessage(ctx context.Context, folder, messageID string) (*Message, error)
	AppendMessage(ctx context.Context, folder string, raw []byte) error
}

// SendFunc delivers a composed message over SMTP. [SendMail] is the
// production implementation.
type SendFunc func(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error

// Mailbox is an [inbox.Provider] backed by the assistant's own IMAP
// mailbox. Threads are identified by the Message-ID of their first
// message and emails by their own Message-ID.
type Mailbox struct {
	cfg    Config
	store  Store
	send   SendFunc
	logger *slog.Logger
}

var _ inbox.Provider = (*Mailbox)(nil)

// NewMailbox creates a Mailbox. A nil send uses [SendMail].
func NewMailbox(cfg Config, store Store, send SendFunc, logger *slog.Logger) *Mailbox {
	if send == nil {
		send = SendMail
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		cfg:    cfg,
		store:  store,
		send:   send,
		logger: logger.With("provider", "imap"),
	}
}

// RetrieveThread collects the conversation rooted at threadID from the
// inbox and sent folders, oldest message first.
func (m *Mailbox) RetrieveThread(ctx context.Context, threadID string) (*inbox.Thread, error) {
	msgs, err := m.threadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, inbox.ErrNotFound)
	}

	return BuildThread(threadID, m.cfg.From, msgs), nil
}

// ForwardThread sends the whole conversation to opts.To with the note
// on top.
func (m *Mailbox) ForwardThread(ctx context.Context, threadID string, opts inbox.ForwardOptions) error {
	msgs, err := m.threadMessages(ctx, threadID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("thread %s: %w", threadID, inbox.ErrNotFound)
	}

	raw, err := ComposeForward(msgs, m.cfg.From, opts.To, opts.Note)
	if err != nil {
		return err
	}

	if err := m.deliver(ctx, m.cfg.From, []string{opts.To}, raw); err != nil {
		return err
	}
	m.logger.Info("thread forwarded", "thread_id", threadID, "to", opts.To, "emails", len(msgs))
	return nil
}

// ReplyToEmail answers the email with Message-ID emailID, threading the
// reply under it.
func (m *Mailbox) ReplyToEmail(ctx context.Context, emailID string, opts inbox.ReplyOptions) error {
	orig, err := m.findMessage(ctx, emailID)
	if err != nil {
		return err
	}
	if orig == nil {
		return fmt.Errorf("email %s: %w", emailID, inbox.ErrNotFound)
	}

	from := Sender(opts.From, opts.FromName, m.cfg.From)
	raw, to, err := ComposeReply(orig, from, opts.HTML)
	if err != nil {
		return err
	}

	if err := m.deliver(ctx, from, []string{to}, raw); err != nil {
		return err
	}
	m.logger.Info("reply sent", "email_id", emailID, "to", to)
	return nil
}

// folders returns the mailboxes a thread is assembled from.
func (m *Mailbox) folders() []string {
	folders := []string{m.cfg.Folder}
	if m.cfg.SentFolder != "" && m.cfg.SentFolder != m.cfg.Folder {
		folders = append(folders, m.cfg.SentFolder)
	}
	return folders
}

func (m *Mailbox) threadMessages(ctx context.Context, rootID string) ([]*Message, error) {
	seen := make(map[string]bool)
	var out []*Message
	for _, folder := range m.folders() {
		msgs, err := m.store.SearchThread(ctx, folder, rootID)
		if err != nil {
			return nil, fmt.Errorf("search thread %s in %s: %w", rootID, folder, err)
		}
		for _, msg := range msgs {
			key := msg.MessageID
			if key == "" {
				key = fmt.Sprintf("%s:%d", folder, msg.UID)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, msg)
		}
	}
	SortByDate(out)
	return out, nil
}

func (m *Mailbox) findMessage(ctx context.Context, messageID string) (*Message, error) {
	for _, folder := range m.folders() {
		msg, err := m.store.FindMessage(ctx, folder, messageID)
		if err != nil {
			return nil, fmt.Errorf("find %s in %s: %w", messageID, folder, err)
		}
		if msg != nil {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *Mailbox) deliver(ctx context.Context, from string, to []string, raw []byte) error {
	start := time.Now()
	sender, rcpts := envelopeAddresses(from, to)
	if err := m.send(ctx, m.cfg.SMTP, sender, rcpts, raw); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.logger.Debug("mail delivered",
		"to", to,
		"bytes", len(raw),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if m.cfg.SaveSent && m.cfg.SentFolder != "" {
		if err := m.store.AppendMessage(ctx, m.cfg.SentFolder, raw); err != nil {
			// The message is already out; only the local copy is missing.
			m.logger.Warn("failed to save sent message", "folder", m.cfg.SentFolder, "error", err)
		}
	}
	return nil
}

