package email

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/opstate"
)

const (
	// pollNamespace is the opstate namespace for email polling state.
	pollNamespace = "email_poll"
)

// Lister is the part of [*Client] the poller needs.
type Lister interface {
	Arrivals(ctx context.Context, folder string, sinceUID uint32) ([]Envelope, error)
	LatestUID(ctx context.Context, folder string) (uint32, error)
	ReadMessage(ctx context.Context, folder string, uid uint32) (*Message, error)
}

// Poller checks the mailbox for new messages by comparing IMAP UIDs
// against a persisted high-water mark, so every message is handed off
// once even across restarts.
type Poller struct {
	client Lister
	state  *opstate.Store
	folder string
	self   string
	logger *slog.Logger
}

// NewPoller creates a poller for cfg.Folder that tracks state in the
// provided opstate store. Messages sent from cfg.From are skipped.
func NewPoller(client Lister, state *opstate.Store, cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return &Poller{
		client: client,
		state:  state,
		folder: folder,
		self:   cfg.From,
		logger: logger.With("component", "email_poller"),
	}
}

// Run polls every interval until ctx is cancelled and passes each new
// message to handle. Poll errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, interval time.Duration, handle func(context.Context, inbox.InboundEmail)) {
	p.logger.Info("email poller started", "folder", p.folder, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		emails, err := p.Poll(ctx)
		if err != nil {
			p.logger.Warn("email poll failed", "folder", p.folder, "error", err)
		}
		for _, e := range emails {
			handle(ctx, e)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("email poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll returns messages that arrived since the last call, oldest first
// so replies go out in arrival order.
//
// On first run (no stored high-water mark), the current highest UID is
// recorded silently without reporting it as new, so a fresh deployment
// does not answer the entire existing inbox.
func (p *Poller) Poll(ctx context.Context) ([]inbox.InboundEmail, error) {
	stateKey := p.folder

	storedStr, err := p.state.Get(pollNamespace, stateKey)
	if err != nil {
		return nil, fmt.Errorf("get high-water mark %q: %w", stateKey, err)
	}

	storedUID, err := strconv.ParseUint(storedStr, 10, 32)
	if storedStr == "" || err != nil {
		if storedStr != "" {
			p.logger.Warn("corrupt high-water mark, reseeding", "stored", storedStr)
		}
		return nil, p.seed(ctx, stateKey)
	}

	newMessages, err := p.client.Arrivals(ctx, p.folder, uint32(storedUID))
	if err != nil {
		return nil, fmt.Errorf("list arrivals: %w", err)
	}
	p.advanceHighWaterMark(stateKey, uint32(storedUID), newMessages)

	var out []inbox.InboundEmail
	for _, env := range p.filterSelfSent(newMessages) {
		if env.UID <= uint32(storedUID) {
			continue
		}
		msg, err := p.client.ReadMessage(ctx, p.folder, env.UID)
		if err != nil {
			p.logger.Warn("failed to read new message", "uid", env.UID, "error", err)
			continue
		}
		out = append(out, ToInbound(msg))
	}

	if len(out) > 0 {
		p.logger.Info("new email detected", "folder", p.folder, "count", len(out))
	}
	return out, nil
}

func (p *Poller) seed(ctx context.Context, stateKey string) error {
	seedUID, err := p.client.LatestUID(ctx, p.folder)
	if err != nil {
		return fmt.Errorf("seed latest UID: %w", err)
	}
	// An empty mailbox seeds 0, so everything that arrives is new.
	p.logger.Info("email poll first run, seeding high-water mark", "folder", p.folder, "uid", seedUID)
	if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(seedUID), 10)); err != nil {
		return fmt.Errorf("seed high-water mark %q: %w", stateKey, err)
	}
	return nil
}

// advanceHighWaterMark stores the highest UID seen. The mark never
// decreases, even if the listing returns older UIDs after moves.
func (p *Poller) advanceHighWaterMark(stateKey string, stored uint32, messages []Envelope) {
	highest := stored
	for _, env := range messages {
		if env.UID > highest {
			highest = env.UID
		}
	}
	if highest == stored {
		return
	}
	if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(highest), 10)); err != nil {
		p.logger.Warn("failed to update high-water mark", "key", stateKey, "error", err)
	}
}

// filterSelfSent drops messages sent from the assistant's own address.
func (p *Poller) filterSelfSent(messages []Envelope) []Envelope {
	if p.self == "" {
		return messages
	}
	out := make([]Envelope, 0, len(messages))
	for _, env := range messages {
		if inbox.SameAddress(env.From, p.self) {
			continue
		}
		out = append(out, env)
	}
	return out
}
