package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// imapDialTimeout bounds the TCP connect when ctx has no earlier deadline.
const imapDialTimeout = 30 * time.Second

// Client is the assistant's IMAP session. It is shared by the thread
// lookups of a [Mailbox], the [Poller], and the health check, so every
// command is serialized on one connection that is re-established on
// demand.
type Client struct {
	cfg    IMAPConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP client. No connection is made until
// [Client.Connect] or the first command.
func NewClient(cfg IMAPConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("host", cfg.Host),
	}
}

// Connect dials and logs in, replacing any existing session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// connectLocked dials the server within ctx and authenticates. Caller
// must hold c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: imapDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	if c.cfg.TLS {
		conn = tls.Client(conn, &tls.Config{ServerName: c.cfg.Host})
	}

	start := time.Now()
	client := imapclient.New(conn, nil)
	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected",
		"user", c.cfg.Username,
		"tls", c.cfg.TLS,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// ensureConnected reuses the session if the server still answers NOOP
// and reconnects otherwise. Caller must hold c.mu.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.client != nil {
		select {
		case <-c.client.Closed():
		default:
			if err := c.client.Noop().Wait(); err == nil {
				return nil
			}
		}
		c.logger.Debug("IMAP session lost, reconnecting")
	}
	return c.connectLocked(ctx)
}

// Ping reports whether the mailbox is reachable, reconnecting if
// needed. It is the connwatch check for the IMAP provider.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnected(ctx)
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if err := c.client.Logout().Wait(); err != nil {
		c.logger.Debug("IMAP logout failed", "error", err)
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// selectFolder selects a mailbox. Caller must hold c.mu.
func (c *Client) selectFolder(folder string) (*imap.SelectData, error) {
	if folder == "" {
		folder = "INBOX"
	}
	data, err := c.client.Select(folder, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	return data, nil
}
