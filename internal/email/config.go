package email

import (
	"errors"
	"fmt"

	"github.com/emersion/go-message/mail"
)

// Config describes the assistant's own mailbox: IMAP for reading thread
// history and polling for new mail, SMTP for sending replies and
// forwards. It is embedded in the top-level config under inbox.imap.
type Config struct {
	// IMAP configures the IMAP connection for reading email.
	IMAP IMAPConfig `yaml:"imap"`

	// SMTP configures the SMTP connection for sending email.
	SMTP SMTPConfig `yaml:"smtp"`

	// From is the mailbox address (e.g., "Mr. Sales <sales@acme.com>").
	// Messages from this address are treated as outbound.
	From string `yaml:"from"`

	// Folder is the mailbox polled for new mail. Default: INBOX.
	Folder string `yaml:"folder"`

	// SentFolder is searched alongside Folder when assembling a thread.
	// Default: Sent.
	SentFolder string `yaml:"sent_folder"`

	// SaveSent appends a copy of every sent message to SentFolder. Leave
	// off for servers that file SMTP submissions themselves (Gmail).
	SaveSent bool `yaml:"save_sent"`

	// PollIntervalSec is how often the poller checks Folder. Zero
	// disables polling; the webhook is then the only entry point.
	PollIntervalSec int `yaml:"poll_interval_sec"`
}

// Configured reports whether the minimum IMAP and SMTP settings are present.
func (c Config) Configured() bool {
	return c.IMAP.Host != "" && c.IMAP.Username != "" && c.SMTP.Host != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
// Called by the parent config's applyDefaults method.
func (c *Config) ApplyDefaults() {
	if c.IMAP.Port == 0 {
		c.IMAP.Port = 993
	}
	// TLS defaults to true unless the port is 143 (plaintext convention).
	if !c.IMAP.TLS && c.IMAP.Port != 143 {
		c.IMAP.TLS = true
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port == 0 {
			c.SMTP.Port = 587
		}
		if !c.SMTP.StartTLS && c.SMTP.Port != 465 {
			c.SMTP.StartTLS = true
		}
	}

	if c.Folder == "" {
		c.Folder = "INBOX"
	}
	if c.SentFolder == "" {
		c.SentFolder = "Sent"
	}
}

// Validate checks that the mailbox configuration is internally
// consistent. Returns an error describing the first problem found.
func (c Config) Validate() error {
	if c.IMAP.Host == "" {
		return errors.New("imap.host is required")
	}
	if c.IMAP.Username == "" {
		return errors.New("imap.username is required")
	}
	if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port %d out of range (1-65535)", c.IMAP.Port)
	}
	if c.SMTP.Host == "" {
		return errors.New("smtp.host is required")
	}
	if c.SMTP.Username == "" {
		return errors.New("smtp.username is required")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d out of range (1-65535)", c.SMTP.Port)
	}
	if c.From == "" {
		return errors.New("from is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("from %q: %w", c.From, err)
	}
	if c.PollIntervalSec < 0 {
		return fmt.Errorf("poll_interval_sec %d must not be negative", c.PollIntervalSec)
	}
	return nil
}

// IMAPConfig holds IMAP server connection parameters.
type IMAPConfig struct {
	// Host is the IMAP server hostname (e.g., "imap.gmail.com").
	Host string `yaml:"host"`

	// Port is the IMAP server port. Default: 993 (IMAPS).
	Port int `yaml:"port"`

	// Username is the IMAP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the IMAP login password. Supports environment variable
	// expansion via the config loader (e.g., ${IMAP_PASSWORD}).
	Password string `yaml:"password"`

	// TLS controls whether to use TLS for the connection. Default: true.
	// Set to false only for port 143 plaintext connections (not recommended).
	TLS bool `yaml:"tls"`
}

// SMTPConfig holds SMTP server connection parameters for outbound email.
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g., "smtp.gmail.com").
	Host string `yaml:"host"`

	// Port is the SMTP server port. Default: 587 (submission with STARTTLS).
	Port int `yaml:"port"`

	// Username is the SMTP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the SMTP login password. Supports environment variable
	// expansion via the config loader (e.g., ${SMTP_PASSWORD}).
	Password string `yaml:"password"`

	// StartTLS controls whether to upgrade the connection with STARTTLS.
	// Default: true. Set to false for port 465 (implicit TLS).
	StartTLS bool `yaml:"starttls"`
}
