package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// smtpDialTimeout bounds the TCP connect when ctx has no earlier deadline.
const smtpDialTimeout = 30 * time.Second

// SendMail delivers one composed reply or forward to bare envelope
// addresses (see [envelopeAddresses]). Each call uses its own connection. With cfg.StartTLS the session is upgraded after EHLO;
// otherwise TLS is negotiated on connect (port 465). The ctx deadline
// applies to the whole exchange, not only the dial.
func SendMail(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	conn, err := dialSMTP(ctx, cfg)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP greeting from %s: %w", cfg.Host, err)
	}
	defer client.Close()

	if err := client.Hello(heloName(from)); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM %s: %w", from, err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}

// dialSMTP opens the transport for one send within ctx.
func dialSMTP(ctx context.Context, cfg SMTPConfig) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: smtpDialTimeout}

	if cfg.StartTLS {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial SMTP %s: %w", addr, err)
		}
		return conn, nil
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: cfg.Host}}
	conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial SMTPS %s: %w", addr, err)
	}
	return conn, nil
}

// envelopeAddresses reduces the display-form sender and recipients to
// the bare addresses SMTP wants. Recipients are deduplicated without
// regard to case and blanks are dropped.
func envelopeAddresses(from string, to []string) (string, []string) {
	sender, _ := splitAddress(from)

	seen := make(map[string]bool, len(to))
	var rcpts []string
	for _, addr := range bareAddresses(to) {
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			continue
		}
		seen[key] = true
		rcpts = append(rcpts, addr)
	}
	return sender, rcpts
}

// heloName is the domain we greet the server with: the sender's domain
// when there is one.
func heloName(sender string) string {
	if i := strings.LastIndexByte(sender, '@'); i >= 0 && i < len(sender)-1 {
		return sender[i+1:]
	}
	return "localhost"
}
