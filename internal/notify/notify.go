// Package notify delivers fire-and-forget email notifications about newly
// synced events.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	appLog "schedsync/internal/log"
)

// Notifier sends one message to a list of recipients.
type Notifier interface {
	Notify(ctx context.Context, to []string, subject, body string) error
}

// Send delivers through n and logs failures instead of returning them.
func Send(ctx context.Context, n Notifier, to []string, subject, body string) {
	if n == nil || len(to) == 0 {
		return
	}
	if err := n.Notify(ctx, to, subject, body); err != nil {
		appLog.Error("notification failed", err, "to", strings.Join(to, ","), "subject", subject)
	}
}

// LogOnly writes notifications to the log. It is used when no SMTP server
// is configured.
type LogOnly struct{}

func (LogOnly) Notify(_ context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	appLog.Info("notification", "to", strings.Join(to, ","), "subject", subject, "body", body)
	return nil
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	// UseTLS selects STARTTLS on a plain connection. When false the
	// connection uses implicit TLS from the first byte.
	UseTLS bool
	// Timeout bounds dialing; zero means 30s.
	Timeout time.Duration
}

// SMTP sends plain-text mail.
type SMTP struct {
	cfg SMTPConfig
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTP{cfg: cfg}
}

func (s *SMTP) Notify(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	if s.cfg.Server == "" {
		return errors.New("smtp: server not configured")
	}

	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	tlsCfg := &tls.Config{ServerName: s.cfg.Server}
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}

	var conn net.Conn
	var err error
	if s.cfg.UseTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
		conn, err = td.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, s.cfg.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.cfg.UseTLS {
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Server)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(Message(s.cfg.From, to, subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// Message formats a minimal RFC 5322 text message with CRLF line endings.
func Message(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
