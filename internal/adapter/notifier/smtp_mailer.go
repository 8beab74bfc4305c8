package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/rl1809/keyvault/internal/core/domain"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer emails allocated keys to the purchaser.
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer net.Dialer
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) NotifyKeys(ctx context.Context, delivery domain.KeyDelivery) error {
	if m.cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	if m.cfg.From == "" {
		return errors.New("smtp from not configured")
	}
	if delivery.Email == "" {
		return fmt.Errorf("order %s has no recipient", delivery.OrderID)
	}

	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" || m.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := c.Rcpt(delivery.Email); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.From, delivery)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return c.Quit()
}

func buildMessage(from string, delivery domain.KeyDelivery) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", delivery.Email),
		fmt.Sprintf("Subject: Your license keys for order %s", delivery.OrderID),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Thank you for your purchase (order %s).\r\n\r\n", delivery.OrderID)
	for _, a := range delivery.Allocations {
		name := a.Description
		if name == "" {
			name = a.ProductID
		}
		fmt.Fprintf(&body, "%s:\r\n", name)
		for _, k := range a.Keys {
			fmt.Fprintf(&body, "  %s\r\n", k)
		}
		body.WriteString("\r\n")
	}

	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body.String())
}
