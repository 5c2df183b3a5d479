package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"appointly/internal/config"
	"appointly/internal/models"

	"github.com/rs/zerolog"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender sends plain-text mail through an unauthenticated SMTP relay.
type SMTPSender struct {
	host    string
	addr    string
	from    string
	timeout time.Duration
}

func NewSMTPSender(cfg config.EmailConfig, timeout time.Duration) *SMTPSender {
	host := strings.TrimSpace(cfg.SMTPHost)
	port := strings.TrimSpace(cfg.SMTPPort)
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@appointly.local"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMTPSender{
		host:    host,
		addr:    net.JoinHostPort(host, port),
		from:    from,
		timeout: timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write([]byte(buildMessage(s.from, to, subject, body))); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA close: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, subject, body string) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		strings.ReplaceAll(body, "\n", "\r\n"),
	)
}

// EmailDispatcher mails the reminder to the client's snapshot address.
type EmailDispatcher struct {
	sender Sender
	logger *zerolog.Logger
}

func NewEmailDispatcher(sender Sender, logger *zerolog.Logger) *EmailDispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EmailDispatcher{sender: sender, logger: logger}
}

func (d *EmailDispatcher) SendReminder(ctx context.Context, b *models.Booking) error {
	if strings.TrimSpace(b.ClientEmail) == "" {
		return errors.New("booking has no client email")
	}
	if err := d.sender.Send(ctx, b.ClientEmail, reminderSubject(b), reminderText(b, nil)); err != nil {
		return err
	}
	d.logger.Info().Str("booking_id", b.ID).Msg("reminder email sent")
	return nil
}
