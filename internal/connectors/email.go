package connectors

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// EmailMessage is one outbound email produced by an email step.
type EmailMessage struct {
	To      []string
	Subject string
	Body    string
}

// EmailSender delivers flow emails. Two backends exist: SMTP relay and
// the SendGrid API.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMTPConfig configures the SMTP backend.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends through a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates an SMTP backed sender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg EmailMessage) error {
	if len(msg.To) == 0 {
		return schema.NewError(schema.ErrCodeConfig, "email has no recipients")
	}
	if s.cfg.Host == "" || s.cfg.From == "" {
		return schema.NewError(schema.ErrCodeConfig, "smtp sender missing host or from address")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := smtp.SendMail(addr, auth, s.cfg.From, msg.To, []byte(b.String())); err != nil {
		return schema.NewErrorf(schema.ErrCodeConnector, "smtp send failed: %v", err).WithCause(err)
	}
	return nil
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   string
}

// NewSendGridSender creates a SendGrid backed sender.
func NewSendGridSender(apiKey, from string) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if len(msg.To) == 0 {
		return schema.NewError(schema.ErrCodeConfig, "email has no recipients")
	}

	personalization := mail.NewPersonalization()
	for _, to := range msg.To {
		personalization.To = append(personalization.To, mail.NewEmail("", to))
	}
	personalization.Subject = msg.Subject

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail("", s.from))
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/plain", msg.Body))

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConnector, "sendgrid send failed: %v", err).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		return schema.NewErrorf(schema.ErrCodeConnector, "sendgrid returned %d", resp.StatusCode).
			WithDetails(map[string]any{"body": resp.Body})
	}
	return nil
}
