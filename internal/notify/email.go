package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
	"golang.org/x/net/html"
)

const defaultFromName = "Proposal Wizard"

// EmailSender delivers one e-mail. SendGrid and SES implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a single-recipient e-mail.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
}

// SendGridSender delivers submission copies through SendGrid.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides the SendGrid API host, for tests.
	Host string
}

// NewSendGridSender creates a new SendGrid email sender. Returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.Host != "" {
		client.Request.BaseURL = strings.TrimRight(cfg.Host, "/") + "/v3/mail/send"
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send delivers msg through the SendGrid v3 mail endpoint. The plain body
// doubles as the HTML part when no HTML is given.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = msg.Body
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		htmlBody,
	)
	message.AddCategories("proposal-wizard")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected submission copy", "status", resp.StatusCode, "body", preview(resp.Body, 200))
		return fmt.Errorf("notify: sendgrid status %d", resp.StatusCode)
	}

	s.logger.Debug("submission copy sent via sendgrid", "to", msg.To, "status", resp.StatusCode)
	return nil
}

// StubEmailSender is a no-op sender for when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// EmailNotifier mirrors wizard messages to a mailbox. The Telegram HTML
// subset is kept for the HTML part and stripped for the text part.
type EmailNotifier struct {
	sender  EmailSender
	to      string
	subject string
}

// NewEmailNotifier sends every message to the given address.
func NewEmailNotifier(sender EmailSender, to, subject string) *EmailNotifier {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if subject == "" {
		subject = "💌 Lời mời hẹn hò"
	}
	return &EmailNotifier{sender: sender, to: to, subject: subject}
}

func (e *EmailNotifier) Send(ctx context.Context, text string) error {
	if e.to == "" {
		return ErrNotConfigured
	}
	return e.sender.Send(ctx, EmailMessage{
		To:      e.to,
		Subject: e.subject,
		Body:    PlainText(text),
		HTML:    strings.ReplaceAll(text, "\n", "<br>\n"),
	})
}

// PlainText strips tags and entities from a Telegram HTML message.
func PlainText(text string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}
