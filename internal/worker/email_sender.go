package worker

import (
	"context"
	"fmt"
	"regexp"

	"gopkg.in/gomail.v2"

	"github.com/notifyhub/notifyhub/internal/notification"
)

const defaultEmailSubject = "Notification"

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// EmailSenderConfig configures the SMTP relay connection.
type EmailSenderConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// EmailSender delivers notifications via SMTP using gomail, the SMTP
// library named in the example manifest closest to this domain
// (ilindan-dev-delayed-notifier).
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailSender builds an EmailSender from config.
func NewEmailSender(config EmailSenderConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(config.Host, config.Port, config.User, config.Pass),
		from:   config.From,
	}
}

// Channel reports this is the email channel adapter.
func (s *EmailSender) Channel() notification.Channel {
	return notification.ChannelEmail
}

// Send renders the message as an HTML email with a stripped-tag plain
// text fallback: send({to, subject, html, text}).
func (s *EmailSender) Send(ctx context.Context, msg notification.EnqueuedMessage, html string) SendResult {
	meta := notification.ExtractEmailMetadata(msg.Metadata)

	subject := meta.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", meta.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", htmlTagPattern.ReplaceAllString(html, ""))
	m.AddAlternative("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("smtp send: %w", err)}
	}
	return SendResult{Success: true}
}
