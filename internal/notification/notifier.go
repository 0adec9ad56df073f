// Package notification delivers alert summaries.
package notification

import (
	"TCPScope/internal/config"
	"TCPScope/internal/model"
	"fmt"
	"net/smtp"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	// PlainAuth will not send credentials until the server identifies itself as a trusted one.
	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	return &EmailNotifier{cfg: cfg, auth: auth, send: smtp.SendMail}
}

// Send sends an HTML email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var recipients []string
	for _, r := range strings.Split(n.cfg.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("failed to send email: no recipients configured")
	}

	msg := []byte("To: " + strings.Join(recipients, ", ") + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)

	if err := n.send(addr, n.auth, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogNotifier writes alerts to the log. Used when no SMTP server is set.
type LogNotifier struct{}

var tags = regexp.MustCompile(`<[^>]+>`)

// Send logs the subject and the body stripped of markup.
func (LogNotifier) Send(subject, body string) error {
	text := strings.Join(strings.Fields(tags.ReplaceAllString(body, " ")), " ")
	log.WithField("subject", subject).Warn(text)
	return nil
}

// New picks the email notifier when SMTP is configured, the log notifier
// otherwise.
func New(cfg config.SMTPConfig) model.Notifier {
	if cfg.Host != "" {
		return NewEmailNotifier(cfg)
	}
	return LogNotifier{}
}
