// Package email sends transactional mail, such as password reset links.
// [Gomail](gopkg.in/gomail.v2) is used with SMTP as the default transport.
//
// SMTP can be configured using global configuration, either as ENV or from
// a configuration file.
//
// |-------------------------|---------------------|
// | Env                     | YAML                |
// | ------------------------|---------------------|
// | ME__EMAIL__FROM         | email.from          |
// | ME__EMAIL__SMTP__HOST   | email.smtp.host     |
// | ME__EMAIL__SMTP__PORT   | email.smtp.port     |
// | ME__EMAIL__SMTP__USER   | email.smtp.username |
// | ME__EMAIL__SMTP__PASS   | email.smtp.password |
// |-------------------------|---------------------|
package email

import (
	"context"

	"github.com/mindease/mindease/config"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/logging"
	"google.golang.org/grpc/codes"
	"gopkg.in/gomail.v2"
)

// ErrNotConfigured is returned by Send when no SMTP host is known and no
// custom sender was supplied.
var ErrNotConfigured = errors.NewC("email: smtp is not configured", codes.FailedPrecondition)

// Sender is an interface for sending emails. This abstraction allows for
// testing without requiring a real SMTP connection.
type Sender interface {
	DialAndSend(...*gomail.Message) error
}

// MailerOption customizes a Mailer.
type MailerOption func(*Mailer)

// WithSMTP configures the SMTP server to use.
func WithSMTP(host string, port int, username, password string) MailerOption {
	return func(m *Mailer) {
		m.smtpHost = host
		m.smtpPort = port
		m.smtpUsername = username
		m.smtpPassword = password
	}
}

// WithFrom configures the default from address.
func WithFrom(from string) MailerOption {
	return func(m *Mailer) {
		m.from = from
	}
}

// WithSender configures a custom Sender implementation, mostly for tests.
func WithSender(sender Sender) MailerOption {
	return func(m *Mailer) {
		m.sender = sender
	}
}

// New returns a Mailer configured from global config, overridden by opts.
func New(opts ...MailerOption) *Mailer {
	config.EnsureDefaults()
	m := &Mailer{
		from:         config.String("email.from"),
		smtpHost:     config.String("email.smtp.host"),
		smtpPort:     config.Int("email.smtp.port"),
		smtpUsername: config.String("email.smtp.username"),
		smtpPassword: config.String("email.smtp.password"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mailer sends messages through SMTP or an injected Sender.
type Mailer struct {
	from         string
	smtpHost     string
	smtpPort     int
	smtpUsername string
	smtpPassword string
	sender       Sender
}

// Configured reports whether Send can deliver anything.
func (m *Mailer) Configured() bool {
	return m.sender != nil || m.smtpHost != ""
}

// NewMessage returns a message with the standard headers set.
func (m *Mailer) NewMessage(to, subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

// Send an email. A missing From header is filled with the default address.
func (m *Mailer) Send(ctx context.Context, msg *gomail.Message) error {
	if len(msg.GetHeader("From")) == 0 || msg.GetHeader("From")[0] == "" {
		msg.SetHeader("From", m.from)
	}

	sender := m.sender
	if sender == nil {
		if m.smtpHost == "" {
			return errors.Mark(ErrNotConfigured, 0)
		}
		sender = gomail.NewDialer(m.smtpHost, m.smtpPort, m.smtpUsername, m.smtpPassword)
	}

	logging.Infow(ctx, "email: sending", "to", msg.GetHeader("To"), "subject", msg.GetHeader("Subject"))
	if err := sender.DialAndSend(msg); err != nil {
		return errors.WrapPrefix(err, "email: send failed", 0).WithCode(codes.Unavailable)
	}
	return nil
}
