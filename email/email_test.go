package email

import (
	"context"
	"testing"

	"github.com/mindease/mindease/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

// mockSender implements the Sender interface for testing.
type mockSender struct {
	err      error
	messages []*gomail.Message
}

func (m *mockSender) DialAndSend(msgs ...*gomail.Message) error {
	m.messages = append(m.messages, msgs...)
	return m.err
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		opts       []MailerOption
		configured bool
	}{
		{
			name:       "defaults have no smtp host",
			configured: false,
		},
		{
			name:       "with SMTP override",
			opts:       []MailerOption{WithSMTP("smtp.example.com", 587, "user", "pass")},
			configured: true,
		},
		{
			name:       "with custom sender",
			opts:       []MailerOption{WithSender(&mockSender{})},
			configured: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.opts...)
			require.NotNil(t, m)
			assert.Equal(t, tt.configured, m.Configured())
		})
	}
}

func TestSend_DefaultFrom(t *testing.T) {
	sender := &mockSender{}
	m := New(WithFrom("support@example.com"), WithSender(sender))

	msg := gomail.NewMessage()
	msg.SetHeader("To", "user@example.com")
	msg.SetHeader("Subject", "Hello")

	require.NoError(t, m.Send(context.Background(), msg))
	require.Len(t, sender.messages, 1)
	assert.Equal(t, []string{"support@example.com"}, sender.messages[0].GetHeader("From"))
}

func TestSend_KeepsExplicitFrom(t *testing.T) {
	sender := &mockSender{}
	m := New(WithFrom("support@example.com"), WithSender(sender))

	msg := m.NewMessage("user@example.com", "Subject", "Body")
	msg.SetHeader("From", "other@example.com")

	require.NoError(t, m.Send(context.Background(), msg))
	assert.Equal(t, []string{"other@example.com"}, sender.messages[0].GetHeader("From"))
}

func TestSend_SenderError(t *testing.T) {
	sender := &mockSender{err: errors.New("connection refused")}
	m := New(WithSender(sender))

	err := m.Send(context.Background(), m.NewMessage("user@example.com", "s", "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSend_NotConfigured(t *testing.T) {
	m := New(WithSMTP("", 0, "", ""))
	err := m.Send(context.Background(), m.NewMessage("user@example.com", "s", "b"))
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
