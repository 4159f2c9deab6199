package session

import (
	"time"

	"github.com/mindease/mindease/identity"
)

// Topics published on the event bus.
const (
	TopicChanged = "session.changed"
	TopicWelcome = "session.welcome"
	TopicLogin   = "session.login"
	TopicLogout  = "session.logout"
	TopicBanned  = "session.banned"

	TopicUserBanned    = "moderation.user_banned"
	TopicUserUnbanned  = "moderation.user_unbanned"
	TopicUserMonitored = "moderation.user_monitored"
)

// Event is published for login, welcome, logout and ban transitions.
type Event struct {
	UID    string
	Email  string
	Name   string
	Method string
	At     time.Time
}

// ModerationEvent is published after an admin changes a user's moderation
// state.
type ModerationEvent struct {
	Action    string
	TargetUID string
	AdminUID  string
	AuditID   string
	At        time.Time
}

func (m *Manager) event(id *identity.Identity) Event {
	ev := Event{At: m.now()}
	if id != nil {
		ev.UID = id.Subject
		ev.Email = id.Email
		ev.Name = id.Name
	}
	return ev
}

func (m *Manager) publish(topic string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, data)
}
