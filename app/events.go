package app

import (
	"context"

	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/eventbus"
	"github.com/mindease/mindease/logging"
	"github.com/mindease/mindease/session"
	"github.com/mindease/mindease/tickets"
)

// subscribeActivity logs an activity trail from the session, moderation and
// ticket events. Moderation is logged at warn level so admin actions stand out.
func (a *App) subscribeActivity() {
	for _, topic := range []string{session.TopicLogin, session.TopicLogout, session.TopicBanned} {
		a.Bus.Subscribe(topic, logSessionEvent)
	}
	for _, topic := range []string{session.TopicUserBanned, session.TopicUserUnbanned, session.TopicUserMonitored} {
		a.Bus.Subscribe(topic, logModerationEvent)
	}
	a.Bus.Subscribe(tickets.TopicCreated, logTicketCreated)
}

func logSessionEvent(ctx context.Context, msg *eventbus.Message) error {
	ev, ok := msg.Data.(session.Event)
	if !ok {
		return errors.Errorf("app: unexpected %T on %s", msg.Data, msg.Topic)
	}
	logging.Infow(ctx, "activity: "+msg.Topic, "uid", ev.UID, "method", ev.Method, "at", ev.At)
	return nil
}

func logModerationEvent(ctx context.Context, msg *eventbus.Message) error {
	ev, ok := msg.Data.(session.ModerationEvent)
	if !ok {
		return errors.Errorf("app: unexpected %T on %s", msg.Data, msg.Topic)
	}
	logging.Warnw(ctx, "activity: "+msg.Topic,
		"action", ev.Action, "target", ev.TargetUID, "admin", ev.AdminUID, "audit_id", ev.AuditID)
	return nil
}

func logTicketCreated(ctx context.Context, msg *eventbus.Message) error {
	t, ok := msg.Data.(tickets.Ticket)
	if !ok {
		return errors.Errorf("app: unexpected %T on %s", msg.Data, msg.Topic)
	}
	logging.Infow(ctx, "activity: "+msg.Topic,
		"id", t.ID, "uid", t.UserID, "category", t.Category, "priority", t.Priority)
	return nil
}
