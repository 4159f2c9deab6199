// Package eventbus provides a simple publish/subscribe event bus. The session
// manager and the other services use it to announce state transitions without
// knowing who is listening.
package eventbus

import (
	"context"
	"time"
)

// Handler processes a message. Errors are logged by the bus, not retried.
type Handler func(context.Context, *Message) error

// Message is a single delivery of a published value to one handler.
type Message struct {
	ID          string
	Topic       string
	Data        any
	PublishedAt time.Time
}

// NewMessage returns a message stamped with the current time.
func NewMessage(id, topic string, data any) *Message {
	return &Message{
		ID:          id,
		Topic:       topic,
		Data:        data,
		PublishedAt: time.Now(),
	}
}

// EventBus provides a simple publish/subscribe interface for publishing and
// subscribing to events.
type EventBus interface {
	// Subscribe to a topic. The handler will be called when a message is
	// published. Subscribers should assume that they may be called multiple
	// times concurrently.
	Subscribe(topic string, handler Handler)

	// Publish a message to all subscribers of topic. Publish does not block on
	// handlers.
	Publish(topic string, data any)

	// Wait for the bus to finish processing all published messages. Publishers
	// should be stopped first as the bus won't reject new messages.
	Wait(ctx context.Context) error

	// Shutdown stops accepting work and waits for in-flight handlers.
	Shutdown(ctx context.Context) error
}
