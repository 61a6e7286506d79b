package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

// EventBus publishes realtime events on per-user subjects. Events are
// fire-and-forget: core NATS, no persistence.
type EventBus struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewEventBus creates a new event bus on c's connection.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{conn: c.Conn()}
}

// PublishEvent sends e to its user's subject.
func (b *EventBus) PublishEvent(_ context.Context, e interfaces.Event) error {
	if e.UserID == "" {
		return fmt.Errorf("event %s has no user", e.Type)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.conn.Publish(EventSubject(e.UserID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers every user's events to sink until Close.
func (b *EventBus) Subscribe(sink func(interfaces.Event)) error {
	sub, err := b.conn.Subscribe(EventSubjectPrefix+"*", func(msg *nats.Msg) {
		var e interfaces.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			logger.Logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed event")
			return
		}
		sink(e)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	b.sub = sub
	return nil
}

// Close drops the subscription, if any. The connection belongs to the Client.
func (b *EventBus) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
}
