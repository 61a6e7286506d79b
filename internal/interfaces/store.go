package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by record stores and repositories when the
// requested key or row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyApplied is returned by job-scoped mutations when the same job
// already made the change, so a replayed step can count it as done.
var ErrAlreadyApplied = errors.New("already applied")

// RecordStore is a TTL-bounded key/value store holding one record per job.
// Get returns ErrNotFound for unknown or expired keys.
type RecordStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Delivery is one message received from a MessageChannel.
type Delivery interface {
	Data() []byte
	Ack() error
	// Nack rejects the message. With requeue=false the message is routed to
	// the queue's dead-letter queue; with requeue=true it is redelivered.
	Nack(requeue bool) error
}

// DeliveryHandler processes one delivery and is responsible for acking it.
type DeliveryHandler func(ctx context.Context, d Delivery)

// Subscription is an active consumer on a queue.
type Subscription interface {
	Stop()
}

// MessageChannel carries job step messages over durable point-to-point queues.
type MessageChannel interface {
	// DeclareQueue creates the queue and, when deadLetter is not empty, its
	// dead-letter queue. Declaring an existing queue is a no-op.
	DeclareQueue(ctx context.Context, name, deadLetter string) error
	// Publish sends data to a declared queue. msgID is used for duplicate
	// suppression by channels that support it.
	Publish(ctx context.Context, queue, msgID string, data []byte) error
	Consume(ctx context.Context, queue string, handler DeliveryHandler) (Subscription, error)
}

// Event types pushed to a user's realtime connections.
const (
	EventJobUpdate           = "job_update"
	EventNotificationCreated = "notification_created"
)

// Event is a realtime message addressed to a single user.
type Event struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Data   any    `json:"data"`
}

// EventPublisher emits realtime events outside the job protocol.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e Event) error
}
