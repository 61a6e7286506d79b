package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// ErrQueueNotDeclared is returned when publishing to an undeclared queue.
var ErrQueueNotDeclared = errors.New("queue not declared")

type message struct {
	id   string
	data []byte
}

type queue struct {
	deadLetter string
	pending    []message
	seen       map[string]bool
}

// Channel is an in-process MessageChannel with per-queue duplicate
// suppression by message id.
type Channel struct {
	mu     sync.Mutex
	queues map[string]*queue

	// FailPublish, when set, is returned by Publish.
	FailPublish error
	Published   []string
}

func NewChannel() *Channel {
	return &Channel{queues: make(map[string]*queue)}
}

func (c *Channel) DeclareQueue(_ context.Context, name, deadLetter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.queues[name]; !ok {
		c.queues[name] = &queue{deadLetter: deadLetter, seen: make(map[string]bool)}
	}
	if deadLetter != "" {
		if _, ok := c.queues[deadLetter]; !ok {
			c.queues[deadLetter] = &queue{seen: make(map[string]bool)}
		}
	}
	return nil
}

func (c *Channel) Publish(_ context.Context, name, msgID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailPublish != nil {
		return c.FailPublish
	}
	q, ok := c.queues[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotDeclared, name)
	}
	if msgID != "" {
		if q.seen[msgID] {
			return nil
		}
		q.seen[msgID] = true
	}
	q.pending = append(q.pending, message{id: msgID, data: append([]byte(nil), data...)})
	c.Published = append(c.Published, msgID)
	return nil
}

// Len returns the number of messages waiting on a queue.
func (c *Channel) Len(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.queues[name]; ok {
		return len(q.pending)
	}
	return 0
}

// Messages returns a copy of the payloads waiting on a queue.
func (c *Channel) Messages(name string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[name]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(q.pending))
	for _, m := range q.pending {
		out = append(out, append([]byte(nil), m.data...))
	}
	return out
}

// Next pops the oldest message of a queue.
func (c *Channel) Next(name string) (*Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[name]
	if !ok || len(q.pending) == 0 {
		return nil, false
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	return &Delivery{channel: c, queue: name, msg: m}, true
}

func (c *Channel) Consume(ctx context.Context, name string, handler interfaces.DeliveryHandler) (interfaces.Subscription, error) {
	c.mu.Lock()
	_, ok := c.queues[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotDeclared, name)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			if d, ok := c.Next(name); ok {
				handler(ctx, d)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()
	return sub, nil
}

func (c *Channel) requeue(name string, m message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.queues[name]; ok {
		q.pending = append([]message{m}, q.pending...)
	}
}

func (c *Channel) deadLetter(name string, m message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[name]
	if !ok || q.deadLetter == "" {
		return
	}
	if dlq, ok := c.queues[q.deadLetter]; ok {
		dlq.pending = append(dlq.pending, m)
	}
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Stop() {
	s.cancel()
	<-s.done
}

// Delivery is a message handed to a consumer.
type Delivery struct {
	channel *Channel
	queue   string
	msg     message

	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (d *Delivery) Data() []byte {
	return d.msg.data
}

func (d *Delivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.acked || d.nacked {
		return errors.New("delivery already settled")
	}
	d.acked = true
	return nil
}

func (d *Delivery) Nack(requeue bool) error {
	d.mu.Lock()
	if d.acked || d.nacked {
		d.mu.Unlock()
		return errors.New("delivery already settled")
	}
	d.nacked = true
	d.requeue = requeue
	d.mu.Unlock()

	if requeue {
		d.channel.requeue(d.queue, d.msg)
	} else {
		d.channel.deadLetter(d.queue, d.msg)
	}
	return nil
}

// Acked reports whether the delivery was acknowledged.
func (d *Delivery) Acked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

// Nacked reports whether the delivery was rejected and, if so, requeued.
func (d *Delivery) Nacked() (nacked, requeued bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nacked, d.requeue
}
