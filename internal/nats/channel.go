package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

// ChannelConfig tunes redelivery of unacknowledged step messages.
// Requeued messages wait RetryDelay, doubling per delivery up to
// MaxRetryDelay. The delivery that reaches MaxDeliver and is requeued again
// goes to the dead-letter queue instead.
type ChannelConfig struct {
	AckWait       time.Duration
	MaxDeliver    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Channel is a MessageChannel on JetStream. Each queue is a work-queue
// stream bound to one subject; its dead-letter queue is a separate stream
// that keeps messages until they are inspected.
type Channel struct {
	js  jetstream.JetStream
	cfg ChannelConfig

	mu         sync.Mutex
	deadLetter map[string]string
	consumers  map[string]jetstream.Consumer
}

// NewChannel opens JetStream on c. Zero config fields take defaults.
func NewChannel(c *Client, cfg ChannelConfig) (*Channel, error) {
	js, err := jetstream.New(c.Conn())
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 20
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Minute
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	return &Channel{
		js:         js,
		cfg:        cfg,
		deadLetter: make(map[string]string),
		consumers:  make(map[string]jetstream.Consumer),
	}, nil
}

// DeclareQueue creates or updates the queue's stream and, when deadLetter
// is set, its dead-letter stream.
func (c *Channel) DeclareQueue(ctx context.Context, name, deadLetter string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName(name),
		Subjects:   []string{name},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to declare stream for %s: %w", name, err)
	}

	if deadLetter != "" {
		_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      StreamName(deadLetter),
			Subjects:  []string{deadLetter},
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
			MaxAge:    7 * 24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to declare dead-letter stream for %s: %w", name, err)
		}
	}

	c.mu.Lock()
	c.deadLetter[name] = deadLetter
	c.mu.Unlock()
	return nil
}

// Publish appends data to queue. Messages sharing a msgID within the
// duplicate window are stored once.
func (c *Channel) Publish(ctx context.Context, queue, msgID string, data []byte) error {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := c.js.Publish(ctx, queue, data, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	if ack.Duplicate {
		logger.Logger.Debug().Str("queue", queue).Str("msg_id", msgID).Msg("Duplicate publish suppressed")
	}
	return nil
}

func (c *Channel) consumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cons, ok := c.consumers[queue]; ok {
		return cons, nil
	}
	stream, err := c.js.Stream(ctx, StreamName(queue))
	if err != nil {
		return nil, fmt.Errorf("queue %s is not declared: %w", queue, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		FilterSubject: queue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", queue, err)
	}
	c.consumers[queue] = cons
	return cons, nil
}

// Consume attaches a pull subscription to the queue's durable consumer.
// Several calls on one queue share the consumer and split its messages.
func (c *Channel) Consume(ctx context.Context, queue string, handler interfaces.DeliveryHandler) (interfaces.Subscription, error) {
	cons, err := c.consumer(ctx, queue)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	dlq := c.deadLetter[queue]
	c.mu.Unlock()

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		handler(ctx, &delivery{msg: msg, js: c.js, deadLetter: dlq, cfg: c.cfg})
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		logger.Logger.Warn().Err(err).Str("queue", queue).Msg("Consumer error")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	return cc, nil
}

type delivery struct {
	msg        jetstream.Msg
	js         jetstream.JetStream
	deadLetter string
	cfg        ChannelConfig
}

func (d *delivery) Data() []byte {
	return d.msg.Data()
}

func (d *delivery) Ack() error {
	return d.msg.Ack()
}

// Nack redelivers the message after a backoff, or with requeue=false copies
// it onto the dead-letter stream and terminates it so it is never
// redelivered. A requeue on the last allowed delivery dead-letters as well,
// since the server would otherwise stop delivering it silently.
func (d *delivery) Nack(requeue bool) error {
	if requeue {
		meta, err := d.msg.Metadata()
		if err != nil {
			return d.msg.NakWithDelay(d.cfg.RetryDelay)
		}
		if d.cfg.MaxDeliver > 0 && meta.NumDelivered >= uint64(d.cfg.MaxDeliver) {
			logger.Logger.Warn().
				Uint64("deliveries", meta.NumDelivered).
				Str("dead_letter", d.deadLetter).
				Msg("Redelivery budget exhausted, dead-lettering")
			return d.terminate()
		}
		return d.msg.NakWithDelay(redeliveryDelay(meta.NumDelivered, d.cfg.RetryDelay, d.cfg.MaxRetryDelay))
	}
	return d.terminate()
}

func (d *delivery) terminate() error {
	if d.deadLetter != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := d.js.Publish(ctx, d.deadLetter, d.msg.Data()); err != nil {
			// keep the message in the work queue rather than lose it
			return errors.Join(fmt.Errorf("failed to dead-letter message: %w", err), d.msg.NakWithDelay(d.cfg.RetryDelay))
		}
	}
	return d.msg.Term()
}

// redeliveryDelay is base doubled for every delivery after the first,
// capped at limit.
func redeliveryDelay(delivered uint64, base, limit time.Duration) time.Duration {
	delay := base
	for i := uint64(1); i < delivered && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

// DeadLetter is one message parked on a dead-letter stream.
type DeadLetter struct {
	Sequence uint64    `json:"sequence"`
	Subject  string    `json:"subject"`
	Time     time.Time `json:"time"`
	Data     []byte    `json:"data"`
}

// DeadLetters returns up to limit messages from the start of a dead-letter
// stream.
func (c *Channel) DeadLetters(ctx context.Context, deadLetter string, limit int) ([]DeadLetter, error) {
	stream, err := c.js.Stream(ctx, StreamName(deadLetter))
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", deadLetter, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s info: %w", deadLetter, err)
	}

	var out []DeadLetter
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq && seq > 0; seq++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		raw, err := stream.GetMsg(ctx, seq)
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s message %d: %w", deadLetter, seq, err)
		}
		out = append(out, DeadLetter{Sequence: raw.Sequence, Subject: raw.Subject, Time: raw.Time, Data: raw.Data})
	}
	return out, nil
}
