package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
	"github.com/mtr002/tenant-jobs/internal/metrics"
)

// Processor applies one step message to its job record. A step is attempted
// once: handler failures mark the job failed and dead-letter the message.
// Only record-store and channel failures requeue the message.
type Processor struct {
	store    *jobs.Store
	channel  interfaces.MessageChannel
	registry *jobs.Registry
	events   interfaces.EventPublisher
	now      func() time.Time
}

func NewProcessor(store *jobs.Store, channel interfaces.MessageChannel, registry *jobs.Registry, events interfaces.EventPublisher) *Processor {
	return &Processor{
		store:    store,
		channel:  channel,
		registry: registry,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one delivery from kind's queue and settles it.
func (p *Processor) Handle(ctx context.Context, kind jobs.Kind, d interfaces.Delivery) {
	startTime := time.Now()
	defer func() {
		metrics.StepDuration.WithLabelValues(string(kind)).Observe(time.Since(startTime).Seconds())
	}()

	var msg jobs.StepMessage
	if err := json.Unmarshal(d.Data(), &msg); err != nil || msg.JobID == "" {
		logger.Logger.Error().Err(err).Str("kind", string(kind)).Msg("Undecodable step message")
		p.deadLetter(kind, d)
		return
	}
	if msg.Kind == "" {
		msg.Kind = kind
	}

	log := logger.WithJob(msg.JobID, string(msg.Kind)).With().
		Int("seq", msg.Seq).
		Str("step", string(msg.Step)).
		Logger()

	rec, err := p.store.Load(ctx, msg.Kind, msg.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			log.Warn().Msg("Job record missing or expired, dropping step")
			p.skip(kind, "expired", d, &log)
			return
		}
		log.Error().Err(err).Msg("Failed to load job record")
		p.requeue(d, &log)
		return
	}

	if rec.UserID != msg.UserID {
		log.Error().Str("owner", rec.UserID).Str("user_id", msg.UserID).Msg("Step message owner mismatch")
		p.deadLetter(kind, d)
		return
	}
	if rec.Done() {
		p.skip(kind, "terminal", d, &log)
		return
	}

	switch {
	case msg.Seq < rec.Seq:
		p.skip(kind, "stale", d, &log)
		return
	case msg.Seq == rec.Seq:
		p.replay(ctx, kind, rec, d, &log)
		return
	case msg.Seq > rec.Seq+1:
		log.Error().Int("applied_seq", rec.Seq).Msg("Step message out of sequence")
		p.deadLetter(kind, d)
		return
	}

	p.apply(ctx, kind, rec, msg, d, &log)
}

func (p *Processor) apply(ctx context.Context, kind jobs.Kind, rec *jobs.Record, msg jobs.StepMessage, d interfaces.Delivery, log *zerolog.Logger) {
	if rec.Status == jobs.StatusPending {
		if err := rec.Start(p.now()); err != nil {
			p.fail(ctx, kind, rec, msg, d, err, log)
			return
		}
	}

	processedBefore := rec.Processed
	next, err := p.advance(ctx, rec, msg)
	if err == nil && rec.Processed < processedBefore {
		err = fmt.Errorf("processed count went backwards: %d -> %d", processedBefore, rec.Processed)
	}
	if err == nil && next != nil && !jobs.CanAdvance(rec.Kind, msg.Step, next.Step) {
		err = fmt.Errorf("%w: step %q -> %q", jobs.ErrInvalidTransition, msg.Step, next.Step)
	}
	if err != nil {
		p.fail(ctx, kind, rec, msg, d, err, log)
		return
	}

	rec.Seq = msg.Seq
	if next == nil {
		if err := rec.Complete(p.now()); err != nil {
			p.fail(ctx, kind, rec, msg, d, err, log)
			return
		}
	} else {
		next.JobID = rec.ID
		next.UserID = rec.UserID
		next.Kind = rec.Kind
		next.Seq = msg.Seq + 1
		rec.Next = next
		rec.UpdatedAt = p.now()
	}

	if err := p.store.Save(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to save job record")
		p.requeue(d, log)
		return
	}
	metrics.StepsProcessedTotal.WithLabelValues(string(kind), string(msg.Step)).Inc()
	p.notify(ctx, rec)

	if next != nil {
		if err := jobs.Publish(ctx, p.channel, *next); err != nil {
			log.Error().Err(err).Msg("Failed to publish follow-up step")
			p.requeue(d, log)
			return
		}
		log.Debug().Int("processed", rec.Processed).Str("next_step", string(next.Step)).Msg("Step applied")
	} else {
		metrics.JobsCompletedTotal.WithLabelValues(string(kind)).Inc()
		log.Info().Int("processed", rec.Processed).Msg("Job completed")
	}

	if err := d.Ack(); err != nil {
		log.Error().Err(err).Msg("Failed to ack step message")
	}
}

// advance runs the kind's handler, converting a panic into an error.
func (p *Processor) advance(ctx context.Context, rec *jobs.Record, msg jobs.StepMessage) (next *jobs.StepMessage, err error) {
	h, err := p.registry.Get(rec.Kind)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = fmt.Errorf("step handler panicked: %v", r)
		}
	}()
	return h.Advance(ctx, rec, msg)
}

// replay handles a redelivery of the last applied step: the follow-up it
// produced may not have been published, so publish it again. The channel
// drops it if it was.
func (p *Processor) replay(ctx context.Context, kind jobs.Kind, rec *jobs.Record, d interfaces.Delivery, log *zerolog.Logger) {
	if rec.Next != nil {
		if err := jobs.Publish(ctx, p.channel, *rec.Next); err != nil {
			log.Error().Err(err).Msg("Failed to republish follow-up step")
			p.requeue(d, log)
			return
		}
	}
	p.skip(kind, "replayed", d, log)
}

// fail marks the job failed and dead-letters the message. If the failure
// cannot be persisted the message is requeued so the whole step is retried.
func (p *Processor) fail(ctx context.Context, kind jobs.Kind, rec *jobs.Record, msg jobs.StepMessage, d interfaces.Delivery, cause error, log *zerolog.Logger) {
	log.Error().Err(cause).Msg("Step failed")

	if err := rec.Fail(p.now(), cause.Error()); err != nil {
		log.Error().Err(err).Msg("Cannot mark job failed")
		p.deadLetter(kind, d)
		return
	}
	rec.Seq = msg.Seq
	if err := p.store.Save(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to persist job failure")
		p.requeue(d, log)
		return
	}

	metrics.JobsFailedTotal.WithLabelValues(string(kind)).Inc()
	p.notify(ctx, rec)
	p.deadLetter(kind, d)
}

func (p *Processor) notify(ctx context.Context, rec *jobs.Record) {
	if p.events == nil {
		return
	}
	ev := interfaces.Event{
		Type:   interfaces.EventJobUpdate,
		UserID: rec.UserID,
		Data:   jobs.NewStatus(rec),
	}
	if err := p.events.PublishEvent(ctx, ev); err != nil {
		logger.WithJob(rec.ID, string(rec.Kind)).Warn().Err(err).Msg("Failed to publish job update")
	}
}

func (p *Processor) skip(kind jobs.Kind, reason string, d interfaces.Delivery, log *zerolog.Logger) {
	metrics.StepsSkippedTotal.WithLabelValues(string(kind), reason).Inc()
	log.Debug().Str("reason", reason).Msg("Step message skipped")
	if err := d.Ack(); err != nil {
		log.Error().Err(err).Msg("Failed to ack skipped step message")
	}
}

func (p *Processor) requeue(d interfaces.Delivery, log *zerolog.Logger) {
	if err := d.Nack(true); err != nil {
		log.Error().Err(err).Msg("Failed to nack step message")
	}
}

func (p *Processor) deadLetter(kind jobs.Kind, d interfaces.Delivery) {
	metrics.DeadLetteredTotal.WithLabelValues(string(kind)).Inc()
	if err := d.Nack(false); err != nil {
		logger.Logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to dead-letter step message")
	}
}
