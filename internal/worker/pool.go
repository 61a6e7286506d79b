package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/logger"
	"github.com/mtr002/tenant-jobs/internal/metrics"
)

// Pool runs consumers on every kind's queue.
type Pool struct {
	channel     interfaces.MessageChannel
	processor   *Processor
	kinds       []jobs.Kind
	workerCount int

	mu     sync.Mutex
	cancel context.CancelFunc
	subs   []interfaces.Subscription
}

// NewPool creates a pool with workerCount consumers per kind.
func NewPool(channel interfaces.MessageChannel, processor *Processor, kinds []jobs.Kind, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		channel:     channel,
		processor:   processor,
		kinds:       kinds,
		workerCount: workerCount,
	}
}

// Start declares every queue and begins consuming.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	logger.Logger.Info().Int("worker_count", p.workerCount).Int("kinds", len(p.kinds)).Msg("Starting worker pool")

	for _, kind := range p.kinds {
		if err := p.channel.DeclareQueue(ctx, kind.Queue(), kind.DeadLetterQueue()); err != nil {
			p.stopLocked()
			return fmt.Errorf("failed to declare queue %s: %w", kind.Queue(), err)
		}
		for i := 0; i < p.workerCount; i++ {
			sub, err := p.channel.Consume(ctx, kind.Queue(), func(ctx context.Context, d interfaces.Delivery) {
				p.processor.Handle(ctx, kind, d)
			})
			if err != nil {
				p.stopLocked()
				return fmt.Errorf("failed to consume %s: %w", kind.Queue(), err)
			}
			p.subs = append(p.subs, sub)
		}
		logger.Logger.Info().Str("queue", kind.Queue()).Msg("Consumer started")
	}

	metrics.ActiveConsumers.Set(float64(len(p.subs)))
	return nil
}

// Stop gracefully shuts down the worker pool
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger.Logger.Info().Msg("Stopping worker pool")
	p.stopLocked()
	logger.Logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) stopLocked() {
	for _, sub := range p.subs {
		sub.Stop()
	}
	p.subs = nil
	if p.cancel != nil {
		p.cancel()
	}
	metrics.ActiveConsumers.Set(0)
}
