package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtr002/tenant-jobs/internal/interfaces"
	"github.com/mtr002/tenant-jobs/internal/logger"
	"github.com/mtr002/tenant-jobs/internal/metrics"
)

// Manager creates jobs: it persists the initial record and publishes the
// first step message.
type Manager struct {
	store    *Store
	channel  interfaces.MessageChannel
	registry *Registry
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	declared map[Kind]bool
}

// NewManager creates a new job manager publishing first steps to channel.
func NewManager(store *Store, channel interfaces.MessageChannel, registry *Registry, settings Settings) *Manager {
	return &Manager{
		store:    store,
		channel:  channel,
		registry: registry,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		declared: make(map[Kind]bool),
	}
}

// CreateJob validates the request, stores a pending record and publishes the
// first step. Validation failures return ErrValidation and create nothing.
func (m *Manager) CreateJob(ctx context.Context, caller Caller, kind Kind, req CreateRequest) (*Record, error) {
	if caller.UserID == "" {
		return nil, fmt.Errorf("%w: caller identity is required", ErrValidation)
	}
	h, err := m.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	chunk, err := m.settings.ChunkSize(kind, req.ChunkSize)
	if err != nil {
		return nil, err
	}
	req.ChunkSize = chunk

	params, first, err := h.Prepare(caller, req)
	if err != nil {
		if !errors.Is(err, ErrValidation) {
			err = fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}
	params.ChunkSize = chunk
	if kind.IsListing() {
		params.MaxItems = m.settings.MaxItems
	}

	if err := m.ensureQueue(ctx, kind); err != nil {
		return nil, err
	}

	rec := newRecord(uuid.New().String(), caller.UserID, kind, params, m.now())
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	first.JobID = rec.ID
	first.UserID = rec.UserID
	first.Kind = kind
	first.Seq = 1

	log := logger.WithJob(rec.ID, string(kind))
	if err := Publish(ctx, m.channel, first); err != nil {
		if failErr := rec.Fail(m.now(), "failed to enqueue job"); failErr == nil {
			if saveErr := m.store.Save(ctx, rec); saveErr != nil {
				log.Error().Err(saveErr).Msg("Failed to mark unpublished job as failed")
			}
		}
		return nil, err
	}

	metrics.JobsCreatedTotal.WithLabelValues(string(kind)).Inc()
	log.Info().Str("user_id", rec.UserID).Str("step", string(first.Step)).Msg("Job created")
	return rec, nil
}

// ensureQueue declares the kind's queue and dead-letter queue once per
// manager; the channel's declare is idempotent.
func (m *Manager) ensureQueue(ctx context.Context, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.declared[kind] {
		return nil
	}
	if err := m.channel.DeclareQueue(ctx, kind.Queue(), kind.DeadLetterQueue()); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", kind.Queue(), err)
	}
	m.declared[kind] = true
	return nil
}

// Publish encodes a step message onto its kind's queue.
func Publish(ctx context.Context, channel interfaces.MessageChannel, msg StepMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal step message: %w", err)
	}
	if err := channel.Publish(ctx, msg.Kind.Queue(), msg.MsgID(), data); err != nil {
		return fmt.Errorf("failed to publish step message: %w", err)
	}
	return nil
}
