package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// Store persists job records in a RecordStore, one key per kind and id.
type Store struct {
	records  interfaces.RecordStore
	settings Settings
}

// NewStore creates a new record store using settings for per-kind TTLs.
func NewStore(records interfaces.RecordStore, settings Settings) *Store {
	return &Store{records: records, settings: settings}
}

// Key returns the record key of a job.
func Key(kind Kind, id string) string {
	return fmt.Sprintf("job:%s:%s", kind, id)
}

// Save writes the record and resets its TTL.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}
	if err := s.records.Set(ctx, Key(rec.Kind, rec.ID), data, s.settings.TTL(rec.Kind)); err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	return nil
}

// Load reads a record. Unknown and expired ids return ErrNotFound.
func (s *Store) Load(ctx context.Context, kind Kind, id string) (*Record, error) {
	data, err := s.records.Get(ctx, Key(kind, id))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &rec, nil
}
