// Package memory provides in-process implementations of the collaborator
// interfaces for tests and single-process development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// RecordStore is a TTL-aware map. Expiry is evaluated lazily against Now.
type RecordStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	Now     func() time.Time
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		entries: make(map[string]entry),
		Now:     time.Now,
	}
}

func (s *RecordStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *RecordStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || (!e.expiresAt.IsZero() && !s.Now().Before(e.expiresAt)) {
		return nil, interfaces.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}
