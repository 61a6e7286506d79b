package jobs

import (
	"fmt"
	"maps"
	"time"
)

// KindSettings are the per-kind defaults.
type KindSettings struct {
	DefaultChunk int
	TTL          time.Duration
}

// Settings bound chunk sizes, record lifetimes and how many listing items a
// record accumulates before it stops copying them.
type Settings struct {
	MinChunk int
	MaxChunk int
	MaxItems int
	Kinds    map[Kind]KindSettings
}

// DefaultMaxItems caps the items kept on one listing record.
const DefaultMaxItems = 5000

var defaultKindSettings = map[Kind]KindSettings{
	KindCompanyListing:        {DefaultChunk: 200, TTL: 15 * time.Minute},
	KindInviteListing:         {DefaultChunk: 200, TTL: 15 * time.Minute},
	KindFriendshipListing:     {DefaultChunk: 200, TTL: 15 * time.Minute},
	KindNotificationListing:   {DefaultChunk: 200, TTL: 15 * time.Minute},
	KindUserSearch:            {DefaultChunk: 200, TTL: 5 * time.Minute},
	KindInviteBulk:            {DefaultChunk: 200, TTL: time.Hour},
	KindNotificationBroadcast: {DefaultChunk: 500, TTL: time.Hour},
	KindFriendBroadcast:       {DefaultChunk: 500, TTL: time.Hour},
	KindNotificationDeletion:  {DefaultChunk: 1000, TTL: time.Hour},
	KindUserDeletion:          {DefaultChunk: 500, TTL: 24 * time.Hour},
}

// DefaultSettings returns the built-in limits.
func DefaultSettings() Settings {
	kinds := make(map[Kind]KindSettings, len(defaultKindSettings))
	for k, v := range defaultKindSettings {
		kinds[k] = v
	}
	return Settings{MinChunk: 1, MaxChunk: 1000, MaxItems: DefaultMaxItems, Kinds: kinds}
}

// WithOverrides applies chunk and TTL overrides keyed by kind name. TTLs are
// in seconds.
func (s Settings) WithOverrides(chunks, ttlSeconds map[string]int) (Settings, error) {
	s.Kinds = maps.Clone(s.Kinds)
	for name, v := range chunks {
		k, err := ParseKind(name)
		if err != nil {
			return s, err
		}
		if v <= 0 {
			return s, fmt.Errorf("chunk size for %s must be positive", k)
		}
		ks := s.Kinds[k]
		ks.DefaultChunk = v
		s.Kinds[k] = ks
	}
	for name, v := range ttlSeconds {
		k, err := ParseKind(name)
		if err != nil {
			return s, err
		}
		if v <= 0 {
			return s, fmt.Errorf("ttl for %s must be positive", k)
		}
		ks := s.Kinds[k]
		ks.TTL = time.Duration(v) * time.Second
		s.Kinds[k] = ks
	}
	return s, nil
}

// ChunkSize resolves a requested chunk size: zero means the kind's default,
// negative values are rejected, everything else is clamped to [min, max].
func (s Settings) ChunkSize(kind Kind, requested int) (int, error) {
	if requested < 0 {
		return 0, fmt.Errorf("%w: chunkSize must not be negative", ErrValidation)
	}
	size := requested
	if size == 0 {
		size = s.Kinds[kind].DefaultChunk
	}
	if s.MinChunk > 0 && size < s.MinChunk {
		size = s.MinChunk
	}
	if s.MaxChunk > 0 && size > s.MaxChunk {
		size = s.MaxChunk
	}
	return size, nil
}

// TTL returns how long a record of the kind lives after its last update.
func (s Settings) TTL(kind Kind) time.Duration {
	if ttl := s.Kinds[kind].TTL; ttl > 0 {
		return ttl
	}
	return time.Hour
}
