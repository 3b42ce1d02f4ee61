package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
)

// MemoryStore is a single-process Store. Expired keys are dropped lazily.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]time.Time
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryStore{clock: clk, entries: make(map[string]time.Time)}
}

func (s *MemoryStore) live(ctx context.Context, key string) bool {
	expires, ok := s.entries[key]
	if !ok {
		return false
	}
	if !expires.IsZero() && !s.clock.Now(ctx).Before(expires) {
		delete(s.entries, key)
		return false
	}
	return true
}

func (s *MemoryStore) expiry(ctx context.Context, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now(ctx).Add(ttl)
}

func (s *MemoryStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(ctx, key) {
		return false, nil
	}
	s.entries[key] = s.expiry(ctx, ttl)
	return true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(ctx, key), nil
}

func (s *MemoryStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.expiry(ctx, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
