package idempotency

import (
	"context"
	"time"
)

// Store is the atomic check-and-set gate shared by the webhook pipeline and
// the usage ingestor.
type Store interface {
	// Claim sets key with ttl only if it is absent and reports whether this
	// caller won the race.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Mark unconditionally sets key with ttl.
	Mark(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
