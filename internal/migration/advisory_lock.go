package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

const (
	lockName         = "paygate.schema_migrations"
	lockPollInterval = 500 * time.Millisecond
)

// lockKey maps lockName onto the bigint space pg_advisory_lock takes.
func lockKey() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(lockName))
	return int64(h.Sum64())
}

type unlockFunc func(ctx context.Context) error

// acquireAdvisoryLock waits until ctx is done for the session lock, so
// replicas started with serve --migrate queue behind the first one instead
// of failing.
func acquireAdvisoryLock(ctx context.Context, db *sql.DB) (unlockFunc, error) {
	if db == nil {
		return nil, errors.New("advisory lock requires database handle")
	}

	// session-level locks belong to one connection; pin it
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	key := lockKey()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, fmt.Errorf("%s held by another process: %w", lockName, ctx.Err())
		case <-ticker.C:
		}
	}

	return func(unlockCtx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		if !released {
			return fmt.Errorf("%s was not held by this session", lockName)
		}
		return nil
	}, nil
}
