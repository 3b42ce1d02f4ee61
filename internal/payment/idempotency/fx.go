package idempotency

import (
	"errors"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.idempotency",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
	Log   *zap.Logger
}

func NewStore(p Params) (Store, error) {
	switch p.Cfg.IdempotencyBackend {
	case "memory":
		p.Log.Named("payment.idempotency").Warn("using in-memory idempotency store; dedupe is not shared across instances")
		return NewMemoryStore(p.Clock), nil
	default:
		if p.Redis == nil {
			return nil, errors.New("redis client is required for the redis idempotency backend")
		}
		return NewRedisStore(p.Redis), nil
	}
}
