package breaker

import (
	"context"
	"sync"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.breaker",
	fx.Provide(NewSetFromConfig),
)

// Set holds one breaker per provider.
type Set struct {
	mu       sync.Mutex
	settings Settings
	clock    clock.Clock
	metrics  *observability.Metrics
	log      *zap.Logger
	breakers map[domain.ProviderName]*Breaker
}

type Params struct {
	fx.In

	Cfg     config.Config
	Clock   clock.Clock
	Metrics *observability.Metrics `optional:"true"`
	Log     *zap.Logger
}

func NewSetFromConfig(p Params) *Set {
	return NewSet(Settings{
		FailureThreshold: p.Cfg.Breaker.FailureThreshold,
		Window:           p.Cfg.Breaker.Window,
		Cooldown:         p.Cfg.Breaker.Cooldown,
	}, p.Clock, p.Metrics, p.Log)
}

func NewSet(settings Settings, clk clock.Clock, metrics *observability.Metrics, log *zap.Logger) *Set {
	if log == nil {
		log = zap.NewNop()
	}
	return &Set{
		settings: settings,
		clock:    clk,
		metrics:  metrics,
		log:      log.Named("payment.breaker"),
		breakers: make(map[domain.ProviderName]*Breaker),
	}
}

func (s *Set) For(provider domain.ProviderName) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[provider]; ok {
		return b
	}
	b := New(s.settings, s.clock, func(state State) {
		s.log.Warn("circuit breaker state changed",
			zap.String("provider", provider.String()),
			zap.String("state", state.String()))
		s.metrics.SetBreakerState(provider.String(), float64(state))
	})
	s.breakers[provider] = b
	s.metrics.SetBreakerState(provider.String(), float64(StateClosed))
	return b
}

// Healthy returns the providers the router may currently select.
func (s *Set) Healthy(ctx context.Context, providers []domain.ProviderName) map[domain.ProviderName]bool {
	out := make(map[domain.ProviderName]bool, len(providers))
	for _, p := range providers {
		out[p] = s.For(p).Available(ctx)
	}
	return out
}
