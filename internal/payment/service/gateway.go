package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/breaker"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/events"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"github.com/railzwaylabs/paygate/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GatewayParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	GenID    *snowflake.Node
	Adapters *adapters.Configured
	Breakers *breaker.Set

	Customers     domain.CustomerRepository
	Intents       domain.PaymentIntentRepository
	Refunds       domain.RefundRepository
	Subscriptions domain.SubscriptionRepository
	Audit         domain.AuditRepository

	Webhooks *webhook.Processor
	Usage    domain.UsageIngestor
	Bus      *events.Bus
	Metrics  *observability.Metrics `optional:"true"`
}

// Gateway is the facade over every configured provider.
type Gateway struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	adapters *adapters.Configured
	breakers *breaker.Set
	routing  config.RoutingConfig
	timeout  time.Duration

	customers     domain.CustomerRepository
	intents       domain.PaymentIntentRepository
	refunds       domain.RefundRepository
	subscriptions domain.SubscriptionRepository
	audit         domain.AuditRepository

	webhooks *webhook.Processor
	usage    domain.UsageIngestor
	bus      *events.Bus
	metrics  *observability.Metrics
}

func NewGateway(p GatewayParams) *Gateway {
	return &Gateway{
		db:            p.DB,
		log:           p.Log.Named("payment.gateway"),
		clock:         p.Clock,
		genID:         p.GenID,
		adapters:      p.Adapters,
		breakers:      p.Breakers,
		routing:       p.Cfg.Routing,
		timeout:       p.Cfg.ProviderTimeout,
		customers:     p.Customers,
		intents:       p.Intents,
		refunds:       p.Refunds,
		subscriptions: p.Subscriptions,
		audit:         p.Audit,
		webhooks:      p.Webhooks,
		usage:         p.Usage,
		bus:           p.Bus,
		metrics:       p.Metrics,
	}
}

func (g *Gateway) GetProvider(name domain.ProviderName) (domain.ProviderAdapter, bool) {
	return g.adapters.Get(name)
}

func (g *Gateway) ProviderHealth() []domain.ProviderHealth {
	ctx := context.Background()
	names := g.adapters.Names()
	out := make([]domain.ProviderHealth, 0, len(names))
	for _, name := range names {
		adapter, _ := g.adapters.Get(name)
		kind, _ := name.Kind()
		b := g.breakers.For(name)
		snap := b.Snapshot()
		out = append(out, domain.ProviderHealth{
			Provider:     name,
			Kind:         kind,
			State:        snap.State.String(),
			Available:    b.Available(ctx),
			Failures:     snap.Failures,
			OpenedAt:     snap.OpenedAt,
			Capabilities: adapter.Capabilities(),
		})
	}
	return out
}

func (g *Gateway) Subscribe(eventType domain.EventType, name string, handler domain.EventHandler) {
	g.bus.Subscribe(eventType, name, handler)
}

func (g *Gateway) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.WebhookResult, error) {
	return g.webhooks.Process(ctx, provider, payload, headers)
}

func (g *Gateway) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEventRecord, error) {
	return g.webhooks.GetWebhookEvent(ctx, id)
}

func (g *Gateway) IngestUsageEvent(ctx context.Context, event domain.UsageEvent) error {
	if err := validateRequest(event); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = g.clock.Now(ctx)
	}
	return g.usage.Ingest(ctx, event)
}

// snapshot captures configuration and breaker health for one routing decision.
func (g *Gateway) snapshot(ctx context.Context) router.Snapshot {
	names := g.adapters.Names()
	providers := make([]router.ProviderInfo, 0, len(names))
	for _, name := range names {
		kind, err := name.Kind()
		if err != nil {
			continue
		}
		providers = append(providers, router.ProviderInfo{
			Name:      name,
			Kind:      kind,
			Countries: g.adapters.Countries(name),
		})
	}
	return router.Snapshot{
		Providers:           providers,
		Healthy:             g.breakers.Healthy(ctx, names),
		RegionalFallthrough: g.routing.RegionalFallthrough,
	}
}

// route runs attempt against each routing candidate in order until one
// succeeds. A retryable failure moves on to the next candidate unless the
// caller pinned the provider; any other failure is returned as is.
func (g *Gateway) route(ctx context.Context, rc router.RoutingContext, accept func(domain.ProviderAdapter) bool, attempt func(ctx context.Context, adapter domain.ProviderAdapter) error) (domain.ProviderName, error) {
	candidates, err := router.Candidates(rc, g.snapshot(ctx))
	if err != nil {
		return "", err
	}

	var lastErr error
	tried := 0
	for _, decision := range candidates {
		adapter, ok := g.adapters.Get(decision.Provider)
		if !ok {
			continue
		}
		if accept != nil && !accept(adapter) {
			if decision.Rule == router.RuleExplicit {
				return "", domain.ErrUnsupportedOperation
			}
			continue
		}
		tried++
		g.metrics.ObserveRouting(decision.Provider.String(), string(decision.Rule))
		err := attempt(ctx, adapter)
		if err == nil {
			return decision.Provider, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || decision.Rule == router.RuleExplicit {
			return decision.Provider, err
		}
		g.log.Warn("provider failed, trying next candidate",
			zap.String("provider", decision.Provider.String()),
			zap.String("rule", string(decision.Rule)),
			zap.Error(err))
	}
	if tried == 0 {
		if accept != nil {
			return "", domain.ErrUnsupportedOperation
		}
		return "", domain.ErrNoProviderAvailable
	}
	return "", lastErr
}

// call wraps one adapter operation with the provider's breaker, the call
// timeout and metrics.
func (g *Gateway) call(ctx context.Context, provider domain.ProviderName, op string, fn func(ctx context.Context) error) error {
	b := g.breakers.For(provider)
	if !b.Allow(ctx) {
		return domain.NewRetryableError(provider, op, 0, domain.ErrNoProviderAvailable)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !domain.IsRetryable(err) {
		err = domain.NewRetryableError(provider, op, 0, err)
	}
	b.Record(ctx, err)
	g.metrics.ObserveProviderCall(provider.String(), op, outcome(err), time.Since(start))
	if err != nil {
		g.log.Warn("provider call failed",
			zap.String("provider", provider.String()),
			zap.String("op", op),
			zap.Bool("retryable", domain.IsRetryable(err)),
			zap.Error(err))
	}
	return err
}

func (g *Gateway) adapterFor(provider domain.ProviderName) (domain.ProviderAdapter, error) {
	adapter, ok := g.adapters.Get(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

func (g *Gateway) loadCustomer(ctx context.Context, id snowflake.ID) (*domain.Customer, error) {
	customer, err := g.customers.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsRetryable(err):
		return "retryable"
	default:
		return "terminal"
	}
}

func explicitProvider(raw domain.ProviderName) (domain.ProviderName, error) {
	if raw == "" {
		return "", nil
	}
	return domain.ParseProviderName(string(raw))
}
