package payment

import (
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/adapters/mercadopago"
	"github.com/railzwaylabs/paygate/internal/payment/adapters/polar"
	"github.com/railzwaylabs/paygate/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/paygate/internal/payment/breaker"
	"github.com/railzwaylabs/paygate/internal/payment/events"
	"github.com/railzwaylabs/paygate/internal/payment/idempotency"
	"github.com/railzwaylabs/paygate/internal/payment/repository"
	"github.com/railzwaylabs/paygate/internal/payment/service"
	"github.com/railzwaylabs/paygate/internal/payment/usage"
	"github.com/railzwaylabs/paygate/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			mercadopago.NewFactory(),
			polar.NewFactory(),
		)
	}),
	fx.Provide(func(registry *adapters.Registry, cfg config.Config, log *zap.Logger) (*adapters.Configured, error) {
		return adapters.NewConfigured(registry, cfg, log)
	}),
	fx.Provide(events.NewBus),
	idempotency.Module,
	breaker.Module,
	webhook.Module,
	usage.Module,
	service.Module,
)
