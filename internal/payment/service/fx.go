package service

import (
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.gateway",
	fx.Provide(
		NewReconciler,
		func(r *Reconciler) domain.EventApplier { return r },
		NewGateway,
		func(g *Gateway) domain.Gateway { return g },
	),
)
