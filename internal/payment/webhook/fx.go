package webhook

import (
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(
		NewProcessor,
		func(p *Processor) domain.WebhookProcessor { return p },
	),
)
