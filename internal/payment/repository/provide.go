package repository

import (
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Repositories struct {
	fx.Out

	Customers     domain.CustomerRepository
	Intents       domain.PaymentIntentRepository
	Refunds       domain.RefundRepository
	Subscriptions domain.SubscriptionRepository
	WebhookEvents domain.WebhookEventRepository
	UsageEvents   domain.UsageEventRepository
	Audit         domain.AuditRepository
}

func Provide(db *gorm.DB) Repositories {
	return Repositories{
		Customers:     NewCustomerRepository(db),
		Intents:       NewPaymentIntentRepository(db),
		Refunds:       NewRefundRepository(db),
		Subscriptions: NewSubscriptionRepository(db),
		WebhookEvents: NewWebhookEventRepository(db),
		UsageEvents:   NewUsageEventRepository(db),
		Audit:         NewAuditRepository(db),
	}
}
