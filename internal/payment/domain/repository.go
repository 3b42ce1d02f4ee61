package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repositories take an optional *gorm.DB so callers can run them inside a
// transaction; nil means the repository's own handle. Finders return nil, nil
// when the row does not exist.

type CustomerRepository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error

	InsertLink(ctx context.Context, db *gorm.DB, link *CustomerProviderLink) error
	FindLink(ctx context.Context, db *gorm.DB, customerID snowflake.ID, provider ProviderName) (*CustomerProviderLink, error)
	FindLinkByProviderCustomerID(ctx context.Context, db *gorm.DB, provider ProviderName, providerCustomerID string) (*CustomerProviderLink, error)
	ListLinks(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]CustomerProviderLink, error)
}

type PaymentIntentRepository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider ProviderName, providerIntentID, providerSessionID string) (*PaymentIntent, error)
	// UpdateVersioned writes the intent only if its stored version still
	// equals intent.Version, then bumps the version.
	UpdateVersioned(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	// ReserveRefund atomically adds amount to refunded_amount unless that
	// would exceed the captured amount.
	ReserveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64) error
	ReleaseRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64) error
	RaiseRefundedAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, refunded int64) error
}

type RefundRepository interface {
	Insert(ctx context.Context, db *gorm.DB, refund *Refund) error
	Update(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Refund, error)
}

type SubscriptionRepository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider ProviderName, providerSubscriptionID string) (*Subscription, error)
	UpdateVersioned(ctx context.Context, db *gorm.DB, sub *Subscription) error
}

type WebhookEventRepository interface {
	Insert(ctx context.Context, db *gorm.DB, record *WebhookEventRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*WebhookEventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id string, at time.Time, lastError string) error
	SetLastError(ctx context.Context, db *gorm.DB, id string, lastError string) error
	IncrementDuplicate(ctx context.Context, db *gorm.DB, id string) error
	DeleteReceivedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type UsageEventRepository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageEventRecord) error
	DeleteForwardedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type AuditRepository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByResource(ctx context.Context, db *gorm.DB, resourceType, resourceID string) ([]AuditLog, error)
}
