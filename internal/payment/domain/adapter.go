package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProviderAdapter is the uniform contract every processor integration satisfies.
// Every mutating call returns either nil or an error that unwraps to
// ErrRetryableProvider, ErrTerminalProvider, ErrUnsupportedOperation or ErrValidation.
type ProviderAdapter interface {
	Name() ProviderName
	Capabilities() Capabilities

	CreateCustomer(ctx context.Context, input CustomerInput) (string, error)
	DeleteCustomer(ctx context.Context, providerCustomerID string) error

	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*ProviderCheckoutSession, error)

	CreateSubscription(ctx context.Context, input SubscriptionInput) (*ProviderSubscription, error)
	UpdateSubscription(ctx context.Context, providerSubscriptionID string, input SubscriptionUpdate) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, opts CancelOptions) (*ProviderSubscription, error)

	CreateRefund(ctx context.Context, input RefundInput) (*ProviderRefund, error)

	// Webhook handling. Validation never touches the network and never
	// panics on malformed input. Normalization runs only on a verified
	// payload and may fetch the resource when the notification carries no
	// signed state of its own.
	ValidateWebhookSignature(payload []byte, headers http.Header) bool
	WebhookTimestamp(headers http.Header) (time.Time, bool)
	NormalizeWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (*WebhookEvent, error)
}

// UsageReporter is implemented by adapters that bill on metered usage.
type UsageReporter interface {
	ReportUsage(ctx context.Context, event UsageEvent) error
}

type AdapterConfig struct {
	Provider        ProviderName
	AccessToken     string
	SecretKey       string
	WebhookSecret   string
	Sandbox         bool
	DefaultCurrency string
	BaseURL         string
	Timeout         time.Duration
	Countries       []string
}

type AdapterFactory interface {
	Provider() ProviderName
	NewAdapter(config AdapterConfig) (ProviderAdapter, error)
}

type CustomerInput struct {
	CustomerID snowflake.ID
	Email      string
	Name       string
	Country    string
	Metadata   map[string]string
}

type SubscriptionInput struct {
	SubscriptionID     snowflake.ID
	ProviderCustomerID string
	Email              string
	PlanID             string
	TrialDays          int
	Metadata           map[string]string
	IdempotencyKey     string
}

type SubscriptionUpdate struct {
	PlanID   string
	Prorate  bool
	Metadata map[string]string
}

type CancelOptions struct {
	Immediate bool
	// PeriodEnd is the local view of the current period end; adapters without
	// a native cancel-at-period-end flag schedule termination at this instant.
	PeriodEnd time.Time
}

// ProviderSubscription is the provider-side view returned by adapters.
type ProviderSubscription struct {
	ID                 string
	Status             SubscriptionStatus
	PlanID             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CancelAt           *time.Time
	CancelAtPeriodEnd  bool
}

type RefundInput struct {
	ProviderIntentID string
	Amount           int64
	Currency         string
	Reason           string
	IdempotencyKey   string
}

type ProviderRefund struct {
	ID     string
	Amount int64
	Status string
}
