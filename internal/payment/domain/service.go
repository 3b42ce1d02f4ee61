package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Gateway is the single entry point the rest of the application uses.
type Gateway interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error)
	DeleteCustomer(ctx context.Context, id snowflake.ID, actor string) error

	CreateCheckoutSession(ctx context.Context, req CreateCheckoutRequest) (*CheckoutSession, error)
	CancelPaymentIntent(ctx context.Context, id snowflake.ID) (*PaymentIntent, error)

	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id snowflake.ID, req UpdateSubscriptionRequest) (*Subscription, error)
	CancelSubscription(ctx context.Context, id snowflake.ID, req CancelSubscriptionRequest) (*Subscription, error)

	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)

	IngestUsageEvent(ctx context.Context, event UsageEvent) error

	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*WebhookResult, error)
	GetWebhookEvent(ctx context.Context, id string) (*WebhookEventRecord, error)

	GetProvider(name ProviderName) (ProviderAdapter, bool)
	ProviderHealth() []ProviderHealth
	Subscribe(eventType EventType, name string, handler EventHandler)
}

// WebhookProcessor verifies, normalizes, dedupes and dispatches one delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, provider string, payload []byte, headers http.Header) (*WebhookResult, error)
}

// UsageIngestor forwards usage events at most once per idempotency key.
type UsageIngestor interface {
	Ingest(ctx context.Context, event UsageEvent) error
}

// EventApplier reconciles a normalized event into local records.
type EventApplier interface {
	Apply(ctx context.Context, event *WebhookEvent) error
}

type WebhookResult struct {
	EventID   string    `json:"event_id,omitempty"`
	Type      EventType `json:"type,omitempty"`
	Duplicate bool      `json:"duplicate"`
	Ignored   bool      `json:"ignored,omitempty"`
}

type ProviderHealth struct {
	Provider     ProviderName `json:"provider"`
	Kind         ProviderKind `json:"kind"`
	State        string       `json:"state"`
	Available    bool         `json:"available"`
	Failures     int          `json:"failures"`
	OpenedAt     *time.Time   `json:"opened_at,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type CreateCustomerRequest struct {
	Email    string            `json:"email" validate:"required,email"`
	Name     string            `json:"name" validate:"max=255"`
	Country  string            `json:"country" validate:"omitempty,len=2,alpha"`
	Provider ProviderName      `json:"provider"`
	Metadata map[string]string `json:"metadata"`
}

type CreateCheckoutRequest struct {
	CustomerID     snowflake.ID      `json:"customer_id" validate:"required"`
	OrganizationID string            `json:"organization_id"`
	Provider       ProviderName      `json:"provider"`
	Amount         int64             `json:"amount" validate:"gte=0"`
	Currency       string            `json:"currency" validate:"required,len=3,alpha"`
	PriceID        string            `json:"price_id"`
	SuccessURL     string            `json:"success_url" validate:"required,url"`
	CancelURL      string            `json:"cancel_url" validate:"required,url"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type CreateSubscriptionRequest struct {
	CustomerID     snowflake.ID      `json:"customer_id" validate:"required"`
	OrganizationID string            `json:"organization_id"`
	Provider       ProviderName      `json:"provider"`
	PlanID         string            `json:"plan_id" validate:"required"`
	Currency       string            `json:"currency" validate:"omitempty,len=3,alpha"`
	TrialDays      int               `json:"trial_days" validate:"gte=0,lte=730"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type UpdateSubscriptionRequest struct {
	PlanID   string            `json:"plan_id"`
	Prorate  bool              `json:"prorate"`
	Metadata map[string]string `json:"metadata"`
}

type CancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

type CreateRefundRequest struct {
	PaymentIntentID snowflake.ID `json:"payment_intent_id" validate:"required"`
	// Amount nil means refund whatever has not been refunded yet.
	Amount         *int64 `json:"amount" validate:"omitempty,gt=0"`
	Reason         string `json:"reason" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key"`
}
