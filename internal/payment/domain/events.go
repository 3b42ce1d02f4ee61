package domain

import (
	"context"
	"fmt"
	"time"
)

// EventType is the canonical, provider-agnostic webhook event type.
type EventType string

const (
	EventTypeCheckoutCompleted    EventType = "checkout.completed"
	EventTypeSubscriptionCreated  EventType = "subscription.created"
	EventTypeSubscriptionUpdated  EventType = "subscription.updated"
	EventTypeSubscriptionCanceled EventType = "subscription.canceled"
	EventTypeSubscriptionRevoked  EventType = "subscription.revoked"
	EventTypePaymentSucceeded     EventType = "payment.succeeded"
	EventTypePaymentFailed        EventType = "payment.failed"
	EventTypePaymentRefunded      EventType = "payment.refunded"

	// EventTypeAll subscribes a handler to every canonical type.
	EventTypeAll EventType = "*"
)

var CanonicalEventTypes = []EventType{
	EventTypeCheckoutCompleted,
	EventTypeSubscriptionCreated,
	EventTypeSubscriptionUpdated,
	EventTypeSubscriptionCanceled,
	EventTypeSubscriptionRevoked,
	EventTypePaymentSucceeded,
	EventTypePaymentFailed,
	EventTypePaymentRefunded,
}

func (t EventType) IsCanonical() bool {
	for _, known := range CanonicalEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EventID namespaces a provider-native event id. It is the dedupe key.
func EventID(provider ProviderName, providerEventID string) string {
	return fmt.Sprintf("%s:%s", provider, providerEventID)
}

// WebhookEvent is the normalized form of an inbound provider notification.
type WebhookEvent struct {
	ID              string       `json:"id"`
	Provider        ProviderName `json:"provider"`
	ProviderEventID string       `json:"provider_event_id"`
	Type            EventType    `json:"type"`
	OccurredAt      time.Time    `json:"occurred_at"`
	RawPayload      []byte       `json:"-"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`

	Payment      *PaymentEventData      `json:"payment,omitempty"`
	Subscription *SubscriptionEventData `json:"subscription,omitempty"`
}

type PaymentEventData struct {
	// Reference is the local PaymentIntent id echoed back through metadata.
	Reference          string        `json:"reference,omitempty"`
	ProviderIntentID   string        `json:"provider_intent_id,omitempty"`
	ProviderSessionID  string        `json:"provider_session_id,omitempty"`
	ProviderCustomerID string        `json:"provider_customer_id,omitempty"`
	Amount             int64         `json:"amount"`
	RefundedAmount     int64         `json:"refunded_amount,omitempty"`
	Currency           string        `json:"currency,omitempty"`
	PaymentMethod      string        `json:"payment_method,omitempty"`
	FailureReason      DeclineReason `json:"failure_reason,omitempty"`
	FailureMessage     string        `json:"failure_message,omitempty"`
}

type SubscriptionEventData struct {
	Reference              string             `json:"reference,omitempty"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	ProviderCustomerID     string             `json:"provider_customer_id,omitempty"`
	Status                 SubscriptionStatus `json:"status"`
	PlanID                 string             `json:"plan_id,omitempty"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	CancelAt               *time.Time         `json:"cancel_at,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
}

// EventHandler receives canonical events after they have been deduplicated
// and reconciled into local records.
type EventHandler func(ctx context.Context, event *WebhookEvent) error
