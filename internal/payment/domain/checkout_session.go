package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CheckoutSessionInput is what the gateway hands to an adapter. Either Amount
// or PriceID is set.
type CheckoutSessionInput struct {
	PaymentIntentID    snowflake.ID
	CustomerID         snowflake.ID
	ProviderCustomerID string
	Email              string
	Amount             int64
	Currency           string
	PriceID            string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
	IdempotencyKey     string
}

// ProviderCheckoutSession is returned by the adapter.
type ProviderCheckoutSession struct {
	ID              string       `json:"id"`
	Provider        ProviderName `json:"provider"`
	URL             string       `json:"url"`
	PaymentIntentID string       `json:"payment_intent_id,omitempty"`
	ExpiresAt       time.Time    `json:"expires_at"`
}

// CheckoutSession is what callers of the gateway receive.
type CheckoutSession struct {
	ID              string       `json:"id"`
	URL             string       `json:"url"`
	Provider        ProviderName `json:"provider"`
	PaymentIntentID snowflake.ID `json:"payment_intent_id"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
}
