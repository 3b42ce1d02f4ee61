package domain

import (
	"strings"
)

// ProviderName identifies one of the processors the gateway can talk to.
type ProviderName string

const (
	ProviderStripe      ProviderName = "stripe"
	ProviderMercadoPago ProviderName = "mercadopago"
	ProviderPolar       ProviderName = "polar"
)

// KnownProviders is the closed set of providers the registry accepts.
var KnownProviders = []ProviderName{ProviderMercadoPago, ProviderPolar, ProviderStripe}

type ProviderKind string

const (
	KindUniversal        ProviderKind = "universal"
	KindRegional         ProviderKind = "regional"
	KindMerchantOfRecord ProviderKind = "merchant_of_record"
)

// Kind reports the routing role of the provider. Adding a provider without
// extending this switch makes the registry reject it.
func (p ProviderName) Kind() (ProviderKind, error) {
	switch p {
	case ProviderStripe:
		return KindUniversal, nil
	case ProviderMercadoPago:
		return KindRegional, nil
	case ProviderPolar:
		return KindMerchantOfRecord, nil
	}
	return "", ErrProviderNotFound
}

func (p ProviderName) String() string { return string(p) }

func ParseProviderName(raw string) (ProviderName, error) {
	name := ProviderName(strings.ToLower(strings.TrimSpace(raw)))
	if name == "" {
		return "", ErrProviderNotFound
	}
	if _, err := name.Kind(); err != nil {
		return "", err
	}
	return name, nil
}

// Capabilities advertises what an adapter can do so callers fail fast with
// ErrUnsupportedOperation instead of degrading silently.
type Capabilities struct {
	CustomerSearch     bool `json:"customer_search"`
	HostedCheckout     bool `json:"hosted_checkout"`
	SubscriptionCreate bool `json:"subscription_create"`
	GracefulCancel     bool `json:"graceful_cancel"`
	Refunds            bool `json:"refunds"`
	UsageBilling       bool `json:"usage_billing"`
}
