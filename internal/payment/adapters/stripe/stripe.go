package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

const defaultCheckoutProductName = "Payment"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderName {
	return domain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.ProviderAdapter, error) {
	apiKey := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(cfg.AccessToken)
	}
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		backendCfg.URL = stripego.String(base)
	}

	api := &client.API{}
	api.Init(apiKey, &stripego.Backends{
		API: stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg),
	})

	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	return &Adapter{
		api:             api,
		webhookSecret:   secret,
		defaultCurrency: currency,
	}, nil
}

type Adapter struct {
	api             *client.API
	webhookSecret   string
	defaultCurrency string
}

func (a *Adapter) Name() domain.ProviderName {
	return domain.ProviderStripe
}

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		CustomerSearch:     true,
		HostedCheckout:     true,
		SubscriptionCreate: true,
		GracefulCancel:     true,
		Refunds:            true,
	}
}

// CreateCustomer reuses an existing customer with the same email.
func (a *Adapter) CreateCustomer(ctx context.Context, input domain.CustomerInput) (string, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return "", domain.NewValidationError("email", "is required")
	}

	listParams := &stripego.CustomerListParams{Email: stripego.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripego.Int64(1)
	iter := a.api.Customers.List(listParams)
	for iter.Next() {
		if existing := iter.Customer(); existing != nil && !existing.Deleted {
			return existing.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", classify("create_customer", err)
	}

	params := &stripego.CustomerParams{
		Email: stripego.String(email),
	}
	params.Context = ctx
	if name := strings.TrimSpace(input.Name); name != "" {
		params.Name = stripego.String(name)
	}
	if country := strings.TrimSpace(input.Country); country != "" {
		params.Address = &stripego.AddressParams{Country: stripego.String(strings.ToUpper(country))}
	}
	for k, v := range adapters.ReferenceMetadata(input.Metadata, input.CustomerID) {
		params.AddMetadata(k, v)
	}
	if input.CustomerID != 0 {
		params.SetIdempotencyKey("customer-" + input.CustomerID.String())
	}

	customer, err := a.api.Customers.New(params)
	if err != nil {
		return "", classify("create_customer", err)
	}
	return customer.ID, nil
}

func (a *Adapter) DeleteCustomer(ctx context.Context, providerCustomerID string) error {
	params := &stripego.CustomerParams{}
	params.Context = ctx
	_, err := a.api.Customers.Del(providerCustomerID, params)
	if err != nil {
		var se *stripego.Error
		if errors.As(err, &se) && se.Code == stripego.ErrorCodeResourceMissing {
			return nil
		}
		return classify("delete_customer", err)
	}
	return nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, input domain.CheckoutSessionInput) (*domain.ProviderCheckoutSession, error) {
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = strings.ToLower(a.defaultCurrency)
	}

	lineItem := &stripego.CheckoutSessionLineItemParams{Quantity: stripego.Int64(1)}
	switch {
	case strings.TrimSpace(input.PriceID) != "":
		lineItem.Price = stripego.String(input.PriceID)
	case input.Amount > 0:
		lineItem.PriceData = &stripego.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripego.String(currency),
			UnitAmount: stripego.Int64(input.Amount),
			ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripego.String(defaultCheckoutProductName),
			},
		}
	default:
		return nil, domain.NewValidationError("amount", "amount or price_id is required")
	}

	metadata := adapters.ReferenceMetadata(input.Metadata, input.PaymentIntentID)
	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL: stripego.String(input.SuccessURL),
		CancelURL:  stripego.String(input.CancelURL),
		LineItems:  []*stripego.CheckoutSessionLineItemParams{lineItem},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	if input.PaymentIntentID != 0 {
		params.ClientReferenceID = stripego.String(input.PaymentIntentID.String())
	}
	if input.ProviderCustomerID != "" {
		params.Customer = stripego.String(input.ProviderCustomerID)
	} else if input.Email != "" {
		params.CustomerEmail = stripego.String(input.Email)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	session, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create_checkout_session", err)
	}

	out := &domain.ProviderCheckoutSession{
		ID:       session.ID,
		Provider: domain.ProviderStripe,
		URL:      session.URL,
	}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, input domain.SubscriptionInput) (*domain.ProviderSubscription, error) {
	if input.ProviderCustomerID == "" {
		return nil, domain.NewValidationError("customer", "provider customer is required")
	}
	params := &stripego.SubscriptionParams{
		Customer: stripego.String(input.ProviderCustomerID),
		Items: []*stripego.SubscriptionItemsParams{
			{Price: stripego.String(input.PlanID)},
		},
	}
	params.Context = ctx
	if input.TrialDays > 0 {
		params.TrialPeriodDays = stripego.Int64(int64(input.TrialDays))
	}
	for k, v := range adapters.ReferenceMetadata(input.Metadata, input.SubscriptionID) {
		params.AddMetadata(k, v)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	sub, err := a.api.Subscriptions.New(params)
	if err != nil {
		return nil, classify("create_subscription", err)
	}
	return toProviderSubscription(sub), nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, providerSubscriptionID string, input domain.SubscriptionUpdate) (*domain.ProviderSubscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	if plan := strings.TrimSpace(input.PlanID); plan != "" {
		getParams := &stripego.SubscriptionParams{}
		getParams.Context = ctx
		current, err := a.api.Subscriptions.Get(providerSubscriptionID, getParams)
		if err != nil {
			return nil, classify("update_subscription", err)
		}
		item := &stripego.SubscriptionItemsParams{Price: stripego.String(plan)}
		if current.Items != nil && len(current.Items.Data) > 0 {
			item.ID = stripego.String(current.Items.Data[0].ID)
		}
		params.Items = []*stripego.SubscriptionItemsParams{item}
		behavior := "none"
		if input.Prorate {
			behavior = "create_prorations"
		}
		params.ProrationBehavior = stripego.String(behavior)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := a.api.Subscriptions.Update(providerSubscriptionID, params)
	if err != nil {
		return nil, classify("update_subscription", err)
	}
	return toProviderSubscription(sub), nil
}

// CancelSubscription either terminates now (the returned status is the
// provider's confirmation) or sets cancel_at_period_end.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, opts domain.CancelOptions) (*domain.ProviderSubscription, error) {
	if opts.Immediate {
		params := &stripego.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err := a.api.Subscriptions.Cancel(providerSubscriptionID, params)
		if err != nil {
			return nil, classify("cancel_subscription", err)
		}
		return toProviderSubscription(sub), nil
	}

	params := &stripego.SubscriptionParams{CancelAtPeriodEnd: stripego.Bool(true)}
	params.Context = ctx
	sub, err := a.api.Subscriptions.Update(providerSubscriptionID, params)
	if err != nil {
		return nil, classify("cancel_subscription", err)
	}
	return toProviderSubscription(sub), nil
}

func (a *Adapter) CreateRefund(ctx context.Context, input domain.RefundInput) (*domain.ProviderRefund, error) {
	if input.ProviderIntentID == "" {
		return nil, domain.NewValidationError("payment_intent", "payment has no provider reference")
	}
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(input.ProviderIntentID),
	}
	params.Context = ctx
	if input.Amount > 0 {
		params.Amount = stripego.Int64(input.Amount)
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		params.AddMetadata("reason", reason)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	refund, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, classify("create_refund", err)
	}
	return &domain.ProviderRefund{
		ID:     refund.ID,
		Amount: refund.Amount,
		Status: string(refund.Status),
	}, nil
}

func toProviderSubscription(sub *stripego.Subscription) *domain.ProviderSubscription {
	if sub == nil {
		return nil
	}
	out := &domain.ProviderSubscription{
		ID:                 sub.ID,
		Status:             mapSubscriptionStatus(string(sub.Status)),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		TrialEnd:           unixTimePtr(sub.TrialEnd),
		CancelAt:           unixTimePtr(sub.CancelAt),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanID = sub.Items.Data[0].Price.ID
	}
	return out
}

func mapSubscriptionStatus(status string) domain.SubscriptionStatus {
	switch strings.TrimSpace(status) {
	case "trialing":
		return domain.SubscriptionStatusTrialing
	case "active":
		return domain.SubscriptionStatusActive
	case "past_due", "paused":
		return domain.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return domain.SubscriptionStatusCanceled
	case "unpaid":
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusIncomplete
	}
}

func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func unixTimePtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
