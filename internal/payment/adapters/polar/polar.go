package polar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

const (
	productionBaseURL = "https://api.polar.sh"
	sandboxBaseURL    = "https://sandbox-api.polar.sh"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderName {
	return domain.ProviderPolar
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.ProviderAdapter, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, domain.ErrInvalidConfig
	}
	secret, err := decodeSecret(cfg.WebhookSecret)
	if err != nil || len(secret) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = productionBaseURL
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		}
	}
	return &Adapter{
		http:          adapters.NewHTTPClient(baseURL, token, cfg.Timeout),
		webhookSecret: secret,
	}, nil
}

// Adapter talks to a merchant of record: the provider is the seller, so
// subscriptions can only start through a hosted checkout.
type Adapter struct {
	http          *resty.Client
	webhookSecret []byte
}

func (a *Adapter) Name() domain.ProviderName {
	return domain.ProviderPolar
}

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		CustomerSearch:     true,
		HostedCheckout:     true,
		SubscriptionCreate: false,
		GracefulCancel:     true,
		Refunds:            true,
		UsageBilling:       true,
	}
}

type polarCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type polarCustomerList struct {
	Items []polarCustomer `json:"items"`
}

type polarCheckout struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Status      string         `json:"status"`
	ExpiresAt   string         `json:"expires_at"`
	Amount      int64          `json:"amount"`
	TotalAmount int64          `json:"total_amount"`
	Currency    string         `json:"currency"`
	CustomerID  string         `json:"customer_id"`
	Metadata    map[string]any `json:"metadata"`
}

type polarSubscription struct {
	ID                 string         `json:"id"`
	Status             string         `json:"status"`
	CustomerID         string         `json:"customer_id"`
	ProductID          string         `json:"product_id"`
	CurrentPeriodStart string         `json:"current_period_start"`
	CurrentPeriodEnd   string         `json:"current_period_end"`
	TrialEnd           string         `json:"trial_end"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	EndsAt             string         `json:"ends_at"`
	Metadata           map[string]any `json:"metadata"`
}

type polarRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type polarError struct {
	Error  string          `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

func decodeError(body []byte) (string, domain.DeclineReason, string) {
	var payload polarError
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", ""
	}
	message := ""
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		message = detail
	} else if len(payload.Detail) > 0 {
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
			message = items[0].Msg
		}
	}
	return payload.Error, "", message
}

func (a *Adapter) CreateCustomer(ctx context.Context, input domain.CustomerInput) (string, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return "", domain.NewValidationError("email", "is required")
	}

	var list polarCustomerList
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("email", email).
		SetQueryParam("limit", "1").
		SetResult(&list).
		Get("/v1/customers/")
	if err := adapters.Classify(domain.ProviderPolar, "create_customer", resp, err, decodeError); err != nil {
		return "", err
	}
	if len(list.Items) > 0 && list.Items[0].ID != "" {
		return list.Items[0].ID, nil
	}

	body := map[string]any{
		"email":    email,
		"metadata": adapters.ReferenceMetadata(input.Metadata, input.CustomerID),
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		body["name"] = name
	}
	if input.CustomerID != 0 {
		body["external_id"] = input.CustomerID.String()
	}
	if country := strings.TrimSpace(input.Country); country != "" {
		body["billing_address"] = map[string]string{"country": strings.ToUpper(country)}
	}

	var created polarCustomer
	resp, err = a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&created).
		Post("/v1/customers/")
	if err := adapters.Classify(domain.ProviderPolar, "create_customer", resp, err, decodeError); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *Adapter) DeleteCustomer(ctx context.Context, providerCustomerID string) error {
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", providerCustomerID).
		Delete("/v1/customers/{id}")
	if err == nil && resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return adapters.Classify(domain.ProviderPolar, "delete_customer", resp, err, decodeError)
}

// CreateCheckoutSession requires a product id; a positive amount sets the
// price of pay-what-you-want products.
func (a *Adapter) CreateCheckoutSession(ctx context.Context, input domain.CheckoutSessionInput) (*domain.ProviderCheckoutSession, error) {
	product := strings.TrimSpace(input.PriceID)
	if product == "" {
		return nil, domain.NewValidationError("price_id", "is required for merchant of record checkouts")
	}
	body := map[string]any{
		"products":    []string{product},
		"success_url": input.SuccessURL,
		"metadata":    adapters.ReferenceMetadata(input.Metadata, input.PaymentIntentID),
	}
	if input.Amount > 0 {
		body["amount"] = input.Amount
	}
	if input.ProviderCustomerID != "" {
		body["customer_id"] = input.ProviderCustomerID
	} else if input.Email != "" {
		body["customer_email"] = input.Email
	}
	if input.CustomerID != 0 {
		body["external_customer_id"] = input.CustomerID.String()
	}

	var checkout polarCheckout
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&checkout).
		Post("/v1/checkouts/")
	if err := adapters.Classify(domain.ProviderPolar, "create_checkout_session", resp, err, decodeError); err != nil {
		return nil, err
	}
	return &domain.ProviderCheckoutSession{
		ID:        checkout.ID,
		Provider:  domain.ProviderPolar,
		URL:       checkout.URL,
		ExpiresAt: parseTime(checkout.ExpiresAt),
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, input domain.SubscriptionInput) (*domain.ProviderSubscription, error) {
	return nil, fmt.Errorf("%w: polar subscriptions start through checkout", domain.ErrUnsupportedOperation)
}

func (a *Adapter) UpdateSubscription(ctx context.Context, providerSubscriptionID string, input domain.SubscriptionUpdate) (*domain.ProviderSubscription, error) {
	body := map[string]any{}
	if plan := strings.TrimSpace(input.PlanID); plan != "" {
		body["product_id"] = plan
		behavior := "invoice"
		if input.Prorate {
			behavior = "prorate"
		}
		body["proration_behavior"] = behavior
	}
	return a.patchSubscription(ctx, "update_subscription", providerSubscriptionID, body)
}

func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, opts domain.CancelOptions) (*domain.ProviderSubscription, error) {
	if !opts.Immediate {
		return a.patchSubscription(ctx, "cancel_subscription", providerSubscriptionID, map[string]any{"cancel_at_period_end": true})
	}

	var sub polarSubscription
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", providerSubscriptionID).
		SetResult(&sub).
		Delete("/v1/subscriptions/{id}")
	if err := adapters.Classify(domain.ProviderPolar, "cancel_subscription", resp, err, decodeError); err != nil {
		return nil, err
	}
	return sub.toProvider(), nil
}

func (a *Adapter) patchSubscription(ctx context.Context, op, id string, body map[string]any) (*domain.ProviderSubscription, error) {
	var sub polarSubscription
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(body).
		SetResult(&sub).
		Patch("/v1/subscriptions/{id}")
	if err := adapters.Classify(domain.ProviderPolar, op, resp, err, decodeError); err != nil {
		return nil, err
	}
	return sub.toProvider(), nil
}

// CreateRefund refunds an order; ProviderIntentID carries the order id.
func (a *Adapter) CreateRefund(ctx context.Context, input domain.RefundInput) (*domain.ProviderRefund, error) {
	if input.ProviderIntentID == "" {
		return nil, domain.NewValidationError("payment_intent", "payment has no provider order")
	}
	body := map[string]any{
		"order_id": input.ProviderIntentID,
		"reason":   "customer_request",
		"amount":   input.Amount,
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		body["comment"] = reason
	}
	if input.IdempotencyKey != "" {
		body["metadata"] = map[string]string{"idempotency_key": input.IdempotencyKey}
	}

	var refund polarRefund
	req := a.http.R().SetContext(ctx).SetBody(body).SetResult(&refund)
	if input.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", input.IdempotencyKey)
	}
	resp, err := req.Post("/v1/refunds/")
	if err := adapters.Classify(domain.ProviderPolar, "create_refund", resp, err, decodeError); err != nil {
		return nil, err
	}
	return &domain.ProviderRefund{ID: refund.ID, Amount: refund.Amount, Status: refund.Status}, nil
}

// ReportUsage ingests one meter event. The idempotency key doubles as the
// event's external id so a replay is collapsed upstream as well.
func (a *Adapter) ReportUsage(ctx context.Context, event domain.UsageEvent) error {
	metadata := make(map[string]any, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	metadata["value"] = event.Value

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body := map[string]any{
		"events": []map[string]any{{
			"name":                 event.EventName,
			"external_customer_id": event.CustomerID,
			"external_id":          event.IdempotencyKey,
			"timestamp":            ts.UTC().Format(time.RFC3339),
			"metadata":             metadata,
		}},
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/events/ingest")
	return adapters.Classify(domain.ProviderPolar, "report_usage", resp, err, decodeError)
}

func (s polarSubscription) toProvider() *domain.ProviderSubscription {
	out := &domain.ProviderSubscription{
		ID:                 s.ID,
		Status:             mapSubscriptionStatus(s.Status),
		PlanID:             s.ProductID,
		CurrentPeriodStart: parseTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   parseTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
	}
	if trial := parseTime(s.TrialEnd); !trial.IsZero() {
		out.TrialEnd = &trial
	}
	if ends := parseTime(s.EndsAt); !ends.IsZero() {
		out.CancelAt = &ends
	} else if s.CancelAtPeriodEnd && !out.CurrentPeriodEnd.IsZero() {
		end := out.CurrentPeriodEnd
		out.CancelAt = &end
	}
	return out
}

func mapSubscriptionStatus(status string) domain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return domain.SubscriptionStatusTrialing
	case "active":
		return domain.SubscriptionStatusActive
	case "past_due":
		return domain.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return domain.SubscriptionStatusCanceled
	case "unpaid":
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusIncomplete
	}
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
