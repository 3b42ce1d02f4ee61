package mercadopago

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
	defaultBaseURL       = "https://api.mercadopago.com"
	idempotencyHeader    = "X-Idempotency-Key"
	defaultCheckoutTitle = "Payment"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderName {
	return domain.ProviderMercadoPago
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.ProviderAdapter, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, domain.ErrInvalidConfig
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "BRL"
	}
	return &Adapter{
		http:            adapters.NewHTTPClient(baseURL, token, cfg.Timeout),
		webhookSecret:   secret,
		sandbox:         cfg.Sandbox,
		defaultCurrency: currency,
	}, nil
}

type Adapter struct {
	http            *resty.Client
	webhookSecret   string
	sandbox         bool
	defaultCurrency string
}

func (a *Adapter) Name() domain.ProviderName {
	return domain.ProviderMercadoPago
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

type mpCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type mpCustomerSearch struct {
	Results []mpCustomer `json:"results"`
}

type mpPreference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
	DateOfExpiration string `json:"date_of_expiration"`
}

type mpAutoRecurring struct {
	Frequency         int     `json:"frequency,omitempty"`
	FrequencyType     string  `json:"frequency_type,omitempty"`
	TransactionAmount float64 `json:"transaction_amount,omitempty"`
	CurrencyID        string  `json:"currency_id,omitempty"`
	StartDate         string  `json:"start_date,omitempty"`
	EndDate           string  `json:"end_date,omitempty"`
	FreeTrial         *struct {
		Frequency     int    `json:"frequency"`
		FrequencyType string `json:"frequency_type"`
	} `json:"free_trial,omitempty"`
}

type mpPreapproval struct {
	ID                string           `json:"id"`
	PayerID           flexID           `json:"payer_id"`
	Status            string           `json:"status"`
	PreapprovalPlanID string           `json:"preapproval_plan_id"`
	ExternalReference string           `json:"external_reference"`
	DateCreated       string           `json:"date_created"`
	LastModified      string           `json:"last_modified"`
	NextPaymentDate   string           `json:"next_payment_date"`
	AutoRecurring     *mpAutoRecurring `json:"auto_recurring"`
}

type mpRefund struct {
	ID     flexID  `json:"id"`
	Amount float64 `json:"amount"`
	Status string  `json:"status"`
}

type mpError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Cause   []struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
	} `json:"cause"`
}

func decodeError(body []byte) (string, domain.DeclineReason, string) {
	var payload mpError
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", ""
	}
	message := payload.Message
	if message == "" && len(payload.Cause) > 0 {
		message = payload.Cause[0].Description
	}
	return payload.Error, declineReason(payload.Error), message
}

func (a *Adapter) CreateCustomer(ctx context.Context, input domain.CustomerInput) (string, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return "", domain.NewValidationError("email", "is required")
	}

	var search mpCustomerSearch
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("email", email).
		SetResult(&search).
		Get("/v1/customers/search")
	if err := adapters.Classify(domain.ProviderMercadoPago, "create_customer", resp, err, decodeError); err != nil {
		return "", err
	}
	if len(search.Results) > 0 && search.Results[0].ID != "" {
		return search.Results[0].ID, nil
	}

	body := map[string]any{"email": email}
	if name := strings.TrimSpace(input.Name); name != "" {
		body["first_name"] = name
	}
	if input.CustomerID != 0 {
		body["description"] = input.CustomerID.String()
	}
	var created mpCustomer
	resp, err = a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&created).
		Post("/v1/customers")
	if err := adapters.Classify(domain.ProviderMercadoPago, "create_customer", resp, err, decodeError); err != nil {
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
	return adapters.Classify(domain.ProviderMercadoPago, "delete_customer", resp, err, decodeError)
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, input domain.CheckoutSessionInput) (*domain.ProviderCheckoutSession, error) {
	if strings.TrimSpace(input.PriceID) != "" {
		return nil, fmt.Errorf("%w: mercadopago checkout takes an amount, not a price id", domain.ErrUnsupportedOperation)
	}
	if input.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = a.defaultCurrency
	}

	body := map[string]any{
		"items": []map[string]any{{
			"title":       defaultCheckoutTitle,
			"quantity":    1,
			"unit_price":  ToMajorUnits(input.Amount, currency),
			"currency_id": currency,
		}},
		"back_urls": map[string]string{
			"success": input.SuccessURL,
			"failure": input.CancelURL,
			"pending": input.SuccessURL,
		},
		"auto_return": "approved",
		"metadata":    adapters.ReferenceMetadata(input.Metadata, input.PaymentIntentID),
	}
	if input.PaymentIntentID != 0 {
		body["external_reference"] = input.PaymentIntentID.String()
	}
	if input.Email != "" {
		body["payer"] = map[string]string{"email": input.Email}
	}

	var pref mpPreference
	req := a.http.R().SetContext(ctx).SetBody(body).SetResult(&pref)
	if input.IdempotencyKey != "" {
		req.SetHeader(idempotencyHeader, input.IdempotencyKey)
	}
	resp, err := req.Post("/checkout/preferences")
	if err := adapters.Classify(domain.ProviderMercadoPago, "create_checkout_session", resp, err, decodeError); err != nil {
		return nil, err
	}

	url := pref.InitPoint
	if a.sandbox && pref.SandboxInitPoint != "" {
		url = pref.SandboxInitPoint
	}
	return &domain.ProviderCheckoutSession{
		ID:        pref.ID,
		Provider:  domain.ProviderMercadoPago,
		URL:       url,
		ExpiresAt: parseTime(pref.DateOfExpiration),
	}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, input domain.SubscriptionInput) (*domain.ProviderSubscription, error) {
	body := map[string]any{
		"preapproval_plan_id": input.PlanID,
		"payer_email":         input.Email,
		"status":              "pending",
	}
	if input.SubscriptionID != 0 {
		body["external_reference"] = input.SubscriptionID.String()
	}
	if input.TrialDays > 0 {
		body["auto_recurring"] = map[string]any{
			"free_trial": map[string]any{"frequency": input.TrialDays, "frequency_type": "days"},
		}
	}

	var out mpPreapproval
	req := a.http.R().SetContext(ctx).SetBody(body).SetResult(&out)
	if input.IdempotencyKey != "" {
		req.SetHeader(idempotencyHeader, input.IdempotencyKey)
	}
	resp, err := req.Post("/preapproval")
	if err := adapters.Classify(domain.ProviderMercadoPago, "create_subscription", resp, err, decodeError); err != nil {
		return nil, err
	}
	return out.toProvider(), nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, providerSubscriptionID string, input domain.SubscriptionUpdate) (*domain.ProviderSubscription, error) {
	body := map[string]any{}
	if plan := strings.TrimSpace(input.PlanID); plan != "" {
		body["preapproval_plan_id"] = plan
	}
	return a.putPreapproval(ctx, "update_subscription", providerSubscriptionID, body)
}

// CancelSubscription has no native period-end flag, so a graceful cancel
// pins auto_recurring.end_date to the current period end.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, opts domain.CancelOptions) (*domain.ProviderSubscription, error) {
	if opts.Immediate {
		return a.putPreapproval(ctx, "cancel_subscription", providerSubscriptionID, map[string]any{"status": "cancelled"})
	}
	if opts.PeriodEnd.IsZero() {
		return nil, domain.NewValidationError("period_end", "is required for a graceful cancel")
	}
	sub, err := a.putPreapproval(ctx, "cancel_subscription", providerSubscriptionID, map[string]any{
		"auto_recurring": map[string]any{"end_date": opts.PeriodEnd.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return nil, err
	}
	if sub.CancelAt == nil {
		end := opts.PeriodEnd.UTC()
		sub.CancelAt = &end
	}
	sub.CancelAtPeriodEnd = true
	return sub, nil
}

func (a *Adapter) putPreapproval(ctx context.Context, op, id string, body map[string]any) (*domain.ProviderSubscription, error) {
	var out mpPreapproval
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(body).
		SetResult(&out).
		Put("/preapproval/{id}")
	if err := adapters.Classify(domain.ProviderMercadoPago, op, resp, err, decodeError); err != nil {
		return nil, err
	}
	return out.toProvider(), nil
}

func (a *Adapter) CreateRefund(ctx context.Context, input domain.RefundInput) (*domain.ProviderRefund, error) {
	if input.ProviderIntentID == "" {
		return nil, domain.NewValidationError("payment_intent", "payment has no provider reference")
	}
	currency := input.Currency
	if currency == "" {
		currency = a.defaultCurrency
	}
	body := map[string]any{}
	if input.Amount > 0 {
		body["amount"] = ToMajorUnits(input.Amount, currency)
	}

	var out mpRefund
	req := a.http.R().
		SetContext(ctx).
		SetPathParam("id", input.ProviderIntentID).
		SetBody(body).
		SetResult(&out)
	if input.IdempotencyKey != "" {
		req.SetHeader(idempotencyHeader, input.IdempotencyKey)
	}
	resp, err := req.Post("/v1/payments/{id}/refunds")
	if err := adapters.Classify(domain.ProviderMercadoPago, "create_refund", resp, err, decodeError); err != nil {
		return nil, err
	}
	return &domain.ProviderRefund{
		ID:     string(out.ID),
		Amount: ToMinorUnits(out.Amount, currency),
		Status: out.Status,
	}, nil
}

func (p mpPreapproval) toProvider() *domain.ProviderSubscription {
	out := &domain.ProviderSubscription{
		ID:               p.ID,
		Status:           mapPreapprovalStatus(p.Status),
		PlanID:           p.PreapprovalPlanID,
		CurrentPeriodEnd: parseTime(p.NextPaymentDate),
	}
	if p.AutoRecurring != nil {
		out.CurrentPeriodStart = parseTime(p.AutoRecurring.StartDate)
		if end := parseTime(p.AutoRecurring.EndDate); !end.IsZero() {
			out.CancelAt = &end
			out.CancelAtPeriodEnd = true
		}
	}
	if out.CurrentPeriodStart.IsZero() {
		out.CurrentPeriodStart = parseTime(p.DateCreated)
	}
	return out
}

func mapPreapprovalStatus(status string) domain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "authorized":
		return domain.SubscriptionStatusActive
	case "paused":
		return domain.SubscriptionStatusPastDue
	case "cancelled", "canceled":
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusIncomplete
	}
}

// declineReason maps payment status_detail values.
func declineReason(detail string) domain.DeclineReason {
	switch strings.ToLower(strings.TrimSpace(detail)) {
	case "":
		return ""
	case "cc_rejected_insufficient_amount":
		return domain.DeclineInsufficientFunds
	case "cc_rejected_bad_filled_security_code":
		return domain.DeclineIncorrectCVC
	case "cc_rejected_bad_filled_date":
		return domain.DeclineExpiredCard
	case "cc_rejected_call_for_authorize", "cc_rejected_other_reason", "cc_rejected_high_risk",
		"cc_rejected_blacklist", "cc_rejected_card_disabled", "cc_rejected_bad_filled_other",
		"cc_rejected_bad_filled_card_number", "cc_rejected_max_attempts", "cc_rejected_duplicated_payment":
		return domain.DeclineCardDeclined
	}
	if strings.HasPrefix(detail, "cc_rejected") {
		return domain.DeclineCardDeclined
	}
	return ""
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

// flexID accepts both the numeric and the string ids the API returns.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
