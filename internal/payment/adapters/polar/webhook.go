package polar

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/paygate/internal/payment/domain"
)

// Standard Webhooks headers.
const (
	headerID        = "Webhook-Id"
	headerTimestamp = "Webhook-Timestamp"
	headerSignature = "Webhook-Signature"
	secretPrefix    = "whsec_"
)

type polarEvent struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type polarOrder struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Amount         int64          `json:"amount"`
	TotalAmount    int64          `json:"total_amount"`
	RefundedAmount int64          `json:"refunded_amount"`
	Currency       string         `json:"currency"`
	CustomerID     string         `json:"customer_id"`
	CheckoutID     string         `json:"checkout_id"`
	SubscriptionID string         `json:"subscription_id"`
	CreatedAt      string         `json:"created_at"`
	Metadata       map[string]any `json:"metadata"`
}

func decodeSecret(raw string) ([]byte, error) {
	secret := strings.TrimSpace(raw)
	if strings.HasPrefix(secret, secretPrefix) {
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	}
	return []byte(secret), nil
}

// ValidateWebhookSignature accepts any of the space separated v1 signatures
// over "<webhook-id>.<webhook-timestamp>.<payload>".
func (a *Adapter) ValidateWebhookSignature(payload []byte, headers http.Header) bool {
	id := strings.TrimSpace(headers.Get(headerID))
	ts := strings.TrimSpace(headers.Get(headerTimestamp))
	header := strings.TrimSpace(headers.Get(headerSignature))
	if id == "" || ts == "" || header == "" {
		return false
	}

	mac := hmac.New(sha256.New, a.webhookSecret)
	_, _ = mac.Write([]byte(id + "." + ts + "."))
	_, _ = mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(header) {
		version, signature, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return true
		}
	}
	return false
}

func (a *Adapter) WebhookTimestamp(headers http.Header) (time.Time, bool) {
	seconds, err := strconv.ParseInt(strings.TrimSpace(headers.Get(headerTimestamp)), 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}, false
	}
	return time.Unix(seconds, 0).UTC(), true
}

func (a *Adapter) NormalizeWebhookEvent(_ context.Context, payload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	var event polarEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	eventID := strings.TrimSpace(headers.Get(headerID))
	if eventID == "" || len(event.Data) == 0 {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.WebhookEvent{
		ID:              domain.EventID(domain.ProviderPolar, eventID),
		Provider:        domain.ProviderPolar,
		ProviderEventID: eventID,
		OccurredAt:      parseTime(event.Timestamp),
		RawPayload:      payload,
	}
	if out.OccurredAt.IsZero() {
		if at, ok := a.WebhookTimestamp(headers); ok {
			out.OccurredAt = at
		} else {
			out.OccurredAt = time.Now().UTC()
		}
	}

	var err error
	switch strings.TrimSpace(event.Type) {
	case "checkout.updated":
		out.Type = domain.EventTypeCheckoutCompleted
		out.Payment, err = parseCheckout(event.Data)
	case "order.paid":
		out.Type = domain.EventTypePaymentSucceeded
		out.Payment, err = parseOrder(event.Data)
	case "order.refunded":
		out.Type = domain.EventTypePaymentRefunded
		out.Payment, err = parseOrder(event.Data)
	case "subscription.created":
		out.Type = domain.EventTypeSubscriptionCreated
		out.Subscription, err = parseSubscription(event.Data)
	case "subscription.updated", "subscription.active", "subscription.uncanceled":
		out.Type = domain.EventTypeSubscriptionUpdated
		out.Subscription, err = parseSubscription(event.Data)
	case "subscription.canceled":
		out.Type = domain.EventTypeSubscriptionCanceled
		out.Subscription, err = parseSubscription(event.Data)
	case "subscription.revoked":
		out.Type = domain.EventTypeSubscriptionRevoked
		out.Subscription, err = parseSubscription(event.Data)
		if err == nil {
			out.Subscription.Status = domain.SubscriptionStatusCanceled
		}
	default:
		return nil, domain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseCheckout(raw json.RawMessage) (*domain.PaymentEventData, error) {
	var checkout polarCheckout
	if err := json.Unmarshal(raw, &checkout); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if checkout.Status != "succeeded" {
		return nil, domain.ErrEventIgnored
	}
	amount := checkout.TotalAmount
	if amount <= 0 {
		amount = checkout.Amount
	}
	return &domain.PaymentEventData{
		Reference:          readMetadata(checkout.Metadata),
		ProviderSessionID:  checkout.ID,
		ProviderCustomerID: checkout.CustomerID,
		Amount:             amount,
		Currency:           strings.ToUpper(checkout.Currency),
	}, nil
}

func parseOrder(raw json.RawMessage) (*domain.PaymentEventData, error) {
	var order polarOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	amount := order.TotalAmount
	if amount <= 0 {
		amount = order.Amount
	}
	return &domain.PaymentEventData{
		Reference:          readMetadata(order.Metadata),
		ProviderIntentID:   order.ID,
		ProviderSessionID:  order.CheckoutID,
		ProviderCustomerID: order.CustomerID,
		Amount:             amount,
		RefundedAmount:     order.RefundedAmount,
		Currency:           strings.ToUpper(order.Currency),
	}, nil
}

func parseSubscription(raw json.RawMessage) (*domain.SubscriptionEventData, error) {
	var sub polarSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	view := sub.toProvider()
	return &domain.SubscriptionEventData{
		Reference:              readMetadata(sub.Metadata),
		ProviderSubscriptionID: view.ID,
		ProviderCustomerID:     sub.CustomerID,
		Status:                 view.Status,
		PlanID:                 view.PlanID,
		CurrentPeriodStart:     view.CurrentPeriodStart,
		CurrentPeriodEnd:       view.CurrentPeriodEnd,
		TrialEnd:               view.TrialEnd,
		CancelAt:               view.CancelAt,
		CancelAtPeriodEnd:      view.CancelAtPeriodEnd,
	}, nil
}

func readMetadata(metadata map[string]any) string {
	if value, ok := metadata[domain.MetadataReferenceKey].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
